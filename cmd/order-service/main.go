package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/vladislavdragonenkov/bakery/internal/app"
	"github.com/vladislavdragonenkov/bakery/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(cfg app.Config) error {
	switch cfg.LogFormat {
	case app.LogFormatJSON:
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level := log.InfoLevel
	if cfg.LogLevel != "" {
		parsed, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		level = parsed
	}
	log.SetLevel(level)
	return nil
}

// readConfig собирает конфигурацию: умолчания, YAML из --config или BAKERY_CONFIG,
// затем переменные окружения BAKERY_*.
func readConfig(args []string, lookup app.EnvLookup) (app.Config, []string, error) {
	flags := pflag.NewFlagSet("order-service", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to YAML config (fallback: "+app.EnvConfigPath+")")
	showVersion := flags.Bool("version", false, "print build info and exit")
	if err := flags.Parse(args); err != nil {
		return app.Config{}, nil, err
	}
	if *showVersion {
		return app.Config{}, nil, errShowVersion
	}

	path := *configPath
	if path == "" {
		path, _ = lookup(app.EnvConfigPath)
	}
	cfg, err := app.LoadConfig(path)
	if err != nil {
		return app.Config{}, nil, err
	}
	cfg, warnings := app.ApplyEnv(cfg, lookup)
	return cfg, warnings, nil
}

var errShowVersion = errors.New("version requested")

func main() {
	cfg, warnings, err := readConfig(os.Args[1:], os.LookupEnv)
	if errors.Is(err, errShowVersion) {
		fmt.Println(version.String())
		return
	}
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.WithError(err).Fatal("не удалось прочитать конфигурацию")
	}
	if err := setupLogger(cfg); err != nil {
		log.WithError(err).Fatal("некорректный уровень логирования")
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"build":        version.String(),
	}).Info("запускаем bakery order service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("bakery order service остановлен")
}
