package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisPingTimeout = 2 * time.Second

// initRedis подключается к Redis для межинстансной рассылки и журнала уведомлений.
// Без адреса возвращает nil, nil: события раздаются только внутри процесса.
func initRedis(ctx context.Context, addr string, logger *log.Entry) (redis.UniversalClient, error) {
	if addr == "" {
		return nil, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		logger.WithError(err).Warn("redis is unavailable, continuing with in-process fan-out")
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	logger.WithField("addr", addr).Info("redis client initialized")
	return client, nil
}

// closeRedis закрывает клиент если он не nil.
func closeRedis(client redis.UniversalClient, logger *log.Entry) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.WithError(err).Warn("failed to close redis client")
	}
}
