package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/fanout"
	"github.com/vladislavdragonenkov/bakery/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/bakery/internal/messaging/redisbus"
	"github.com/vladislavdragonenkov/bakery/internal/metrics"
	"github.com/vladislavdragonenkov/bakery/internal/service/alert"
	"github.com/vladislavdragonenkov/bakery/internal/service/checkout"
	"github.com/vladislavdragonenkov/bakery/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/bakery/internal/service/orders"
	"github.com/vladislavdragonenkov/bakery/internal/service/outbox"
	"github.com/vladislavdragonenkov/bakery/internal/service/reconcile"
	"github.com/vladislavdragonenkov/bakery/internal/service/retention"
	"github.com/vladislavdragonenkov/bakery/internal/transport/httpapi"
)

// runtime - собранный граф сервисов поверх выбранного хранилища.
type runtime struct {
	storage     *Storage
	hub         *fanout.Hub
	coordinator *checkout.Coordinator
	transitions *lifecycle.StateMachine
	orders      *orders.Service
	worker      *outbox.Worker
	retention   *retention.Worker
	handler     http.Handler

	producer *kafka.Producer
	consumer *kafka.Consumer
	redis    redis.UniversalClient
	listener *redisbus.Listener

	logger *log.Entry
}

// integrations - необязательные внешние клиенты. nil означает «не настроено».
type integrations struct {
	producer *kafka.Producer
	redis    redis.UniversalClient
}

// newRuntime связывает сервисы. Kafka и Redis подключаются, если клиенты переданы;
// без них события раздаются внутри процесса, а уведомления пишутся в лог.
func newRuntime(cfg Config, storage *Storage, ext integrations, registerer prometheus.Registerer, logger *log.Entry) *runtime {
	orderMetrics := metrics.NewOrderMetricsWithRegisterer(registerer)
	outboxMetrics := metrics.NewOutboxMetricsWithRegisterer(registerer)
	branches := domain.NewBranchDirectory(cfg.Branches)

	hub := fanout.NewHub(
		fanout.WithLogger(logger.WithField("component", "fanout")),
		fanout.WithMetrics(orderMetrics),
	)

	escalators := reconcile.Multi{reconcile.NewLogEscalator(logger.WithField("component", "reconcile"))}
	var notifier domain.Notifier = alert.NewLogNotifier(logger.WithField("component", "notifier"))
	alertLedger := storage.Alerts
	sinks := make([]outbox.Sink, 0, 3)
	workerOptions := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox")),
		outbox.WithMetrics(outboxMetrics),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}

	if ext.producer != nil {
		sinks = append(sinks, outbox.Sink{Name: "kafka", Publisher: kafka.NewOutboxPublisher(ext.producer, kafka.TopicOrderEvents)})
		workerOptions = append(workerOptions, outbox.WithDeadLetter(kafka.NewDeadLetterPublisher(ext.producer, kafka.TopicDeadLetter)))
		escalators = append(escalators, kafka.NewReconciliationPublisher(ext.producer, kafka.TopicReconciliation))
		notifier = kafka.NewNotifier(ext.producer, kafka.TopicNotifications)
	}

	if ext.redis != nil {
		sinks = append(sinks, outbox.Sink{Name: "redis", Publisher: redisbus.NewBroadcaster(ext.redis, cfg.RedisChannel)})
		alertLedger = redisbus.NewAlertLedger(ext.redis, cfg.AlertTTL)
	} else {
		sinks = append(sinks, outbox.Sink{Name: "fanout", Publisher: fanout.NewRelay(hub)})
	}

	dispatcher := alert.NewDispatcher(alertLedger, notifier, orderMetrics, logger.WithField("component", "alerts"))
	sinks = append(sinks, outbox.Sink{Name: "alerts", Publisher: dispatcher})

	coordinator := checkout.NewCoordinator(
		storage.Checkout,
		storage.Inventory,
		storage.Orders,
		storage.Payments,
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithMetrics(orderMetrics),
		checkout.WithPublisher(hub),
		checkout.WithEscalator(escalators),
		checkout.WithBranches(branches),
		checkout.WithTimeout(cfg.CheckoutTimeout),
		checkout.WithRetryConfig(checkout.RetryConfig{
			MaxAttempts:   cfg.CheckoutMaxAttempts,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      time.Second,
			BackoffFactor: 2,
		}),
	)
	transitions := lifecycle.NewStateMachine(
		storage.Orders,
		lifecycle.WithLogger(logger.WithField("component", "lifecycle")),
		lifecycle.WithMetrics(orderMetrics),
		lifecycle.WithPublisher(hub),
		lifecycle.WithBranches(branches),
	)
	orderService := orders.NewService(storage.Orders, hub, logger.WithField("component", "orders"))

	var listener *redisbus.Listener
	if ext.redis != nil {
		listener = redisbus.NewListener(ext.redis, cfg.RedisChannel, hub, logger.WithField("component", "redis-listener"),
			redisbus.WithResyncer(orderService),
		)
	}

	worker := outbox.NewWorker(storage.Outbox, outbox.NewMultiPublisher(sinks...), workerOptions...)
	janitor := retention.NewWorker(storage.Janitor,
		retention.WithLogger(logger.WithField("component", "outbox-retention")),
		retention.WithMetrics(metrics.NewRetentionMetricsWithRegisterer(registerer)),
		retention.WithRetention(cfg.OutboxRetention),
		retention.WithInterval(cfg.OutboxRetentionInterval),
	)

	handler := httpapi.NewHandler(httpapi.Dependencies{
		Checkout:    coordinator,
		Transitions: transitions,
		Orders:      orderService,
		Inventory:   storage.Inventory,
		Payments:    storage.Payments,
	},
		httpapi.WithLogger(logger.WithField("component", "http")),
		httpapi.WithHeartbeat(cfg.SSEHeartbeat),
	)

	return &runtime{
		storage:     storage,
		hub:         hub,
		coordinator: coordinator,
		transitions: transitions,
		orders:      orderService,
		worker:      worker,
		retention:   janitor,
		handler:     httpapi.NewRouter(handler),
		producer:    ext.producer,
		redis:       ext.redis,
		listener:    listener,
		logger:      logger,
	}
}

// start запускает фоновые циклы: outbox relay, очистку outbox, Redis listener и Kafka consumer.
// Возвращённая функция ждёт их завершения после отмены ctx.
func (r *runtime) start(ctx context.Context) (wait func()) {
	done := make(chan struct{}, 3)
	running := 2

	go func() {
		r.worker.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		r.retention.Run(ctx)
		done <- struct{}{}
	}()

	if r.listener != nil {
		running++
		go func() {
			if err := r.listener.Run(ctx); err != nil && ctx.Err() == nil {
				r.logger.WithError(err).Error("redis listener stopped")
			}
			done <- struct{}{}
		}()
	}

	if r.consumer != nil {
		if err := r.consumer.Start(ctx); err != nil {
			r.logger.WithError(err).Warn("failed to start payment consumer")
		}
	}

	return func() {
		for i := 0; i < running; i++ {
			<-done
		}
	}
}

// close освобождает ресурсы в обратном порядке.
func (r *runtime) close() {
	stopConsumer(r.consumer, r.logger)
	r.hub.Close()
	closeKafka(r.producer, r.logger)
	closeRedis(r.redis, r.logger)
	if err := r.storage.Close(); err != nil {
		r.logger.WithError(err).Warn("failed to close storage")
	}
}
