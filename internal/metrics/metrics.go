package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты checkout для метки result.
const (
	CheckoutResultCompleted      = "completed"
	CheckoutResultReplayed       = "replayed"
	CheckoutResultValidation     = "validation"
	CheckoutResultInsufficient   = "insufficient_stock"
	CheckoutResultItemNotFound   = "item_not_found"
	CheckoutResultPayment        = "payment"
	CheckoutResultTimeout        = "timeout"
	CheckoutResultReconciliation = "reconciliation"
)

// OrderMetrics содержит метрики жизненного цикла заказа.
// Методы безопасны для nil-получателя, чтобы сервисы работали без метрик в тестах.
type OrderMetrics struct {
	checkoutStarted  prometheus.Counter
	checkoutResults  *prometheus.CounterVec
	checkoutDuration prometheus.Histogram
	checkoutRetries  prometheus.Counter
	reservedUnits    prometheus.Counter

	transitions *prometheus.CounterVec

	fanoutSubscribers prometheus.Gauge
	fanoutDelivered   prometheus.Counter
	fanoutStale       prometheus.Counter

	readyAlerts *prometheus.CounterVec
}

// NewOrderMetrics регистрирует метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registerer
// (повторная регистрация возвращает уже существующие коллекторы).
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		checkoutStarted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bakery_checkout_started_total",
			Help: "Total number of checkout attempts",
		})),
		checkoutResults: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bakery_checkout_results_total",
			Help: "Checkout outcomes grouped by result",
		}, []string{"result"})),
		checkoutDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bakery_checkout_duration_seconds",
			Help:    "Duration of checkout including the atomic commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		})),
		checkoutRetries: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bakery_checkout_persistence_retries_total",
			Help: "Checkout commit retries after persistence failures",
		})),
		reservedUnits: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bakery_inventory_reserved_units_total",
			Help: "Units of stock decremented by committed checkouts",
		})),
		transitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bakery_order_transitions_total",
			Help: "Order status transition requests grouped by target status and result",
		}, []string{"to", "result"})),
		fanoutSubscribers: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bakery_fanout_subscribers",
			Help: "Number of active order change subscriptions",
		})),
		fanoutDelivered: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bakery_fanout_delivered_total",
			Help: "Order snapshots delivered to subscribers",
		})),
		fanoutStale: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bakery_fanout_stale_dropped_total",
			Help: "Order snapshots dropped because the subscriber already saw a newer version",
		})),
		readyAlerts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bakery_ready_alerts_total",
			Help: "Ready alerts grouped by result",
		}, []string{"result"})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordCheckoutStarted увеличивает счётчик попыток checkout.
func (m *OrderMetrics) RecordCheckoutStarted() {
	if m == nil {
		return
	}
	m.checkoutStarted.Inc()
}

// RecordCheckoutResult фиксирует исход и длительность checkout.
func (m *OrderMetrics) RecordCheckoutResult(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checkoutResults.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordCheckoutRetry увеличивает счётчик повторов коммита.
func (m *OrderMetrics) RecordCheckoutRetry() {
	if m == nil {
		return
	}
	m.checkoutRetries.Inc()
}

// RecordReservedUnits добавляет списанные единицы товара.
func (m *OrderMetrics) RecordReservedUnits(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.reservedUnits.Add(float64(units))
}

// RecordTransition фиксирует запрос перехода статуса.
func (m *OrderMetrics) RecordTransition(to, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to, result).Inc()
}

// SubscriberAdded увеличивает число подписок.
func (m *OrderMetrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.fanoutSubscribers.Inc()
}

// SubscriberRemoved уменьшает число подписок.
func (m *OrderMetrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.fanoutSubscribers.Dec()
}

// RecordDelivered увеличивает счётчик доставленных снимков.
func (m *OrderMetrics) RecordDelivered() {
	if m == nil {
		return
	}
	m.fanoutDelivered.Inc()
}

// RecordStaleDropped увеличивает счётчик отброшенных устаревших снимков.
func (m *OrderMetrics) RecordStaleDropped() {
	if m == nil {
		return
	}
	m.fanoutStale.Inc()
}

// RecordReadyAlert фиксирует исход отправки уведомления о готовности.
func (m *OrderMetrics) RecordReadyAlert(result string) {
	if m == nil {
		return
	}
	m.readyAlerts.WithLabelValues(result).Inc()
}

// OutboxMetrics - метрики outbox relay.
type OutboxMetrics struct {
	publishAttempts *prometheus.CounterVec
	pending         prometheus.Gauge
	oldestAge       prometheus.Gauge
}

// NewOutboxMetricsWithRegisterer регистрирует метрики outbox.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &OutboxMetrics{
		publishAttempts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bakery_outbox_publish_attempts_total",
			Help: "Outbox publish attempts grouped by result",
		}, []string{"result"})),
		pending: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bakery_outbox_pending_records",
			Help: "Pending records in the transactional outbox",
		})),
		oldestAge: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bakery_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record",
		})),
	}
}

// RecordPublish фиксирует исход попытки публикации.
func (m *OutboxMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер и возраст backlog.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.oldestAge.Set(oldestAge.Seconds())
}

// PendingGauge возвращает gauge размера backlog (для тестов и дашбордов).
func (m *OutboxMetrics) PendingGauge() prometheus.Gauge {
	return m.pending
}

// RetentionMetrics - метрики очистки обработанных событий outbox.
type RetentionMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewRetentionMetricsWithRegisterer регистрирует метрики очистки.
func NewRetentionMetricsWithRegisterer(registerer prometheus.Registerer) *RetentionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &RetentionMetrics{
		runs: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bakery_outbox_retention_runs_total",
			Help: "Outbox retention runs grouped by result",
		}, []string{"result"})),
		deleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bakery_outbox_retention_deleted_total",
			Help: "Processed outbox records deleted by retention",
		})),
		lastDeleted: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bakery_outbox_retention_last_deleted",
			Help: "Records deleted during the last retention run",
		})),
	}
}

// RecordRun фиксирует исход прогона и число удалённых записей.
func (m *RetentionMetrics) RecordRun(result string, deleted int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	if result == "ok" {
		m.lastDeleted.Set(float64(deleted))
	}
}

// RecordDeleted увеличивает общий счётчик удалённых записей.
func (m *RetentionMetrics) RecordDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.Add(float64(n))
}
