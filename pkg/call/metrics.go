package call

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig - конфигурация метрик ядра вызовов.
type MetricsConfig struct {
	// Namespace - префикс Prometheus метрик
	Namespace string
	// Subsystem - подсистема Prometheus метрик
	Subsystem string
	// Registerer - реестр Prometheus; nil означает реестр по умолчанию
	Registerer prometheus.Registerer
}

// DefaultMetricsConfig возвращает конфигурацию по умолчанию
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Namespace: "webcall",
		Subsystem: "calls",
	}
}

// Metrics собирает и экспортирует метрики жизненного цикла вызовов.
// Нулевой указатель безопасен: все методы становятся no-op, что
// позволяет не тянуть реестр в юнит-тесты.
type Metrics struct {
	callsTotal        *prometheus.CounterVec
	callsActive       prometheus.Gauge
	statusTransitions *prometheus.CounterVec
	rejectedTotal     *prometheus.CounterVec
	callDuration      prometheus.Histogram
}

// NewMetrics создает и регистрирует метрики.
func NewMetrics(config *MetricsConfig) *Metrics {
	if config == nil {
		config = DefaultMetricsConfig()
	}
	reg := config.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "total",
			Help:      "Общее количество созданных вызовов",
		}, []string{"direction"}),
		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "active",
			Help:      "Количество вызовов в реестре",
		}),
		statusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "status_transitions_total",
			Help:      "Переходы статусов вызовов",
		}, []string{"from", "to"}),
		rejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "rejected_total",
			Help:      "Отклоненные вызовы (пропущенные для входящих)",
		}, []string{"direction"}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "duration_seconds",
			Help:      "Длительность вызова от создания до остановки",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// CallCreated учитывает создание вызова
func (m *Metrics) CallCreated(direction Direction) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(direction.String()).Inc()
	m.callsActive.Inc()
}

// CallRemoved учитывает удаление вызова из реестра
func (m *Metrics) CallRemoved(createdAt time.Time) {
	if m == nil {
		return
	}
	m.callsActive.Dec()
	m.callDuration.Observe(time.Since(createdAt).Seconds())
}

// StatusTransition учитывает переход статуса
func (m *Metrics) StatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// MissedCall учитывает отклоненный вызов
func (m *Metrics) MissedCall(direction Direction) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(direction.String()).Inc()
}
