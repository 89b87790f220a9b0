package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CartMetrics содержит метрики операций корзины.
type CartMetrics struct {
	// Счётчики операций
	operations      *prometheus.CounterVec
	storageFailures *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec

	// Время обращения к хранилищу
	storageDuration *prometheus.HistogramVec

	// Gauge для корзин, загруженных в память
	activeCarts prometheus.Gauge
}

// NewCartMetrics создаёт метрики в prometheus.DefaultRegisterer.
func NewCartMetrics() *CartMetrics {
	return NewCartMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCartMetricsWithRegisterer создаёт метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CartMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_operations_total",
			Help: "Total number of cart operations by outcome",
		}, []string{"operation", "outcome"}),
		storageFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_storage_failures_total",
			Help: "Total number of failed cart payload reads and writes",
		}, []string{"operation"}),
		eventsPublished: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_events_published_total",
			Help: "Total number of cart events sent to the broker",
		}, []string{"event_type", "status"}),
		storageDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_cart_storage_duration_seconds",
			Help:    "Duration of cart payload storage calls in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"driver", "method"}),
		activeCarts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_active_carts",
			Help: "Number of carts currently held in memory",
		}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOperation увеличивает счётчик операций корзины.
func (m *CartMetrics) RecordOperation(operation, outcome string) {
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// RecordStorageFailure увеличивает счётчик сбоев хранилища.
func (m *CartMetrics) RecordStorageFailure(operation string) {
	m.storageFailures.WithLabelValues(operation).Inc()
}

// RecordEventPublished учитывает отправку события корзины.
func (m *CartMetrics) RecordEventPublished(eventType string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.eventsPublished.WithLabelValues(eventType, status).Inc()
}

// RecordCartOpened увеличивает количество корзин в памяти.
func (m *CartMetrics) RecordCartOpened() {
	m.activeCarts.Inc()
}

// RecordCartEvicted уменьшает количество корзин в памяти.
func (m *CartMetrics) RecordCartEvicted() {
	m.activeCarts.Dec()
}

// RecordStorageDuration записывает время обращения к хранилищу.
func (m *CartMetrics) RecordStorageDuration(driver, method string, duration time.Duration) {
	m.storageDuration.WithLabelValues(driver, method).Observe(duration.Seconds())
}

// InstrumentStorage оборачивает хранилище замером времени Get/Set.
func (m *CartMetrics) InstrumentStorage(driver string, storage domain.PayloadStorage) domain.PayloadStorage {
	return &instrumentedStorage{next: storage, driver: driver, metrics: m}
}

type instrumentedStorage struct {
	next    domain.PayloadStorage
	driver  string
	metrics *CartMetrics
}

func (s *instrumentedStorage) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() { s.metrics.RecordStorageDuration(s.driver, "get", time.Since(start)) }()
	return s.next.Get(ctx, key)
}

func (s *instrumentedStorage) Set(ctx context.Context, key string, payload []byte) error {
	start := time.Now()
	defer func() { s.metrics.RecordStorageDuration(s.driver, "set", time.Since(start)) }()
	return s.next.Set(ctx, key, payload)
}

// Ping пробрасывает проверку, если хранилище её поддерживает.
func (s *instrumentedStorage) Ping(ctx context.Context) error {
	if pinger, ok := s.next.(domain.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
