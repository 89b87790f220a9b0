package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewCartMetrics(t *testing.T) {
	metrics := NewCartMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("NewCartMetricsWithRegisterer should not return nil")
	}
	if metrics.operations == nil {
		t.Error("operations counter vec should not be nil")
	}
	if metrics.storageFailures == nil {
		t.Error("storageFailures counter vec should not be nil")
	}
	if metrics.eventsPublished == nil {
		t.Error("eventsPublished counter vec should not be nil")
	}
	if metrics.storageDuration == nil {
		t.Error("storageDuration histogram vec should not be nil")
	}
	if metrics.activeCarts == nil {
		t.Error("activeCarts gauge should not be nil")
	}
}

func TestNewCartMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewCartMetricsWithRegisterer(reg)
	second := NewCartMetricsWithRegisterer(reg)

	first.RecordOperation("add", "added")
	second.RecordOperation("add", "added")

	if got := counterValue(t, first.operations, "add", "added"); got != 2.0 {
		t.Errorf("expected shared counter value 2.0, got %f", got)
	}
}

func TestRecordOperation(t *testing.T) {
	metrics := NewCartMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordOperation("add", "added")
	metrics.RecordOperation("add", "limit_reached")
	metrics.RecordOperation("add", "added")

	if got := counterValue(t, metrics.operations, "add", "added"); got != 2.0 {
		t.Errorf("expected counter value 2.0, got %f", got)
	}
	if got := counterValue(t, metrics.operations, "add", "limit_reached"); got != 1.0 {
		t.Errorf("expected counter value 1.0, got %f", got)
	}
}

func TestRecordStorageFailure(t *testing.T) {
	metrics := NewCartMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordStorageFailure("remove")

	if got := counterValue(t, metrics.storageFailures, "remove"); got != 1.0 {
		t.Errorf("expected counter value 1.0, got %f", got)
	}
}

func TestRecordEventPublished(t *testing.T) {
	metrics := NewCartMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordEventPublished("cart.updated", nil)
	metrics.RecordEventPublished("cart.updated", errors.New("broker down"))

	if got := counterValue(t, metrics.eventsPublished, "cart.updated", "ok"); got != 1.0 {
		t.Errorf("expected ok value 1.0, got %f", got)
	}
	if got := counterValue(t, metrics.eventsPublished, "cart.updated", "error"); got != 1.0 {
		t.Errorf("expected error value 1.0, got %f", got)
	}
}

func TestActiveCarts(t *testing.T) {
	metrics := NewCartMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordCartOpened()
	metrics.RecordCartOpened()
	metrics.RecordCartEvicted()

	gaugeMetric := &dto.Metric{}
	if err := metrics.activeCarts.Write(gaugeMetric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gaugeMetric.Gauge.GetValue() != 1.0 {
		t.Errorf("expected 1 active cart, got %f", gaugeMetric.Gauge.GetValue())
	}
}

type stubStorage struct {
	payload []byte
	pingErr error
}

func (s *stubStorage) Get(context.Context, string) ([]byte, error) {
	if s.payload == nil {
		return nil, domain.ErrPayloadNotFound
	}
	return s.payload, nil
}

func (s *stubStorage) Set(_ context.Context, _ string, payload []byte) error {
	s.payload = payload
	return nil
}

func (s *stubStorage) Ping(context.Context) error { return s.pingErr }

func TestInstrumentStorage(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCartMetricsWithRegisterer(reg)
	stub := &stubStorage{pingErr: errors.New("down")}

	storage := metrics.InstrumentStorage("memory", stub)

	if _, err := storage.Get(context.Background(), "cartItems"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := storage.Set(context.Background(), "cartItems", []byte("[]")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	var samples uint64
	for _, family := range families {
		if family.GetName() != "storefront_cart_storage_duration_seconds" {
			continue
		}
		for _, metric := range family.GetMetric() {
			samples += metric.GetHistogram().GetSampleCount()
		}
	}
	if samples != 2 {
		t.Errorf("expected 2 storage samples, got %d", samples)
	}

	pinger, ok := storage.(domain.Pinger)
	if !ok {
		t.Fatal("instrumented storage should implement Pinger")
	}
	if err := pinger.Ping(context.Background()); err == nil {
		t.Error("expected ping error to be propagated")
	}
}
