package carts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var shirt = domain.Candidate{Name: "Shirt", Price: 499}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger.WithField("component", "test")
}

type countingGauge struct {
	mu     sync.Mutex
	active int
}

func (g *countingGauge) RecordCartOpened()  { g.mu.Lock(); g.active++; g.mu.Unlock() }
func (g *countingGauge) RecordCartEvicted() { g.mu.Lock(); g.active--; g.mu.Unlock() }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRegistry_ProfilesAreIsolated(t *testing.T) {
	storage := memory.NewPayloadStorage()
	registry := NewRegistry(storage, WithLogger(quietLogger()))
	ctx := context.Background()

	registry.Store(ctx, "alice").Add(ctx, shirt)

	require.Equal(t, 1, registry.Store(ctx, "alice").Len())
	require.Zero(t, registry.Store(ctx, "bob").Len())
	require.Equal(t, []string{"alice", "bob"}, registry.Profiles())

	_, err := storage.Get(ctx, domain.PayloadKey("alice"))
	require.NoError(t, err)
	_, err = storage.Get(ctx, domain.PayloadKey("bob"))
	require.ErrorIs(t, err, domain.ErrPayloadNotFound)
}

func TestRegistry_StoreIsCached(t *testing.T) {
	registry := NewRegistry(memory.NewPayloadStorage(), WithLogger(quietLogger()))
	ctx := context.Background()

	require.Same(t, registry.Store(ctx, "alice"), registry.Store(ctx, "alice"))
	require.Same(t, registry.Store(ctx, "alice"), registry.Page(ctx, "alice"))
}

func TestRegistry_PageReloadsFromStorage(t *testing.T) {
	storage := memory.NewPayloadStorage()
	registry := NewRegistry(storage, WithLogger(quietLogger()))
	ctx := context.Background()

	store := registry.Store(ctx, "alice")
	store.Add(ctx, shirt)

	// Другая "вкладка" того же профиля перезаписывает payload.
	other := cart.NewStore(storage, domain.PayloadKey("alice"), cart.WithLogger(quietLogger()))
	other.Load(ctx)
	other.Clear(ctx)

	require.Equal(t, 1, registry.Store(ctx, "alice").Len())
	require.Zero(t, registry.Page(ctx, "alice").Len())
}

// gatedStorage задерживает первое чтение, пока тест не откроет gate.
type gatedStorage struct {
	memory.PayloadStorage
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func newGatedStorage() *gatedStorage {
	return &gatedStorage{
		PayloadStorage: memory.NewPayloadStorage(),
		entered:        make(chan struct{}),
		gate:           make(chan struct{}),
	}
}

func (s *gatedStorage) Get(ctx context.Context, key string) ([]byte, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.gate
	}
	return s.PayloadStorage.Get(ctx, key)
}

func TestRegistry_ConcurrentCallerWaitsForFirstLoad(t *testing.T) {
	storage := newGatedStorage()
	ctx := context.Background()
	key := domain.PayloadKey("alice")

	persisted := []byte(`[{"id":1,"name":"Shirt","price":499,"image":"","quantity":3},` +
		`{"id":2,"name":"Cap","price":150,"image":"","quantity":1}]`)
	require.NoError(t, storage.Set(ctx, key, persisted))

	registry := NewRegistry(storage, WithLogger(quietLogger()))

	firstDone := make(chan *cart.Store)
	go func() { firstDone <- registry.Store(ctx, "alice") }()
	<-storage.entered

	added := make(chan cart.Result)
	go func() {
		added <- registry.Store(ctx, "alice").Add(ctx, domain.Candidate{Name: "Socks", Price: 99})
	}()

	// Второй вызов не должен менять корзину, пока первая загрузка не завершилась.
	select {
	case <-added:
		t.Fatal("add completed before the cart was loaded")
	case <-time.After(50 * time.Millisecond):
	}

	close(storage.gate)
	store := <-firstDone
	res := <-added
	require.Equal(t, cart.OutcomeAdded, res.Outcome)

	require.Equal(t, 3, store.Len())
	payload, err := storage.PayloadStorage.Get(ctx, key)
	require.NoError(t, err)
	items, err := domain.DecodeCart(payload)
	require.NoError(t, err)
	require.Len(t, items, 3)
	names := []string{items[0].Name, items[1].Name, items[2].Name}
	require.Equal(t, []string{"Shirt", "Cap", "Socks"}, names)
}

func TestRegistry_ObserversAndGauge(t *testing.T) {
	gauge := &countingGauge{}
	var (
		mu       sync.Mutex
		outcomes []string
	)
	factory := func(profileID string) cart.Observer {
		return func(s cart.Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, profileID+":"+string(s.Outcome))
		}
	}

	registry := NewRegistry(memory.NewPayloadStorage(),
		WithLogger(quietLogger()),
		WithObserver(factory),
		WithGauge(gauge),
	)
	ctx := context.Background()

	store := registry.Store(ctx, "alice")
	store.Add(ctx, shirt)
	require.Equal(t, 1, gauge.active)

	require.True(t, registry.Evict("alice"))
	require.False(t, registry.Evict("alice"))
	require.Zero(t, gauge.active)

	// После выгрузки старый store больше не уведомляет наблюдателя.
	store.Add(ctx, shirt)
	require.Equal(t, []string{"alice:loaded", "alice:added"}, outcomes)
}

func TestEvictor_EvictsIdleCarts(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	registry := NewRegistry(memory.NewPayloadStorage(), WithLogger(quietLogger()), WithClock(clock.Now))
	evictor := NewEvictor(registry, WithEvictorLogger(quietLogger()), WithIdleTTL(10*time.Minute))
	ctx := context.Background()

	registry.Store(ctx, "alice")
	clock.Advance(5 * time.Minute)
	registry.Store(ctx, "bob")
	clock.Advance(6 * time.Minute)

	require.Equal(t, 1, evictor.EvictOnce())
	require.Equal(t, []string{"bob"}, registry.Profiles())

	clock.Advance(10 * time.Minute)
	require.Equal(t, 1, evictor.EvictOnce())
	require.Zero(t, registry.Len())
}

func TestEvictor_PersistedCartSurvivesEviction(t *testing.T) {
	registry := NewRegistry(memory.NewPayloadStorage(), WithLogger(quietLogger()))
	ctx := context.Background()

	registry.Store(ctx, "alice").Add(ctx, shirt)
	registry.Evict("alice")

	require.Equal(t, 1, registry.Store(ctx, "alice").Totals().Count)
}

func TestEvictor_RunStopsOnContextCancel(t *testing.T) {
	registry := NewRegistry(memory.NewPayloadStorage(), WithLogger(quietLogger()))
	evictor := NewEvictor(registry, WithEvictorLogger(quietLogger()), WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		evictor.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evictor did not stop after cancel")
	}
}
