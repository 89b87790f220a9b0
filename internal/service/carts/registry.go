// Package carts держит корзины профилей в памяти процесса.
//
// Каждому профилю соответствует один cart.Store; состояние в хранилище
// остаётся источником правды, поэтому корзину можно в любой момент выгрузить.
package carts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ObserverFactory создаёт наблюдателя для корзины профиля.
type ObserverFactory func(profileID string) cart.Observer

// Gauge учитывает количество корзин в памяти.
type Gauge interface {
	RecordCartOpened()
	RecordCartEvicted()
}

// RegistryOptions задаёт параметры Registry.
type RegistryOptions struct {
	Logger    *log.Entry
	StoreOpts []cart.Option
	Observers []ObserverFactory
	Gauge     Gauge
	Clock     func() time.Time
}

// Option настраивает Registry.
type Option func(*RegistryOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *RegistryOptions) {
		opts.Logger = logger
	}
}

// WithStoreOptions передаёт опции каждому создаваемому cart.Store.
func WithStoreOptions(storeOpts ...cart.Option) Option {
	return func(opts *RegistryOptions) {
		opts.StoreOpts = append(opts.StoreOpts, storeOpts...)
	}
}

// WithObserver подписывает наблюдателя на каждую новую корзину.
func WithObserver(factory ObserverFactory) Option {
	return func(opts *RegistryOptions) {
		if factory != nil {
			opts.Observers = append(opts.Observers, factory)
		}
	}
}

// WithGauge задаёт метрику числа корзин в памяти.
func WithGauge(g Gauge) Option {
	return func(opts *RegistryOptions) {
		opts.Gauge = g
	}
}

// WithClock подменяет часы для учёта простоя.
func WithClock(now func() time.Time) Option {
	return func(opts *RegistryOptions) {
		opts.Clock = now
	}
}

type entry struct {
	store        *cart.Store
	lastUsed     time.Time
	unsubscribes []func()
	// ready закрывается после первой загрузки из хранилища.
	ready chan struct{}
}

// Registry выдаёт cart.Store по идентификатору профиля.
type Registry struct {
	storage   domain.PayloadStorage
	logger    *log.Entry
	storeOpts []cart.Option
	observers []ObserverFactory
	gauge     Gauge
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry создаёт пустой реестр поверх общего хранилища.
func NewRegistry(storage domain.PayloadStorage, options ...Option) *Registry {
	var opts RegistryOptions
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cart-registry")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Registry{
		storage:   storage,
		logger:    logger,
		storeOpts: opts.StoreOpts,
		observers: opts.Observers,
		gauge:     opts.Gauge,
		now:       opts.Clock,
		entries:   make(map[string]*entry),
	}
}

// Page соответствует загрузке страницы: корзина перечитывается из хранилища,
// чтобы увидеть изменения, сделанные другими клиентами того же профиля.
func (r *Registry) Page(ctx context.Context, profileID string) *cart.Store {
	store, created := r.acquire(ctx, profileID)
	if !created {
		store.Load(ctx)
	}
	return store
}

// Store возвращает корзину профиля, загружая её только при первом обращении.
func (r *Registry) Store(ctx context.Context, profileID string) *cart.Store {
	store, _ := r.acquire(ctx, profileID)
	return store
}

func (r *Registry) acquire(ctx context.Context, profileID string) (*cart.Store, bool) {
	profileID = strings.TrimSpace(profileID)

	r.mu.Lock()
	if e, ok := r.entries[profileID]; ok {
		e.lastUsed = r.now()
		r.mu.Unlock()
		// Незагруженную корзину отдавать нельзя: первая же мутация перезапишет
		// сохранённый payload. Load ограничен таймаутом операции, ожидание конечно.
		<-e.ready
		return e.store, false
	}

	opts := append([]cart.Option{
		cart.WithLogger(r.logger.WithField("profile_id", profileID)),
	}, r.storeOpts...)
	store := cart.NewStore(r.storage, domain.PayloadKey(profileID), opts...)

	e := &entry{store: store, lastUsed: r.now(), ready: make(chan struct{})}
	for _, factory := range r.observers {
		if obs := factory(profileID); obs != nil {
			e.unsubscribes = append(e.unsubscribes, store.Subscribe(obs))
		}
	}
	r.entries[profileID] = e
	r.mu.Unlock()

	r.logger.WithField("cart_key", store.Key()).Debug("cart opened")

	if r.gauge != nil {
		r.gauge.RecordCartOpened()
	}

	// Первая загрузка выполняется вне блокировки реестра: хранилище может отвечать медленно.
	defer close(e.ready)
	store.Load(ctx)
	return store, true
}

// Evict выгружает корзину профиля из памяти.
func (r *Registry) Evict(profileID string) bool {
	r.mu.Lock()
	e, ok := r.entries[profileID]
	if ok {
		delete(r.entries, profileID)
	}
	r.mu.Unlock()

	if ok {
		r.release(e)
	}
	return ok
}

// EvictIdle выгружает корзины, к которым не обращались с момента before.
func (r *Registry) EvictIdle(before time.Time) int {
	r.mu.Lock()
	var idle []*entry
	for profileID, e := range r.entries {
		if e.lastUsed.Before(before) {
			idle = append(idle, e)
			delete(r.entries, profileID)
		}
	}
	r.mu.Unlock()

	for _, e := range idle {
		r.release(e)
	}
	return len(idle)
}

func (r *Registry) release(e *entry) {
	for _, unsubscribe := range e.unsubscribes {
		unsubscribe()
	}
	if r.gauge != nil {
		r.gauge.RecordCartEvicted()
	}
}

// Len возвращает число корзин в памяти.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Profiles возвращает профили, корзины которых сейчас в памяти.
func (r *Registry) Profiles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for profileID := range r.entries {
		out = append(out, profileID)
	}
	sort.Strings(out)
	return out
}
