package carts

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultEvictInterval = time.Minute
	defaultIdleTTL       = 30 * time.Minute
)

// EvictorOptions задаёт параметры воркера выгрузки простаивающих корзин.
type EvictorOptions struct {
	Logger   *log.Entry
	Interval time.Duration
	IdleTTL  time.Duration
}

// EvictorOption настраивает Evictor.
type EvictorOption func(*EvictorOptions)

// WithEvictorLogger задаёт logger для воркера.
func WithEvictorLogger(logger *log.Entry) EvictorOption {
	return func(opts *EvictorOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) EvictorOption {
	return func(opts *EvictorOptions) {
		opts.Interval = interval
	}
}

// WithIdleTTL задаёт, сколько корзина может простаивать в памяти.
func WithIdleTTL(ttl time.Duration) EvictorOption {
	return func(opts *EvictorOptions) {
		opts.IdleTTL = ttl
	}
}

// Evictor периодически выгружает корзины, к которым давно не обращались.
type Evictor struct {
	registry *Registry
	logger   *log.Entry
	interval time.Duration
	idleTTL  time.Duration
}

// NewEvictor создаёт воркер выгрузки.
func NewEvictor(registry *Registry, options ...EvictorOption) *Evictor {
	opts := EvictorOptions{
		Interval: defaultEvictInterval,
		IdleTTL:  defaultIdleTTL,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cart-evictor")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultEvictInterval
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}

	return &Evictor{
		registry: registry,
		logger:   logger,
		interval: opts.Interval,
		idleTTL:  opts.IdleTTL,
	}
}

// Run запускает периодическую выгрузку до отмены ctx.
func (e *Evictor) Run(ctx context.Context) {
	if e.registry == nil {
		e.logger.Warn("cart evictor is disabled: registry is nil")
		return
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvictOnce()
		}
	}
}

// EvictOnce выполняет один проход и возвращает число выгруженных корзин.
func (e *Evictor) EvictOnce() int {
	evicted := e.registry.EvictIdle(e.registry.now().Add(-e.idleTTL))
	if evicted > 0 {
		e.logger.WithFields(log.Fields{
			"evicted":   evicted,
			"remaining": e.registry.Len(),
		}).Info("idle carts evicted")
	}
	return evicted
}
