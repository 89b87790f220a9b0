package kafka

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
)

const (
	defaultQueueSize      = 1024
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// Recorder принимает метрики публикации.
type Recorder interface {
	RecordEventPublished(eventType string, err error)
}

// DispatcherOptions задаёт параметры Dispatcher.
type DispatcherOptions struct {
	Logger         *log.Entry
	Metrics        Recorder
	QueueSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Clock          func() time.Time
}

// Option настраивает Dispatcher.
type Option func(*DispatcherOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *DispatcherOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт приёмник метрик публикации.
func WithMetrics(metrics Recorder) Option {
	return func(opts *DispatcherOptions) {
		opts.Metrics = metrics
	}
}

// WithQueueSize задаёт размер буфера событий.
func WithQueueSize(size int) Option {
	return func(opts *DispatcherOptions) {
		opts.QueueSize = size
	}
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *DispatcherOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *DispatcherOptions) {
		opts.RetryBaseDelay = delay
	}
}

// WithClock подменяет часы для отметок времени событий.
func WithClock(now func() time.Time) Option {
	return func(opts *DispatcherOptions) {
		opts.Clock = now
	}
}

type envelope struct {
	key   string
	event *CartEvent
}

// Dispatcher отправляет события корзины в брокер в фоне.
//
// Наблюдатели корзины вызываются синхронно в обработчике запроса, поэтому
// Enqueue никогда не блокирует: при переполненном буфере событие теряется.
type Dispatcher struct {
	publisher      EventPublisher
	topic          string
	queue          chan envelope
	logger         *log.Entry
	metrics        Recorder
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
	dropped        atomic.Int64
}

// NewDispatcher создаёт Dispatcher для топика.
func NewDispatcher(publisher EventPublisher, topic string, options ...Option) *Dispatcher {
	opts := DispatcherOptions{
		QueueSize:      defaultQueueSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cart-events")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if topic == "" {
		topic = TopicCartEvents
	}

	return &Dispatcher{
		publisher:      publisher,
		topic:          topic,
		queue:          make(chan envelope, opts.QueueSize),
		logger:         logger,
		metrics:        opts.Metrics,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		now:            opts.Clock,
	}
}

// Observer возвращает наблюдателя корзины профиля. Загрузка корзины событием не считается.
func (d *Dispatcher) Observer(profileID string) cart.Observer {
	return func(snap cart.Snapshot) {
		if snap.Outcome == cart.OutcomeLoaded {
			return
		}
		d.Enqueue(profileID, NewCartEvent(profileID, snap, d.now()))
	}
}

// Enqueue ставит событие в очередь без блокировки. Возвращает false, если буфер полон.
func (d *Dispatcher) Enqueue(key string, event *CartEvent) bool {
	select {
	case d.queue <- envelope{key: key, event: event}:
		return true
	default:
		d.dropped.Add(1)
		d.logger.WithFields(log.Fields{
			"profile_id": key,
			"event_type": event.EventType,
		}).Warn("cart event queue is full, dropping event")
		return false
	}
}

// Dropped возвращает число потерянных из-за переполнения событий.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Pending возвращает количество событий в буфере.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Run публикует события до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.publisher == nil {
		d.logger.Warn("cart event dispatcher is disabled: publisher is nil")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-d.queue:
			d.deliver(ctx, env)
		}
	}
}

// Flush синхронно публикует всё, что уже лежит в буфере.
func (d *Dispatcher) Flush(ctx context.Context) {
	for {
		select {
		case env := <-d.queue:
			d.deliver(ctx, env)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, env envelope) {
	err := d.publishWithRetry(ctx, env)
	if d.metrics != nil {
		d.metrics.RecordEventPublished(string(env.event.EventType), err)
	}
	if err != nil {
		d.logger.WithError(err).WithFields(log.Fields{
			"profile_id": env.key,
			"event_type": env.event.EventType,
		}).Error("cart event publish failed after retries")
	}
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, env envelope) error {
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err := d.publisher.PublishEvent(d.topic, env.key, env.event)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= d.maxAttempts {
			break
		}

		delay := d.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", d.maxAttempts, lastErr)
}

func (d *Dispatcher) retryBackoff(attempt int) time.Duration {
	if d.retryBaseDelay <= 0 {
		return 0
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := d.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}
