// Package cart содержит CartStore, единственный источник правды о корзине профиля.
//
// Все изменения выполняются синхронно через методы Store, после каждого
// изменения корзина сохраняется в PayloadStorage, а подписчики получают снимок.
// Публичные операции не возвращают ошибок: сбои логируются и превращаются
// в уведомление пользователю.
package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Outcome — сигнал, которым завершилась операция над корзиной.
type Outcome string

const (
	OutcomeLoaded       Outcome = "loaded"
	OutcomeAdded        Outcome = "added"
	OutcomeUpdated      Outcome = "updated"
	OutcomeLimitReached Outcome = "limit_reached"
	OutcomeRejected     Outcome = "rejected"
	OutcomeRemoved      Outcome = "removed"
	OutcomeCleared      Outcome = "cleared"
	OutcomeCheckedOut   Outcome = "checked_out"
	OutcomeNoop         Outcome = "noop"
	// OutcomeFailed — внутренний сбой операции; корзина могла не измениться.
	OutcomeFailed Outcome = "failed"
)

// Сообщения, которые видит пользователь.
const (
	MsgAdded          = "Product added to cart"
	MsgQuantityBumped = "Product quantity updated in cart"
	MsgLimitReached   = "Maximum quantity limit reached"
	MsgQuantityRange  = "Quantity must be between 1 and 10"
	MsgItemNotFound   = "Item not found in cart"
	MsgUpdated        = "Cart updated"
	MsgRemoved        = "Item removed from cart"
	MsgCleared        = "Cart cleared"
	MsgEmpty          = "Your cart is empty"
	MsgCheckout       = "Proceeding to checkout..."
	MsgAddFailed      = "Error adding product to cart"
	MsgStorageFailed  = "Could not update cart"
	MsgUnexpected     = "Something went wrong, please try again"
)

const defaultOpTimeout = 3 * time.Second

// Result возвращается каждой операцией: сигнал и уведомление для пользователя.
type Result struct {
	Outcome Outcome
	Notice  domain.Notification
}

// Changed сообщает, изменила ли операция содержимое корзины.
func (r Result) Changed() bool {
	switch r.Outcome {
	case OutcomeAdded, OutcomeUpdated, OutcomeRemoved, OutcomeCleared, OutcomeCheckedOut:
		return true
	default:
		return false
	}
}

// Snapshot — неизменяемая копия корзины, передаваемая подписчикам.
type Snapshot struct {
	Outcome Outcome
	Items   []domain.LineItem
	Totals  Totals
}

// Observer получает снимок после загрузки и после каждого изменения корзины.
type Observer func(Snapshot)

// Recorder принимает метрики операций.
type Recorder interface {
	RecordOperation(operation, outcome string)
	RecordStorageFailure(operation string)
}

// Store хранит упорядоченный список позиций и зеркалирует его в хранилище.
type Store struct {
	key       string
	storage   domain.PayloadStorage
	notifier  domain.Notifier
	metrics   Recorder
	logger    *log.Entry
	now       func() time.Time
	opTimeout time.Duration

	mu        sync.Mutex
	items     []domain.LineItem
	observers map[int]Observer
	nextObsID int
}

// Option настраивает Store.
type Option func(*Store)

// WithLogger задаёт logger для диагностик.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotifier задаёт получателя пользовательских уведомлений.
func WithNotifier(n domain.Notifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// WithMetrics задаёт приёмник метрик.
func WithMetrics(r Recorder) Option {
	return func(s *Store) {
		s.metrics = r
	}
}

// WithClock подменяет источник времени (используется для генерации ID).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOpTimeout ограничивает время одного обращения к хранилищу.
func WithOpTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.opTimeout = timeout
		}
	}
}

// NewStore создаёт пустую корзину поверх хранилища. Перед использованием вызовите Load.
func NewStore(storage domain.PayloadStorage, key string, options ...Option) *Store {
	s := &Store{
		key:       key,
		storage:   storage,
		logger:    log.WithField("component", "cart-store"),
		now:       time.Now,
		opTimeout: defaultOpTimeout,
		items:     []domain.LineItem{},
		observers: make(map[int]Observer),
	}
	for _, option := range options {
		option(s)
	}
	if s.key == "" {
		s.key = domain.StorageKey
	}
	s.logger = s.logger.WithField("storage_key", s.key)
	return s
}

// Key возвращает ключ хранилища, под которым живёт корзина.
func (s *Store) Key() string {
	return s.key
}

// Load читает корзину из хранилища. Отсутствующий или битый payload даёт пустую корзину.
func (s *Store) Load(ctx context.Context) {
	defer s.recoverOp("load", nil)

	items := s.readPersisted(ctx)

	s.mu.Lock()
	s.items = items
	snap := s.snapshotLocked(OutcomeLoaded)
	s.mu.Unlock()

	s.record("load", OutcomeLoaded)
	s.publish(snap)
}

func (s *Store) readPersisted(ctx context.Context) []domain.LineItem {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	payload, err := s.storage.Get(opCtx, s.key)
	if err != nil {
		if !domain.IsNotFound(err) {
			s.logger.WithError(err).Warn("failed to read cart payload, starting with empty cart")
			s.recordStorageFailure("load")
		}
		return []domain.LineItem{}
	}

	items, err := domain.DecodeCart(payload)
	if err != nil {
		s.logger.WithError(err).Warn("discarding malformed cart payload")
		return []domain.LineItem{}
	}

	for idx, item := range items {
		if !item.Usable() {
			s.logger.WithField("index", idx).Warn("cart payload contains invalid item, it will not be rendered")
		}
	}
	return items
}

// Add добавляет товар или увеличивает количество уже лежащей в корзине позиции.
func (s *Store) Add(ctx context.Context, c domain.Candidate) (res Result) {
	defer s.recoverOp("add", &res)

	if err := c.Validate(); err != nil {
		s.logger.WithError(err).WithField("name", c.Name).Warn("rejected add to cart")
		return s.finish("add", Result{Outcome: OutcomeRejected, Notice: domain.Failure(MsgAddFailed)}, nil, nil)
	}

	return s.apply(ctx, "add", func() (Result, bool) {
		idx := s.indexOfProductLocked(c)
		switch {
		case idx >= 0 && s.items[idx].Quantity >= domain.MaxQuantity:
			return Result{Outcome: OutcomeLimitReached, Notice: domain.Failure(MsgLimitReached)}, false
		case idx >= 0:
			s.items[idx].Quantity++
			return Result{Outcome: OutcomeUpdated, Notice: domain.Success(MsgQuantityBumped)}, true
		default:
			s.items = append(s.items, domain.LineItem{
				ID:       s.nextIDLocked(),
				Name:     c.Name,
				Price:    c.Price,
				Image:    c.Image,
				Quantity: 1,
			})
			return Result{Outcome: OutcomeAdded, Notice: domain.Success(MsgAdded)}, true
		}
	})
}

// SetQuantity задаёт количество позиции по индексу в порядке отображения.
func (s *Store) SetQuantity(ctx context.Context, index, quantity int) (res Result) {
	defer s.recoverOp("set_quantity", &res)

	return s.apply(ctx, "set_quantity", func() (Result, bool) {
		return s.setQuantityLocked(index, func(int) int { return quantity })
	})
}

// ChangeQuantity — SetQuantity(index, текущее+delta) с той же валидацией.
func (s *Store) ChangeQuantity(ctx context.Context, index, delta int) (res Result) {
	defer s.recoverOp("change_quantity", &res)

	return s.apply(ctx, "change_quantity", func() (Result, bool) {
		return s.setQuantityLocked(index, func(current int) int { return current + delta })
	})
}

// SetQuantityByID задаёт количество позиции по её стабильному идентификатору.
func (s *Store) SetQuantityByID(ctx context.Context, id int64, quantity int) (res Result) {
	defer s.recoverOp("set_quantity", &res)

	return s.apply(ctx, "set_quantity", func() (Result, bool) {
		return s.setQuantityLocked(s.indexOfIDLocked(id), func(int) int { return quantity })
	})
}

// ChangeQuantityByID меняет количество позиции с указанным ID на delta.
func (s *Store) ChangeQuantityByID(ctx context.Context, id int64, delta int) (res Result) {
	defer s.recoverOp("change_quantity", &res)

	return s.apply(ctx, "change_quantity", func() (Result, bool) {
		return s.setQuantityLocked(s.indexOfIDLocked(id), func(current int) int { return current + delta })
	})
}

func (s *Store) setQuantityLocked(index int, next func(current int) int) (Result, bool) {
	if index < 0 || index >= len(s.items) {
		return Result{Outcome: OutcomeRejected, Notice: domain.Failure(MsgItemNotFound)}, false
	}

	item := s.items[index]
	quantity := next(item.Quantity)
	if !item.Usable() || quantity < domain.MinQuantity || quantity > domain.MaxQuantity {
		return Result{Outcome: OutcomeRejected, Notice: domain.Failure(MsgQuantityRange)}, false
	}

	s.items[index].Quantity = quantity
	return Result{Outcome: OutcomeUpdated, Notice: domain.Success(MsgUpdated)}, true
}

// Remove удаляет позицию по индексу. Несуществующий индекс игнорируется.
func (s *Store) Remove(ctx context.Context, index int) (res Result) {
	defer s.recoverOp("remove", &res)

	return s.apply(ctx, "remove", func() (Result, bool) {
		return s.removeLocked(index)
	})
}

// RemoveByID удаляет позицию по идентификатору. Неизвестный ID игнорируется.
func (s *Store) RemoveByID(ctx context.Context, id int64) (res Result) {
	defer s.recoverOp("remove", &res)

	return s.apply(ctx, "remove", func() (Result, bool) {
		return s.removeLocked(s.indexOfIDLocked(id))
	})
}

func (s *Store) removeLocked(index int) (Result, bool) {
	if index < 0 || index >= len(s.items) {
		return Result{Outcome: OutcomeNoop}, false
	}

	s.items = append(s.items[:index:index], s.items[index+1:]...)
	return Result{Outcome: OutcomeRemoved, Notice: domain.Success(MsgRemoved)}, true
}

// Clear очищает корзину.
func (s *Store) Clear(ctx context.Context) (res Result) {
	defer s.recoverOp("clear", &res)

	return s.apply(ctx, "clear", func() (Result, bool) {
		s.items = []domain.LineItem{}
		return Result{Outcome: OutcomeCleared, Notice: domain.Success(MsgCleared)}, true
	})
}

// Checkout очищает непустую корзину. Оформление заказа на сервере не выполняется.
func (s *Store) Checkout(ctx context.Context) (res Result) {
	defer s.recoverOp("checkout", &res)

	return s.apply(ctx, "checkout", func() (Result, bool) {
		if len(s.items) == 0 {
			return Result{Outcome: OutcomeRejected, Notice: domain.Failure(MsgEmpty)}, false
		}
		s.items = []domain.LineItem{}
		return Result{Outcome: OutcomeCheckedOut, Notice: domain.Success(MsgCheckout)}, true
	})
}

// apply выполняет mutate под блокировкой и, если корзина изменилась, сохраняет её.
func (s *Store) apply(ctx context.Context, op string, mutate func() (Result, bool)) Result {
	var (
		result     Result
		snap       *Snapshot
		persistErr error
	)

	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		var changed bool
		result, changed = mutate()
		if changed {
			persisted, err := s.persistLocked(ctx, result.Outcome)
			snap, persistErr = &persisted, err
		}
	}()

	return s.finish(op, result, snap, persistErr)
}

// Items возвращает копию позиций в порядке отображения.
func (s *Store) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items)
}

// Len возвращает количество позиций (включая нераспознанные).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Totals пересчитывает производные суммы. Результат нигде не сохраняется.
func (s *Store) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ComputeTotals(s.items)
}

// State возвращает Empty или NonEmpty.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stateOf(s.items)
}

// CheckoutEnabled — кнопка оформления активна только для непустой корзины.
func (s *Store) CheckoutEnabled() bool {
	return s.State() == StateNonEmpty
}

// Snapshot возвращает текущее состояние корзины целиком.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked("")
}

// Subscribe регистрирует наблюдателя и возвращает функцию отписки.
func (s *Store) Subscribe(observer Observer) func() {
	if observer == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = observer
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) indexOfProductLocked(c domain.Candidate) int {
	for idx, item := range s.items {
		if item.SameProduct(c) {
			return idx
		}
	}
	return -1
}

func (s *Store) indexOfIDLocked(id int64) int {
	for idx, item := range s.items {
		if item.Usable() && item.ID == id {
			return idx
		}
	}
	return -1
}

// nextIDLocked выдаёт метку времени создания; при совпадении берётся следующее свободное значение.
func (s *Store) nextIDLocked() int64 {
	id := s.now().UnixMilli()
	for s.hasIDLocked(id) {
		id++
	}
	return id
}

func (s *Store) hasIDLocked(id int64) bool {
	for _, item := range s.items {
		if item.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) snapshotLocked(outcome Outcome) Snapshot {
	return Snapshot{
		Outcome: outcome,
		Items:   cloneItems(s.items),
		Totals:  ComputeTotals(s.items),
	}
}

// persistLocked сохраняет текущие позиции. Ошибка не откатывает состояние в памяти.
func (s *Store) persistLocked(ctx context.Context, outcome Outcome) (Snapshot, error) {
	snap := s.snapshotLocked(outcome)

	payload, err := domain.EncodeCart(snap.Items)
	if err != nil {
		return snap, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return snap, s.storage.Set(opCtx, s.key, payload)
}

// finish логирует сбой сохранения, уведомляет пользователя и подписчиков.
func (s *Store) finish(op string, result Result, snap *Snapshot, persistErr error) Result {
	if persistErr != nil {
		s.logger.WithError(persistErr).WithField("operation", op).Error("failed to persist cart")
		s.recordStorageFailure(op)
		result.Notice = domain.Failure(MsgStorageFailed)
	}

	s.record(op, result.Outcome)
	if !result.Notice.IsZero() && s.notifier != nil {
		s.notifier.Notify(result.Notice)
	}
	if snap != nil {
		s.publish(*snap)
	}
	return result
}

func (s *Store) publish(snap Snapshot) {
	s.mu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for id := 0; id < s.nextObsID; id++ {
		if obs, ok := s.observers[id]; ok {
			observers = append(observers, obs)
		}
	}
	s.mu.Unlock()

	for _, obs := range observers {
		obs(snap)
	}
}

// recoverOp гасит панику операции: страница не должна падать из-за корзины.
func (s *Store) recoverOp(op string, res *Result) {
	r := recover()
	if r == nil {
		return
	}

	s.logger.WithField("operation", op).WithError(panicError(r)).Error("cart operation failed unexpectedly")
	s.record(op, OutcomeFailed)

	notice := domain.Failure(MsgUnexpected)
	if s.notifier != nil {
		s.notifier.Notify(notice)
	}
	if res != nil {
		*res = Result{Outcome: OutcomeFailed, Notice: notice}
	}
}

func (s *Store) record(op string, outcome Outcome) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, string(outcome))
	}
}

func (s *Store) recordStorageFailure(op string) {
	if s.metrics != nil {
		s.metrics.RecordStorageFailure(op)
	}
}

func cloneItems(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, len(items))
	copy(out, items)
	return out
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
