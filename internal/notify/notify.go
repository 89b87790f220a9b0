// Package notify доставляет пользователю кратковременные уведомления корзины.
package notify

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Toast — уведомление вместе с расписанием его показа.
type Toast struct {
	domain.Notification
	ShownAt time.Time `json:"shown_at"`
	// FadeAt — момент начала исчезновения.
	FadeAt time.Time `json:"fade_at"`
	// RemoveAt — после этого момента уведомление убирается совсем.
	RemoveAt time.Time `json:"remove_at"`
}

// NewToast планирует показ уведомления начиная с shownAt.
func NewToast(n domain.Notification, shownAt time.Time) Toast {
	fadeAt := shownAt.Add(domain.NotificationVisibleFor)
	return Toast{
		Notification: n,
		ShownAt:      shownAt,
		FadeAt:       fadeAt,
		RemoveAt:     fadeAt.Add(domain.NotificationFadeFor),
	}
}

// Visible сообщает, отображается ли уведомление в момент now (включая анимацию исчезновения).
func (t Toast) Visible(now time.Time) bool {
	return !now.Before(t.ShownAt) && now.Before(t.RemoveAt)
}

// LogNotifier пишет уведомления в лог.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier поверх logrus.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "notifier")
	}
	return &LogNotifier{logger: logger}
}

// Notify реализует domain.Notifier.
func (n *LogNotifier) Notify(notification domain.Notification) {
	entry := n.logger.WithField("severity", notification.Severity)
	if notification.Severity == domain.SeverityError {
		entry.Warn(notification.Message)
		return
	}
	entry.Info(notification.Message)
}

// Recorder накапливает уведомления, например, для ответа на один HTTP запрос.
type Recorder struct {
	mu     sync.Mutex
	now    func() time.Time
	toasts []Toast
}

// NewRecorder создаёт пустой Recorder. now может быть nil.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// Notify реализует domain.Notifier.
func (r *Recorder) Notify(notification domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, NewToast(notification, r.now()))
}

// Toasts возвращает копию накопленных уведомлений в порядке поступления.
func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Toast, len(r.toasts))
	copy(out, r.toasts)
	return out
}

// Last возвращает последнее уведомление.
func (r *Recorder) Last() (Toast, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.toasts) == 0 {
		return Toast{}, false
	}
	return r.toasts[len(r.toasts)-1], true
}

// Reset забывает накопленные уведомления.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = nil
}

// Multi рассылает уведомление всем получателям по порядку.
type Multi []domain.Notifier

// Notify реализует domain.Notifier.
func (m Multi) Notify(notification domain.Notification) {
	for _, n := range m {
		if n != nil {
			n.Notify(notification)
		}
	}
}

// Discard игнорирует уведомления.
type Discard struct{}

// Notify реализует domain.Notifier.
func (Discard) Notify(domain.Notification) {}
