package domain

import "time"

// Severity определяет оформление уведомления.
type Severity string

const (
	// SeveritySuccess — информационное уведомление об успешном действии.
	SeveritySuccess Severity = "success"
	// SeverityError — отказ или сбой, который нужно показать пользователю.
	SeverityError Severity = "error"
)

const (
	// NotificationVisibleFor — сколько уведомление остаётся на экране.
	NotificationVisibleFor = 2 * time.Second
	// NotificationFadeFor — длительность анимации исчезновения.
	NotificationFadeFor = 300 * time.Millisecond
)

// Notification — пара (сообщение, важность) для Notifier.
type Notification struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// IsZero сообщает, что уведомления нет.
func (n Notification) IsZero() bool {
	return n.Message == ""
}

// Success создаёт уведомление об успехе.
func Success(message string) Notification {
	return Notification{Message: message, Severity: SeveritySuccess}
}

// Failure создаёт уведомление об ошибке.
func Failure(message string) Notification {
	return Notification{Message: message, Severity: SeverityError}
}
