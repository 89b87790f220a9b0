package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
)

// EventType определяет тип события
type EventType string

const (
	// EventTypeCartUpdated — содержимое корзины изменилось.
	EventTypeCartUpdated EventType = "cart.updated"
	// EventTypeCartCheckedOut — пользователь перешёл к оформлению, корзина очищена.
	EventTypeCartCheckedOut EventType = "cart.checked_out"
)

// TopicCartEvents — топик событий корзины, ключ сообщения — профиль.
const TopicCartEvents = "storefront.cart.events"

// CartEvent представляет событие корзины
type CartEvent struct {
	EventType EventType `json:"event_type"`
	ProfileID string    `json:"profile_id"`
	Outcome   string    `json:"outcome"`
	Lines     int       `json:"lines"`
	Count     int       `json:"count"`
	Subtotal  float64   `json:"subtotal"`
	Total     float64   `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// NewCartEvent создаёт событие по снимку корзины.
func NewCartEvent(profileID string, snap cart.Snapshot, at time.Time) *CartEvent {
	eventType := EventTypeCartUpdated
	if snap.Outcome == cart.OutcomeCheckedOut {
		eventType = EventTypeCartCheckedOut
	}
	return &CartEvent{
		EventType: eventType,
		ProfileID: profileID,
		Outcome:   string(snap.Outcome),
		Lines:     len(snap.Items),
		Count:     snap.Totals.Count,
		Subtotal:  snap.Totals.Subtotal,
		Total:     snap.Totals.Total,
		Timestamp: at.UTC(),
	}
}
