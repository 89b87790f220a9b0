package domain

import "context"

// PayloadStorage — аналог localStorage: хранит сериализованную корзину под ключом.
//
// Хранилище не даёт никаких гарантий согласованности между страницами:
// побеждает последняя запись.
type PayloadStorage interface {
	// Get возвращает payload или ErrPayloadNotFound, если ключа нет.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set перезаписывает payload целиком.
	Set(ctx context.Context, key string, payload []byte) error
}

// KeyLister перечисляет ключи сохранённых корзин.
type KeyLister interface {
	Keys(ctx context.Context) ([]string, error)
}

// Pinger проверяет доступность хранилища для health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Notifier показывает пользователю кратковременное уведомление.
// Вызов не блокирует и ничего не возвращает.
type Notifier interface {
	Notify(n Notification)
}
