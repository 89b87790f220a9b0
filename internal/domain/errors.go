package domain

import "errors"

var (
	// ErrProductNameRequired — у добавляемого товара нет названия.
	ErrProductNameRequired = errors.New("product name is required")
	// ErrProductPriceInvalid — цена товара отрицательная или не число.
	ErrProductPriceInvalid = errors.New("product price must be a non-negative number")
	// ErrPayloadNotFound возвращается хранилищем, если ключ отсутствует.
	ErrPayloadNotFound = errors.New("payload not found")
	// ErrPayloadMalformed — сохранённая корзина не является JSON-массивом.
	ErrPayloadMalformed = errors.New("payload is malformed")
	// ErrStorageUnavailable — хранилище временно недоступно (например, разомкнут breaker).
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrUnauthenticated — пользователь не вошёл в систему.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidToken — токен провайдера аутентификации не прошёл проверку.
	ErrInvalidToken = errors.New("invalid auth token")
)

// IsNotFound проверяет, что в хранилище нет payload по ключу.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPayloadNotFound)
}

// IsStorageUnavailable проверяет, является ли ошибка временной недоступностью хранилища.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
