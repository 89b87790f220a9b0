package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// payloadStorageInMemory — in-memory реализация PayloadStorage для локальной разработки и тестов.
type payloadStorageInMemory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// PayloadStorage расширяет domain.PayloadStorage операциями, полезными в тестах.
type PayloadStorage interface {
	domain.PayloadStorage
	domain.Pinger
	domain.KeyLister
}

// NewPayloadStorage возвращает пустое хранилище.
func NewPayloadStorage() PayloadStorage {
	return &payloadStorageInMemory{
		items: make(map[string][]byte),
	}
}

// Get возвращает копию payload или ErrPayloadNotFound.
func (s *payloadStorageInMemory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.items[key]
	if !ok {
		return nil, domain.ErrPayloadNotFound
	}
	return clone(payload), nil
}

// Set перезаписывает payload; побеждает последняя запись.
func (s *payloadStorageInMemory) Set(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Сохраняем копию, чтобы вызывающий код не мог изменить данные извне.
	s.items[key] = clone(payload)
	return nil
}

// Ping всегда успешен.
func (s *payloadStorageInMemory) Ping(context.Context) error {
	return nil
}

// Keys возвращает отсортированный список ключей.
func (s *payloadStorageInMemory) Keys(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func clone(payload []byte) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out
}

var _ domain.PayloadStorage = (*payloadStorageInMemory)(nil)
