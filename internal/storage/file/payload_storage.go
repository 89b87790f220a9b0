// Package file хранит payload корзин в отдельных файлах каталога.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const fileSuffix = ".json"

// PayloadStorage — хранилище "один ключ = один файл".
// Запись атомарна (временный файл + rename), побеждает последний писатель.
type PayloadStorage struct {
	dir string
	mu  sync.RWMutex
}

// NewPayloadStorage создаёт каталог, если его нет.
func NewPayloadStorage(dir string) (*PayloadStorage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file storage: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &PayloadStorage{dir: dir}, nil
}

// Dir возвращает каталог хранилища.
func (s *PayloadStorage) Dir() string {
	return s.dir
}

func (s *PayloadStorage) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileSuffix)
}

// Get читает payload или возвращает domain.ErrPayloadNotFound.
func (s *PayloadStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrPayloadNotFound
		}
		return nil, fmt.Errorf("read payload %q: %w", key, err)
	}
	return payload, nil
}

// Set атомарно перезаписывает payload.
func (s *PayloadStorage) Set(ctx context.Context, key string, payload []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".payload-*")
	if err != nil {
		return fmt.Errorf("create temp payload: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write payload %q: %w", key, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync payload %q: %w", key, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close payload %q: %w", key, err)
	}
	if err = os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("commit payload %q: %w", key, err)
	}
	return nil
}

// Ping проверяет, что каталог существует и доступен.
func (s *PayloadStorage) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrStorageUnavailable, s.dir)
	}
	return nil
}

// Keys возвращает ключи всех сохранённых корзин.
func (s *PayloadStorage) Keys(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list storage dir: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
