// Package redis хранит payload корзин в Redis за circuit breaker.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Options описывает подключение к Redis.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL ограничивает жизнь брошенных корзин; 0 означает хранить бессрочно.
	TTL time.Duration
}

// PayloadStorage реализует domain.PayloadStorage поверх строковых ключей Redis.
type PayloadStorage struct {
	rdb    redis.UniversalClient
	cb     *gobreaker.CircuitBreaker
	prefix string
	ttl    time.Duration
	logger *log.Entry
}

// NewClient создаёт клиента Redis по настройкам.
func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// NewPayloadStorage оборачивает клиента в breaker. Ключи получают префикс opts.KeyPrefix.
func NewPayloadStorage(rdb redis.UniversalClient, opts Options, logger *log.Entry) *PayloadStorage {
	if logger == nil {
		logger = log.WithField("component", "redis-storage")
	}

	st := gobreaker.Settings{
		Name:        "RedisPayloadStorage",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		// Отсутствие ключа - нормальный ответ, а не сбой Redis.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	}

	return &PayloadStorage{
		rdb:    rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
		prefix: opts.KeyPrefix,
		ttl:    opts.TTL,
		logger: logger,
	}
}

func (s *PayloadStorage) key(key string) string {
	return s.prefix + key
}

// Get возвращает payload или domain.ErrPayloadNotFound.
func (s *PayloadStorage) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.rdb.Get(ctx, s.key(key)).Bytes()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrPayloadNotFound
		}
		return nil, s.wrap("get", err)
	}
	return res.([]byte), nil
}

// Set перезаписывает payload; TTL обновляется при каждой записи.
func (s *PayloadStorage) Set(ctx context.Context, key string, payload []byte) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.rdb.Set(ctx, s.key(key), payload, s.ttl).Err()
	})
	if err != nil {
		return s.wrap("set", err)
	}
	return nil
}

// Keys перечисляет ключи корзин под префиксом хранилища через SCAN.
func (s *PayloadStorage) Keys(ctx context.Context) ([]string, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		var keys []string
		iter := s.rdb.Scan(ctx, 0, globEscape(s.prefix)+"*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
		}
		return keys, iter.Err()
	})
	if err != nil {
		return nil, s.wrap("scan", err)
	}
	keys := res.([]string)
	sort.Strings(keys)
	return keys, nil
}

// globEscape экранирует спецсимволы шаблона MATCH.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ping проверяет соединение в обход breaker.
func (s *PayloadStorage) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// State возвращает состояние breaker.
func (s *PayloadStorage) State() gobreaker.State {
	return s.cb.State()
}

// Close закрывает клиента Redis.
func (s *PayloadStorage) Close() error {
	return s.rdb.Close()
}

func (s *PayloadStorage) wrap(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("redis %s: %w: %v", op, domain.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("redis %s: %w", op, err)
}
