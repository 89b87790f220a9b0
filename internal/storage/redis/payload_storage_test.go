package redis

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "test")
}

// unreachableClient отказывает сразу: на порту 1 никто не слушает.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestPayloadStorage_BreakerOpensOnFailures(t *testing.T) {
	client := unreachableClient()
	storage := NewPayloadStorage(client, Options{KeyPrefix: "test:"}, quietLogger())
	t.Cleanup(func() { _ = storage.Close() })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := storage.Set(ctx, domain.StorageKey, []byte("[]"))
		require.Error(t, err)
		require.False(t, domain.IsStorageUnavailable(err), "attempt %d should reach redis", i)
	}

	require.Equal(t, gobreaker.StateOpen, storage.State())

	_, err := storage.Get(ctx, domain.StorageKey)
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestPayloadStorage_PingUnavailable(t *testing.T) {
	storage := NewPayloadStorage(unreachableClient(), Options{}, quietLogger())
	t.Cleanup(func() { _ = storage.Close() })

	require.ErrorIs(t, storage.Ping(context.Background()), domain.ErrStorageUnavailable)
}

func TestPayloadStorage_RedisRoundTrip(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("STOREFRONT_REDIS_TEST_ADDR"))
	if addr == "" {
		t.Skip("STOREFRONT_REDIS_TEST_ADDR is not set")
	}

	client := NewClient(Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis is not available: %v", err)
	}

	prefix := "storefront-test:" + time.Now().Format("150405.000000") + ":"
	storage := NewPayloadStorage(client, Options{KeyPrefix: prefix, TTL: time.Minute}, quietLogger())
	profileKey := domain.PayloadKey("p-1")
	t.Cleanup(func() {
		_ = client.Del(context.Background(), prefix+domain.StorageKey, prefix+profileKey).Err()
		_ = storage.Close()
	})

	for i := 0; i < 10; i++ {
		_, err := storage.Get(ctx, domain.StorageKey)
		require.ErrorIs(t, err, domain.ErrPayloadNotFound)
	}
	require.Equal(t, gobreaker.StateClosed, storage.State(), "missing keys must not trip the breaker")

	require.NoError(t, storage.Set(ctx, domain.StorageKey, []byte(`[{"id":1}]`)))
	require.NoError(t, storage.Set(ctx, domain.StorageKey, []byte(`[]`)))

	got, err := storage.Get(ctx, domain.StorageKey)
	require.NoError(t, err)
	require.Equal(t, "[]", string(got))

	ttl, err := client.TTL(ctx, prefix+domain.StorageKey).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	require.NoError(t, storage.Set(ctx, profileKey, []byte(`[]`)))
	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{domain.StorageKey, profileKey}, keys)
}

func TestGlobEscape(t *testing.T) {
	require.Equal(t, "cart:", globEscape("cart:"))
	require.Equal(t, `a\*b\?c\[d\]e\\f`, globEscape(`a*b?c[d]e\f`))
}
