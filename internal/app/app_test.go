package app

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.KafkaBrokers = nil
	return cfg
}

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, testConfig())
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_FileStorageGracefulShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = StorageDriverFile
	cfg.FileDir = t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := Run(ctx, cfg)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "unsupported storage driver")
}

func TestRun_HTTPAddrInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.HTTPAddr = busy.Addr().String()

	err = Run(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewGRPCServer_HealthOverBufconn(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	server, healthServer := newGRPCServer(log.WithField("test", "grpc"))
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := healthpb.NewHealthClient(conn)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestStopGRPC_MarksNotServing(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	server, healthServer := newGRPCServer(log.WithField("test", "grpc-stop"))
	served := make(chan error, 1)
	go func() { served <- server.Serve(lis) }()

	stopGRPC(server, healthServer, log.WithField("test", "grpc-stop"))

	select {
	case err := <-served:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Fatalf("unexpected serve error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("grpc server did not stop")
	}

	resp, err := healthServer.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestInitStorage(t *testing.T) {
	logger := log.WithField("test", "storage-init")
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		deps, err := initStorage(ctx, Config{StorageDriver: StorageDriverMemory}, logger)
		require.NoError(t, err)
		require.NotNil(t, deps.storage)
		require.NoError(t, deps.pinger.Ping(ctx))
		deps.close(logger)
	})

	t.Run("file", func(t *testing.T) {
		deps, err := initStorage(ctx, Config{StorageDriver: StorageDriverFile, FileDir: t.TempDir()}, logger)
		require.NoError(t, err)
		require.NoError(t, deps.storage.Set(ctx, "cartItems", []byte("[]")))
		payload, err := deps.storage.Get(ctx, "cartItems")
		require.NoError(t, err)
		require.Equal(t, "[]", string(payload))
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		_, err := initStorage(ctx, Config{StorageDriver: StorageDriverPostgres}, logger)
		require.Error(t, err)
	})

	t.Run("redis unreachable still starts", func(t *testing.T) {
		deps, err := initStorage(ctx, Config{StorageDriver: StorageDriverRedis, RedisAddr: "127.0.0.1:1"}, logger)
		require.NoError(t, err)
		defer deps.close(logger)

		err = deps.pinger.Ping(ctx)
		require.True(t, domain.IsStorageUnavailable(err), "got %v", err)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := initStorage(ctx, Config{StorageDriver: "sqlite"}, logger)
		require.ErrorContains(t, err, "unsupported storage driver")
	})
}

func TestInitAuthProvider(t *testing.T) {
	logger := log.WithField("test", "auth-init")
	ctx := context.Background()

	provider, err := initAuthProvider(ctx, Config{AuthMode: AuthModeAnonymous}, logger)
	require.NoError(t, err)
	_, err = provider.Verify(ctx, "any")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	provider, err = initAuthProvider(ctx, Config{AuthMode: AuthModeJWT, JWTSecret: "s3cret", JWTIssuer: "storefront"}, logger)
	require.NoError(t, err)
	require.NotNil(t, provider)

	_, err = initAuthProvider(ctx, Config{AuthMode: "ldap"}, logger)
	require.ErrorContains(t, err, "unsupported auth mode")
}

func TestEventQueueCheck_FullQueueDegrades(t *testing.T) {
	dispatcher := kafka.NewDispatcher(nil, kafka.TopicCartEvents,
		kafka.WithLogger(log.WithField("test", "events")),
		kafka.WithQueueSize(1),
	)
	check := eventQueueCheck(dispatcher, 1)
	require.NoError(t, check(context.Background()))

	snap := cart.Snapshot{Outcome: cart.OutcomeAdded}
	require.True(t, dispatcher.Enqueue("p-1", kafka.NewCartEvent("p-1", snap, time.Now())))
	require.ErrorContains(t, check(context.Background()), "queue is full")
}
