// Package app собирает сервис корзины: хранилище, реестр корзин, HTTP API,
// публикацию событий и служебные серверы.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/notify"
	"github.com/vladislavdragonenkov/storefront/internal/service/carts"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	cartMetrics := metrics.NewCartMetrics()

	deps, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)
	storage := cartMetrics.InstrumentStorage(cfg.StorageDriver, deps.storage)

	provider, err := initAuthProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registryOpts := []carts.Option{
		carts.WithLogger(logger.WithField("layer", "registry")),
		carts.WithGauge(cartMetrics),
		carts.WithStoreOptions(
			cart.WithMetrics(cartMetrics),
			cart.WithOpTimeout(cfg.CartOpTimeout),
		),
	}

	// Kafka необязательна: без брокеров корзина работает так же, но без событий.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)

	var dispatcher *kafka.Dispatcher
	if producer != nil {
		dispatcher = kafka.NewDispatcher(producer, cfg.KafkaTopic,
			kafka.WithLogger(logger.WithField("layer", "events")),
			kafka.WithMetrics(cartMetrics),
			kafka.WithQueueSize(cfg.EventQueueSize),
			kafka.WithMaxAttempts(cfg.EventMaxAttempts),
		)
		registryOpts = append(registryOpts, carts.WithObserver(dispatcher.Observer))
	}

	registry := carts.NewRegistry(storage, registryOpts...)
	evictor := carts.NewEvictor(registry,
		carts.WithEvictorLogger(logger.WithField("layer", "evictor")),
		carts.WithInterval(cfg.EvictInterval),
		carts.WithIdleTTL(cfg.CartIdleTTL),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", healthcheck.NewPingChecker("storage", deps.pinger, true))
	if dispatcher != nil {
		healthHandler.RegisterChecker("events", healthcheck.NewPingChecker("events", eventQueueCheck(dispatcher, cfg.EventQueueSize), false))
	}

	api := httpapi.NewHandler(registry,
		httpapi.WithLogger(logger.WithField("layer", "http")),
		httpapi.WithAuthProvider(provider),
		httpapi.WithNotifier(notify.NewLogNotifier(logger.WithField("layer", "notify"))),
		httpapi.WithProfileHeader(cfg.TrustProfileHeader),
	)
	apiSrv := &http.Server{Handler: api.Routes(), ReadHeaderTimeout: 5 * time.Second}
	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}

	grpcServer, healthServer := newGRPCServer(logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		return err
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		evictor.Run(gctx)
		return nil
	})
	if dispatcher != nil {
		g.Go(func() error {
			dispatcher.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		stopGRPC(grpcServer, healthServer, logger)
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	err = g.Wait()

	if dispatcher != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		dispatcher.Flush(flushCtx)
		cancel()
	}

	if err != nil {
		return err
	}
	return ctx.Err()
}

// eventQueueCheck считает публикацию событий деградировавшей, когда буфер заполнен.
func eventQueueCheck(dispatcher *kafka.Dispatcher, capacity int) healthcheck.PingFunc {
	return func(context.Context) error {
		if capacity > 0 && dispatcher.Pending() >= capacity {
			return errors.New("cart event queue is full")
		}
		return nil
	}
}

// newGRPCServer создаёт служебный gRPC сервер: health, reflection и метрики.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

// stopGRPC останавливает gRPC сервер, принудительно по истечении таймаута.
func stopGRPC(grpcServer *grpc.Server, healthServer *health.Server, logger *log.Entry) {
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// startMetricsServer запускает служебный HTTP: /metrics, /healthz, /livez, /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
