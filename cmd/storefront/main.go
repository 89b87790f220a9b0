package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const envConfigFile = "STOREFRONT_CONFIG"

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithError(err).Warnf("unknown log level %q, using info", level)
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

// readConfig собирает конфигурацию из файла STOREFRONT_CONFIG и переменных окружения.
// Некорректные переменные пропускаются с предупреждением.
func readConfig(lookup func(string) (string, bool)) (app.Config, error) {
	path, _ := lookup(envConfigFile)
	cfg, err := app.LoadConfigFile(app.DefaultConfig(), path)
	if err != nil {
		return cfg, err
	}

	cfg, err = app.ApplyEnv(cfg, lookup)
	if err != nil {
		log.WithError(err).Warn("ignoring invalid environment overrides")
	}
	return cfg, nil
}

func main() {
	cfg, err := readConfig(os.LookupEnv)
	setupLogger(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("не удалось прочитать конфигурацию")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.String(),
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"auth":         cfg.AuthMode,
	}).Info("запускаем storefront")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("storefront остановлен")
}
