package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mahesararslan/merge-communication-server/internal/auth"
	"github.com/mahesararslan/merge-communication-server/internal/backend"
	"github.com/mahesararslan/merge-communication-server/internal/feature"
	"github.com/mahesararslan/merge-communication-server/internal/relay"
	"github.com/mahesararslan/merge-communication-server/internal/server"
	"github.com/mahesararslan/merge-communication-server/pkg/config"
	"github.com/mahesararslan/merge-communication-server/pkg/logging"
)

func main() {
	bootLogger := logging.New(logging.LevelInfo, logging.FormatText)

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	slog.SetDefault(logger)

	features, err := feature.Compile(cfg.Features)
	if err != nil {
		logger.Error("Failed to compile features", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, features); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, features []feature.Descriptor) error {
	bus, err := openBus(ctx, logger, cfg.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	api := backend.NewClient(backend.Config{
		BaseURL:     cfg.Backend.URL,
		Timeout:     cfg.Backend.Timeout,
		MaxFailures: cfg.Backend.Breaker.MaxFailures,
		OpenTimeout: cfg.Backend.Breaker.OpenTimeout,
	}, logger)

	validator, err := newValidator(logger, cfg)
	if err != nil {
		return err
	}

	app, err := server.NewApp(logger, ctx, server.Deps{
		Config:    cfg,
		Features:  features,
		Relay:     relay.New(bus, logger),
		Backend:   api,
		Validator: validator,
	})
	if err != nil {
		return err
	}
	return app.Run()
}

func openBus(ctx context.Context, logger *slog.Logger, cfg config.BusConfig) (relay.Bus, error) {
	if cfg.Driver == config.BusDriverMemory {
		logger.Warn("Using the in-memory bus; events will not reach other instances")
		return relay.NewMemoryBus(), nil
	}
	return relay.DialRedis(ctx, relay.RedisConfig{
		Host:           cfg.Redis.Host,
		Port:           cfg.Redis.Port,
		Password:       cfg.Redis.Password,
		DB:             cfg.Redis.DB,
		PoolSize:       cfg.Redis.PoolSize,
		ConnectTimeout: cfg.Redis.ConnectTimeout,
	}, logger)
}

func newValidator(logger *slog.Logger, cfg *config.Config) (auth.Validator, error) {
	if cfg.Auth.Mode == config.AuthModeJWT {
		logger.Warn("Validating tokens locally with a shared secret")
		return auth.NewJWTValidator(cfg.Auth.JWTSecret)
	}
	authority := backend.NewClient(backend.Config{
		BaseURL: cfg.Auth.URL,
		Timeout: cfg.Backend.Timeout,
		Name:    "auth",
	}, logger)
	return auth.NewRemoteValidator(authority), nil
}
