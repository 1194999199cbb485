// Package runner is the process entry shared by the api and worker binaries.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/config"
	"github.com/funnytutor6/tutorconnect/internal/infra/logger"
)

const defaultConfigPath = "configs/config.yaml"

type App interface {
	// Run blocks until ctx is done or the app fails.
	Run(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type Builder func(ctx context.Context, cfg config.Config, log *zap.Logger) (App, error)

// Main never returns. It exits non-zero when the app cannot start, fails
// while running or does not shut down cleanly within grace.
func Main(name string, grace time.Duration, build Builder) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: load config: %v\n", name, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: build logger: %v\n", name, err)
		os.Exit(1)
	}
	log = log.With(zap.String("binary", name), zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, grace, cfg, log, build)
	stop()
	_ = log.Sync()
	os.Exit(code)
}

func run(ctx context.Context, grace time.Duration, cfg config.Config, log *zap.Logger, build Builder) int {
	app, err := build(ctx, cfg, log)
	if err != nil {
		log.Error("create app", zap.Error(err))
		return 1
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run(ctx)
	}()

	code := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("app stopped", zap.Error(err))
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown app", zap.Error(err))
		code = 1
	}
	return code
}

func configPath() string {
	if path := os.Getenv("APP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
