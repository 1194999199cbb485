package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/app/runner"
	"github.com/funnytutor6/tutorconnect/internal/app/workerapp"
	"github.com/funnytutor6/tutorconnect/internal/config"
)

// The grace period covers one sweep still running at shutdown.
func main() {
	runner.Main("worker", 30*time.Second, func(ctx context.Context, cfg config.Config, log *zap.Logger) (runner.App, error) {
		return workerapp.New(ctx, cfg, log)
	})
}
