package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/app/apiapp"
	"github.com/funnytutor6/tutorconnect/internal/app/runner"
	"github.com/funnytutor6/tutorconnect/internal/config"
)

func main() {
	runner.Main("api", 10*time.Second, func(ctx context.Context, cfg config.Config, log *zap.Logger) (runner.App, error) {
		return apiapp.New(ctx, cfg, log)
	})
}
