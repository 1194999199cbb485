package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/app/core"
	"github.com/funnytutor6/tutorconnect/internal/config"
	authsvc "github.com/funnytutor6/tutorconnect/internal/services/auth"
	"github.com/funnytutor6/tutorconnect/internal/transport/http/handlers"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	core       *core.Core
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	c, err := core.Build(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("build services: %w", err)
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)
	RegisterRoutes(r, Dependencies{
		Tokens:              authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Limiter:             c.Limiter,
		EventsSecret:        cfg.Stripe.EventsSecret,
		ConnectionService:   c.Connections,
		EntitlementService:  c.Entitlements,
		ResourceService:     c.Resources,
		PaymentService:      c.Payments,
		SubscriptionService: c.Subscriptions,
		HealthChecks: map[string]handlers.Pinger{
			"postgres": c.Postgres,
			"redis":    core.RedisPinger{Client: c.Redis},
		},
		Logger: log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		core:       c,
		httpRouter: r,
	}, nil
}

// Run serves until Shutdown is called.
func (a *App) Run(_ context.Context) error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if err := a.core.Close(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
