package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	connsvc "github.com/funnytutor6/tutorconnect/internal/services/connections"
	entsvc "github.com/funnytutor6/tutorconnect/internal/services/entitlements"
	paymentsvc "github.com/funnytutor6/tutorconnect/internal/services/payments"
	resourcesvc "github.com/funnytutor6/tutorconnect/internal/services/resources"
	subsvc "github.com/funnytutor6/tutorconnect/internal/services/subscriptions"
	"github.com/funnytutor6/tutorconnect/internal/transport/http/handlers"
)

type Dependencies struct {
	Tokens              TokenParser
	Limiter             RateLimiter
	EventsSecret        string
	ConnectionService   *connsvc.Service
	EntitlementService  *entsvc.Service
	ResourceService     *resourcesvc.Service
	PaymentService      *paymentsvc.Service
	SubscriptionService *subsvc.Service
	HealthChecks        map[string]handlers.Pinger
	Logger              *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.HealthChecks)
	connectionsHandler := handlers.NewConnectionsHandler(deps.ConnectionService)
	resourcesHandler := handlers.NewResourcesHandler(deps.ResourceService, deps.EntitlementService)
	purchaseHandler := handlers.NewPurchaseHandler(deps.PaymentService)
	subscriptionHandler := handlers.NewSubscriptionHandler(deps.SubscriptionService)
	authMW := AuthMiddleware(deps.Tokens, deps.Logger)
	connectionRateMW := RateLimit(deps.Limiter, "connection", deps.Logger)
	checkoutRateMW := RateLimit(deps.Limiter, "checkout", deps.Logger)
	eventsMW := EventsSecret(deps.EventsSecret, deps.Logger)

	r.Get("/healthz", healthHandler.Get)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/connections", func(r chi.Router) {
			r.With(authMW, connectionRateMW).Post("/", connectionsHandler.Submit)
			r.With(authMW).Get("/{id}", connectionsHandler.Get)
			r.With(authMW).Post("/{id}/evaluate", connectionsHandler.Evaluate)
			r.With(authMW).Post("/{id}/reject", connectionsHandler.Reject)
			r.With(authMW).Get("/{id}/contact", connectionsHandler.Contact)
		})
		r.Route("/resources", func(r chi.Router) {
			r.With(authMW).Post("/", resourcesHandler.Create)
			r.With(authMW).Put("/{id}", resourcesHandler.Update)
			r.With(authMW).Get("/{id}/disclosure", resourcesHandler.Disclosure)
			r.With(authMW).Get("/{id}/contact", resourcesHandler.Contact)
		})
		r.Route("/purchases", func(r chi.Router) {
			r.With(authMW, checkoutRateMW).Post("/", purchaseHandler.Start)
			r.With(authMW).Get("/pending", purchaseHandler.Pending)
			r.With(authMW).Post("/resume", purchaseHandler.Resume)
			r.With(authMW).Post("/reconcile", purchaseHandler.Reconcile)
		})
		r.Route("/subscription", func(r chi.Router) {
			r.With(authMW).Get("/", subscriptionHandler.Get)
			r.With(authMW).Post("/cancel", subscriptionHandler.Cancel)
			r.With(authMW).Post("/reactivate", subscriptionHandler.Reactivate)
			r.With(eventsMW).Post("/events", subscriptionHandler.Events)
		})
	})
}
