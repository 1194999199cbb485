package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
	"github.com/funnytutor6/tutorconnect/internal/domain/rules"
	"github.com/funnytutor6/tutorconnect/internal/pkg/keylock"
	pgrepo "github.com/funnytutor6/tutorconnect/internal/repo/postgres"
	redrepo "github.com/funnytutor6/tutorconnect/internal/repo/redis"
	"github.com/funnytutor6/tutorconnect/internal/services/audit"
)

const (
	reasonCheckoutFailed = "checkout_failed"
	reasonPaymentFailed  = pgrepo.FailureReasonPaymentFailed
	reasonPaymentUnknown = pgrepo.FailureReasonUnknown
	reasonStale          = pgrepo.FailureReasonStale
	reasonDuplicateGrant = "duplicate_grant"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrUnknownPlan          = errors.New("unknown subscription plan")
	ErrResourceNotFound     = errors.New("resource not found")
	ErrRequestClosed        = errors.New("connection request is closed")
	ErrForbidden            = errors.New("forbidden")
	ErrOperationNotFound    = errors.New("payment operation not found")
	ErrPaymentFailed        = errors.New("payment failed")
	ErrPaymentUnknown       = errors.New("payment outcome unknown")
	ErrStaleOperation       = errors.New("payment operation is stale")
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
)

type PurchaseStore interface {
	CreatePending(ctx context.Context, buyerID, resourceID int64, requestID *int64, amount int64) (model.Purchase, error)
	AttachSession(ctx context.Context, purchaseID int64, sessionRef string) error
	FindByID(ctx context.Context, tx pgx.Tx, purchaseID int64) (model.Purchase, error)
	FindBySession(ctx context.Context, sessionRef string) (model.Purchase, error)
	MarkConfirmed(ctx context.Context, tx pgx.Tx, purchaseID int64, sessionRef string) (model.Purchase, bool, error)
	MarkFailed(ctx context.Context, purchaseID int64, reason string) (model.Purchase, bool, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Purchase, error)
	ListStalePendingForBuyer(ctx context.Context, buyerID int64, cutoff time.Time, limit int) ([]model.Purchase, error)
	ListUndecided(ctx context.Context, since time.Time, limit int) ([]model.Purchase, error)
	ListUndecidedForBuyer(ctx context.Context, buyerID int64, since time.Time, limit int) ([]model.Purchase, error)
}

type SubscriptionStore interface {
	Get(ctx context.Context, tx pgx.Tx, userID int64) (*model.Subscription, error)
	MarkPending(ctx context.Context, userID int64, plan, sessionRef string, at time.Time) error
	ApplyState(ctx context.Context, tx pgx.Tx, state pgrepo.SubscriptionState) (model.Subscription, bool, error)
	ClearPending(ctx context.Context, userID int64, sessionRef string) (bool, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Subscription, error)
}

// StagingStore is the single-slot, expiring record of a checkout in flight.
type StagingStore interface {
	Put(ctx context.Context, record model.StagingRecord) error
	Get(ctx context.Context, sessionRef string) (model.StagingRecord, error)
	GetForViewer(ctx context.Context, viewerID int64) (model.StagingRecord, error)
	Delete(ctx context.Context, sessionRef string) error
}

type Resolver interface {
	Resolve(ctx context.Context, viewerID, resourceID int64, now time.Time) (model.Decision, error)
}

type ResourceReader interface {
	Get(ctx context.Context, resourceID int64) (model.Resource, error)
}

// RequestEvaluator drives a connection request through its grant path.
type RequestEvaluator interface {
	Get(ctx context.Context, requestID, viewerID int64) (model.ConnectionRequest, error)
	EvaluateForViewer(ctx context.Context, requestID, viewerID int64) (model.ConnectionRequest, error)
	EvaluateInTx(ctx context.Context, tx pgx.Tx, requestID, viewerID int64) (model.ConnectionRequest, bool, error)
	RecordGrant(ctx context.Context, actorID int64, req model.ConnectionRequest)
}

type Transactor interface {
	InTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
}

type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type Auditor interface {
	Record(ctx context.Context, event model.AuditEvent)
}

type Config struct {
	DirectAccessAmount int64
	Plans              map[string]int64
	StaleAfter         time.Duration
	SweepBatch         int
	// RecheckWindow bounds how long purchases failed as unknown or stale are
	// asked about again.
	RecheckWindow time.Duration
}

type Dependencies struct {
	Purchases     PurchaseStore
	Subscriptions SubscriptionStore
	Staging       StagingStore
	Processor     Processor
	Resolver      Resolver
	Resources     ResourceReader
	Requests      RequestEvaluator
	Tx            Transactor
	Locker        Locker
	Logger        *zap.Logger
	Config        Config
}

type Service struct {
	purchases PurchaseStore
	subs      SubscriptionStore
	staging   StagingStore
	processor Processor
	resolver  Resolver
	resources ResourceReader
	requests  RequestEvaluator
	tx        Transactor
	locker    Locker
	audit     Auditor
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
	newOpID   func() string
}

// Target is either a resource (optionally through a connection request) or a
// subscription plan.
type Target struct {
	ResourceID int64
	RequestID  *int64
	Plan       string
}

type StartResult struct {
	Kind           enums.OperationKind      `json:"kind"`
	OperationID    string                   `json:"operation_id,omitempty"`
	SessionRef     string                   `json:"session_ref,omitempty"`
	RedirectURL    string                   `json:"redirect_url,omitempty"`
	PurchaseID     int64                    `json:"purchase_id,omitempty"`
	AlreadyGranted bool                     `json:"already_granted"`
	Decision       *model.Decision          `json:"decision,omitempty"`
	UpdatedRequest *model.ConnectionRequest `json:"updated_request,omitempty"`
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locker := deps.Locker
	if locker == nil {
		locker = keylock.New()
	}
	cfg := deps.Config
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	if cfg.RecheckWindow <= 0 {
		cfg.RecheckWindow = 72 * time.Hour
	}
	plans := make(map[string]int64, len(cfg.Plans))
	for name, amount := range cfg.Plans {
		plans[normalizePlan(name)] = amount
	}
	cfg.Plans = plans

	return &Service{
		purchases: deps.Purchases,
		subs:      deps.Subscriptions,
		staging:   deps.Staging,
		processor: deps.Processor,
		resolver:  deps.Resolver,
		resources: deps.Resources,
		requests:  deps.Requests,
		tx:        deps.Tx,
		locker:    locker,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		newOpID:   uuid.NewString,
	}
}

func (s *Service) AttachAuditor(auditor Auditor) {
	s.audit = auditor
}

func (s *Service) StaleAfter() time.Duration {
	return s.cfg.StaleAfter
}

func (s *Service) Start(ctx context.Context, viewerID int64, target Target) (StartResult, error) {
	if viewerID <= 0 {
		return StartResult{}, ErrValidation
	}
	if s.processor == nil {
		return StartResult{}, fmt.Errorf("payment processor is nil")
	}

	plan := normalizePlan(target.Plan)
	switch {
	case target.ResourceID > 0 && plan == "":
		return s.startDirect(ctx, viewerID, target)
	case target.ResourceID <= 0 && plan != "" && target.RequestID == nil:
		return s.startSubscription(ctx, viewerID, plan)
	default:
		return StartResult{}, ErrValidation
	}
}

func (s *Service) startDirect(ctx context.Context, viewerID int64, target Target) (StartResult, error) {
	if s.purchases == nil || s.resolver == nil || s.resources == nil {
		return StartResult{}, fmt.Errorf("direct purchase dependencies are not configured")
	}

	res, err := s.resources.Get(ctx, target.ResourceID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrResourceNotFound) {
			return StartResult{}, ErrResourceNotFound
		}
		return StartResult{}, fmt.Errorf("load resource: %w", err)
	}
	if res.OwnerID == viewerID {
		return StartResult{}, ErrValidation
	}

	if target.RequestID != nil {
		if s.requests == nil {
			return StartResult{}, fmt.Errorf("request evaluator is nil")
		}
		req, err := s.requests.Get(ctx, *target.RequestID, viewerID)
		if err != nil {
			return StartResult{}, err
		}
		if req.ResourceID != res.ID {
			return StartResult{}, ErrValidation
		}
		switch req.Status {
		case enums.ConnectionStatusRejected:
			return StartResult{}, ErrRequestClosed
		case enums.ConnectionStatusPurchased:
			return StartResult{Kind: enums.OperationKindDirectPurchase, AlreadyGranted: true, UpdatedRequest: &req}, nil
		}
	}

	decision, err := s.resolver.Resolve(ctx, viewerID, res.ID, s.now().UTC())
	if err != nil {
		return StartResult{}, fmt.Errorf("resolve entitlement: %w", err)
	}
	if decision.Granted {
		out := StartResult{Kind: enums.OperationKindDirectPurchase, AlreadyGranted: true, Decision: &decision}
		if target.RequestID != nil {
			req, err := s.requests.EvaluateForViewer(ctx, *target.RequestID, viewerID)
			if err != nil {
				return StartResult{}, err
			}
			out.UpdatedRequest = &req
		}
		return out, nil
	}

	purchase, err := s.purchases.CreatePending(ctx, viewerID, res.ID, target.RequestID, s.cfg.DirectAccessAmount)
	if err != nil {
		return StartResult{}, fmt.Errorf("create pending purchase: %w", err)
	}

	opID := s.newOpID()
	meta := map[string]string{
		MetaOperationID: opID,
		MetaKind:        string(enums.OperationKindDirectPurchase),
		MetaViewerID:    formatID(viewerID),
		MetaPurchaseID:  formatID(purchase.ID),
		MetaResourceID:  formatID(res.ID),
	}
	if target.RequestID != nil {
		meta[MetaRequestID] = formatID(*target.RequestID)
	}

	checkout, err := s.processor.CreateCheckout(ctx, CheckoutRequest{
		Kind:     enums.OperationKindDirectPurchase,
		Amount:   purchase.Amount,
		Metadata: meta,
	})
	if err != nil {
		if _, _, markErr := s.purchases.MarkFailed(ctx, purchase.ID, reasonCheckoutFailed); markErr != nil {
			s.logger.Warn("mark purchase failed after checkout error", zap.Int64("purchase_id", purchase.ID), zap.Error(markErr))
		}
		return StartResult{}, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	if err := s.purchases.AttachSession(ctx, purchase.ID, checkout.SessionRef); err != nil {
		return StartResult{}, fmt.Errorf("attach checkout session: %w", err)
	}

	resourceID := res.ID
	purchaseID := purchase.ID
	s.stage(ctx, model.StagingRecord{
		OperationID: opID,
		Kind:        enums.OperationKindDirectPurchase,
		ViewerID:    viewerID,
		ResourceID:  &resourceID,
		RequestID:   target.RequestID,
		PurchaseID:  &purchaseID,
		SessionRef:  checkout.SessionRef,
		CreatedAt:   s.now().UTC(),
	})
	s.record(ctx, audit.EventPaymentStarted, viewerID, "purchase", formatID(purchase.ID), map[string]any{
		"resource_id": res.ID,
		"amount":      purchase.Amount,
		"session_ref": checkout.SessionRef,
	})

	return StartResult{
		Kind:        enums.OperationKindDirectPurchase,
		OperationID: opID,
		SessionRef:  checkout.SessionRef,
		RedirectURL: checkout.RedirectURL,
		PurchaseID:  purchase.ID,
	}, nil
}

func (s *Service) startSubscription(ctx context.Context, viewerID int64, plan string) (StartResult, error) {
	if s.subs == nil {
		return StartResult{}, fmt.Errorf("subscription store is nil")
	}
	amount, ok := s.cfg.Plans[plan]
	if !ok {
		return StartResult{}, ErrUnknownPlan
	}

	current, err := s.subs.Get(ctx, nil, viewerID)
	if err != nil {
		return StartResult{}, fmt.Errorf("read subscription: %w", err)
	}
	if rules.IsEntitling(current, s.now().UTC()) {
		decision := model.Decision{Granted: true, Reason: enums.GrantReasonSubscriptionEntitlement}
		return StartResult{Kind: enums.OperationKindSubscription, AlreadyGranted: true, Decision: &decision}, nil
	}

	opID := s.newOpID()
	checkout, err := s.processor.CreateCheckout(ctx, CheckoutRequest{
		Kind:   enums.OperationKindSubscription,
		Amount: amount,
		Plan:   plan,
		Metadata: map[string]string{
			MetaOperationID: opID,
			MetaKind:        string(enums.OperationKindSubscription),
			MetaViewerID:    formatID(viewerID),
			MetaPlan:        plan,
		},
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}

	now := s.now().UTC()
	if err := s.subs.MarkPending(ctx, viewerID, plan, checkout.SessionRef, now); err != nil {
		return StartResult{}, fmt.Errorf("mark subscription pending: %w", err)
	}

	userID := viewerID
	s.stage(ctx, model.StagingRecord{
		OperationID:        opID,
		Kind:               enums.OperationKindSubscription,
		ViewerID:           viewerID,
		SubscriptionUserID: &userID,
		SessionRef:         checkout.SessionRef,
		CreatedAt:          now,
	})
	s.record(ctx, audit.EventPaymentStarted, viewerID, "subscription", formatID(viewerID), map[string]any{
		"plan":        plan,
		"amount":      amount,
		"session_ref": checkout.SessionRef,
	})

	return StartResult{
		Kind:        enums.OperationKindSubscription,
		OperationID: opID,
		SessionRef:  checkout.SessionRef,
		RedirectURL: checkout.RedirectURL,
	}, nil
}

// PendingOperation returns the viewer's staged checkout, if any.
func (s *Service) PendingOperation(ctx context.Context, viewerID int64) (model.StagingRecord, bool, error) {
	if viewerID <= 0 {
		return model.StagingRecord{}, false, ErrValidation
	}
	if s.staging == nil {
		return model.StagingRecord{}, false, nil
	}
	rec, err := s.staging.GetForViewer(ctx, viewerID)
	if err != nil {
		if isStagingMiss(err) {
			return model.StagingRecord{}, false, nil
		}
		return model.StagingRecord{}, false, fmt.Errorf("read staging record: %w", err)
	}
	return rec, true, nil
}

// stage is best effort. The processor outcome stays authoritative when the
// record is missing.
func (s *Service) stage(ctx context.Context, rec model.StagingRecord) {
	if s.staging == nil {
		return
	}
	if err := s.staging.Put(ctx, rec); err != nil {
		s.logger.Warn("write staging record failed",
			zap.String("operation_id", rec.OperationID),
			zap.String("session_ref", rec.SessionRef),
			zap.Error(err),
		)
	}
}

func (s *Service) unstage(ctx context.Context, sessionRef string) {
	if s.staging == nil || strings.TrimSpace(sessionRef) == "" {
		return
	}
	if err := s.staging.Delete(ctx, sessionRef); err != nil {
		s.logger.Warn("clear staging record failed", zap.String("session_ref", sessionRef), zap.Error(err))
	}
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return unlock, nil
}

func (s *Service) record(ctx context.Context, eventType string, actorID int64, kind, id string, props map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, model.AuditEvent{
		Type:       eventType,
		ActorID:    actorID,
		EntityKind: kind,
		EntityID:   id,
		Props:      props,
	})
}

func normalizePlan(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func purchaseLockKey(purchaseID int64) string {
	return "purchase:" + formatID(purchaseID)
}

func subscriptionLockKey(userID int64) string {
	return "subscription:" + formatID(userID)
}

func isStagingMiss(err error) bool {
	return errors.Is(err, redrepo.ErrStagingNotFound)
}
