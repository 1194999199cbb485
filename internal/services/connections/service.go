package connections

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
	"github.com/funnytutor6/tutorconnect/internal/pkg/keylock"
	pgrepo "github.com/funnytutor6/tutorconnect/internal/repo/postgres"
	"github.com/funnytutor6/tutorconnect/internal/services/audit"
)

const maxMessageLen = 2000

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("connection request not found")
	ErrResourceNotFound    = errors.New("resource not found")
	ErrForbidden           = errors.New("forbidden")
	ErrDuplicateRequest    = errors.New("connection request already exists")
	ErrEntitlementConflict = errors.New("connection request changed concurrently")
	ErrContactLocked       = errors.New("contact is locked until the request is purchased")
)

type RequestStore interface {
	Create(ctx context.Context, requesterID, providerID, resourceID int64, message string) (model.ConnectionRequest, error)
	FindByID(ctx context.Context, tx pgx.Tx, requestID int64) (model.ConnectionRequest, error)
	Grant(ctx context.Context, tx pgx.Tx, requestID int64, reason enums.GrantReason, at time.Time) (model.ConnectionRequest, bool, error)
	Reject(ctx context.Context, tx pgx.Tx, requestID int64, at time.Time) (model.ConnectionRequest, bool, error)
}

type Resolver interface {
	ResolveTx(ctx context.Context, tx pgx.Tx, viewerID, resourceID int64, now time.Time) (model.Decision, error)
}

type ResourceReader interface {
	Get(ctx context.Context, resourceID int64) (model.Resource, error)
}

type ContactReader interface {
	GetContact(ctx context.Context, userID int64) (model.Contact, error)
}

type TextChecker interface {
	Check(fields ...model.FreeTextField) error
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

type Dependencies struct {
	Requests  RequestStore
	Resolver  Resolver
	Resources ResourceReader
	Contacts  ContactReader
	Checker   TextChecker
	Tx        Transactor
	Locker    Locker
	Logger    *zap.Logger
}

type Service struct {
	requests  RequestStore
	resolver  Resolver
	resources ResourceReader
	contacts  ContactReader
	checker   TextChecker
	tx        Transactor
	locker    Locker
	audit     Auditor
	logger    *zap.Logger
	now       func() time.Time
}

type SubmitInput struct {
	RequesterID int64
	ProviderID  int64
	ResourceID  int64
	Message     string
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
	return &Service{
		requests:  deps.Requests,
		resolver:  deps.Resolver,
		resources: deps.Resources,
		contacts:  deps.Contacts,
		checker:   deps.Checker,
		tx:        deps.Tx,
		locker:    locker,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) AttachAuditor(auditor Auditor) {
	s.audit = auditor
}

// Submit creates a pending request and immediately evaluates it for the
// requester, so an already-entitled requester gets a purchased request back.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (model.ConnectionRequest, error) {
	if err := s.ready(); err != nil {
		return model.ConnectionRequest{}, err
	}
	if in.RequesterID <= 0 || in.ProviderID <= 0 || in.ResourceID <= 0 || in.RequesterID == in.ProviderID {
		return model.ConnectionRequest{}, ErrValidation
	}
	in.Message = strings.TrimSpace(in.Message)
	if len([]rune(in.Message)) > maxMessageLen {
		return model.ConnectionRequest{}, ErrValidation
	}
	if s.checker != nil {
		if err := s.checker.Check(model.FreeTextField{Name: "message", Value: in.Message}); err != nil {
			return model.ConnectionRequest{}, err
		}
	}

	if s.resources != nil {
		res, err := s.resources.Get(ctx, in.ResourceID)
		if err != nil {
			if errors.Is(err, pgrepo.ErrResourceNotFound) {
				return model.ConnectionRequest{}, ErrResourceNotFound
			}
			return model.ConnectionRequest{}, fmt.Errorf("load resource: %w", err)
		}
		if res.OwnerID != in.ProviderID && res.OwnerID != in.RequesterID {
			return model.ConnectionRequest{}, ErrValidation
		}
	}

	created, err := s.requests.Create(ctx, in.RequesterID, in.ProviderID, in.ResourceID, in.Message)
	if err != nil {
		if errors.Is(err, pgrepo.ErrConnectionRequestExists) {
			return model.ConnectionRequest{}, ErrDuplicateRequest
		}
		return model.ConnectionRequest{}, fmt.Errorf("create connection request: %w", err)
	}
	s.record(ctx, audit.EventConnectionRequested, in.RequesterID, created, nil)

	evaluated, err := s.EvaluateForViewer(ctx, created.ID, in.RequesterID)
	if err != nil {
		// The request exists either way; a failed evaluation is retried by the
		// next explicit evaluate call.
		s.logger.Warn("evaluate new connection request failed",
			zap.Int64("request_id", created.ID),
			zap.Error(err),
		)
		return created, nil
	}
	return evaluated, nil
}

func (s *Service) EvaluateForViewer(ctx context.Context, requestID, viewerID int64) (model.ConnectionRequest, error) {
	if err := s.ready(); err != nil {
		return model.ConnectionRequest{}, err
	}

	var (
		result  model.ConnectionRequest
		granted bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		result, granted, err = s.EvaluateInTx(ctx, tx, requestID, viewerID)
		return err
	})
	if err != nil {
		return result, err
	}
	if granted {
		s.RecordGrant(ctx, viewerID, result)
	}
	return result, nil
}

// EvaluateInTx runs the read-decide-write sequence inside the caller's
// transaction. The bool result is true only for the call that performed the
// pending to purchased transition.
func (s *Service) EvaluateInTx(ctx context.Context, tx pgx.Tx, requestID, viewerID int64) (model.ConnectionRequest, bool, error) {
	if requestID <= 0 || viewerID <= 0 {
		return model.ConnectionRequest{}, false, ErrValidation
	}
	if s.resolver == nil {
		return model.ConnectionRequest{}, false, fmt.Errorf("entitlement resolver is nil")
	}

	unlock, err := s.lock(ctx, requestID)
	if err != nil {
		return model.ConnectionRequest{}, false, err
	}
	defer unlock()

	req, err := s.find(ctx, tx, requestID)
	if err != nil {
		return model.ConnectionRequest{}, false, err
	}
	if !req.IsParticipant(viewerID) {
		return model.ConnectionRequest{}, false, ErrForbidden
	}
	if req.Status != enums.ConnectionStatusPending {
		return req, false, nil
	}

	now := s.now().UTC()
	decision, err := s.resolver.ResolveTx(ctx, tx, viewerID, req.ResourceID, now)
	if err != nil {
		return model.ConnectionRequest{}, false, fmt.Errorf("resolve entitlement: %w", err)
	}
	if !decision.Granted {
		return req, false, nil
	}

	updated, changed, err := s.requests.Grant(ctx, tx, req.ID, decision.Reason, now)
	if err != nil {
		return model.ConnectionRequest{}, false, fmt.Errorf("grant connection request: %w", err)
	}
	if !changed {
		if updated.Status == enums.ConnectionStatusPurchased {
			return updated, false, nil
		}
		return updated, false, ErrEntitlementConflict
	}

	return updated, true, nil
}

// Reject is allowed to the provider, or to the requester withdrawing.
func (s *Service) Reject(ctx context.Context, requestID, actorID int64) (model.ConnectionRequest, error) {
	if err := s.ready(); err != nil {
		return model.ConnectionRequest{}, err
	}
	if requestID <= 0 || actorID <= 0 {
		return model.ConnectionRequest{}, ErrValidation
	}

	unlock, err := s.lock(ctx, requestID)
	if err != nil {
		return model.ConnectionRequest{}, err
	}
	defer unlock()

	req, err := s.find(ctx, nil, requestID)
	if err != nil {
		return model.ConnectionRequest{}, err
	}
	if !req.IsParticipant(actorID) {
		return model.ConnectionRequest{}, ErrForbidden
	}

	updated, changed, err := s.requests.Reject(ctx, nil, requestID, s.now().UTC())
	if err != nil {
		return model.ConnectionRequest{}, fmt.Errorf("reject connection request: %w", err)
	}
	if !changed {
		if updated.Status == enums.ConnectionStatusRejected {
			return updated, nil
		}
		return updated, ErrEntitlementConflict
	}

	s.record(ctx, audit.EventConnectionRejected, actorID, updated, nil)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, requestID, viewerID int64) (model.ConnectionRequest, error) {
	if err := s.ready(); err != nil {
		return model.ConnectionRequest{}, err
	}
	if requestID <= 0 || viewerID <= 0 {
		return model.ConnectionRequest{}, ErrValidation
	}
	req, err := s.find(ctx, nil, requestID)
	if err != nil {
		return model.ConnectionRequest{}, err
	}
	if !req.IsParticipant(viewerID) {
		return model.ConnectionRequest{}, ErrForbidden
	}
	return req, nil
}

// Contact returns the counterparty's contact only for purchased requests.
// Entitlement alone never unlocks a pending request here.
func (s *Service) Contact(ctx context.Context, requestID, viewerID int64) (model.Contact, error) {
	if s.contacts == nil {
		return model.Contact{}, fmt.Errorf("contact reader is nil")
	}
	req, err := s.Get(ctx, requestID, viewerID)
	if err != nil {
		return model.Contact{}, err
	}
	if req.Status != enums.ConnectionStatusPurchased {
		return model.Contact{}, ErrContactLocked
	}

	contact, err := s.contacts.GetContact(ctx, req.Counterparty(viewerID))
	if err != nil {
		return model.Contact{}, fmt.Errorf("read counterparty contact: %w", err)
	}
	return contact, nil
}

func (s *Service) RecordGrant(ctx context.Context, actorID int64, req model.ConnectionRequest) {
	s.record(ctx, audit.EventConnectionGranted, actorID, req, map[string]any{
		"grant_reason": string(req.GrantReason),
	})
}

func (s *Service) find(ctx context.Context, tx pgx.Tx, requestID int64) (model.ConnectionRequest, error) {
	req, err := s.requests.FindByID(ctx, tx, requestID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrConnectionRequestNotFound) {
			return model.ConnectionRequest{}, ErrNotFound
		}
		return model.ConnectionRequest{}, fmt.Errorf("load connection request: %w", err)
	}
	return req, nil
}

func (s *Service) lock(ctx context.Context, requestID int64) (func(), error) {
	unlock, err := s.locker.Lock(ctx, LockKey(requestID))
	if err != nil {
		return nil, fmt.Errorf("lock connection request: %w", err)
	}
	return unlock, nil
}

func (s *Service) ready() error {
	if s.requests == nil {
		return fmt.Errorf("connection request store is nil")
	}
	if s.tx == nil {
		return fmt.Errorf("transactor is nil")
	}
	return nil
}

func (s *Service) record(ctx context.Context, eventType string, actorID int64, req model.ConnectionRequest, props map[string]any) {
	if s.audit == nil {
		return
	}
	if props == nil {
		props = make(map[string]any, 2)
	}
	props["resource_id"] = req.ResourceID
	props["status"] = string(req.Status)
	s.audit.Record(ctx, model.AuditEvent{
		Type:       eventType,
		ActorID:    actorID,
		EntityKind: "connection_request",
		EntityID:   strconv.FormatInt(req.ID, 10),
		Props:      props,
	})
}

func LockKey(requestID int64) string {
	return "connection:" + strconv.FormatInt(requestID, 10)
}
