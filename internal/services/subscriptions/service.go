package subscriptions

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
	"github.com/funnytutor6/tutorconnect/internal/domain/rules"
	"github.com/funnytutor6/tutorconnect/internal/pkg/keylock"
	pgrepo "github.com/funnytutor6/tutorconnect/internal/repo/postgres"
	"github.com/funnytutor6/tutorconnect/internal/services/audit"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("subscription not found")
	ErrNotActive  = errors.New("subscription is not active")
)

type Store interface {
	Get(ctx context.Context, tx pgx.Tx, userID int64) (*model.Subscription, error)
	ApplyState(ctx context.Context, tx pgx.Tx, state pgrepo.SubscriptionState) (model.Subscription, bool, error)
	SetCancelAtPeriodEnd(ctx context.Context, userID int64, cancel bool) (model.Subscription, error)
	UserIDByExternalID(ctx context.Context, externalID string) (int64, error)
}

type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type Auditor interface {
	Record(ctx context.Context, event model.AuditEvent)
}

type Dependencies struct {
	Store  Store
	Locker Locker
	Logger *zap.Logger
}

type Service struct {
	store  Store
	locker Locker
	audit  Auditor
	logger *zap.Logger
	now    func() time.Time
}

// Event is one lifecycle notification from the payment processor. Either
// UserID or a previously seen ExternalID identifies the subscriber.
type Event struct {
	UserID            int64      `json:"user_id"`
	ExternalID        string     `json:"external_id"`
	Plan              string     `json:"plan"`
	Status            string     `json:"status"`
	PeriodStart       *time.Time `json:"current_period_start"`
	PeriodEnd         *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	EventAt           time.Time  `json:"event_at"`
}

type View struct {
	Subscription *model.Subscription `json:"subscription"`
	Entitling    bool                `json:"entitling"`
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
		store:  deps.Store,
		locker: locker,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) AttachAuditor(auditor Auditor) {
	s.audit = auditor
}

func (s *Service) Get(ctx context.Context, userID int64) (View, error) {
	if userID <= 0 {
		return View{}, ErrValidation
	}
	if s.store == nil {
		return View{}, fmt.Errorf("subscription store is nil")
	}
	sub, err := s.store.Get(ctx, nil, userID)
	if err != nil {
		return View{}, fmt.Errorf("get subscription: %w", err)
	}
	return View{Subscription: sub, Entitling: rules.IsEntitling(sub, s.now().UTC())}, nil
}

// ApplyEvent stores the snapshot carried by a lifecycle event. Replays and
// events older than the last applied one are accepted without a write.
func (s *Service) ApplyEvent(ctx context.Context, ev Event) (model.Subscription, bool, error) {
	if s.store == nil {
		return model.Subscription{}, false, fmt.Errorf("subscription store is nil")
	}
	status, ok := enums.ParseSubscriptionStatus(strings.ToLower(strings.TrimSpace(ev.Status)))
	if !ok || ev.EventAt.IsZero() {
		return model.Subscription{}, false, ErrValidation
	}
	ev.ExternalID = strings.TrimSpace(ev.ExternalID)

	userID := ev.UserID
	if userID <= 0 {
		if ev.ExternalID == "" {
			return model.Subscription{}, false, ErrValidation
		}
		found, err := s.store.UserIDByExternalID(ctx, ev.ExternalID)
		if err != nil {
			if errors.Is(err, pgrepo.ErrSubscriptionNotFound) {
				return model.Subscription{}, false, ErrNotFound
			}
			return model.Subscription{}, false, fmt.Errorf("find subscriber: %w", err)
		}
		userID = found
	}

	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return model.Subscription{}, false, err
	}
	defer unlock()

	sub, changed, err := s.store.ApplyState(ctx, nil, pgrepo.SubscriptionState{
		UserID:             userID,
		ExternalID:         ev.ExternalID,
		Plan:               strings.ToLower(strings.TrimSpace(ev.Plan)),
		Status:             status,
		CurrentPeriodStart: ev.PeriodStart,
		CurrentPeriodEnd:   ev.PeriodEnd,
		CancelAtPeriodEnd:  ev.CancelAtPeriodEnd,
		EventAt:            ev.EventAt.UTC(),
	})
	if err != nil {
		return model.Subscription{}, false, fmt.Errorf("apply subscription event: %w", err)
	}
	if !changed {
		s.logger.Debug("subscription event ignored",
			zap.Int64("user_id", userID),
			zap.String("external_id", ev.ExternalID),
			zap.Time("event_at", ev.EventAt),
		)
		return sub, false, nil
	}

	s.record(ctx, userID, map[string]any{
		"status":      string(status),
		"external_id": ev.ExternalID,
		"event_at":    ev.EventAt.UTC(),
	})
	return sub, true, nil
}

// Cancel keeps the subscription entitling until the current period ends.
func (s *Service) Cancel(ctx context.Context, userID int64) (model.Subscription, error) {
	return s.setCancel(ctx, userID, true)
}

// Reactivate undoes a pending cancellation. It is only possible while the
// subscription still entitles.
func (s *Service) Reactivate(ctx context.Context, userID int64) (model.Subscription, error) {
	return s.setCancel(ctx, userID, false)
}

func (s *Service) setCancel(ctx context.Context, userID int64, cancel bool) (model.Subscription, error) {
	if userID <= 0 {
		return model.Subscription{}, ErrValidation
	}
	if s.store == nil {
		return model.Subscription{}, fmt.Errorf("subscription store is nil")
	}

	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return model.Subscription{}, err
	}
	defer unlock()

	current, err := s.store.Get(ctx, nil, userID)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	if current == nil {
		return model.Subscription{}, ErrNotFound
	}
	if current.Status == nil || !rules.IsEntitling(current, s.now().UTC()) {
		return model.Subscription{}, ErrNotActive
	}
	if current.CancelAtPeriodEnd == cancel {
		return *current, nil
	}

	updated, err := s.store.SetCancelAtPeriodEnd(ctx, userID, cancel)
	if err != nil {
		if errors.Is(err, pgrepo.ErrSubscriptionNotFound) {
			return model.Subscription{}, ErrNotFound
		}
		return model.Subscription{}, fmt.Errorf("set cancel at period end: %w", err)
	}
	s.record(ctx, userID, map[string]any{"cancel_at_period_end": cancel})
	return updated, nil
}

func (s *Service) lock(ctx context.Context, userID int64) (func(), error) {
	key := LockKey(userID)
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return unlock, nil
}

func (s *Service) record(ctx context.Context, userID int64, props map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, model.AuditEvent{
		Type:       audit.EventSubscriptionApplied,
		ActorID:    userID,
		EntityKind: "subscription",
		EntityID:   strconv.FormatInt(userID, 10),
		Props:      props,
	})
}

// LockKey is shared with checkout activation so both paths serialize per user.
func LockKey(userID int64) string {
	return "subscription:" + strconv.FormatInt(userID, 10)
}
