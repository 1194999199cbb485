package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
	"github.com/funnytutor6/tutorconnect/internal/domain/rules"
	pgrepo "github.com/funnytutor6/tutorconnect/internal/repo/postgres"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrResourceNotFound = errors.New("resource not found")
	ErrNotEntitled      = errors.New("viewer is not entitled to this contact")
)

type SubscriptionReader interface {
	Get(ctx context.Context, tx pgx.Tx, userID int64) (*model.Subscription, error)
}

type PurchaseReader interface {
	HasConfirmed(ctx context.Context, tx pgx.Tx, buyerID, resourceID int64) (bool, error)
}

type ResourceReader interface {
	Get(ctx context.Context, resourceID int64) (model.Resource, error)
}

type ContactReader interface {
	GetContact(ctx context.Context, userID int64) (model.Contact, error)
}

type Dependencies struct {
	Subscriptions SubscriptionReader
	Purchases     PurchaseReader
	Resources     ResourceReader
	Contacts      ContactReader
}

// Service answers disclosure questions. It never writes.
type Service struct {
	subs      SubscriptionReader
	purchases PurchaseReader
	resources ResourceReader
	contacts  ContactReader
	now       func() time.Time
}

type Disclosure struct {
	ResourceID int64          `json:"resource_id"`
	Decision   model.Decision `json:"decision"`
	Contact    *model.Contact `json:"contact,omitempty"`
}

func NewService(deps Dependencies) *Service {
	return &Service{
		subs:      deps.Subscriptions,
		purchases: deps.Purchases,
		resources: deps.Resources,
		contacts:  deps.Contacts,
		now:       time.Now,
	}
}

func (s *Service) Resolve(ctx context.Context, viewerID, resourceID int64, now time.Time) (model.Decision, error) {
	return s.ResolveTx(ctx, nil, viewerID, resourceID, now)
}

// ResolveTx evaluates the same precedence as Resolve with reads bound to tx,
// so a caller can decide and write in one critical section.
func (s *Service) ResolveTx(ctx context.Context, tx pgx.Tx, viewerID, resourceID int64, now time.Time) (model.Decision, error) {
	if viewerID <= 0 || resourceID <= 0 {
		return model.Denied(), ErrValidation
	}
	if s.subs == nil || s.purchases == nil {
		return model.Denied(), fmt.Errorf("entitlement stores are not configured")
	}

	sub, err := s.subs.Get(ctx, tx, viewerID)
	if err != nil {
		return model.Denied(), fmt.Errorf("read subscription: %w", err)
	}
	if rules.IsEntitling(sub, now) {
		return model.Decision{Granted: true, Reason: enums.GrantReasonSubscriptionEntitlement}, nil
	}

	confirmed, err := s.purchases.HasConfirmed(ctx, tx, viewerID, resourceID)
	if err != nil {
		return model.Denied(), fmt.Errorf("read purchases: %w", err)
	}
	if confirmed {
		return model.Decision{Granted: true, Reason: enums.GrantReasonDirectPurchase}, nil
	}

	return model.Denied(), nil
}

func (s *Service) GetDisclosure(ctx context.Context, viewerID, resourceID int64) (model.Decision, error) {
	if _, err := s.resource(ctx, resourceID); err != nil {
		return model.Denied(), err
	}
	return s.Resolve(ctx, viewerID, resourceID, s.now().UTC())
}

// Reveal returns the resource owner's contact when the viewer is entitled.
// Owners always see their own contact.
func (s *Service) Reveal(ctx context.Context, viewerID, resourceID int64) (Disclosure, error) {
	if s.contacts == nil {
		return Disclosure{}, fmt.Errorf("contact reader is nil")
	}
	res, err := s.resource(ctx, resourceID)
	if err != nil {
		return Disclosure{}, err
	}

	decision := model.Denied()
	if viewerID != res.OwnerID {
		decision, err = s.Resolve(ctx, viewerID, resourceID, s.now().UTC())
		if err != nil {
			return Disclosure{}, err
		}
		if !decision.Granted {
			return Disclosure{ResourceID: resourceID, Decision: decision}, ErrNotEntitled
		}
	}

	contact, err := s.contacts.GetContact(ctx, res.OwnerID)
	if err != nil {
		return Disclosure{}, fmt.Errorf("read owner contact: %w", err)
	}
	return Disclosure{ResourceID: resourceID, Decision: decision, Contact: &contact}, nil
}

func (s *Service) resource(ctx context.Context, resourceID int64) (model.Resource, error) {
	if resourceID <= 0 {
		return model.Resource{}, ErrValidation
	}
	if s.resources == nil {
		return model.Resource{}, fmt.Errorf("resource reader is nil")
	}
	res, err := s.resources.Get(ctx, resourceID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrResourceNotFound) {
			return model.Resource{}, ErrResourceNotFound
		}
		return model.Resource{}, err
	}
	return res, nil
}
