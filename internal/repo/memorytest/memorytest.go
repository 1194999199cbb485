// Package memorytest holds map-backed stores with the same contracts and
// sentinel errors as the postgres repos. Only tests import it.
package memorytest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
	pgrepo "github.com/funnytutor6/tutorconnect/internal/repo/postgres"
)

// Tx runs fn without a real transaction. Writes are not rolled back.
type Tx struct{}

func (Tx) InTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}

type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

type Purchases struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]model.Purchase
	Now    func() time.Time
}

func NewPurchases() *Purchases {
	return &Purchases{nextID: 1, items: make(map[int64]model.Purchase)}
}

func (s *Purchases) CreatePending(_ context.Context, buyerID, resourceID int64, requestID *int64, amount int64) (model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := clock(s.Now).now()
	p := model.Purchase{
		ID:         s.nextID,
		BuyerID:    buyerID,
		ResourceID: resourceID,
		RequestID:  requestID,
		Amount:     amount,
		Status:     enums.PurchaseStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.items[p.ID] = p
	s.nextID++
	return p, nil
}

func (s *Purchases) AttachSession(_ context.Context, purchaseID int64, sessionRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.items {
		if id != purchaseID && p.ExternalSessionID != nil && *p.ExternalSessionID == sessionRef {
			return pgrepo.ErrSessionConflict
		}
	}
	p, ok := s.items[purchaseID]
	if !ok || p.Status != enums.PurchaseStatusPending || p.ExternalSessionID != nil {
		return pgrepo.ErrPurchaseNotFound
	}
	ref := sessionRef
	p.ExternalSessionID = &ref
	s.items[purchaseID] = p
	return nil
}

func (s *Purchases) FindByID(_ context.Context, _ pgx.Tx, purchaseID int64) (model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[purchaseID]
	if !ok {
		return model.Purchase{}, pgrepo.ErrPurchaseNotFound
	}
	return p, nil
}

func (s *Purchases) FindBySession(_ context.Context, sessionRef string) (model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.items {
		if p.ExternalSessionID != nil && *p.ExternalSessionID == sessionRef {
			return p, nil
		}
	}
	return model.Purchase{}, pgrepo.ErrPurchaseNotFound
}

func (s *Purchases) HasConfirmed(_ context.Context, _ pgx.Tx, buyerID, resourceID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.items {
		if p.BuyerID == buyerID && p.ResourceID == resourceID && p.Status == enums.PurchaseStatusConfirmed {
			return true, nil
		}
	}
	return false, nil
}

func (s *Purchases) MarkConfirmed(_ context.Context, _ pgx.Tx, purchaseID int64, sessionRef string) (model.Purchase, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[purchaseID]
	if !ok {
		return model.Purchase{}, false, pgrepo.ErrPurchaseNotFound
	}
	if p.Status == enums.PurchaseStatusConfirmed {
		return p, false, nil
	}
	for id, other := range s.items {
		if id != purchaseID && other.BuyerID == p.BuyerID && other.ResourceID == p.ResourceID && other.Status == enums.PurchaseStatusConfirmed {
			return model.Purchase{}, false, pgrepo.ErrPairAlreadyConfirmed
		}
	}

	now := clock(s.Now).now()
	if p.ExternalSessionID == nil && strings.TrimSpace(sessionRef) != "" {
		ref := strings.TrimSpace(sessionRef)
		p.ExternalSessionID = &ref
	}
	p.Status = enums.PurchaseStatusConfirmed
	p.FailureReason = ""
	p.ConfirmedAt = &now
	p.UpdatedAt = now
	s.items[purchaseID] = p
	return p, true, nil
}

func (s *Purchases) MarkFailed(_ context.Context, purchaseID int64, reason string) (model.Purchase, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[purchaseID]
	if !ok {
		return model.Purchase{}, false, pgrepo.ErrPurchaseNotFound
	}
	reason = strings.TrimSpace(reason)
	if p.Status != enums.PurchaseStatusPending && !(p.Status == enums.PurchaseStatusFailed && undecided(p.FailureReason) && reason == pgrepo.FailureReasonPaymentFailed) {
		return p, false, nil
	}
	p.Status = enums.PurchaseStatusFailed
	p.FailureReason = reason
	p.UpdatedAt = clock(s.Now).now()
	s.items[purchaseID] = p
	return p, true, nil
}

func (s *Purchases) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Purchase, error) {
	return s.ListStalePendingForBuyer(ctx, 0, cutoff, limit)
}

// ListStalePendingForBuyer treats buyerID 0 as any buyer.
func (s *Purchases) ListStalePendingForBuyer(_ context.Context, buyerID int64, cutoff time.Time, limit int) ([]model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Purchase, 0)
	for _, p := range s.items {
		if p.Status != enums.PurchaseStatusPending || !p.CreatedAt.Before(cutoff) {
			continue
		}
		if buyerID > 0 && p.BuyerID != buyerID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Purchases) ListUndecided(ctx context.Context, since time.Time, limit int) ([]model.Purchase, error) {
	return s.ListUndecidedForBuyer(ctx, 0, since, limit)
}

// ListUndecidedForBuyer treats buyerID 0 as any buyer.
func (s *Purchases) ListUndecidedForBuyer(_ context.Context, buyerID int64, since time.Time, limit int) ([]model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Purchase, 0)
	for _, p := range s.items {
		if p.Status != enums.PurchaseStatusFailed || !undecided(p.FailureReason) || p.ExternalSessionID == nil {
			continue
		}
		if p.CreatedAt.Before(since) || (buyerID > 0 && p.BuyerID != buyerID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func undecided(reason string) bool {
	return reason == pgrepo.FailureReasonUnknown || reason == pgrepo.FailureReasonStale
}

// All returns a snapshot ordered by id.
func (s *Purchases) All() []model.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Purchase, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Backdate moves a purchase's creation time, for staleness scenarios.
func (s *Purchases) Backdate(purchaseID int64, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.items[purchaseID]; ok {
		p.CreatedAt = createdAt
		s.items[purchaseID] = p
	}
}

type Subscriptions struct {
	mu    sync.Mutex
	items map[int64]model.Subscription
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{items: make(map[int64]model.Subscription)}
}

func (s *Subscriptions) Put(sub model.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[sub.UserID] = sub
}

func (s *Subscriptions) Get(_ context.Context, _ pgx.Tx, userID int64) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.items[userID]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (s *Subscriptions) UserIDByExternalID(_ context.Context, externalID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID, sub := range s.items {
		if externalID != "" && sub.ExternalID == externalID {
			return userID, nil
		}
	}
	return 0, pgrepo.ErrSubscriptionNotFound
}

func (s *Subscriptions) MarkPending(_ context.Context, userID int64, plan, sessionRef string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.items[userID]
	if !ok {
		sub = model.Subscription{UserID: userID, Plan: plan}
	}
	ref := sessionRef
	since := at.UTC()
	sub.PendingSessionRef = &ref
	sub.PendingSince = &since
	s.items[userID] = sub
	return nil
}

func (s *Subscriptions) ApplyState(_ context.Context, _ pgx.Tx, state pgrepo.SubscriptionState) (model.Subscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.items[state.UserID]
	if exists && sub.LastEventAt != nil && !sub.LastEventAt.Before(state.EventAt) {
		return sub, false, nil
	}

	sub.UserID = state.UserID
	if state.ExternalID != "" {
		sub.ExternalID = state.ExternalID
	}
	if state.Plan != "" {
		sub.Plan = state.Plan
	}
	status := state.Status
	sub.Status = &status
	sub.CurrentPeriodStart = state.CurrentPeriodStart
	sub.CurrentPeriodEnd = state.CurrentPeriodEnd
	sub.CancelAtPeriodEnd = state.CancelAtPeriodEnd
	if state.SessionRef != "" && sub.PendingSessionRef != nil && *sub.PendingSessionRef == state.SessionRef {
		sub.PendingSessionRef = nil
		sub.PendingSince = nil
	}
	eventAt := state.EventAt.UTC()
	sub.LastEventAt = &eventAt
	s.items[state.UserID] = sub
	return sub, true, nil
}

func (s *Subscriptions) ClearPending(_ context.Context, userID int64, sessionRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.items[userID]
	if !ok || sub.PendingSessionRef == nil || *sub.PendingSessionRef != sessionRef {
		return false, nil
	}
	sub.PendingSessionRef = nil
	sub.PendingSince = nil
	s.items[userID] = sub
	return true, nil
}

func (s *Subscriptions) SetCancelAtPeriodEnd(_ context.Context, userID int64, cancel bool) (model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.items[userID]
	if !ok {
		return model.Subscription{}, pgrepo.ErrSubscriptionNotFound
	}
	sub.CancelAtPeriodEnd = cancel
	s.items[userID] = sub
	return sub, nil
}

func (s *Subscriptions) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Subscription, 0)
	for _, sub := range s.items {
		if sub.PendingSessionRef != nil && sub.PendingSince != nil && sub.PendingSince.Before(cutoff) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PendingSince.Before(*out[j].PendingSince) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type Requests struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]model.ConnectionRequest
	Now    func() time.Time

	// Grants counts successful pending to purchased writes.
	Grants int
}

func NewRequests() *Requests {
	return &Requests{nextID: 1, items: make(map[int64]model.ConnectionRequest)}
}

func (s *Requests) Create(_ context.Context, requesterID, providerID, resourceID int64, message string) (model.ConnectionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if existing.RequesterID == requesterID && existing.ResourceID == resourceID {
			return model.ConnectionRequest{}, pgrepo.ErrConnectionRequestExists
		}
	}
	req := model.ConnectionRequest{
		ID:          s.nextID,
		RequesterID: requesterID,
		ProviderID:  providerID,
		ResourceID:  resourceID,
		Status:      enums.ConnectionStatusPending,
		GrantReason: enums.GrantReasonNone,
		Message:     message,
		CreatedAt:   clock(s.Now).now(),
	}
	s.items[req.ID] = req
	s.nextID++
	return req, nil
}

func (s *Requests) FindByID(_ context.Context, _ pgx.Tx, requestID int64) (model.ConnectionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.items[requestID]
	if !ok {
		return model.ConnectionRequest{}, pgrepo.ErrConnectionRequestNotFound
	}
	return req, nil
}

func (s *Requests) Grant(_ context.Context, _ pgx.Tx, requestID int64, reason enums.GrantReason, at time.Time) (model.ConnectionRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.items[requestID]
	if !ok {
		return model.ConnectionRequest{}, false, pgrepo.ErrConnectionRequestNotFound
	}
	if req.Status != enums.ConnectionStatusPending {
		return req, false, nil
	}
	grantedAt := at.UTC()
	req.Status = enums.ConnectionStatusPurchased
	req.GrantReason = reason
	req.GrantedAt = &grantedAt
	s.items[requestID] = req
	s.Grants++
	return req, true, nil
}

func (s *Requests) Reject(_ context.Context, _ pgx.Tx, requestID int64, at time.Time) (model.ConnectionRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.items[requestID]
	if !ok {
		return model.ConnectionRequest{}, false, pgrepo.ErrConnectionRequestNotFound
	}
	if req.Status != enums.ConnectionStatusPending {
		return req, false, nil
	}
	rejectedAt := at.UTC()
	req.Status = enums.ConnectionStatusRejected
	req.RejectedAt = &rejectedAt
	s.items[requestID] = req
	return req, true, nil
}

func (s *Requests) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type Resources struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]model.Resource
}

func NewResources() *Resources {
	return &Resources{nextID: 1, items: make(map[int64]model.Resource)}
}

func (s *Resources) Get(_ context.Context, resourceID int64) (model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.items[resourceID]
	if !ok {
		return model.Resource{}, pgrepo.ErrResourceNotFound
	}
	return res, nil
}

func (s *Resources) Create(_ context.Context, res model.Resource) (model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res.ID = s.nextID
	s.nextID++
	res.CreatedAt = time.Now().UTC()
	res.UpdatedAt = res.CreatedAt
	s.items[res.ID] = res
	return res, nil
}

func (s *Resources) Update(_ context.Context, res model.Resource) (model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[res.ID]
	if !ok || existing.OwnerID != res.OwnerID {
		return model.Resource{}, pgrepo.ErrResourceNotFound
	}
	existing.Headline = res.Headline
	existing.Subject = res.Subject
	existing.Description = res.Description
	existing.UpdatedAt = time.Now().UTC()
	s.items[res.ID] = existing
	return existing, nil
}

type Users struct {
	mu    sync.Mutex
	items map[int64]model.User
}

func NewUsers() *Users {
	return &Users{items: make(map[int64]model.User)}
}

func (s *Users) Put(user model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[user.ID] = user
}

func (s *Users) Get(_ context.Context, userID int64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.items[userID]
	if !ok {
		return model.User{}, pgrepo.ErrUserNotFound
	}
	return user, nil
}

func (s *Users) GetContact(ctx context.Context, userID int64) (model.Contact, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return model.Contact{}, err
	}
	return user.Contact, nil
}
