package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
	"github.com/funnytutor6/tutorconnect/internal/pkg/keylock"
	"github.com/funnytutor6/tutorconnect/internal/repo/memorytest"
	redrepo "github.com/funnytutor6/tutorconnect/internal/repo/redis"
	"github.com/funnytutor6/tutorconnect/internal/services/connections"
	"github.com/funnytutor6/tutorconnect/internal/services/entitlements"
)

const (
	ownerID    = int64(1)
	buyerID    = int64(2)
	strangerID = int64(3)
)

type processorStub struct {
	mu        sync.Mutex
	next      int
	sessions  map[string]CheckoutRequest
	outcomes  map[string]enums.OutcomeStatus
	createErr error
	getErr    error
}

func newProcessorStub() *processorStub {
	return &processorStub{
		sessions: make(map[string]CheckoutRequest),
		outcomes: make(map[string]enums.OutcomeStatus),
	}
}

func (p *processorStub) CreateCheckout(_ context.Context, req CheckoutRequest) (Checkout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return Checkout{}, p.createErr
	}
	p.next++
	ref := fmt.Sprintf("cs_test_%d", p.next)
	p.sessions[ref] = req
	p.outcomes[ref] = enums.OutcomeStatusUnknown
	return Checkout{SessionRef: ref, RedirectURL: "https://pay.example/" + ref}, nil
}

func (p *processorStub) GetOutcome(_ context.Context, ref string) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return Outcome{}, p.getErr
	}
	req, ok := p.sessions[ref]
	if !ok {
		return Outcome{}, errors.New("no such session")
	}
	out := Outcome{Status: p.outcomes[ref], Metadata: req.Metadata}
	if req.Kind == enums.OperationKindSubscription && out.Status == enums.OutcomeStatusSuccess {
		start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0)
		out.Subscription = &SubscriptionSnapshot{
			ExternalID:  "sub_" + ref,
			Status:      enums.SubscriptionStatusActive,
			PeriodStart: &start,
			PeriodEnd:   &end,
		}
	}
	return out, nil
}

func (p *processorStub) set(ref string, status enums.OutcomeStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes[ref] = status
}

type fixture struct {
	svc         *Service
	processor   *processorStub
	purchases   *memorytest.Purchases
	subs        *memorytest.Subscriptions
	requests    *memorytest.Requests
	resolver    *entitlements.Service
	connections *connections.Service
	staging     *redrepo.StagingRepo
	mr          *miniredis.Miniredis
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	f := &fixture{
		processor: newProcessorStub(),
		purchases: memorytest.NewPurchases(),
		subs:      memorytest.NewSubscriptions(),
		requests:  memorytest.NewRequests(),
		staging:   redrepo.NewStagingRepo(client, time.Hour),
		mr:        mr,
		now:       time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.purchases.Now = clock

	resources := memorytest.NewResources()
	for i := 0; i < 2; i++ {
		if _, err := resources.Create(context.Background(), model.Resource{OwnerID: ownerID, OwnerRole: enums.RoleProvider, Kind: enums.ResourceKindOffer}); err != nil {
			t.Fatalf("seed resource: %v", err)
		}
	}
	users := memorytest.NewUsers()
	users.Put(model.User{ID: ownerID, Role: enums.RoleProvider, Contact: model.Contact{Email: "owner@example.com"}})
	users.Put(model.User{ID: buyerID, Role: enums.RoleRequester})

	locker := keylock.New()
	f.resolver = entitlements.NewService(entitlements.Dependencies{
		Subscriptions: f.subs,
		Purchases:     f.purchases,
		Resources:     resources,
		Contacts:      users,
	})
	f.connections = connections.NewService(connections.Dependencies{
		Requests:  f.requests,
		Resolver:  f.resolver,
		Resources: resources,
		Contacts:  users,
		Tx:        memorytest.Tx{},
		Locker:    locker,
	})
	f.svc = NewService(Dependencies{
		Purchases:     f.purchases,
		Subscriptions: f.subs,
		Staging:       f.staging,
		Processor:     f.processor,
		Resolver:      f.resolver,
		Resources:     resources,
		Requests:      f.connections,
		Tx:            memorytest.Tx{},
		Locker:        locker,
		Config: Config{
			DirectAccessAmount: 499,
			Plans:              map[string]int64{"Monthly": 1299},
			StaleAfter:         30 * time.Minute,
		},
	})
	f.svc.now = clock
	return f
}

func (f *fixture) startDirect(t *testing.T, resourceID int64, requestID *int64) StartResult {
	t.Helper()
	res, err := f.svc.Start(context.Background(), buyerID, Target{ResourceID: resourceID, RequestID: requestID})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.SessionRef == "" || res.RedirectURL == "" {
		t.Fatalf("expected checkout, got %+v", res)
	}
	return res
}

func (f *fixture) confirmedCount(resourceID int64) int {
	n := 0
	for _, p := range f.purchases.All() {
		if p.BuyerID == buyerID && p.ResourceID == resourceID && p.Status == enums.PurchaseStatusConfirmed {
			n++
		}
	}
	return n
}

func TestStartResumeRoundTripGrantsDirectPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := f.startDirect(t, 1, nil)
	if started.Kind != enums.OperationKindDirectPurchase || started.PurchaseID == 0 {
		t.Fatalf("unexpected start result %+v", started)
	}
	if _, err := f.staging.Get(ctx, started.SessionRef); err != nil {
		t.Fatalf("expected staging record: %v", err)
	}
	if req := f.processor.sessions[started.SessionRef]; req.Amount != 499 || req.Metadata[MetaPurchaseID] == "" {
		t.Fatalf("unexpected checkout request %+v", req)
	}

	f.processor.set(started.SessionRef, enums.OutcomeStatusSuccess)
	resumed, err := f.svc.Resume(ctx, buyerID, started.SessionRef)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Outcome.Status != enums.PurchaseStatusConfirmed || resumed.Outcome.Idempotent {
		t.Fatalf("unexpected outcome %+v", resumed.Outcome)
	}

	decision, err := f.resolver.GetDisclosure(ctx, buyerID, 1)
	if err != nil {
		t.Fatalf("get disclosure: %v", err)
	}
	if !decision.Granted || decision.Reason != enums.GrantReasonDirectPurchase {
		t.Fatalf("expected direct purchase grant, got %+v", decision)
	}
	if _, err := f.staging.Get(ctx, started.SessionRef); !errors.Is(err, redrepo.ErrStagingNotFound) {
		t.Fatalf("expected staging cleared, got %v", err)
	}
}

func TestResumeTwiceConfirmsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := f.startDirect(t, 1, nil)
	f.processor.set(started.SessionRef, enums.OutcomeStatusSuccess)

	if _, err := f.svc.Resume(ctx, buyerID, started.SessionRef); err != nil {
		t.Fatalf("first resume: %v", err)
	}
	second, err := f.svc.Resume(ctx, buyerID, started.SessionRef)
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}
	if !second.Outcome.Idempotent || second.Outcome.Status != enums.PurchaseStatusConfirmed {
		t.Fatalf("second resume must be an idempotent confirm, got %+v", second.Outcome)
	}
	if n := f.confirmedCount(1); n != 1 {
		t.Fatalf("expected one confirmed purchase, got %d", n)
	}
}

func TestResumeAdvancesStagedRequestInSameStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.connections.Submit(ctx, connections.SubmitInput{RequesterID: buyerID, ProviderID: ownerID, ResourceID: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Status != enums.ConnectionStatusPending {
		t.Fatalf("expected pending request, got %s", req.Status)
	}

	requestID := req.ID
	started := f.startDirect(t, 1, &requestID)
	f.processor.set(started.SessionRef, enums.OutcomeStatusSuccess)

	resumed, err := f.svc.Resume(ctx, buyerID, started.SessionRef)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.UpdatedRequest == nil {
		t.Fatalf("expected updated request")
	}
	if resumed.UpdatedRequest.Status != enums.ConnectionStatusPurchased || resumed.UpdatedRequest.GrantReason != enums.GrantReasonDirectPurchase {
		t.Fatalf("unexpected request %+v", resumed.UpdatedRequest)
	}
	if f.requests.Grants != 1 {
		t.Fatalf("expected one grant, got %d", f.requests.Grants)
	}
}

func TestResumeWithoutStagingRecordUsesProcessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := f.startDirect(t, 1, nil)
	f.mr.FlushAll()
	f.processor.set(started.SessionRef, enums.OutcomeStatusSuccess)

	resumed, err := f.svc.Resume(ctx, buyerID, started.SessionRef)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Outcome.Status != enums.PurchaseStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", resumed.Outcome.Status)
	}
}

func TestResumeFailureMarksPurchaseFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := f.startDirect(t, 1, nil)
	f.processor.set(started.SessionRef, enums.OutcomeStatusFailure)

	resumed, err := f.svc.Resume(ctx, buyerID, started.SessionRef)
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed, got %v", err)
	}
	if resumed.Outcome.Purchase == nil || resumed.Outcome.Purchase.Status != enums.PurchaseStatusFailed {
		t.Fatalf("expected failed purchase, got %+v", resumed.Outcome)
	}
	if _, err := f.staging.Get(ctx, started.SessionRef); !errors.Is(err, redrepo.ErrStagingNotFound) {
		t.Fatalf("expected staging cleared, got %v", err)
	}

	decision, _ := f.resolver.Resolve(ctx, buyerID, 1, f.now)
	if decision.Granted {
		t.Fatalf("failed payment must not grant")
	}
}

func TestResumeUnknownAndStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fresh := f.startDirect(t, 1, nil)
	if _, err := f.svc.Resume(ctx, buyerID, fresh.SessionRef); !errors.Is(err, ErrPaymentUnknown) {
		t.Fatalf("expected ErrPaymentUnknown, got %v", err)
	}

	old := f.startDirect(t, 2, nil)
	f.now = f.now.Add(2 * time.Hour)
	resumed, err := f.svc.Resume(ctx, buyerID, old.SessionRef)
	if !errors.Is(err, ErrStaleOperation) {
		t.Fatalf("expected ErrStaleOperation, got %v", err)
	}
	if resumed.Outcome.Purchase == nil || resumed.Outcome.Purchase.FailureReason != reasonStale {
		t.Fatalf("expected stale failure reason, got %+v", resumed.Outcome.Purchase)
	}
}

func TestLateSuccessAfterFailureStillConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := f.startDirect(t, 1, nil)
	if _, err := f.svc.Resume(ctx, buyerID, started.SessionRef); !errors.Is(err, ErrPaymentUnknown) {
		t.Fatalf("expected ErrPaymentUnknown, got %v", err)
	}

	f.processor.set(started.SessionRef, enums.OutcomeStatusSuccess)
	resumed, err := f.svc.Resume(ctx, buyerID, started.SessionRef)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Outcome.Status != enums.PurchaseStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", resumed.Outcome.Status)
	}

	// A negative read afterwards never reverts the confirmation.
	f.processor.set(started.SessionRef, enums.OutcomeStatusFailure)
	again, err := f.svc.Resume(ctx, buyerID, started.SessionRef)
	if err != nil {
		t.Fatalf("resume after confirm: %v", err)
	}
	if again.Outcome.Status != enums.PurchaseStatusConfirmed {
		t.Fatalf("confirmed purchase reverted to %s", again.Outcome.Status)
	}
}

func TestResumeForbiddenForOtherViewer(t *testing.T) {
	f := newFixture(t)
	started := f.startDirect(t, 1, nil)

	if _, err := f.svc.Resume(context.Background(), strangerID, started.SessionRef); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Resume(context.Background(), buyerID, "cs_missing"); !errors.Is(err, ErrOperationNotFound) {
		t.Fatalf("expected ErrOperationNotFound, got %v", err)
	}
}

func TestSecondPaidCheckoutForSamePairIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.startDirect(t, 1, nil)
	second := f.startDirect(t, 1, nil)
	f.processor.set(first.SessionRef, enums.OutcomeStatusSuccess)
	f.processor.set(second.SessionRef, enums.OutcomeStatusSuccess)

	if _, err := f.svc.Resume(ctx, buyerID, first.SessionRef); err != nil {
		t.Fatalf("resume first: %v", err)
	}
	dup, err := f.svc.Resume(ctx, buyerID, second.SessionRef)
	if err != nil {
		t.Fatalf("resume second: %v", err)
	}
	if dup.Outcome.Purchase == nil || dup.Outcome.Purchase.FailureReason != reasonDuplicateGrant {
		t.Fatalf("expected duplicate purchase closed, got %+v", dup.Outcome.Purchase)
	}
	if n := f.confirmedCount(1); n != 1 {
		t.Fatalf("expected exactly one confirmed purchase, got %d", n)
	}
}

func TestStartAlreadyEntitledSkipsCheckout(t *testing.T) {
	f := newFixture(t)
	status := enums.SubscriptionStatusActive
	end := f.now.Add(24 * time.Hour)
	f.subs.Put(model.Subscription{UserID: buyerID, Status: &status, CurrentPeriodEnd: &end})

	res, err := f.svc.Start(context.Background(), buyerID, Target{ResourceID: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !res.AlreadyGranted || res.SessionRef != "" {
		t.Fatalf("expected already granted without checkout, got %+v", res)
	}
	if len(f.purchases.All()) != 0 {
		t.Fatalf("no purchase expected")
	}
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Start(ctx, buyerID, Target{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.Start(ctx, buyerID, Target{ResourceID: 1, Plan: "monthly"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for mixed target, got %v", err)
	}
	if _, err := f.svc.Start(ctx, ownerID, Target{ResourceID: 1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("owner cannot buy own resource, got %v", err)
	}
	if _, err := f.svc.Start(ctx, buyerID, Target{ResourceID: 9}); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
	if _, err := f.svc.Start(ctx, buyerID, Target{Plan: "weekly"}); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestStartCheckoutErrorFailsPurchase(t *testing.T) {
	f := newFixture(t)
	f.processor.createErr = errors.New("processor down")

	if _, err := f.svc.Start(context.Background(), buyerID, Target{ResourceID: 1}); !errors.Is(err, ErrProcessorUnavailable) {
		t.Fatalf("expected ErrProcessorUnavailable, got %v", err)
	}
	all := f.purchases.All()
	if len(all) != 1 || all[0].Status != enums.PurchaseStatusFailed || all[0].FailureReason != reasonCheckoutFailed {
		t.Fatalf("expected one failed purchase, got %+v", all)
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.svc.Start(ctx, buyerID, Target{Plan: "monthly"})
	if err != nil {
		t.Fatalf("start subscription: %v", err)
	}
	if started.Kind != enums.OperationKindSubscription {
		t.Fatalf("unexpected kind %s", started.Kind)
	}
	if req := f.processor.sessions[started.SessionRef]; req.Amount != 1299 || req.Plan != "monthly" {
		t.Fatalf("unexpected checkout request %+v", req)
	}
	pending, _ := f.subs.Get(ctx, nil, buyerID)
	if pending == nil || pending.PendingSessionRef == nil {
		t.Fatalf("expected pending subscription change")
	}

	f.processor.set(started.SessionRef, enums.OutcomeStatusSuccess)
	resumed, err := f.svc.Resume(ctx, buyerID, started.SessionRef)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	sub := resumed.Outcome.Subscription
	if sub == nil || sub.Status == nil || *sub.Status != enums.SubscriptionStatusActive || sub.PendingSessionRef != nil {
		t.Fatalf("unexpected subscription %+v", sub)
	}

	decision, _ := f.resolver.Resolve(ctx, buyerID, 2, f.now)
	if !decision.Granted || decision.Reason != enums.GrantReasonSubscriptionEntitlement {
		t.Fatalf("expected subscription entitlement, got %+v", decision)
	}
	if len(f.purchases.All()) != 0 {
		t.Fatalf("subscription must not create purchases")
	}

	again, err := f.svc.Resume(ctx, buyerID, started.SessionRef)
	if err != nil {
		t.Fatalf("repeat resume: %v", err)
	}
	if !again.Outcome.Idempotent {
		t.Fatalf("repeat activation must be idempotent")
	}
}

func TestSweepResolvesStalePurchases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.connections.Submit(ctx, connections.SubmitInput{RequesterID: buyerID, ProviderID: ownerID, ResourceID: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requestID := req.ID
	paid := f.startDirect(t, 1, &requestID)
	abandoned := f.startDirect(t, 2, nil)
	f.processor.set(paid.SessionRef, enums.OutcomeStatusSuccess)

	f.now = f.now.Add(10 * time.Minute)
	res, err := f.svc.Sweep(ctx, f.now)
	if err != nil {
		t.Fatalf("early sweep: %v", err)
	}
	if res.Checked != 0 {
		t.Fatalf("fresh purchases must not be swept, got %+v", res)
	}

	f.now = f.now.Add(time.Hour)
	res, err = f.svc.Sweep(ctx, f.now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Confirmed != 1 || res.Failed != 1 {
		t.Fatalf("unexpected sweep result %+v", res)
	}

	got, err := f.connections.Get(ctx, requestID, buyerID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != enums.ConnectionStatusPurchased || got.GrantReason != enums.GrantReasonDirectPurchase {
		t.Fatalf("expected swept purchase to grant request, got %+v", got)
	}
	for _, p := range f.purchases.All() {
		if p.ID == abandoned.PurchaseID && (p.Status != enums.PurchaseStatusFailed || p.FailureReason != reasonStale) {
			t.Fatalf("expected abandoned purchase expired as stale, got %+v", p)
		}
		if p.Status == enums.PurchaseStatusPending {
			t.Fatalf("no purchase may stay pending after sweep: %+v", p)
		}
	}

	// The stale purchase is asked about again but nothing changes.
	res, err = f.svc.Sweep(ctx, f.now)
	if err != nil || res.Confirmed != 0 || res.Failed != 0 {
		t.Fatalf("second sweep should settle nothing, got %+v err=%v", res, err)
	}
}

func TestSweepConfirmsPaymentSettledAfterUnknownResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.connections.Submit(ctx, connections.SubmitInput{RequesterID: buyerID, ProviderID: ownerID, ResourceID: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requestID := req.ID
	late := f.startDirect(t, 1, &requestID)
	declined := f.startDirect(t, 2, nil)

	for _, ref := range []string{late.SessionRef, declined.SessionRef} {
		if _, err := f.svc.Resume(ctx, buyerID, ref); !errors.Is(err, ErrPaymentUnknown) {
			t.Fatalf("expected ErrPaymentUnknown, got %v", err)
		}
	}

	f.processor.set(late.SessionRef, enums.OutcomeStatusSuccess)
	f.processor.set(declined.SessionRef, enums.OutcomeStatusFailure)
	f.now = f.now.Add(24 * time.Hour)

	res, err := f.svc.Sweep(ctx, f.now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Checked != 2 || res.Confirmed != 1 || res.Failed != 1 {
		t.Fatalf("unexpected sweep result %+v", res)
	}
	if n := f.confirmedCount(1); n != 1 {
		t.Fatalf("expected the late payment confirmed, got %d confirmed", n)
	}
	got, err := f.connections.Get(ctx, requestID, buyerID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != enums.ConnectionStatusPurchased || got.GrantReason != enums.GrantReasonDirectPurchase {
		t.Fatalf("expected late payment to grant request, got %+v", got)
	}
	for _, p := range f.purchases.All() {
		if p.ID == declined.PurchaseID && p.FailureReason != reasonPaymentFailed {
			t.Fatalf("expected definite failure recorded, got %+v", p)
		}
	}

	res, err = f.svc.Sweep(ctx, f.now)
	if err != nil || res.Checked != 0 {
		t.Fatalf("settled purchases must not be rechecked, got %+v err=%v", res, err)
	}
}

func TestReconcileBuyerRechecksUnknownWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expired := f.startDirect(t, 1, nil)
	if _, err := f.svc.Resume(ctx, buyerID, expired.SessionRef); !errors.Is(err, ErrPaymentUnknown) {
		t.Fatalf("expected ErrPaymentUnknown, got %v", err)
	}
	f.now = f.now.Add(100 * time.Hour)

	recent := f.startDirect(t, 2, nil)
	if _, err := f.svc.Resume(ctx, buyerID, recent.SessionRef); !errors.Is(err, ErrPaymentUnknown) {
		t.Fatalf("expected ErrPaymentUnknown, got %v", err)
	}
	f.processor.set(expired.SessionRef, enums.OutcomeStatusSuccess)
	f.processor.set(recent.SessionRef, enums.OutcomeStatusSuccess)

	res, err := f.svc.ReconcileBuyer(ctx, buyerID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Checked != 1 || res.Confirmed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.confirmedCount(2) != 1 {
		t.Fatalf("expected recent purchase confirmed")
	}
	if f.confirmedCount(1) != 0 {
		t.Fatalf("purchases older than the recheck window must be left alone")
	}
}

func TestSweepExpiresStaleSubscriptionChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Start(ctx, buyerID, Target{Plan: "monthly"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.now = f.now.Add(time.Hour)

	res, err := f.svc.Sweep(ctx, f.now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected one expired change, got %+v", res)
	}
	sub, _ := f.subs.Get(ctx, nil, buyerID)
	if sub == nil || sub.PendingSessionRef != nil {
		t.Fatalf("expected pending change cleared, got %+v", sub)
	}
}

func TestReconcileBuyerConfirmsFreshSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paid := f.startDirect(t, 1, nil)
	open := f.startDirect(t, 2, nil)
	f.processor.set(paid.SessionRef, enums.OutcomeStatusSuccess)

	res, err := f.svc.ReconcileBuyer(ctx, buyerID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Confirmed != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, p := range f.purchases.All() {
		if p.ID == open.PurchaseID && p.Status != enums.PurchaseStatusPending {
			t.Fatalf("undecided fresh purchase must stay pending, got %s", p.Status)
		}
	}

	rec, ok, err := f.svc.PendingOperation(ctx, buyerID)
	if err != nil {
		t.Fatalf("pending operation: %v", err)
	}
	if !ok || rec.SessionRef != open.SessionRef {
		t.Fatalf("expected open checkout staged, got %+v ok=%v", rec, ok)
	}
}
