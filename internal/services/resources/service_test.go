package resources

import (
	"context"
	"errors"
	"testing"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
	"github.com/funnytutor6/tutorconnect/internal/repo/memorytest"
	"github.com/funnytutor6/tutorconnect/internal/services/audit"
	"github.com/funnytutor6/tutorconnect/internal/services/sanitizer"
)

type auditStub struct {
	events []model.AuditEvent
}

func (a *auditStub) Record(_ context.Context, event model.AuditEvent) {
	a.events = append(a.events, event)
}

func newTestService() (*Service, *memorytest.Resources, *auditStub) {
	store := memorytest.NewResources()
	users := memorytest.NewUsers()
	users.Put(model.User{ID: 1, Role: enums.RoleProvider})
	users.Put(model.User{ID: 2, Role: enums.RoleRequester})

	svc := NewService(Dependencies{Store: store, Users: users, Checker: sanitizer.Default()})
	auditor := &auditStub{}
	svc.AttachAuditor(auditor)
	return svc, store, auditor
}

func TestCreateDerivesKindFromRole(t *testing.T) {
	svc, _, _ := newTestService()

	offer, err := svc.Create(context.Background(), 1, Input{Headline: "Algebra tutoring", Subject: "math", Description: "Ten years of teaching."})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer.Kind != enums.ResourceKindOffer || offer.OwnerRole != enums.RoleProvider {
		t.Fatalf("unexpected offer %+v", offer)
	}

	req, err := svc.Create(context.Background(), 2, Input{Headline: "Need help with chemistry", Subject: "chemistry"})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if req.Kind != enums.ResourceKindRequest {
		t.Fatalf("expected request kind, got %s", req.Kind)
	}

	if _, err := svc.Create(context.Background(), 2, Input{Kind: enums.ResourceKindOffer, Headline: "x", Subject: "y"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("requester posting an offer must fail, got %v", err)
	}
}

func TestCreateRejectsContactDetails(t *testing.T) {
	svc, store, auditor := newTestService()

	_, err := svc.Create(context.Background(), 1, Input{
		Headline:    "Physics lessons",
		Subject:     "physics",
		Description: "Write me at tutor@example.com or call +1 (555) 123-4567",
	})
	verr, ok := sanitizer.AsValidationError(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Violations) != 2 {
		t.Fatalf("expected email and phone violations, got %+v", verr.Violations)
	}
	if _, err := store.Get(context.Background(), 1); err == nil {
		t.Fatalf("rejected resource must not be stored")
	}
	if len(auditor.events) != 1 || auditor.events[0].Type != audit.EventResourceRejected {
		t.Fatalf("expected rejection audit event, got %+v", auditor.events)
	}
}

func TestUpdateChecksOwnershipAndText(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, 1, Input{Headline: "Guitar", Subject: "music", Description: "Since 2015."})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Update(ctx, 2, created.ID, Input{Headline: "Mine now", Subject: "music"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Update(ctx, 1, created.ID, Input{Headline: "Guitar", Subject: "see www.mylessons.com"}); !errors.Is(err, sanitizer.ErrValidationFailed) {
		t.Fatalf("expected sanitizer rejection, got %v", err)
	}
	if _, err := svc.Update(ctx, 1, 99, Input{Headline: "x", Subject: "y"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	updated, err := svc.Update(ctx, 1, created.ID, Input{Headline: "Guitar and bass", Subject: "music", Description: "Group classes on weekends."})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Headline != "Guitar and bass" || updated.Kind != enums.ResourceKindOffer {
		t.Fatalf("unexpected update %+v", updated)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService()

	cases := []struct {
		name    string
		ownerID int64
		in      Input
	}{
		{name: "no owner", ownerID: 0, in: Input{Headline: "a", Subject: "b"}},
		{name: "unknown owner", ownerID: 42, in: Input{Headline: "a", Subject: "b"}},
		{name: "missing headline", ownerID: 1, in: Input{Subject: "b"}},
		{name: "bad kind", ownerID: 1, in: Input{Kind: "job", Headline: "a", Subject: "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.ownerID, tc.in); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}
