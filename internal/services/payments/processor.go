package payments

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
)

// Metadata keys attached to every checkout session so an outcome can be
// matched back to local records without the staging area.
const (
	MetaOperationID = "operation_id"
	MetaKind        = "kind"
	MetaViewerID    = "viewer_id"
	MetaPurchaseID  = "purchase_id"
	MetaResourceID  = "resource_id"
	MetaRequestID   = "request_id"
	MetaPlan        = "plan"
)

type CheckoutRequest struct {
	Kind     enums.OperationKind
	Amount   int64
	Plan     string
	Metadata map[string]string
}

type Checkout struct {
	SessionRef  string
	RedirectURL string
}

// SubscriptionSnapshot is the processor's view of a subscription after a
// successful subscription checkout.
type SubscriptionSnapshot struct {
	ExternalID        string
	Status            enums.SubscriptionStatus
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
}

type Outcome struct {
	Status       enums.OutcomeStatus
	Metadata     map[string]string
	Subscription *SubscriptionSnapshot
}

// Processor is the external payment processor. GetOutcome is authoritative
// for a session reference.
type Processor interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	GetOutcome(ctx context.Context, sessionRef string) (Outcome, error)
}

func metaInt(meta map[string]string, key string) int64 {
	if meta == nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(meta[key]), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
