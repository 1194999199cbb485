package stripecheckout

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/services/payments"
)

func TestOutcomeFromSession(t *testing.T) {
	cases := []struct {
		name    string
		status  stripe.CheckoutSessionStatus
		payment stripe.CheckoutSessionPaymentStatus
		want    enums.OutcomeStatus
	}{
		{name: "paid", status: stripe.CheckoutSessionStatusComplete, payment: stripe.CheckoutSessionPaymentStatusPaid, want: enums.OutcomeStatusSuccess},
		{name: "free trial", status: stripe.CheckoutSessionStatusComplete, payment: stripe.CheckoutSessionPaymentStatusNoPaymentRequired, want: enums.OutcomeStatusSuccess},
		{name: "complete but unpaid", status: stripe.CheckoutSessionStatusComplete, payment: stripe.CheckoutSessionPaymentStatusUnpaid, want: enums.OutcomeStatusUnknown},
		{name: "open", status: stripe.CheckoutSessionStatusOpen, payment: stripe.CheckoutSessionPaymentStatusUnpaid, want: enums.OutcomeStatusUnknown},
		{name: "expired", status: stripe.CheckoutSessionStatusExpired, payment: stripe.CheckoutSessionPaymentStatusUnpaid, want: enums.OutcomeStatusFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := outcomeFromSession(&stripe.CheckoutSession{Status: tc.status, PaymentStatus: tc.payment})
			if got.Status != tc.want {
				t.Fatalf("status = %s, want %s", got.Status, tc.want)
			}
		})
	}
}

func TestOutcomeCarriesSubscriptionPeriod(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	got := outcomeFromSession(&stripe.CheckoutSession{
		Status:        stripe.CheckoutSessionStatusComplete,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		Metadata:      map[string]string{payments.MetaViewerID: "5"},
		Subscription: &stripe.Subscription{
			ID:     "sub_123",
			Status: stripe.SubscriptionStatusActive,
			Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
				CurrentPeriodStart: start.Unix(),
				CurrentPeriodEnd:   end.Unix(),
			}}},
		},
	})
	if got.Subscription == nil {
		t.Fatalf("expected subscription snapshot")
	}
	if got.Subscription.ExternalID != "sub_123" || got.Subscription.Status != enums.SubscriptionStatusActive {
		t.Fatalf("unexpected snapshot %+v", got.Subscription)
	}
	if got.Subscription.PeriodEnd == nil || !got.Subscription.PeriodEnd.Equal(end) {
		t.Fatalf("unexpected period end %v", got.Subscription.PeriodEnd)
	}
	if got.Metadata[payments.MetaViewerID] != "5" {
		t.Fatalf("metadata not carried")
	}
}

func TestCreateCheckoutSendsMetadataAndMode(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.example/cs_test_1","status":"open","payment_status":"unpaid"}`)
	}))
	defer srv.Close()

	client, err := New(Config{
		SecretKey:  "sk_test_123",
		SuccessURL: "https://app.example/return",
		APIURL:     srv.URL,
	}, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	checkout, err := client.CreateCheckout(context.Background(), payments.CheckoutRequest{
		Kind:   enums.OperationKindDirectPurchase,
		Amount: 499,
		Metadata: map[string]string{
			payments.MetaOperationID: "op-1",
			payments.MetaPurchaseID:  "12",
		},
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if checkout.SessionRef != "cs_test_1" || checkout.RedirectURL == "" {
		t.Fatalf("unexpected checkout %+v", checkout)
	}
	if form.Get("mode") != "payment" {
		t.Fatalf("mode = %q", form.Get("mode"))
	}
	if form.Get("metadata[purchase_id]") != "12" {
		t.Fatalf("purchase metadata missing: %v", form)
	}
	if !strings.Contains(form.Get("success_url"), sessionPlaceholder) {
		t.Fatalf("success url lacks session placeholder: %q", form.Get("success_url"))
	}
}

func TestNewRequiresKeyAndReturnURL(t *testing.T) {
	if _, err := New(Config{SuccessURL: "https://app.example"}, nil); err == nil {
		t.Fatalf("expected error without secret key")
	}
	if _, err := New(Config{SecretKey: "sk_test"}, nil); err == nil {
		t.Fatalf("expected error without success url")
	}
}

func TestWithSessionPlaceholder(t *testing.T) {
	if got := withSessionPlaceholder("https://a.example/done?x=1"); got != "https://a.example/done?x=1&session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := withSessionPlaceholder("https://a.example/{CHECKOUT_SESSION_ID}"); got != "https://a.example/{CHECKOUT_SESSION_ID}" {
		t.Fatalf("placeholder duplicated: %q", got)
	}
}
