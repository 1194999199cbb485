// Package stripecheckout implements the payment processor on top of Stripe
// Checkout sessions.
package stripecheckout

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/services/payments"
)

// sessionPlaceholder is replaced by Stripe with the session id on redirect.
const sessionPlaceholder = "{CHECKOUT_SESSION_ID}"

type Config struct {
	SecretKey  string
	Currency   string
	SuccessURL string
	CancelURL  string
	// PlanPrices maps plan names to Stripe recurring price ids. Plans without
	// an entry are billed monthly from the configured amount.
	PlanPrices  map[string]string
	ProductName string
	// APIURL overrides the Stripe API base, for tests.
	APIURL string
}

type Client struct {
	sessions session.Client
	cfg      Config
}

func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("stripe secret key is empty")
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" {
		return nil, fmt.Errorf("stripe success url is empty")
	}
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}
	if cfg.ProductName == "" {
		cfg.ProductName = "Contact access"
	}
	if cfg.CancelURL == "" {
		cfg.CancelURL = cfg.SuccessURL
	}

	backendCfg := &stripe.BackendConfig{HTTPClient: httpClient}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	return &Client{
		sessions: session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		cfg: cfg,
	}, nil
}

func (c *Client) CreateCheckout(ctx context.Context, req payments.CheckoutRequest) (payments.Checkout, error) {
	if req.Amount <= 0 {
		return payments.Checkout{}, fmt.Errorf("checkout amount must be positive")
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(withSessionPlaceholder(c.cfg.SuccessURL)),
		CancelURL:  stripe.String(withSessionPlaceholder(c.cfg.CancelURL)),
		Metadata:   req.Metadata,
	}
	params.Context = ctx
	if opID := req.Metadata[payments.MetaOperationID]; opID != "" {
		params.SetIdempotencyKey("checkout-" + opID)
	}
	if viewer := req.Metadata[payments.MetaViewerID]; viewer != "" {
		params.ClientReferenceID = stripe.String(viewer)
	}

	switch req.Kind {
	case enums.OperationKindSubscription:
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: req.Metadata}
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{c.subscriptionLine(req)}
	default:
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(c.cfg.Currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(c.cfg.ProductName),
				},
			},
		}}
	}

	s, err := c.sessions.New(params)
	if err != nil {
		return payments.Checkout{}, fmt.Errorf("create stripe checkout session: %w", err)
	}
	if s.ID == "" || s.URL == "" {
		return payments.Checkout{}, fmt.Errorf("stripe returned an incomplete checkout session")
	}
	return payments.Checkout{SessionRef: s.ID, RedirectURL: s.URL}, nil
}

func (c *Client) subscriptionLine(req payments.CheckoutRequest) *stripe.CheckoutSessionLineItemParams {
	if priceID := c.cfg.PlanPrices[req.Plan]; priceID != "" {
		return &stripe.CheckoutSessionLineItemParams{Price: stripe.String(priceID), Quantity: stripe.Int64(1)}
	}
	return &stripe.CheckoutSessionLineItemParams{
		Quantity: stripe.Int64(1),
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(c.cfg.Currency),
			UnitAmount: stripe.Int64(req.Amount),
			Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
			},
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(strings.TrimSpace(c.cfg.ProductName + " " + req.Plan)),
			},
		},
	}
}

func (c *Client) GetOutcome(ctx context.Context, sessionRef string) (payments.Outcome, error) {
	sessionRef = strings.TrimSpace(sessionRef)
	if sessionRef == "" {
		return payments.Outcome{}, fmt.Errorf("session ref is empty")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	s, err := c.sessions.Get(sessionRef, params)
	if err != nil {
		return payments.Outcome{}, fmt.Errorf("get stripe checkout session: %w", err)
	}
	return outcomeFromSession(s), nil
}

// outcomeFromSession maps a checkout session to an outcome. Only a completed
// session that needs no further payment is a success; an expired one is a
// failure and everything else is still undecided.
func outcomeFromSession(s *stripe.CheckoutSession) payments.Outcome {
	out := payments.Outcome{Status: enums.OutcomeStatusUnknown, Metadata: s.Metadata}

	switch s.Status {
	case stripe.CheckoutSessionStatusComplete:
		if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid || s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			out.Status = enums.OutcomeStatusSuccess
		}
	case stripe.CheckoutSessionStatusExpired:
		out.Status = enums.OutcomeStatusFailure
	}

	if s.Subscription != nil && s.Subscription.ID != "" {
		out.Subscription = snapshot(s.Subscription)
	}
	return out
}

func snapshot(sub *stripe.Subscription) *payments.SubscriptionSnapshot {
	snap := &payments.SubscriptionSnapshot{
		ExternalID:        sub.ID,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if status, ok := enums.ParseSubscriptionStatus(string(sub.Status)); ok {
		snap.Status = status
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		snap.PeriodStart = unixTime(item.CurrentPeriodStart)
		snap.PeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return snap
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func withSessionPlaceholder(raw string) string {
	if strings.Contains(raw, sessionPlaceholder) {
		return raw
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + "session_id=" + sessionPlaceholder
}
