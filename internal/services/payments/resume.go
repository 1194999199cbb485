package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
	pgrepo "github.com/funnytutor6/tutorconnect/internal/repo/postgres"
	"github.com/funnytutor6/tutorconnect/internal/services/audit"
)

type ResumeOutcome struct {
	Status       enums.PurchaseStatus `json:"status"`
	Idempotent   bool                 `json:"idempotent"`
	Purchase     *model.Purchase      `json:"purchase,omitempty"`
	Subscription *model.Subscription  `json:"subscription,omitempty"`
}

type ResumeResult struct {
	Kind           enums.OperationKind      `json:"kind"`
	SessionRef     string                   `json:"session_ref"`
	Outcome        ResumeOutcome            `json:"outcome"`
	UpdatedRequest *model.ConnectionRequest `json:"updated_request,omitempty"`
}

type settlement struct {
	purchase model.Purchase
	changed  bool
	request  *model.ConnectionRequest
}

// Resume completes a checkout after the processor redirects the viewer back.
// The staging record only narrows the lookup; the processor outcome decides.
// On a negative outcome the partial result is returned together with
// ErrPaymentFailed, ErrPaymentUnknown or ErrStaleOperation.
func (s *Service) Resume(ctx context.Context, viewerID int64, sessionRef string) (ResumeResult, error) {
	sessionRef = strings.TrimSpace(sessionRef)
	if viewerID <= 0 || sessionRef == "" {
		return ResumeResult{}, ErrValidation
	}
	if s.processor == nil {
		return ResumeResult{}, fmt.Errorf("payment processor is nil")
	}

	var stage *model.StagingRecord
	if s.staging != nil {
		rec, err := s.staging.Get(ctx, sessionRef)
		switch {
		case err == nil:
			stage = &rec
		case !isStagingMiss(err):
			s.logger.Warn("read staging record failed", zap.String("session_ref", sessionRef), zap.Error(err))
		}
	}
	if stage != nil && stage.ViewerID != viewerID {
		return ResumeResult{}, ErrForbidden
	}

	outcome := s.outcome(ctx, sessionRef)
	if owner := metaInt(outcome.Metadata, MetaViewerID); owner > 0 && owner != viewerID {
		return ResumeResult{}, ErrForbidden
	}

	kind, err := s.operationKind(ctx, viewerID, sessionRef, stage, outcome)
	if err != nil {
		return ResumeResult{}, err
	}

	switch kind {
	case enums.OperationKindSubscription:
		return s.resumeSubscription(ctx, viewerID, sessionRef, stage, outcome)
	default:
		return s.resumeDirect(ctx, viewerID, sessionRef, stage, outcome)
	}
}

func (s *Service) resumeDirect(ctx context.Context, viewerID int64, sessionRef string, stage *model.StagingRecord, outcome Outcome) (ResumeResult, error) {
	if s.purchases == nil || s.tx == nil {
		return ResumeResult{}, fmt.Errorf("purchase dependencies are not configured")
	}

	purchaseID := metaInt(outcome.Metadata, MetaPurchaseID)
	if stage != nil && stage.PurchaseID != nil {
		purchaseID = *stage.PurchaseID
	}

	var (
		purchase model.Purchase
		err      error
	)
	if purchaseID > 0 {
		purchase, err = s.purchases.FindByID(ctx, nil, purchaseID)
	} else {
		purchase, err = s.purchases.FindBySession(ctx, sessionRef)
	}
	if err != nil {
		if errors.Is(err, pgrepo.ErrPurchaseNotFound) {
			return ResumeResult{}, ErrOperationNotFound
		}
		return ResumeResult{}, fmt.Errorf("load purchase: %w", err)
	}
	if purchase.BuyerID != viewerID {
		return ResumeResult{}, ErrForbidden
	}
	if purchase.ExternalSessionID != nil && *purchase.ExternalSessionID != sessionRef {
		return ResumeResult{}, ErrOperationNotFound
	}

	now := s.now().UTC()
	stale := s.isStale(purchase.CreatedAt, now)
	if stage != nil && s.isStale(stage.CreatedAt, now) {
		stale = true
	}

	settled, settleErr := s.settlePurchase(ctx, purchase.ID, sessionRef, outcome.Status, stale)
	if settleErr != nil && !isPaymentOutcomeErr(settleErr) {
		return ResumeResult{}, settleErr
	}
	s.unstage(ctx, sessionRef)

	result := ResumeResult{
		Kind:       enums.OperationKindDirectPurchase,
		SessionRef: sessionRef,
		Outcome: ResumeOutcome{
			Status:     settled.purchase.Status,
			Idempotent: !settled.changed,
			Purchase:   &settled.purchase,
		},
		UpdatedRequest: settled.request,
	}
	return result, settleErr
}

func (s *Service) resumeSubscription(ctx context.Context, viewerID int64, sessionRef string, stage *model.StagingRecord, outcome Outcome) (ResumeResult, error) {
	if s.subs == nil {
		return ResumeResult{}, fmt.Errorf("subscription store is nil")
	}
	if stage != nil && stage.SubscriptionUserID != nil && *stage.SubscriptionUserID != viewerID {
		return ResumeResult{}, ErrForbidden
	}

	current, err := s.subs.Get(ctx, nil, viewerID)
	if err != nil {
		return ResumeResult{}, fmt.Errorf("read subscription: %w", err)
	}

	now := s.now().UTC()
	stale := stage != nil && s.isStale(stage.CreatedAt, now)
	if current != nil && current.PendingSince != nil && s.isStale(*current.PendingSince, now) {
		stale = true
	}

	sub, changed, settleErr := s.settleSubscription(ctx, viewerID, sessionRef, outcome, stale)
	if settleErr != nil && !isPaymentOutcomeErr(settleErr) {
		return ResumeResult{}, settleErr
	}
	s.unstage(ctx, sessionRef)

	status := enums.PurchaseStatusConfirmed
	if settleErr != nil {
		status = enums.PurchaseStatusFailed
	}
	return ResumeResult{
		Kind:       enums.OperationKindSubscription,
		SessionRef: sessionRef,
		Outcome: ResumeOutcome{
			Status:       status,
			Idempotent:   !changed,
			Subscription: sub,
		},
	}, settleErr
}

// settlePurchase applies a processor outcome to one purchase under its lock.
// Confirmed purchases are never moved back.
func (s *Service) settlePurchase(ctx context.Context, purchaseID int64, sessionRef string, status enums.OutcomeStatus, stale bool) (settlement, error) {
	unlock, err := s.lock(ctx, purchaseLockKey(purchaseID))
	if err != nil {
		return settlement{}, err
	}
	defer unlock()

	current, err := s.purchases.FindByID(ctx, nil, purchaseID)
	if err != nil {
		return settlement{}, fmt.Errorf("reload purchase: %w", err)
	}

	if status == enums.OutcomeStatusSuccess {
		return s.confirm(ctx, current, sessionRef)
	}
	if current.Status == enums.PurchaseStatusConfirmed {
		return settlement{purchase: current}, nil
	}

	reason, sentinel := reasonPaymentFailed, ErrPaymentFailed
	if status != enums.OutcomeStatusFailure {
		reason, sentinel = reasonPaymentUnknown, ErrPaymentUnknown
		if stale {
			reason, sentinel = reasonStale, ErrStaleOperation
		}
	}

	failed, changed, err := s.purchases.MarkFailed(ctx, purchaseID, reason)
	if err != nil {
		return settlement{}, fmt.Errorf("mark purchase failed: %w", err)
	}
	if failed.Status == enums.PurchaseStatusConfirmed {
		return settlement{purchase: failed}, nil
	}
	if changed {
		s.record(ctx, audit.EventPaymentFailed, failed.BuyerID, "purchase", formatID(failed.ID), map[string]any{
			"reason":      reason,
			"session_ref": sessionRef,
		})
	}
	return settlement{purchase: failed, changed: changed}, sentinel
}

// confirm writes the purchase confirmation and the staged request grant in
// one transaction.
func (s *Service) confirm(ctx context.Context, purchase model.Purchase, sessionRef string) (settlement, error) {
	var (
		out     settlement
		granted bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		confirmed, changed, err := s.purchases.MarkConfirmed(ctx, tx, purchase.ID, sessionRef)
		if err != nil {
			return err
		}
		out.purchase, out.changed = confirmed, changed

		if purchase.RequestID == nil || s.requests == nil {
			return nil
		}
		req, ok, err := s.requests.EvaluateInTx(ctx, tx, *purchase.RequestID, purchase.BuyerID)
		if err != nil {
			return fmt.Errorf("evaluate staged request: %w", err)
		}
		out.request, granted = &req, ok
		return nil
	})
	if errors.Is(err, pgrepo.ErrPairAlreadyConfirmed) {
		return s.absorbDuplicate(ctx, purchase)
	}
	if err != nil {
		return settlement{}, fmt.Errorf("confirm purchase: %w", err)
	}

	if out.changed {
		s.record(ctx, audit.EventPaymentConfirmed, purchase.BuyerID, "purchase", formatID(purchase.ID), map[string]any{
			"resource_id": purchase.ResourceID,
			"amount":      purchase.Amount,
			"session_ref": sessionRef,
		})
	}
	if granted && out.request != nil {
		s.requests.RecordGrant(ctx, purchase.BuyerID, *out.request)
	}
	return out, nil
}

// absorbDuplicate handles a second paid checkout for a pair that already has
// a confirmed purchase. Access already exists, so the extra purchase is closed
// as failed and the staged request is still evaluated.
func (s *Service) absorbDuplicate(ctx context.Context, purchase model.Purchase) (settlement, error) {
	s.logger.Warn("duplicate paid purchase for buyer and resource",
		zap.Int64("purchase_id", purchase.ID),
		zap.Int64("buyer_id", purchase.BuyerID),
		zap.Int64("resource_id", purchase.ResourceID),
	)

	failed, changed, err := s.purchases.MarkFailed(ctx, purchase.ID, reasonDuplicateGrant)
	if err != nil {
		return settlement{}, fmt.Errorf("close duplicate purchase: %w", err)
	}
	out := settlement{purchase: failed, changed: changed}

	if purchase.RequestID != nil && s.requests != nil {
		req, err := s.requests.EvaluateForViewer(ctx, *purchase.RequestID, purchase.BuyerID)
		if err != nil {
			return out, fmt.Errorf("evaluate staged request: %w", err)
		}
		out.request = &req
	}
	return out, nil
}

// settleSubscription applies a subscription checkout outcome under the
// user's subscription lock.
func (s *Service) settleSubscription(ctx context.Context, userID int64, sessionRef string, outcome Outcome, stale bool) (*model.Subscription, bool, error) {
	unlock, err := s.lock(ctx, subscriptionLockKey(userID))
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	if outcome.Status == enums.OutcomeStatusSuccess {
		sub, changed, err := s.activate(ctx, userID, sessionRef, outcome)
		if err != nil {
			return nil, false, err
		}
		return &sub, changed, nil
	}

	cleared, err := s.subs.ClearPending(ctx, userID, sessionRef)
	if err != nil {
		return nil, false, fmt.Errorf("clear pending subscription change: %w", err)
	}
	current, err := s.subs.Get(ctx, nil, userID)
	if err != nil {
		return nil, false, fmt.Errorf("read subscription: %w", err)
	}

	sentinel := ErrPaymentFailed
	if outcome.Status != enums.OutcomeStatusFailure {
		sentinel = ErrPaymentUnknown
		if stale {
			sentinel = ErrStaleOperation
		}
	}
	if cleared {
		s.record(ctx, audit.EventPaymentFailed, userID, "subscription", formatID(userID), map[string]any{
			"session_ref": sessionRef,
			"outcome":     string(outcome.Status),
		})
	}
	return current, cleared, sentinel
}

func (s *Service) activate(ctx context.Context, userID int64, sessionRef string, outcome Outcome) (model.Subscription, bool, error) {
	state := pgrepo.SubscriptionState{
		UserID:     userID,
		Plan:       outcome.Metadata[MetaPlan],
		Status:     enums.SubscriptionStatusActive,
		EventAt:    s.now().UTC(),
		SessionRef: sessionRef,
	}
	if snap := outcome.Subscription; snap != nil {
		state.ExternalID = snap.ExternalID
		if snap.Status != "" {
			state.Status = snap.Status
		}
		state.CurrentPeriodStart = snap.PeriodStart
		state.CurrentPeriodEnd = snap.PeriodEnd
		state.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
		if snap.PeriodStart != nil {
			state.EventAt = snap.PeriodStart.UTC()
		}
	}
	if state.CurrentPeriodEnd == nil {
		s.logger.Warn("subscription outcome without period end", zap.Int64("user_id", userID), zap.String("session_ref", sessionRef))
	}

	sub, changed, err := s.subs.ApplyState(ctx, nil, state)
	if err != nil {
		return model.Subscription{}, false, fmt.Errorf("activate subscription: %w", err)
	}
	if !changed {
		// A lifecycle event for the same period already landed.
		if _, err := s.subs.ClearPending(ctx, userID, sessionRef); err != nil {
			return model.Subscription{}, false, fmt.Errorf("clear pending subscription change: %w", err)
		}
		return sub, false, nil
	}

	s.record(ctx, audit.EventSubscriptionApplied, userID, "subscription", formatID(userID), map[string]any{
		"status":      string(state.Status),
		"external_id": state.ExternalID,
		"session_ref": sessionRef,
	})
	return sub, true, nil
}

func (s *Service) outcome(ctx context.Context, sessionRef string) Outcome {
	outcome, err := s.processor.GetOutcome(ctx, sessionRef)
	if err != nil {
		s.logger.Warn("query payment outcome failed", zap.String("session_ref", sessionRef), zap.Error(err))
		return Outcome{Status: enums.OutcomeStatusUnknown}
	}
	switch outcome.Status {
	case enums.OutcomeStatusSuccess, enums.OutcomeStatusFailure:
	default:
		outcome.Status = enums.OutcomeStatusUnknown
	}
	return outcome
}

func (s *Service) operationKind(ctx context.Context, viewerID int64, sessionRef string, stage *model.StagingRecord, outcome Outcome) (enums.OperationKind, error) {
	if stage != nil {
		return stage.Kind, nil
	}
	switch kind := enums.OperationKind(outcome.Metadata[MetaKind]); kind {
	case enums.OperationKindDirectPurchase, enums.OperationKindSubscription:
		return kind, nil
	}

	if s.purchases != nil {
		_, err := s.purchases.FindBySession(ctx, sessionRef)
		if err == nil {
			return enums.OperationKindDirectPurchase, nil
		}
		if !errors.Is(err, pgrepo.ErrPurchaseNotFound) {
			return "", fmt.Errorf("find purchase by session: %w", err)
		}
	}
	if s.subs != nil {
		sub, err := s.subs.Get(ctx, nil, viewerID)
		if err != nil {
			return "", fmt.Errorf("read subscription: %w", err)
		}
		if sub != nil && sub.PendingSessionRef != nil && *sub.PendingSessionRef == sessionRef {
			return enums.OperationKindSubscription, nil
		}
	}
	return "", ErrOperationNotFound
}

func (s *Service) isStale(since, now time.Time) bool {
	return !since.IsZero() && now.Sub(since) > s.cfg.StaleAfter
}

func isPaymentOutcomeErr(err error) bool {
	return errors.Is(err, ErrPaymentFailed) || errors.Is(err, ErrPaymentUnknown) || errors.Is(err, ErrStaleOperation)
}
