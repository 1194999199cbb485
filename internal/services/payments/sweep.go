package payments

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
	"github.com/funnytutor6/tutorconnect/internal/services/audit"
)

type SweepResult struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Sweep resolves every pending purchase and pending subscription change older
// than the staleness threshold. Anything the processor cannot confirm is
// expired. Purchases already failed as unknown or stale are asked about again
// within the recheck window, so a payment that settles late is still
// confirmed.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	if s.purchases == nil || s.processor == nil {
		return SweepResult{}, fmt.Errorf("sweep dependencies are not configured")
	}
	now = now.UTC()
	cutoff := now.Add(-s.cfg.StaleAfter)

	// Rechecks run first so purchases expired below wait for the next sweep.
	var res SweepResult
	undecided, err := s.purchases.ListUndecided(ctx, now.Add(-s.cfg.RecheckWindow), s.cfg.SweepBatch)
	if err != nil {
		return res, fmt.Errorf("list undecided purchases: %w", err)
	}
	for _, p := range undecided {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		s.reconcilePurchase(ctx, p, false, &res)
	}

	stale, err := s.purchases.ListStalePending(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		return res, fmt.Errorf("list stale purchases: %w", err)
	}
	for _, p := range stale {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		s.reconcilePurchase(ctx, p, true, &res)
	}

	if s.subs == nil {
		return res, nil
	}
	subs, err := s.subs.ListStalePending(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		return res, fmt.Errorf("list stale subscription changes: %w", err)
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		s.reconcileSubscription(ctx, sub, true, &res)
	}

	return res, nil
}

// ReconcileBuyer re-checks one buyer's pending operations regardless of age.
// Outcomes the processor cannot decide yet are left for later unless stale.
func (s *Service) ReconcileBuyer(ctx context.Context, buyerID int64) (SweepResult, error) {
	if buyerID <= 0 {
		return SweepResult{}, ErrValidation
	}
	if s.purchases == nil || s.processor == nil {
		return SweepResult{}, fmt.Errorf("reconcile dependencies are not configured")
	}
	now := s.now().UTC()

	var res SweepResult
	undecided, err := s.purchases.ListUndecidedForBuyer(ctx, buyerID, now.Add(-s.cfg.RecheckWindow), s.cfg.SweepBatch)
	if err != nil {
		return res, fmt.Errorf("list undecided purchases: %w", err)
	}
	for _, p := range undecided {
		s.reconcilePurchase(ctx, p, false, &res)
	}

	pending, err := s.purchases.ListStalePendingForBuyer(ctx, buyerID, now.Add(time.Second), s.cfg.SweepBatch)
	if err != nil {
		return res, fmt.Errorf("list pending purchases: %w", err)
	}
	for _, p := range pending {
		s.reconcilePurchase(ctx, p, s.isStale(p.CreatedAt, now), &res)
	}

	if s.subs == nil {
		return res, nil
	}
	sub, err := s.subs.Get(ctx, nil, buyerID)
	if err != nil {
		return res, fmt.Errorf("read subscription: %w", err)
	}
	if sub != nil && sub.PendingSessionRef != nil {
		stale := sub.PendingSince != nil && s.isStale(*sub.PendingSince, now)
		s.reconcileSubscription(ctx, *sub, stale, &res)
	}

	return res, nil
}

func (s *Service) reconcilePurchase(ctx context.Context, p model.Purchase, stale bool, res *SweepResult) {
	res.Checked++

	if p.ExternalSessionID == nil {
		if !stale {
			res.Skipped++
			return
		}
		// The checkout was never opened.
		failed, changed, err := s.purchases.MarkFailed(ctx, p.ID, reasonStale)
		if err != nil {
			s.logger.Warn("expire purchase without session failed", zap.Int64("purchase_id", p.ID), zap.Error(err))
			return
		}
		if changed {
			res.Failed++
			s.record(ctx, audit.EventPaymentFailed, failed.BuyerID, "purchase", formatID(failed.ID), map[string]any{
				"reason": reasonStale,
			})
		}
		return
	}

	ref := *p.ExternalSessionID
	outcome := s.outcome(ctx, ref)
	if outcome.Status == enums.OutcomeStatusUnknown && !stale {
		res.Skipped++
		return
	}

	settled, err := s.settlePurchase(ctx, p.ID, ref, outcome.Status, stale)
	if err != nil && !isPaymentOutcomeErr(err) {
		s.logger.Warn("reconcile purchase failed",
			zap.Int64("purchase_id", p.ID),
			zap.String("session_ref", ref),
			zap.Error(err),
		)
		return
	}
	s.unstage(ctx, ref)

	switch settled.purchase.Status {
	case enums.PurchaseStatusConfirmed:
		res.Confirmed++
	case enums.PurchaseStatusFailed:
		res.Failed++
	default:
		res.Skipped++
	}
}

func (s *Service) reconcileSubscription(ctx context.Context, sub model.Subscription, stale bool, res *SweepResult) {
	res.Checked++
	if sub.PendingSessionRef == nil {
		res.Skipped++
		return
	}

	ref := *sub.PendingSessionRef
	outcome := s.outcome(ctx, ref)
	if outcome.Status == enums.OutcomeStatusUnknown && !stale {
		res.Skipped++
		return
	}

	_, _, err := s.settleSubscription(ctx, sub.UserID, ref, outcome, stale)
	switch {
	case err == nil:
		res.Confirmed++
	case isPaymentOutcomeErr(err):
		res.Failed++
	default:
		s.logger.Warn("reconcile subscription change failed",
			zap.Int64("user_id", sub.UserID),
			zap.String("session_ref", ref),
			zap.Error(err),
		)
		return
	}
	s.unstage(ctx, ref)
}
