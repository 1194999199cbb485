package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
)

var (
	ErrSubscriptionNotFound       = errors.New("subscription not found")
	errInvalidSubscriptionPayload = errors.New("invalid subscription payload")
)

const subscriptionColumns = `user_id, external_id, plan, status, current_period_start, current_period_end, cancel_at_period_end, legacy_paid, pending_session_ref, pending_since, last_event_at, updated_at`

// SubscriptionState is a full snapshot of a subscription as reported by the
// processor. EventAt orders snapshots; older ones are ignored.
type SubscriptionState struct {
	UserID             int64
	ExternalID         string
	Plan               string
	Status             enums.SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	EventAt            time.Time
	SessionRef         string
}

type SubscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

// Get returns nil without error when the user never had a subscription row.
func (r *SubscriptionRepo) Get(ctx context.Context, tx pgx.Tx, userID int64) (*model.Subscription, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return nil, err
	}
	if userID <= 0 {
		return nil, errInvalidSubscriptionPayload
	}

	sub, err := scanSubscription(q.QueryRow(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE user_id = $1
LIMIT 1
`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	return &sub, nil
}

// UserIDByExternalID maps a processor subscription id back to its user.
func (r *SubscriptionRepo) UserIDByExternalID(ctx context.Context, externalID string) (int64, error) {
	if r.pool == nil {
		return 0, errPoolNil
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return 0, errInvalidSubscriptionPayload
	}

	var userID int64
	if err := r.pool.QueryRow(ctx, `
SELECT user_id
FROM subscriptions
WHERE external_id = $1
LIMIT 1
`, externalID).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrSubscriptionNotFound
		}
		return 0, fmt.Errorf("find subscription by external id: %w", err)
	}
	return userID, nil
}

func (r *SubscriptionRepo) MarkPending(ctx context.Context, userID int64, plan, sessionRef string, at time.Time) error {
	if r.pool == nil {
		return errPoolNil
	}
	sessionRef = strings.TrimSpace(sessionRef)
	if userID <= 0 || sessionRef == "" {
		return errInvalidSubscriptionPayload
	}

	if _, err := r.pool.Exec(ctx, `
INSERT INTO subscriptions (
	user_id,
	plan,
	cancel_at_period_end,
	legacy_paid,
	pending_session_ref,
	pending_since,
	updated_at
) VALUES ($1, $2, FALSE, FALSE, $3, $4, NOW())
ON CONFLICT (user_id) DO UPDATE SET
	pending_session_ref = EXCLUDED.pending_session_ref,
	pending_since = EXCLUDED.pending_since,
	updated_at = NOW()
`, userID, strings.TrimSpace(plan), sessionRef, at.UTC()); err != nil {
		return fmt.Errorf("mark subscription change pending: %w", err)
	}

	return nil
}

// ApplyState upserts the snapshot when it is newer than the last applied one.
// The bool result reports whether anything was written.
func (r *SubscriptionRepo) ApplyState(ctx context.Context, tx pgx.Tx, state SubscriptionState) (model.Subscription, bool, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.Subscription{}, false, err
	}
	if state.UserID <= 0 || state.EventAt.IsZero() {
		return model.Subscription{}, false, errInvalidSubscriptionPayload
	}

	updated, err := scanSubscription(q.QueryRow(ctx, `
INSERT INTO subscriptions (
	user_id,
	external_id,
	plan,
	status,
	current_period_start,
	current_period_end,
	cancel_at_period_end,
	legacy_paid,
	last_event_at,
	updated_at
) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, FALSE, $8, NOW())
ON CONFLICT (user_id) DO UPDATE SET
	external_id = COALESCE(EXCLUDED.external_id, subscriptions.external_id),
	plan = CASE WHEN EXCLUDED.plan = '' THEN subscriptions.plan ELSE EXCLUDED.plan END,
	status = EXCLUDED.status,
	current_period_start = EXCLUDED.current_period_start,
	current_period_end = EXCLUDED.current_period_end,
	cancel_at_period_end = EXCLUDED.cancel_at_period_end,
	pending_session_ref = CASE
		WHEN subscriptions.pending_session_ref = NULLIF($9, '') THEN NULL
		ELSE subscriptions.pending_session_ref
	END,
	pending_since = CASE
		WHEN subscriptions.pending_session_ref = NULLIF($9, '') THEN NULL
		ELSE subscriptions.pending_since
	END,
	last_event_at = EXCLUDED.last_event_at,
	updated_at = NOW()
WHERE subscriptions.last_event_at IS NULL
   OR subscriptions.last_event_at < EXCLUDED.last_event_at
RETURNING `+subscriptionColumns,
		state.UserID,
		strings.TrimSpace(state.ExternalID),
		strings.TrimSpace(state.Plan),
		string(state.Status),
		state.CurrentPeriodStart,
		state.CurrentPeriodEnd,
		state.CancelAtPeriodEnd,
		state.EventAt.UTC(),
		strings.TrimSpace(state.SessionRef),
	))
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Subscription{}, false, fmt.Errorf("apply subscription state: %w", err)
	}

	existing, err := r.Get(ctx, tx, state.UserID)
	if err != nil {
		return model.Subscription{}, false, err
	}
	if existing == nil {
		return model.Subscription{}, false, ErrSubscriptionNotFound
	}
	return *existing, false, nil
}

func (r *SubscriptionRepo) ClearPending(ctx context.Context, userID int64, sessionRef string) (bool, error) {
	if r.pool == nil {
		return false, errPoolNil
	}
	if userID <= 0 || strings.TrimSpace(sessionRef) == "" {
		return false, errInvalidSubscriptionPayload
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE subscriptions
SET
	pending_session_ref = NULL,
	pending_since = NULL,
	updated_at = NOW()
WHERE user_id = $1
  AND pending_session_ref = $2
`, userID, strings.TrimSpace(sessionRef))
	if err != nil {
		return false, fmt.Errorf("clear pending subscription change: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *SubscriptionRepo) SetCancelAtPeriodEnd(ctx context.Context, userID int64, cancel bool) (model.Subscription, error) {
	if r.pool == nil {
		return model.Subscription{}, errPoolNil
	}
	if userID <= 0 {
		return model.Subscription{}, errInvalidSubscriptionPayload
	}

	updated, err := scanSubscription(r.pool.QueryRow(ctx, `
UPDATE subscriptions
SET
	cancel_at_period_end = $2,
	updated_at = NOW()
WHERE user_id = $1
RETURNING `+subscriptionColumns, userID, cancel))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Subscription{}, ErrSubscriptionNotFound
		}
		return model.Subscription{}, fmt.Errorf("set cancel at period end: %w", err)
	}

	return updated, nil
}

func (r *SubscriptionRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Subscription, error) {
	if r.pool == nil {
		return nil, errPoolNil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE pending_session_ref IS NOT NULL
  AND pending_since < $1
ORDER BY pending_since ASC
LIMIT $2
`, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending subscriptions: %w", err)
	}
	defer rows.Close()

	items := make([]model.Subscription, 0, limit)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale pending subscription: %w", err)
		}
		items = append(items, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale pending subscriptions: %w", err)
	}

	return items, nil
}

func scanSubscription(row pgx.Row) (model.Subscription, error) {
	var (
		sub        model.Subscription
		externalID *string
		status     *string
	)
	if err := row.Scan(
		&sub.UserID,
		&externalID,
		&sub.Plan,
		&status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd,
		&sub.LegacyPaidFlag,
		&sub.PendingSessionRef,
		&sub.PendingSince,
		&sub.LastEventAt,
		&sub.UpdatedAt,
	); err != nil {
		return model.Subscription{}, err
	}
	if externalID != nil {
		sub.ExternalID = *externalID
	}
	if status != nil {
		if parsed, ok := enums.ParseSubscriptionStatus(*status); ok {
			sub.Status = &parsed
		}
	}
	return sub, nil
}
