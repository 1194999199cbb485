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

const (
	purchaseSessionConstraint       = "purchases_external_session_id_key"
	purchaseConfirmedPairConstraint = "purchases_confirmed_pair_uidx"
)

var (
	ErrPurchaseNotFound       = errors.New("purchase not found")
	ErrSessionConflict        = errors.New("session already attached to another purchase")
	ErrPairAlreadyConfirmed   = errors.New("buyer already holds a confirmed purchase for resource")
	errInvalidPurchasePayload = errors.New("invalid purchase payload")
)

// Failure reasons. A purchase failed as unknown or stale is still open to a
// later processor answer; only a definite failure closes it.
const (
	FailureReasonPaymentFailed = "payment_failed"
	FailureReasonUnknown       = "payment_unknown"
	FailureReasonStale         = "stale"
)

const purchaseColumns = `id, buyer_id, resource_id, request_id, amount, external_session_id, status, failure_reason, created_at, updated_at, confirmed_at`

type PurchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

func (r *PurchaseRepo) CreatePending(ctx context.Context, buyerID, resourceID int64, requestID *int64, amount int64) (model.Purchase, error) {
	if r.pool == nil {
		return model.Purchase{}, errPoolNil
	}
	if buyerID <= 0 || resourceID <= 0 || amount < 0 {
		return model.Purchase{}, errInvalidPurchasePayload
	}

	purchase, err := scanPurchase(r.pool.QueryRow(ctx, `
INSERT INTO purchases (
	buyer_id,
	resource_id,
	request_id,
	amount,
	status,
	failure_reason,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, 'pending', '', NOW(), NOW())
RETURNING `+purchaseColumns, buyerID, resourceID, requestID, amount))
	if err != nil {
		return model.Purchase{}, fmt.Errorf("create pending purchase: %w", err)
	}

	return purchase, nil
}

func (r *PurchaseRepo) AttachSession(ctx context.Context, purchaseID int64, sessionRef string) error {
	if r.pool == nil {
		return errPoolNil
	}
	sessionRef = strings.TrimSpace(sessionRef)
	if purchaseID <= 0 || sessionRef == "" {
		return errInvalidPurchasePayload
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE purchases
SET
	external_session_id = $2,
	updated_at = NOW()
WHERE id = $1
  AND status = 'pending'
  AND external_session_id IS NULL
`, purchaseID, sessionRef)
	if err != nil {
		if isUniqueViolation(err, purchaseSessionConstraint) {
			return ErrSessionConflict
		}
		return fmt.Errorf("attach purchase session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}

func (r *PurchaseRepo) FindByID(ctx context.Context, tx pgx.Tx, purchaseID int64) (model.Purchase, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.Purchase{}, err
	}
	if purchaseID <= 0 {
		return model.Purchase{}, errInvalidPurchasePayload
	}

	purchase, err := scanPurchase(q.QueryRow(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE id = $1
LIMIT 1
`, purchaseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Purchase{}, ErrPurchaseNotFound
		}
		return model.Purchase{}, fmt.Errorf("find purchase by id: %w", err)
	}

	return purchase, nil
}

func (r *PurchaseRepo) FindBySession(ctx context.Context, sessionRef string) (model.Purchase, error) {
	if r.pool == nil {
		return model.Purchase{}, errPoolNil
	}
	sessionRef = strings.TrimSpace(sessionRef)
	if sessionRef == "" {
		return model.Purchase{}, errInvalidPurchasePayload
	}

	purchase, err := scanPurchase(r.pool.QueryRow(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE external_session_id = $1
LIMIT 1
`, sessionRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Purchase{}, ErrPurchaseNotFound
		}
		return model.Purchase{}, fmt.Errorf("find purchase by session: %w", err)
	}

	return purchase, nil
}

func (r *PurchaseRepo) HasConfirmed(ctx context.Context, tx pgx.Tx, buyerID, resourceID int64) (bool, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return false, err
	}
	if buyerID <= 0 || resourceID <= 0 {
		return false, errInvalidPurchasePayload
	}

	var exists bool
	if err := q.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1
	FROM purchases
	WHERE buyer_id = $1
	  AND resource_id = $2
	  AND status = 'confirmed'
)
`, buyerID, resourceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check confirmed purchase: %w", err)
	}

	return exists, nil
}

// MarkConfirmed moves a purchase to confirmed. The bool result is false when
// the purchase was already confirmed and nothing was written.
func (r *PurchaseRepo) MarkConfirmed(ctx context.Context, tx pgx.Tx, purchaseID int64, sessionRef string) (model.Purchase, bool, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.Purchase{}, false, err
	}
	if purchaseID <= 0 {
		return model.Purchase{}, false, errInvalidPurchasePayload
	}

	updated, err := scanPurchase(q.QueryRow(ctx, `
UPDATE purchases
SET
	external_session_id = COALESCE(external_session_id, NULLIF($2, '')),
	status = 'confirmed',
	failure_reason = '',
	confirmed_at = NOW(),
	updated_at = NOW()
WHERE id = $1
  AND status <> 'confirmed'
RETURNING `+purchaseColumns, purchaseID, strings.TrimSpace(sessionRef)))
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if isUniqueViolation(err, purchaseConfirmedPairConstraint) {
			return model.Purchase{}, false, ErrPairAlreadyConfirmed
		}
		return model.Purchase{}, false, fmt.Errorf("mark purchase confirmed: %w", err)
	}

	existing, err := r.FindByID(ctx, tx, purchaseID)
	if err != nil {
		return model.Purchase{}, false, err
	}
	return existing, false, nil
}

// MarkFailed fails pending purchases. A purchase already failed as unknown or
// stale is only moved to a definite payment failure. Confirmed purchases never
// revert.
func (r *PurchaseRepo) MarkFailed(ctx context.Context, purchaseID int64, reason string) (model.Purchase, bool, error) {
	if r.pool == nil {
		return model.Purchase{}, false, errPoolNil
	}
	if purchaseID <= 0 {
		return model.Purchase{}, false, errInvalidPurchasePayload
	}

	updated, err := scanPurchase(r.pool.QueryRow(ctx, `
UPDATE purchases
SET
	status = 'failed',
	failure_reason = $2,
	updated_at = NOW()
WHERE id = $1
  AND (
	status = 'pending'
	OR (status = 'failed' AND failure_reason IN ($3, $4) AND $2 = $5)
  )
RETURNING `+purchaseColumns,
		purchaseID, strings.TrimSpace(reason),
		FailureReasonUnknown, FailureReasonStale, FailureReasonPaymentFailed,
	))
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Purchase{}, false, fmt.Errorf("mark purchase failed: %w", err)
	}

	existing, err := r.FindByID(ctx, nil, purchaseID)
	if err != nil {
		return model.Purchase{}, false, err
	}
	return existing, false, nil
}

func (r *PurchaseRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Purchase, error) {
	return r.listPending(ctx, 0, cutoff, limit)
}

func (r *PurchaseRepo) ListStalePendingForBuyer(ctx context.Context, buyerID int64, cutoff time.Time, limit int) ([]model.Purchase, error) {
	if buyerID <= 0 {
		return nil, errInvalidPurchasePayload
	}
	return r.listPending(ctx, buyerID, cutoff, limit)
}

func (r *PurchaseRepo) listPending(ctx context.Context, buyerID int64, cutoff time.Time, limit int) ([]model.Purchase, error) {
	if r.pool == nil {
		return nil, errPoolNil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE status = 'pending'
  AND created_at < $1
  AND ($2::bigint = 0 OR buyer_id = $2)
ORDER BY created_at ASC
LIMIT $3
`, cutoff.UTC(), buyerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending purchases: %w", err)
	}
	defer rows.Close()

	items := make([]model.Purchase, 0, limit)
	for rows.Next() {
		purchase, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale pending purchase: %w", err)
		}
		items = append(items, purchase)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale pending purchases: %w", err)
	}

	return items, nil
}

// ListUndecided returns purchases failed as unknown or stale that carry a
// checkout session and were created after since.
func (r *PurchaseRepo) ListUndecided(ctx context.Context, since time.Time, limit int) ([]model.Purchase, error) {
	return r.listUndecided(ctx, 0, since, limit)
}

func (r *PurchaseRepo) ListUndecidedForBuyer(ctx context.Context, buyerID int64, since time.Time, limit int) ([]model.Purchase, error) {
	if buyerID <= 0 {
		return nil, errInvalidPurchasePayload
	}
	return r.listUndecided(ctx, buyerID, since, limit)
}

func (r *PurchaseRepo) listUndecided(ctx context.Context, buyerID int64, since time.Time, limit int) ([]model.Purchase, error) {
	if r.pool == nil {
		return nil, errPoolNil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE status = 'failed'
  AND failure_reason IN ($1, $2)
  AND external_session_id IS NOT NULL
  AND created_at >= $3
  AND ($4::bigint = 0 OR buyer_id = $4)
ORDER BY created_at ASC
LIMIT $5
`, FailureReasonUnknown, FailureReasonStale, since.UTC(), buyerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list undecided purchases: %w", err)
	}
	defer rows.Close()

	items := make([]model.Purchase, 0, limit)
	for rows.Next() {
		purchase, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan undecided purchase: %w", err)
		}
		items = append(items, purchase)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate undecided purchases: %w", err)
	}

	return items, nil
}

func scanPurchase(row pgx.Row) (model.Purchase, error) {
	var (
		purchase model.Purchase
		status   string
	)
	if err := row.Scan(
		&purchase.ID,
		&purchase.BuyerID,
		&purchase.ResourceID,
		&purchase.RequestID,
		&purchase.Amount,
		&purchase.ExternalSessionID,
		&status,
		&purchase.FailureReason,
		&purchase.CreatedAt,
		&purchase.UpdatedAt,
		&purchase.ConfirmedAt,
	); err != nil {
		return model.Purchase{}, err
	}
	purchase.Status = enums.PurchaseStatus(status)
	return purchase, nil
}
