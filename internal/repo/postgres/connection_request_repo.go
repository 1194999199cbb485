package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
)

const connectionRequesterResourceConstraint = "connection_requests_requester_resource_key"

var (
	ErrConnectionRequestNotFound = errors.New("connection request not found")
	ErrConnectionRequestExists   = errors.New("connection request already exists")
	errInvalidConnectionPayload  = errors.New("invalid connection request payload")
)

const connectionColumns = `id, requester_id, provider_id, resource_id, status, grant_reason, message, created_at, granted_at, rejected_at`

type ConnectionRequestRepo struct {
	pool *pgxpool.Pool
}

func NewConnectionRequestRepo(pool *pgxpool.Pool) *ConnectionRequestRepo {
	return &ConnectionRequestRepo{pool: pool}
}

func (r *ConnectionRequestRepo) Create(ctx context.Context, requesterID, providerID, resourceID int64, message string) (model.ConnectionRequest, error) {
	if r.pool == nil {
		return model.ConnectionRequest{}, errPoolNil
	}
	if requesterID <= 0 || providerID <= 0 || resourceID <= 0 {
		return model.ConnectionRequest{}, errInvalidConnectionPayload
	}

	created, err := scanConnectionRequest(r.pool.QueryRow(ctx, `
INSERT INTO connection_requests (
	requester_id,
	provider_id,
	resource_id,
	status,
	grant_reason,
	message,
	created_at
) VALUES ($1, $2, $3, 'pending', 'none', $4, NOW())
RETURNING `+connectionColumns, requesterID, providerID, resourceID, message))
	if err != nil {
		if isUniqueViolation(err, connectionRequesterResourceConstraint) {
			return model.ConnectionRequest{}, ErrConnectionRequestExists
		}
		return model.ConnectionRequest{}, fmt.Errorf("create connection request: %w", err)
	}

	return created, nil
}

// FindByID locks the row when called inside a transaction.
func (r *ConnectionRequestRepo) FindByID(ctx context.Context, tx pgx.Tx, requestID int64) (model.ConnectionRequest, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.ConnectionRequest{}, err
	}
	if requestID <= 0 {
		return model.ConnectionRequest{}, errInvalidConnectionPayload
	}

	query := `
SELECT ` + connectionColumns + `
FROM connection_requests
WHERE id = $1
LIMIT 1`
	if tx != nil {
		query += `
FOR UPDATE`
	}

	found, err := scanConnectionRequest(q.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConnectionRequest{}, ErrConnectionRequestNotFound
		}
		return model.ConnectionRequest{}, fmt.Errorf("find connection request: %w", err)
	}

	return found, nil
}

// Grant is a compare-and-swap from pending. A false result means another
// writer moved the request first; the current row is returned.
func (r *ConnectionRequestRepo) Grant(ctx context.Context, tx pgx.Tx, requestID int64, reason enums.GrantReason, at time.Time) (model.ConnectionRequest, bool, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.ConnectionRequest{}, false, err
	}
	if requestID <= 0 || reason == enums.GrantReasonNone || reason == "" {
		return model.ConnectionRequest{}, false, errInvalidConnectionPayload
	}

	updated, err := scanConnectionRequest(q.QueryRow(ctx, `
UPDATE connection_requests
SET
	status = 'purchased',
	grant_reason = $2,
	granted_at = $3
WHERE id = $1
  AND status = 'pending'
RETURNING `+connectionColumns, requestID, string(reason), at.UTC()))
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.ConnectionRequest{}, false, fmt.Errorf("grant connection request: %w", err)
	}

	existing, err := r.FindByID(ctx, nil, requestID)
	if err != nil {
		return model.ConnectionRequest{}, false, err
	}
	return existing, false, nil
}

func (r *ConnectionRequestRepo) Reject(ctx context.Context, tx pgx.Tx, requestID int64, at time.Time) (model.ConnectionRequest, bool, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.ConnectionRequest{}, false, err
	}
	if requestID <= 0 {
		return model.ConnectionRequest{}, false, errInvalidConnectionPayload
	}

	updated, err := scanConnectionRequest(q.QueryRow(ctx, `
UPDATE connection_requests
SET
	status = 'rejected',
	rejected_at = $2
WHERE id = $1
  AND status = 'pending'
RETURNING `+connectionColumns, requestID, at.UTC()))
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.ConnectionRequest{}, false, fmt.Errorf("reject connection request: %w", err)
	}

	existing, err := r.FindByID(ctx, nil, requestID)
	if err != nil {
		return model.ConnectionRequest{}, false, err
	}
	return existing, false, nil
}

func scanConnectionRequest(row pgx.Row) (model.ConnectionRequest, error) {
	var (
		req    model.ConnectionRequest
		status string
		reason string
	)
	if err := row.Scan(
		&req.ID,
		&req.RequesterID,
		&req.ProviderID,
		&req.ResourceID,
		&status,
		&reason,
		&req.Message,
		&req.CreatedAt,
		&req.GrantedAt,
		&req.RejectedAt,
	); err != nil {
		return model.ConnectionRequest{}, err
	}
	req.Status = enums.ConnectionStatus(status)
	req.GrantReason = enums.GrantReason(reason)
	return req, nil
}
