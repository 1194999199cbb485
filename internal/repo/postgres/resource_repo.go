package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
)

var ErrResourceNotFound = errors.New("resource not found")

const resourceColumns = `id, owner_id, owner_role, kind, headline, subject, description, created_at, updated_at`

type ResourceRepo struct {
	pool *pgxpool.Pool
}

func NewResourceRepo(pool *pgxpool.Pool) *ResourceRepo {
	return &ResourceRepo{pool: pool}
}

func (r *ResourceRepo) Get(ctx context.Context, resourceID int64) (model.Resource, error) {
	if r.pool == nil {
		return model.Resource{}, errPoolNil
	}
	if resourceID <= 0 {
		return model.Resource{}, ErrResourceNotFound
	}

	res, err := scanResource(r.pool.QueryRow(ctx, `
SELECT `+resourceColumns+`
FROM resources
WHERE id = $1
LIMIT 1
`, resourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Resource{}, ErrResourceNotFound
		}
		return model.Resource{}, fmt.Errorf("get resource: %w", err)
	}

	return res, nil
}

func (r *ResourceRepo) Create(ctx context.Context, res model.Resource) (model.Resource, error) {
	if r.pool == nil {
		return model.Resource{}, errPoolNil
	}

	created, err := scanResource(r.pool.QueryRow(ctx, `
INSERT INTO resources (
	owner_id,
	owner_role,
	kind,
	headline,
	subject,
	description,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
RETURNING `+resourceColumns,
		res.OwnerID,
		string(res.OwnerRole),
		string(res.Kind),
		res.Headline,
		res.Subject,
		res.Description,
	))
	if err != nil {
		return model.Resource{}, fmt.Errorf("create resource: %w", err)
	}

	return created, nil
}

func (r *ResourceRepo) Update(ctx context.Context, res model.Resource) (model.Resource, error) {
	if r.pool == nil {
		return model.Resource{}, errPoolNil
	}

	updated, err := scanResource(r.pool.QueryRow(ctx, `
UPDATE resources
SET
	headline = $3,
	subject = $4,
	description = $5,
	updated_at = NOW()
WHERE id = $1
  AND owner_id = $2
RETURNING `+resourceColumns,
		res.ID,
		res.OwnerID,
		res.Headline,
		res.Subject,
		res.Description,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Resource{}, ErrResourceNotFound
		}
		return model.Resource{}, fmt.Errorf("update resource: %w", err)
	}

	return updated, nil
}

func scanResource(row pgx.Row) (model.Resource, error) {
	var (
		res       model.Resource
		ownerRole string
		kind      string
	)
	if err := row.Scan(
		&res.ID,
		&res.OwnerID,
		&ownerRole,
		&kind,
		&res.Headline,
		&res.Subject,
		&res.Description,
		&res.CreatedAt,
		&res.UpdatedAt,
	); err != nil {
		return model.Resource{}, err
	}
	res.OwnerRole = enums.Role(ownerRole)
	res.Kind = enums.ResourceKind(kind)
	return res, nil
}
