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

var ErrUserNotFound = errors.New("user not found")

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Get(ctx context.Context, userID int64) (model.User, error) {
	if r.pool == nil {
		return model.User{}, errPoolNil
	}
	if userID <= 0 {
		return model.User{}, ErrUserNotFound
	}

	var (
		user  model.User
		role  string
		email *string
		phone *string
	)
	err := r.pool.QueryRow(ctx, `
SELECT id, role, display_name, email, phone, created_at
FROM users
WHERE id = $1
LIMIT 1
`, userID).Scan(&user.ID, &role, &user.Contact.DisplayName, &email, &phone, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("get user: %w", err)
	}

	user.Role = enums.Role(role)
	if email != nil {
		user.Contact.Email = *email
	}
	if phone != nil {
		user.Contact.Phone = *phone
	}
	return user, nil
}

func (r *UserRepo) GetContact(ctx context.Context, userID int64) (model.Contact, error) {
	user, err := r.Get(ctx, userID)
	if err != nil {
		return model.Contact{}, err
	}
	return user.Contact, nil
}
