package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cargolift/cargolift/internal/authz"
	"github.com/cargolift/cargolift/internal/identity"
)

// UserRepository implements identity.UserRepository
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByEmail retrieves a user by email address
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return r.get(ctx, "email", email)
}

// GetByID retrieves a user by id
func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	return r.get(ctx, "id", id)
}

func (r *UserRepository) get(ctx context.Context, column, value string) (*identity.User, error) {
	var user identity.User
	var role string
	var customerID, pilotID sql.NullString

	err := r.db.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, email, password_hash, role, customer_id, pilot_id, created_at, updated_at
		FROM users
		WHERE %s = $1
	`, column), value).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &role,
		&customerID, &pilotID, &user.CreatedAt, &user.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Role = authz.Role(role)
	if customerID.Valid {
		user.CustomerID = customerID.String
	}
	if pilotID.Valid {
		user.PilotID = pilotID.String
	}

	return &user, nil
}
