package identity

import (
	"context"
	"errors"
	"time"

	"github.com/cargolift/cargolift/internal/authz"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is an account on the booking platform as this subsystem sees it:
// the identity claims needed to mint tokens, nothing more. Account CRUD
// lives elsewhere; this subsystem only reads.
//
// Role and the two link ids obey the caller-identity invariant: a customer
// account carries CustomerID and never PilotID, a pilot account the
// reverse, an administrator neither.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         authz.Role
	CustomerID   string
	PilotID      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CallerIdentity projects the account onto the authorization claims.
func (u *User) CallerIdentity() authz.CallerIdentity {
	return authz.CallerIdentity{
		UserID:     u.ID,
		Role:       u.Role,
		CustomerID: u.CustomerID,
		PilotID:    u.PilotID,
	}
}

// UserRepository defines the read surface this subsystem needs from the
// account store.
type UserRepository interface {
	// GetByEmail retrieves a user by email address
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByID retrieves a user by id
	GetByID(ctx context.Context, id string) (*User, error)
}
