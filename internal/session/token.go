package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"
)

// Domain errors. ErrInvalidToken, ErrExpiredToken and ErrReuseDetected all
// surface to the caller as the same "sign in again" outcome; the
// distinction exists for the audit trail and for internal handling.
var (
	ErrInvalidToken       = errors.New("invalid refresh token")
	ErrExpiredToken       = errors.New("refresh token expired")
	ErrReuseDetected      = errors.New("refresh token reuse detected")
	ErrInvalidAccessToken = errors.New("invalid access token")
)

// Status is the lifecycle state of a refresh token record. Used and
// Revoked are terminal; no record returns to Active.
type Status string

const (
	StatusActive  Status = "active"
	StatusUsed    Status = "used"
	StatusRevoked Status = "revoked"
)

// RefreshToken is one outstanding session-renewal credential. Only the
// SHA-256 hash of the secret is stored; the plaintext leaves the process
// in the sign-in or rotation response and is never seen again.
//
// FamilyID is shared by every token descended from one sign-in. Redeeming
// a dead member proves replay or a leaked secret, so reuse detection kills
// the whole family, not just the one record.
type RefreshToken struct {
	ID          string
	UserID      string
	FamilyID    string
	TokenHash   string
	Fingerprint string
	Status      Status
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// IsExpired checks if the token has passed its expiry time
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// RefreshTokenRepository defines the interface for refresh token
// persistence. Implementations must make MarkUsed an atomic
// compare-and-transition and RevokeFamily a set-based update, per the
// rotation race and cascade requirements the service relies on.
type RefreshTokenRepository interface {
	// Create inserts a new Active record.
	Create(ctx context.Context, token *RefreshToken) error

	// GetByTokenHash retrieves a record by secret hash, any status.
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// MarkUsed transitions a record from Active to Used. It reports
	// false when the record was no longer Active, which is how exactly
	// one of two concurrent rotations wins.
	MarkUsed(ctx context.Context, id string) (bool, error)

	// Revoke marks a single record Revoked.
	Revoke(ctx context.Context, id string) error

	// RevokeFamily marks every non-revoked record in the family Revoked
	// in one set-based update, so a record inserted by a concurrent
	// rotation is caught too.
	RevokeFamily(ctx context.Context, familyID string) error

	// ListByFamily retrieves all records sharing a family id.
	ListByFamily(ctx context.Context, familyID string) ([]*RefreshToken, error)

	// DeleteExpired removes records whose expiry predates the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) error
}

// generateSecret returns a fresh opaque refresh-token secret.
func generateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// HashSecret derives the storage hash for a refresh-token secret.
func HashSecret(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
