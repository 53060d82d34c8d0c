// Copyright 2026 The Cargolift Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cargolift/cargolift/internal/session"
)

// RefreshTokenRepository implements session.RefreshTokenRepository
type RefreshTokenRepository struct {
	db *DB
}

// NewRefreshTokenRepository creates a new refresh token repository
func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create inserts a new refresh token record
func (r *RefreshTokenRepository) Create(ctx context.Context, token *session.RefreshToken) error {
	var revokedAt sql.NullTime
	if token.RevokedAt != nil {
		revokedAt = sql.NullTime{Time: *token.RevokedAt, Valid: true}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, user_id, family_id, token_hash, fingerprint,
			status, created_at, expires_at, revoked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		token.ID, token.UserID, token.FamilyID, token.TokenHash, token.Fingerprint,
		string(token.Status), token.CreatedAt, token.ExpiresAt, revokedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}

	return nil
}

// GetByTokenHash retrieves a refresh token record by secret hash
func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*session.RefreshToken, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT id, user_id, family_id, token_hash, fingerprint,
		       status, created_at, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash)

	return scanRefreshToken(row)
}

// MarkUsed transitions a record from Active to Used. The status predicate
// makes the transition a compare-and-swap: of two concurrent rotations,
// exactly one sees a row affected.
func (r *RefreshTokenRepository) MarkUsed(ctx context.Context, id string) (bool, error) {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET status = 'used'
		WHERE id = $1 AND status = 'active'
	`, id)

	if err != nil {
		return false, fmt.Errorf("failed to mark refresh token used: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Revoke marks a single record Revoked
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET status = 'revoked', revoked_at = $2
		WHERE id = $1 AND status <> 'revoked'
	`, id, time.Now())

	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Already revoked: revocation is idempotent.
		return nil
	}

	return nil
}

// RevokeFamily revokes every non-revoked record in the family. A single
// set-based UPDATE, so a record inserted by a concurrent rotation commits
// either before the update (and is caught) or after the loser's family
// lookup fails closed.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET status = 'revoked', revoked_at = $2
		WHERE family_id = $1 AND status <> 'revoked'
	`, familyID, time.Now())

	if err != nil {
		return fmt.Errorf("failed to revoke token family: %w", err)
	}

	return nil
}

// ListByFamily retrieves all records sharing a family id
func (r *RefreshTokenRepository) ListByFamily(ctx context.Context, familyID string) ([]*session.RefreshToken, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, user_id, family_id, token_hash, fingerprint,
		       status, created_at, expires_at, revoked_at
		FROM refresh_tokens
		WHERE family_id = $1
		ORDER BY created_at
	`, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list token family: %w", err)
	}
	defer rows.Close()

	var tokens []*session.RefreshToken
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

// DeleteExpired removes records whose expiry predates the cutoff
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < $1
	`, before)

	if err != nil {
		return fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}

	return nil
}

func scanRefreshToken(row pgx.Row) (*session.RefreshToken, error) {
	var token session.RefreshToken
	var status string
	var revokedAt sql.NullTime

	err := row.Scan(
		&token.ID, &token.UserID, &token.FamilyID, &token.TokenHash, &token.Fingerprint,
		&status, &token.CreatedAt, &token.ExpiresAt, &revokedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, session.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to scan refresh token: %w", err)
	}

	token.Status = session.Status(status)
	if revokedAt.Valid {
		token.RevokedAt = &revokedAt.Time
	}

	return &token, nil
}
