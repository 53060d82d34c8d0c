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

package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cargolift/cargolift/internal/audit"
	"github.com/cargolift/cargolift/internal/authz"
	"github.com/cargolift/cargolift/internal/identity"
	"github.com/cargolift/cargolift/internal/session"
)

// memoryTokenRepo is an in-memory session.RefreshTokenRepository with the
// same atomicity semantics the postgres implementation provides.
type memoryTokenRepo struct {
	mu     sync.Mutex
	byID   map[string]*session.RefreshToken
	byHash map[string]string // token hash -> id
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{
		byID:   make(map[string]*session.RefreshToken),
		byHash: make(map[string]string),
	}
}

func (m *memoryTokenRepo) Create(ctx context.Context, token *session.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *token
	m.byID[token.ID] = &clone
	m.byHash[token.TokenHash] = token.ID
	return nil
}

func (m *memoryTokenRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*session.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[tokenHash]
	if !ok {
		return nil, session.ErrInvalidToken
	}
	clone := *m.byID[id]
	return &clone, nil
}

func (m *memoryTokenRepo) MarkUsed(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.byID[id]
	if !ok || token.Status != session.StatusActive {
		return false, nil
	}
	token.Status = session.StatusUsed
	return true, nil
}

func (m *memoryTokenRepo) Revoke(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.byID[id]; ok && token.Status != session.StatusRevoked {
		now := time.Now()
		token.Status = session.StatusRevoked
		token.RevokedAt = &now
	}
	return nil
}

func (m *memoryTokenRepo) RevokeFamily(ctx context.Context, familyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, token := range m.byID {
		if token.FamilyID == familyID && token.Status != session.StatusRevoked {
			token.Status = session.StatusRevoked
			token.RevokedAt = &now
		}
	}
	return nil
}

func (m *memoryTokenRepo) ListByFamily(ctx context.Context, familyID string) ([]*session.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tokens []*session.RefreshToken
	for _, token := range m.byID {
		if token.FamilyID == familyID {
			clone := *token
			tokens = append(tokens, &clone)
		}
	}
	return tokens, nil
}

func (m *memoryTokenRepo) DeleteExpired(ctx context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, token := range m.byID {
		if token.ExpiresAt.Before(before) {
			delete(m.byHash, token.TokenHash)
			delete(m.byID, id)
		}
	}
	return nil
}

// expire backdates a record's expiry, for expiry-path tests.
func (m *memoryTokenRepo) expire(t *testing.T, secret string) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[session.HashSecret(secret)]
	if !ok {
		t.Fatal("no record for secret")
	}
	m.byID[id].ExpiresAt = time.Now().Add(-time.Minute)
}

func (m *memoryTokenRepo) status(t *testing.T, secret string) session.Status {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[session.HashSecret(secret)]
	if !ok {
		t.Fatal("no record for secret")
	}
	return m.byID[id].Status
}

type mockUserRepo struct {
	users map[string]*identity.User // keyed by email
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*identity.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

type nopAuditLogger struct{}

func (nopAuditLogger) Log(ctx context.Context, event audit.Event) {}

func testSource() session.Source {
	return session.Source{IP: "203.0.113.7", UserAgent: "test-agent", AcceptLanguage: "en-US"}
}

func newTestService(t *testing.T) (*session.Service, *memoryTokenRepo) {
	t.Helper()

	// Minimal argon2 parameters keep the test fast.
	hasher := identity.NewPasswordHasher(8, 1, 1, 16, 32)
	hash, err := hasher.Hash("hunter2!")
	require.NoError(t, err)

	users := &mockUserRepo{users: map[string]*identity.User{
		"c1@example.com": {
			ID: "u-c1", Email: "c1@example.com", PasswordHash: hash,
			Role: authz.RoleCustomer, CustomerID: "c1",
		},
	}}

	tokens := newMemoryTokenRepo()
	identitySvc := identity.NewService(users, hasher, nopAuditLogger{})

	svc, err := session.NewService(tokens, identitySvc, nopAuditLogger{}, session.Config{
		Issuer:          "https://auth.test",
		Audience:        "cargolift-test",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	return svc, tokens
}

func TestSession_SignIn_IssuesTokenPair(t *testing.T) {
	svc, tokens := newTestService(t)
	ctx := context.Background()

	pair, err := svc.SignIn(ctx, "c1@example.com", "hunter2!", testSource())
	require.NoError(t, err)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "u-c1", pair.Claims.UserID)
	assert.Equal(t, authz.RoleCustomer, pair.Claims.Role)
	assert.Equal(t, session.StatusActive, tokens.status(t, pair.RefreshToken))

	caller, err := svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, pair.Claims, caller)
}

func TestSession_SignIn_InvalidCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignIn(ctx, "c1@example.com", "wrong", testSource())
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	_, err = svc.SignIn(ctx, "nobody@example.com", "hunter2!", testSource())
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
}

// TestPurpose: Validates the single-use rotation invariant and the reuse cascade.
// Scope: Unit Test
// Security: Theft detection. Redeeming a dead token must kill the whole family.
// Expected: T0 rotates once; redeeming T0 again yields ReuseDetected and leaves T1 Revoked;
//           redeeming T1 afterwards yields InvalidToken.
func TestSession_Refresh_ReuseRevokesFamily(t *testing.T) {
	svc, tokens := newTestService(t)
	ctx := context.Background()

	pair0, err := svc.SignIn(ctx, "c1@example.com", "hunter2!", testSource())
	require.NoError(t, err)
	t0 := pair0.RefreshToken

	pair1, err := svc.Refresh(ctx, t0, testSource())
	require.NoError(t, err)
	t1 := pair1.RefreshToken

	assert.Equal(t, session.StatusUsed, tokens.status(t, t0))
	assert.Equal(t, session.StatusActive, tokens.status(t, t1))

	// Replay T0: the whole lineage dies.
	_, err = svc.Refresh(ctx, t0, testSource())
	assert.ErrorIs(t, err, session.ErrReuseDetected)
	assert.Equal(t, session.StatusRevoked, tokens.status(t, t1))

	// T1 is Revoked now; its family has already been handled.
	_, err = svc.Refresh(ctx, t1, testSource())
	assert.ErrorIs(t, err, session.ErrInvalidToken)
}

func TestSession_Refresh_UnknownSecret(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Refresh(context.Background(), "never-issued", testSource())
	assert.ErrorIs(t, err, session.ErrInvalidToken)
}

// TestPurpose: Validates the expiry path of the rotation state machine.
// Scope: Unit Test
// Expected: An expired Active token yields ExpiredToken, transitions to Revoked, and no successor is minted.
func TestSession_Refresh_Expired(t *testing.T) {
	svc, tokens := newTestService(t)
	ctx := context.Background()

	pair, err := svc.SignIn(ctx, "c1@example.com", "hunter2!", testSource())
	require.NoError(t, err)

	tokens.expire(t, pair.RefreshToken)

	_, err = svc.Refresh(ctx, pair.RefreshToken, testSource())
	assert.ErrorIs(t, err, session.ErrExpiredToken)
	assert.Equal(t, session.StatusRevoked, tokens.status(t, pair.RefreshToken))

	family, err := tokens.ListByFamily(ctx, familyOf(t, tokens, pair.RefreshToken))
	require.NoError(t, err)
	assert.Len(t, family, 1, "no successor must be minted for an expired token")
}

// TestPurpose: Validates that a fingerprint change between issuance and rotation does not block rotation.
// Scope: Unit Test
// Expected: Rotation succeeds from a different network and browser; the drift is a log-only signal.
func TestSession_Refresh_FingerprintDriftDoesNotBlock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.SignIn(ctx, "c1@example.com", "hunter2!", testSource())
	require.NoError(t, err)

	drifted := session.Source{IP: "198.51.100.23", UserAgent: "other-agent", AcceptLanguage: "de-DE"}
	next, err := svc.Refresh(ctx, pair.RefreshToken, drifted)
	require.NoError(t, err)
	assert.NotEmpty(t, next.RefreshToken)
}

func TestSession_Refresh_StaysInFamily(t *testing.T) {
	svc, tokens := newTestService(t)
	ctx := context.Background()

	pair, err := svc.SignIn(ctx, "c1@example.com", "hunter2!", testSource())
	require.NoError(t, err)

	family := familyOf(t, tokens, pair.RefreshToken)

	current := pair.RefreshToken
	for i := 0; i < 3; i++ {
		next, err := svc.Refresh(ctx, current, testSource())
		require.NoError(t, err)
		assert.Equal(t, family, familyOf(t, tokens, next.RefreshToken))
		current = next.RefreshToken
	}

	records, err := tokens.ListByFamily(ctx, family)
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

// TestPurpose: Validates that sign-out revokes only the presented token, not its family.
// Scope: Unit Test
// Expected: Single-device sign-out; a concurrently issued sibling stays usable.
func TestSession_SignOut_SingleDevice(t *testing.T) {
	svc, tokens := newTestService(t)
	ctx := context.Background()

	// Two sign-ins are two families, but the property worth proving is
	// within one family: rotate, then sign out the successor; the Used
	// predecessor stays Used, not Revoked.
	pair0, err := svc.SignIn(ctx, "c1@example.com", "hunter2!", testSource())
	require.NoError(t, err)
	pair1, err := svc.Refresh(ctx, pair0.RefreshToken, testSource())
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx, pair1.RefreshToken))

	assert.Equal(t, session.StatusRevoked, tokens.status(t, pair1.RefreshToken))
	assert.Equal(t, session.StatusUsed, tokens.status(t, pair0.RefreshToken))

	// A signed-out token presented again is invalid, with no cascade left
	// to trigger.
	_, err = svc.Refresh(ctx, pair1.RefreshToken, testSource())
	assert.ErrorIs(t, err, session.ErrInvalidToken)
}

// TestPurpose: Validates that concurrent rotations of one token produce exactly one winner.
// Scope: Unit Test (concurrency)
// Security: The rotation race is the theft-detection boundary; both succeeding would double-mint.
// Expected: One rotation succeeds, every other observes reuse, and the family ends revoked.
func TestSession_Refresh_ConcurrentSingleWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.SignIn(ctx, "c1@example.com", "hunter2!", testSource())
	require.NoError(t, err)

	const rotations = 8
	errs := make(chan error, rotations)
	var wg sync.WaitGroup
	for i := 0; i < rotations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, pair.RefreshToken, testSource())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, dead int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, session.ErrReuseDetected):
			dead++
		case errors.Is(err, session.ErrInvalidToken):
			// A straggler can observe the record after the reuse cascade
			// already revoked it.
			dead++
		default:
			t.Errorf("unexpected rotation error: %v", err)
		}
	}

	assert.Equal(t, 1, wins, "exactly one rotation must win")
	assert.Equal(t, rotations-1, dead)
}

func TestSession_ValidateAccessToken_Failures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.SignIn(ctx, "c1@example.com", "hunter2!", testSource())
	require.NoError(t, err)

	// A second service has a different signing key. Every failure mode
	// collapses to the same error.
	other, _ := newTestService(t)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"tampered", pair.AccessToken + "x"},
		{"wrong key", pair.AccessToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := other.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, session.ErrInvalidAccessToken)
		})
	}
}

func familyOf(t *testing.T, tokens *memoryTokenRepo, secret string) string {
	t.Helper()
	record, err := tokens.GetByTokenHash(context.Background(), session.HashSecret(secret))
	require.NoError(t, err)
	return record.FamilyID
}
