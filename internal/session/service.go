package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cargolift/cargolift/internal/audit"
	"github.com/cargolift/cargolift/internal/authz"
	"github.com/cargolift/cargolift/internal/id"
	"github.com/cargolift/cargolift/internal/identity"
)

// Config holds token service configuration
type Config struct {
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// SigningKey signs access tokens. When nil, a fresh RSA key is
	// generated at startup; restarts then invalidate outstanding access
	// tokens, which is acceptable for single-instance deployments.
	SigningKey *rsa.PrivateKey
}

// TokenPair is what sign-in and rotation return: a short-lived signed
// access token and the plaintext refresh secret, which is never stored.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int
	RefreshExpiresAt time.Time
	Claims           authz.CallerIdentity
}

// Service owns the refresh-token family state machine and access-token
// issuance. It is the only stateful component of the subsystem; all state
// lives in the token store, and the store operations it depends on are
// atomic per the repository contract.
type Service struct {
	tokens      RefreshTokenRepository
	identity    *identity.Service
	auditLogger audit.Logger

	issuer          string
	audience        string
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	signingKey      *rsa.PrivateKey
}

// NewService creates a new session/token service
func NewService(tokens RefreshTokenRepository, identitySvc *identity.Service, auditLogger audit.Logger, cfg Config) (*Service, error) {
	key := cfg.SigningKey
	if key == nil {
		var err error
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	}

	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = 10 * time.Minute
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}

	return &Service{
		tokens:          tokens,
		identity:        identitySvc,
		auditLogger:     auditLogger,
		issuer:          cfg.Issuer,
		audience:        cfg.Audience,
		accessTokenTTL:  accessTTL,
		refreshTokenTTL: refreshTTL,
		signingKey:      key,
	}, nil
}

// PublicKey exposes the verification key for the signed access tokens.
func (s *Service) PublicKey() *rsa.PublicKey {
	return &s.signingKey.PublicKey
}

// SignIn verifies credentials, mints a new refresh-token family bound to
// the request fingerprint, and issues the first access token.
func (s *Service) SignIn(ctx context.Context, email, password string, src Source) (*TokenPair, error) {
	user, err := s.identity.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}

	familyID := id.NewUUIDv7()
	pair, record, err := s.mint(ctx, user.CallerIdentity(), familyID, src)
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeSignIn,
		ActorID:   user.ID,
		Resource:  "session",
		IPAddress: src.IP,
		UserAgent: src.UserAgent,
		Metadata: map[string]any{
			"family_id": familyID,
			"record_id": record.ID,
		},
	})

	return pair, nil
}

// Refresh redeems a refresh-token secret. A refresh token is single-use:
// the presented record transitions to Used and a successor is minted in
// the same family. Redeeming a record that is already Used is the theft
// signal (either the secret leaked or this is a replay) and the whole
// family is revoked before the caller is told anything.
func (s *Service) Refresh(ctx context.Context, presentedSecret string, src Source) (*TokenPair, error) {
	record, err := s.tokens.GetByTokenHash(ctx, HashSecret(presentedSecret))
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			// Do not reveal whether the id existed.
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}

	switch record.Status {
	case StatusUsed:
		return nil, s.handleReuse(ctx, record, src)
	case StatusRevoked:
		// Already dead and its family already handled (reuse cascade,
		// sign-out, or admin action). No further cascade.
		return nil, ErrInvalidToken
	}

	if record.IsExpired() {
		if err := s.tokens.Revoke(ctx, record.ID); err != nil {
			return nil, fmt.Errorf("failed to revoke expired token: %w", err)
		}
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeTokenExpired,
			ActorID:  record.UserID,
			Resource: "refresh_token",
			Metadata: map[string]any{"family_id": record.FamilyID, "record_id": record.ID},
		})
		return nil, ErrExpiredToken
	}

	// Atomic transition: exactly one of two concurrent rotations of the
	// same record wins here. The loser observes "no longer Active" and is
	// handled as reuse.
	won, err := s.tokens.MarkUsed(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark token used: %w", err)
	}
	if !won {
		return nil, s.handleReuse(ctx, record, src)
	}

	// Fingerprint drift is logged as a soft signal only. Blocking here
	// would lock out every traveling or browser-updating user; the
	// single-use property above is the real defense.
	if fp := Fingerprint(src); fp != record.Fingerprint {
		slog.WarnContext(ctx, "refresh fingerprint mismatch",
			slog.String("user_id", record.UserID),
			slog.String("family_id", record.FamilyID),
		)
		s.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeFingerprintMismatch,
			ActorID:   record.UserID,
			Resource:  "refresh_token",
			IPAddress: src.IP,
			UserAgent: src.UserAgent,
			Metadata:  map[string]any{"family_id": record.FamilyID, "record_id": record.ID},
		})
	}

	// Claims are re-read at rotation so a role change lands at the next
	// refresh, not at the next sign-in.
	user, err := s.identity.GetByID(ctx, record.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user for rotation: %w", err)
	}
	caller := user.CallerIdentity()
	if err := caller.Validate(); err != nil {
		return nil, fmt.Errorf("inconsistent identity claims: %w", err)
	}

	pair, successor, err := s.mint(ctx, caller, record.FamilyID, src)
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTokenRotated,
		ActorID:   record.UserID,
		Resource:  "refresh_token",
		IPAddress: src.IP,
		UserAgent: src.UserAgent,
		Metadata: map[string]any{
			"family_id":    record.FamilyID,
			"record_id":    record.ID,
			"successor_id": successor.ID,
		},
	})

	return pair, nil
}

// SignOut revokes the presented refresh token only. Other devices in the
// family keep their sessions.
func (s *Service) SignOut(ctx context.Context, presentedSecret string) error {
	record, err := s.tokens.GetByTokenHash(ctx, HashSecret(presentedSecret))
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return ErrInvalidToken
		}
		return fmt.Errorf("failed to look up refresh token: %w", err)
	}

	if err := s.tokens.Revoke(ctx, record.ID); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSignOut,
		ActorID:  record.UserID,
		Resource: "session",
		Metadata: map[string]any{"family_id": record.FamilyID, "record_id": record.ID},
	})

	return nil
}

// RevokeFamily kills an entire session lineage. Administrative surface,
// used for incident response.
func (s *Service) RevokeFamily(ctx context.Context, familyID string) error {
	if err := s.tokens.RevokeFamily(ctx, familyID); err != nil {
		return fmt.Errorf("failed to revoke family: %w", err)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeFamilyRevoked,
		Resource: "refresh_token",
		Metadata: map[string]any{"family_id": familyID, "reason": "administrative"},
	})
	return nil
}

// ValidateAccessToken verifies signature, expiry, issuer and audience and
// returns the embedded claims. Every failure collapses to
// ErrInvalidAccessToken: expired, tampered and wrong-audience tokens are
// indistinguishable to the caller, so the response is not an oracle.
func (s *Service) ValidateAccessToken(tokenString string) (authz.CallerIdentity, error) {
	token, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) { return &s.signingKey.PublicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return authz.CallerIdentity{}, ErrInvalidAccessToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return authz.CallerIdentity{}, ErrInvalidAccessToken
	}

	caller := authz.CallerIdentity{
		UserID:     stringClaim(claims, "sub"),
		Role:       authz.Role(stringClaim(claims, "role")),
		CustomerID: stringClaim(claims, "customer_id"),
		PilotID:    stringClaim(claims, "pilot_id"),
	}
	if err := caller.Validate(); err != nil {
		return authz.CallerIdentity{}, ErrInvalidAccessToken
	}

	return caller, nil
}

// mint creates one Active refresh record in the family and a matching
// access token.
func (s *Service) mint(ctx context.Context, caller authz.CallerIdentity, familyID string, src Source) (*TokenPair, *RefreshToken, error) {
	now := time.Now()

	secret := generateSecret()
	record := &RefreshToken{
		ID:          id.NewUUIDv7(),
		UserID:      caller.UserID,
		FamilyID:    familyID,
		TokenHash:   HashSecret(secret),
		Fingerprint: Fingerprint(src),
		Status:      StatusActive,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.refreshTokenTTL),
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	accessToken, err := s.mintAccessToken(caller, now)
	if err != nil {
		return nil, nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  caller.UserID,
		Resource: "access_token",
		Metadata: map[string]any{"family_id": familyID},
	})

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     secret,
		ExpiresIn:        int(s.accessTokenTTL.Seconds()),
		RefreshExpiresAt: record.ExpiresAt,
		Claims:           caller,
	}, record, nil
}

func (s *Service) mintAccessToken(caller authz.CallerIdentity, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":  s.issuer,
		"aud":  s.audience,
		"sub":  caller.UserID,
		"role": string(caller.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(s.accessTokenTTL).Unix(),
		"jti":  id.NewUUIDv7(),
	}
	if caller.CustomerID != "" {
		claims["customer_id"] = caller.CustomerID
	}
	if caller.PilotID != "" {
		claims["pilot_id"] = caller.PilotID
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// handleReuse runs the theft-detection cascade: the entire lineage of the
// presented record is revoked in one set-based update, then the caller
// gets ErrReuseDetected. The transport layer surfaces it exactly like
// ErrInvalidToken so an attacker cannot learn that detection fired.
func (s *Service) handleReuse(ctx context.Context, record *RefreshToken, src Source) error {
	if err := s.tokens.RevokeFamily(ctx, record.FamilyID); err != nil {
		return fmt.Errorf("failed to revoke compromised family: %w", err)
	}

	slog.WarnContext(ctx, "refresh token reuse detected, family revoked",
		slog.String("user_id", record.UserID),
		slog.String("family_id", record.FamilyID),
	)
	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeReuseDetected,
		ActorID:   record.UserID,
		Resource:  "refresh_token",
		IPAddress: src.IP,
		UserAgent: src.UserAgent,
		Metadata: map[string]any{
			"family_id": record.FamilyID,
			"record_id": record.ID,
		},
	})

	return ErrReuseDetected
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
