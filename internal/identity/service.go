package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/cargolift/cargolift/internal/audit"
)

// Service provides credential verification for sign-in.
type Service struct {
	repo        UserRepository
	hasher      *PasswordHasher
	auditLogger audit.Logger
}

// NewService creates a new identity service
func NewService(repo UserRepository, hasher *PasswordHasher, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		hasher:      hasher,
		auditLogger: auditLogger,
	}
}

// VerifyCredentials checks an email/password pair and returns the account
// on success. An unknown email and a wrong password both yield
// ErrInvalidCredentials so the response does not reveal which it was.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeSignInFailed,
				Resource: "user",
				Metadata: map[string]any{"email": email, "reason": "unknown_email"},
			})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeSignInFailed,
			ActorID:  user.ID,
			Resource: "user",
			Metadata: map[string]any{"reason": "wrong_password"},
		})
		return nil, ErrInvalidCredentials
	}

	if err := user.CallerIdentity().Validate(); err != nil {
		// The account's role/link claims are inconsistent. Fail closed;
		// a token minted from them would be a privilege defect.
		return nil, fmt.Errorf("inconsistent identity claims: %w", err)
	}

	return user, nil
}

// GetByID loads an account by id, for claim refresh during rotation.
func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}
