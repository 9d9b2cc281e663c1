// Copyright 2026 The OpenTrusty Authors
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

package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oauthforge/authserver/audit"
	"github.com/oauthforge/authserver/crypto"
	"github.com/oauthforge/authserver/id"
	"github.com/oauthforge/authserver/password"
)

// Service provides identity-related business logic: provisioning, password
// credential management, and the password-grant authenticator the token
// endpoint calls for the "password" grant type.
type Service struct {
	repo               UserRepository
	hasher             *password.Hasher
	auditLogger        audit.Logger
	lockoutMaxAttempts int
	lockoutDuration    time.Duration
	hmacKey            string
}

// NewService creates a new identity service.
func NewService(
	repo UserRepository,
	hasher *password.Hasher,
	auditLogger audit.Logger,
	lockoutMaxAttempts int,
	lockoutDuration time.Duration,
	hmacKey string,
) *Service {
	return &Service{
		repo:               repo,
		hasher:             hasher,
		auditLogger:        auditLogger,
		lockoutMaxAttempts: lockoutMaxAttempts,
		lockoutDuration:    lockoutDuration,
		hmacKey:            hmacKey,
	}
}

// ProvisionIdentity creates a new user identity without credentials.
func (s *Service) ProvisionIdentity(ctx context.Context, emailPlain string, profile Profile) (*User, error) {
	if !isValidEmail(emailPlain) {
		return nil, ErrInvalidEmail
	}

	emailHash := crypto.ComputeEmailHash(s.hmacKey, emailPlain)

	existing, err := s.repo.GetByHash(ctx, emailHash)
	if err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}

	if profile.Picture == "" {
		profile.Picture = GenerateRandomAvatar(emailPlain)
	}
	if profile.Nickname == "" {
		parts := strings.Split(emailPlain, "@")
		if len(parts) > 0 {
			profile.Nickname = parts[0]
		}
	}

	now := time.Now()
	user := &User{
		ID:            id.NewUUIDv7(),
		EmailHash:     emailHash,
		EmailPlain:    &emailPlain,
		EmailVerified: false,
		Profile:       profile,
		Scope:         "*",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		Resource: audit.ResourceUser,
		TargetID: user.ID,
	})

	return user, nil
}

// AddPassword adds a password credential to an existing user.
func (s *Service) AddPassword(ctx context.Context, userID, pw string) error {
	if !isStrongPassword(pw) {
		return ErrWeakPassword
	}

	passwordHash, err := s.hasher.Hash(pw)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.repo.AddCredentials(ctx, &Credentials{
		UserID:       userID,
		PasswordHash: passwordHash,
		UpdatedAt:    time.Now(),
	})
}

// SetPassword sets or updates a user's password without requiring the old
// password (administrative action).
func (s *Service) SetPassword(ctx context.Context, userID, pw string) error {
	if !isStrongPassword(pw) {
		return ErrWeakPassword
	}

	passwordHash, err := s.hasher.Hash(pw)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if _, err := s.repo.GetCredentials(ctx, userID); err != nil {
		if err == ErrUserNotFound {
			return s.repo.AddCredentials(ctx, &Credentials{
				UserID:       userID,
				PasswordHash: passwordHash,
				UpdatedAt:    time.Now(),
			})
		}
		return fmt.Errorf("check existing credentials: %w", err)
	}

	return s.repo.UpdatePassword(ctx, userID, passwordHash)
}

// Authenticate authenticates a user by email and password, as the password
// grant's authenticator. It derives the lookup hash from the global HMAC key
// so the email index never stores plaintext.
func (s *Service) Authenticate(ctx context.Context, emailPlain, pw string) (*User, error) {
	emailHash := crypto.ComputeEmailHash(s.hmacKey, emailPlain)

	user, err := s.repo.GetByHash(ctx, emailHash)
	if err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: "login_attempt",
			Metadata: map[string]any{
				audit.AttrReason: "user_not_found",
				"target_hash":    emailHash,
			},
		})
		return nil, ErrInvalidCredentials
	}

	if user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "locked_out"},
		})
		return nil, ErrAccountLocked
	}

	credentials, err := s.repo.GetCredentials(ctx, user.ID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	valid, err := s.hasher.Verify(pw, credentials.PasswordHash)
	if err != nil || !valid {
		newAttempts := user.FailedLoginAttempts + 1
		var newLockedUntil *time.Time

		if newAttempts >= s.lockoutMaxAttempts {
			until := time.Now().Add(s.lockoutDuration)
			newLockedUntil = &until
			s.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeUserLocked,
				ActorID:  user.ID,
				Resource: "login",
				Metadata: map[string]any{audit.AttrAttempts: newAttempts},
			})
		}

		_ = s.repo.UpdateLockout(ctx, user.ID, newAttempts, newLockedUntil)

		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{
				audit.AttrReason:   "invalid_password",
				audit.AttrAttempts: newAttempts,
			},
		})

		return nil, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		_ = s.repo.UpdateLockout(ctx, user.ID, 0, nil)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  user.ID,
		Resource: "login",
		TargetID: user.ID,
	})

	return user, nil
}

// GetByEmail retrieves a user by email (convenience wrapper around the hash lookup).
func (s *Service) GetByEmail(ctx context.Context, emailPlain string) (*User, error) {
	hash := crypto.ComputeEmailHash(s.hmacKey, emailPlain)
	return s.repo.GetByHash(ctx, hash)
}

// GetUser retrieves a user by ID.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile updates user profile information.
func (s *Service) UpdateProfile(ctx context.Context, userID string, profile Profile) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	user.Profile = profile
	user.UpdatedAt = time.Now()
	return s.repo.Update(ctx, user)
}

// ChangePassword changes a user's password, verifying the old one first.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	credentials, err := s.repo.GetCredentials(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	valid, err := s.hasher.Verify(oldPassword, credentials.PasswordHash)
	if err != nil || !valid {
		return ErrInvalidCredentials
	}

	if !isStrongPassword(newPassword) {
		return ErrWeakPassword
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.repo.UpdatePassword(ctx, userID, newHash); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePasswordChanged,
		ActorID:  userID,
		Resource: audit.ResourceUser,
		TargetID: userID,
	})

	return nil
}

func isValidEmail(email string) bool {
	return len(email) > 3 && len(email) < 255 && strings.Contains(email, "@")
}

func isStrongPassword(pw string) bool {
	return len(pw) >= 8
}
