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

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oauthforge/authserver/client"
)

// AuthorizationCodeRepository implements client.AuthorizationCodeRepository.
type AuthorizationCodeRepository struct {
	db *DB
}

// NewAuthorizationCodeRepository creates a new authorization code repository.
func NewAuthorizationCodeRepository(db *DB) *AuthorizationCodeRepository {
	return &AuthorizationCodeRepository{db: db}
}

// Create creates a new authorization code. UserID is not yet known at this
// point (the dialog has not run) and Scope holds the requested scope; Attach
// records the user and the granted scope.
func (r *AuthorizationCodeRepository) Create(ctx context.Context, c *client.AuthorizationCode) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO authorization_codes (
			id, authorization_code, client_id, user_id,
			scope, redirect_uri, state,
			code_challenge, code_challenge_method,
			expires_at, revoked_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		c.ID, c.AuthorizationCode, c.ClientID, nullableString(c.UserID),
		c.Scope, c.RedirectURI, c.State,
		c.CodeChallenge, c.CodeChallengeMethod,
		c.ExpiresAt, c.RevokedAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create authorization code: %w", err)
	}
	return nil
}

// GetByClientAndCode retrieves an authorization code scoped to the client
// presenting it, so a code minted for one client can never be redeemed by
// another.
func (r *AuthorizationCodeRepository) GetByClientAndCode(ctx context.Context, clientID, code string) (*client.AuthorizationCode, error) {
	var c client.AuthorizationCode
	var userID sql.NullString
	var revokedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, `
		SELECT
			id, authorization_code, client_id, user_id,
			scope, redirect_uri, state,
			code_challenge, code_challenge_method,
			expires_at, revoked_at, created_at
		FROM authorization_codes
		WHERE client_id = $1 AND authorization_code = $2
	`, clientID, code).Scan(
		&c.ID, &c.AuthorizationCode, &c.ClientID, &userID,
		&c.Scope, &c.RedirectURI, &c.State,
		&c.CodeChallenge, &c.CodeChallengeMethod,
		&c.ExpiresAt, &revokedAt, &c.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrCodeNotFound
		}
		return nil, fmt.Errorf("get authorization code: %w", err)
	}

	if userID.Valid {
		c.UserID = userID.String
	}
	if revokedAt.Valid {
		c.RevokedAt = &revokedAt.Time
	}

	return &c, nil
}

// Attach records the resource owner's decision once the login dialog
// resolves the user and granted scope.
func (r *AuthorizationCodeRepository) Attach(ctx context.Context, code string, userID, scope string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE authorization_codes SET user_id = $2, scope = $3
		WHERE authorization_code = $1
	`, code, userID, scope)
	if err != nil {
		return fmt.Errorf("attach authorization code: %w", err)
	}
	if result.RowsAffected() == 0 {
		return client.ErrCodeNotFound
	}
	return nil
}

// Redeem marks the code revoked if and only if it was not already revoked.
// The WHERE clause makes this a single atomic statement: a second concurrent
// redemption affects zero rows and must be told it lost the race.
func (r *AuthorizationCodeRepository) Redeem(ctx context.Context, code string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE authorization_codes SET revoked_at = NOW()
		WHERE authorization_code = $1 AND revoked_at IS NULL
	`, code)
	if err != nil {
		return fmt.Errorf("redeem authorization code: %w", err)
	}
	if result.RowsAffected() == 0 {
		return client.ErrCodeAlreadyUsed
	}
	return nil
}

// DeleteExpired deletes all expired authorization codes.
func (r *AuthorizationCodeRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM authorization_codes WHERE expires_at < NOW()`)
	if err != nil {
		return fmt.Errorf("delete expired codes: %w", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
