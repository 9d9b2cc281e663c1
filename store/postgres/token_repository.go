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

// AccessTokenRepository implements client.AccessTokenRepository.
type AccessTokenRepository struct {
	db *DB
}

// NewAccessTokenRepository creates a new access token repository.
func NewAccessTokenRepository(db *DB) *AccessTokenRepository {
	return &AccessTokenRepository{db: db}
}

// Create creates a new access token record. It is persisted before its JWT
// is signed, so the jti always refers to a durable row.
func (r *AccessTokenRepository) Create(ctx context.Context, t *client.AccessToken) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO access_tokens (
			id, client_id, user_id, name, scope, expires_at, user_agent, revoked_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		t.ID, t.ClientID, t.UserID, t.Name, t.Scope, t.ExpiresAt, t.UserAgent, t.RevokedAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create access token: %w", err)
	}
	return nil
}

// GetByID retrieves an access token by its jti.
func (r *AccessTokenRepository) GetByID(ctx context.Context, id string) (*client.AccessToken, error) {
	var t client.AccessToken
	var name sql.NullString
	var revokedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, client_id, user_id, name, scope, expires_at, user_agent, revoked_at, created_at
		FROM access_tokens
		WHERE id = $1
	`, id).Scan(
		&t.ID, &t.ClientID, &t.UserID, &name, &t.Scope, &t.ExpiresAt, &t.UserAgent, &revokedAt, &t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrTokenNotFound
		}
		return nil, fmt.Errorf("get access token: %w", err)
	}

	if name.Valid {
		t.Name = name.String
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}

	return &t, nil
}

// Revoke revokes an access token by jti.
func (r *AccessTokenRepository) Revoke(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE access_tokens SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return client.ErrTokenNotFound
	}
	return nil
}

// DeleteExpired deletes all expired access tokens.
func (r *AccessTokenRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM access_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return fmt.Errorf("delete expired access tokens: %w", err)
	}
	return nil
}

// RefreshTokenRepository implements client.RefreshTokenRepository.
type RefreshTokenRepository struct {
	db *DB
}

// NewRefreshTokenRepository creates a new refresh token repository.
func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create creates a new refresh token record, linked to its parent access
// token.
func (r *RefreshTokenRepository) Create(ctx context.Context, t *client.RefreshToken) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, access_token_id, expires_at, revoked_at, created_at
		) VALUES ($1, $2, $3, $4, $5)
	`,
		t.ID, t.AccessTokenID, t.ExpiresAt, t.RevokedAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// GetByID retrieves a refresh token by its jti.
func (r *RefreshTokenRepository) GetByID(ctx context.Context, id string) (*client.RefreshToken, error) {
	var t client.RefreshToken
	var revokedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, access_token_id, expires_at, revoked_at, created_at
		FROM refresh_tokens
		WHERE id = $1
	`, id).Scan(
		&t.ID, &t.AccessTokenID, &t.ExpiresAt, &revokedAt, &t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrTokenNotFound
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}

	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}

	return &t, nil
}

// Revoke revokes a refresh token by jti.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return client.ErrTokenNotFound
	}
	return nil
}

// DeleteExpired deletes all expired refresh tokens.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return nil
}
