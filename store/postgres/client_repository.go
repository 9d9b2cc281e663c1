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
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oauthforge/authserver/client"
)

// ClientRepository implements client.Repository.
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository.
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create creates a new OAuth2 client.
func (r *ClientRepository) Create(ctx context.Context, c *client.Client) error {
	redirectURIs, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("marshal redirect uris: %w", err)
	}
	grants, err := json.Marshal(c.Grants)
	if err != nil {
		return fmt.Errorf("marshal grants: %w", err)
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO oauth2_clients (
			id, client_id, name, client_profile, client_type, secret_key,
			grants, redirect_uris, scope, internal, domaine, logo, description,
			legal_terms_accepted_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		c.ID, c.ClientID, c.Name, string(c.ClientProfile), string(c.ClientType), c.SecretKey,
		grants, redirectURIs, c.Scope, c.Internal, c.Domaine, c.Logo, c.Description,
		c.LegalTermsAcceptedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

func scanClient(row interface {
	Scan(dest ...any) error
}) (*client.Client, error) {
	var c client.Client
	var grantsJSON, redirectURIsJSON []byte
	var logo, description sql.NullString
	var legalTermsAcceptedAt, revokedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.ClientID, &c.Name, &c.ClientProfile, &c.ClientType, &c.SecretKey,
		&grantsJSON, &redirectURIsJSON, &c.Scope, &c.Internal, &c.Domaine, &logo, &description,
		&legalTermsAcceptedAt, &revokedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(grantsJSON, &c.Grants); err != nil {
		return nil, fmt.Errorf("unmarshal grants: %w", err)
	}
	if err := json.Unmarshal(redirectURIsJSON, &c.RedirectURIs); err != nil {
		return nil, fmt.Errorf("unmarshal redirect uris: %w", err)
	}
	if logo.Valid {
		c.Logo = logo.String
	}
	if description.Valid {
		c.Description = description.String
	}
	if legalTermsAcceptedAt.Valid {
		c.LegalTermsAcceptedAt = &legalTermsAcceptedAt.Time
	}
	if revokedAt.Valid {
		c.RevokedAt = &revokedAt.Time
	}

	return &c, nil
}

const selectClientColumns = `
	id, client_id, name, client_profile, client_type, secret_key,
	grants, redirect_uris, scope, internal, domaine, logo, description,
	legal_terms_accepted_at, revoked_at, created_at, updated_at
`

// GetByClientID retrieves a client by its external client_id.
func (r *ClientRepository) GetByClientID(ctx context.Context, clientID string) (*client.Client, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+selectClientColumns+`
		FROM oauth2_clients WHERE client_id = $1
	`, clientID)

	c, err := scanClient(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrClientNotFound
		}
		return nil, fmt.Errorf("get client by client_id: %w", err)
	}
	return c, nil
}

// GetByID retrieves a client by internal ID.
func (r *ClientRepository) GetByID(ctx context.Context, id string) (*client.Client, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+selectClientColumns+`
		FROM oauth2_clients WHERE id = $1
	`, id)

	c, err := scanClient(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrClientNotFound
		}
		return nil, fmt.Errorf("get client by id: %w", err)
	}
	return c, nil
}

// GetByName retrieves a client by its display name.
func (r *ClientRepository) GetByName(ctx context.Context, name string) (*client.Client, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+selectClientColumns+`
		FROM oauth2_clients WHERE name = $1
	`, name)

	c, err := scanClient(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrClientNotFound
		}
		return nil, fmt.Errorf("get client by name: %w", err)
	}
	return c, nil
}

// Update updates client information. ClientType, Grants, and SecretKey are
// re-derived by Normalize before this is ever called, so it writes whatever
// it is given.
func (r *ClientRepository) Update(ctx context.Context, c *client.Client) error {
	redirectURIs, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("marshal redirect uris: %w", err)
	}
	grants, err := json.Marshal(c.Grants)
	if err != nil {
		return fmt.Errorf("marshal grants: %w", err)
	}

	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth2_clients SET
			name = $2,
			client_profile = $3,
			client_type = $4,
			secret_key = $5,
			grants = $6,
			redirect_uris = $7,
			scope = $8,
			internal = $9,
			domaine = $10,
			logo = $11,
			description = $12,
			legal_terms_accepted_at = $13,
			updated_at = NOW()
		WHERE id = $1
	`,
		c.ID, c.Name, string(c.ClientProfile), string(c.ClientType), c.SecretKey,
		grants, redirectURIs, c.Scope, c.Internal, c.Domaine, c.Logo, c.Description,
		c.LegalTermsAcceptedAt,
	)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return client.ErrClientNotFound
	}
	return nil
}

// Revoke marks a client revoked, blocking all future issuance on its behalf.
func (r *ClientRepository) Revoke(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth2_clients SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("revoke client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return client.ErrClientNotFound
	}
	return nil
}

// List retrieves all registered clients.
func (r *ClientRepository) List(ctx context.Context) ([]*client.Client, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT `+selectClientColumns+`
		FROM oauth2_clients ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	var clients []*client.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
