// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"testing"

	"github.com/oauthforge/authserver/client"
	"github.com/oauthforge/authserver/id"
)

func TestClientRepository(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewClientRepository(db)

	c := &client.Client{
		ID:            id.NewUUIDv7(),
		ClientID:      "web-app-1",
		Name:          "Web App One",
		ClientProfile: client.ProfileWeb,
		ClientType:    client.TypeConfidential,
		SecretKey:     "derived-elsewhere",
		Grants:        []string{client.GrantAuthorizationCode, client.GrantRefreshToken},
		RedirectURIs:  []string{"https://app.example.com/callback"},
		Scope:         "read write",
		Domaine:       "https://app.example.com",
	}

	t.Run("Create and GetByClientID", func(t *testing.T) {
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("failed to create client: %v", err)
		}

		got, err := repo.GetByClientID(ctx, c.ClientID)
		if err != nil {
			t.Fatalf("failed to get client: %v", err)
		}
		if got.Name != c.Name || got.ClientType != c.ClientType {
			t.Errorf("unexpected client returned: %+v", got)
		}
		if len(got.Grants) != 2 || len(got.RedirectURIs) != 1 {
			t.Errorf("expected grants and redirect_uris to round-trip through JSON, got %+v", got)
		}
	})

	t.Run("Update", func(t *testing.T) {
		c.Scope = "read write admin"
		if err := repo.Update(ctx, c); err != nil {
			t.Fatalf("failed to update client: %v", err)
		}

		got, err := repo.GetByID(ctx, c.ID)
		if err != nil {
			t.Fatalf("failed to get client by id: %v", err)
		}
		if got.Scope != "read write admin" {
			t.Errorf("expected updated scope, got %q", got.Scope)
		}
	})

	t.Run("Revoke is terminal", func(t *testing.T) {
		if err := repo.Revoke(ctx, c.ID); err != nil {
			t.Fatalf("failed to revoke client: %v", err)
		}

		got, err := repo.GetByID(ctx, c.ID)
		if err != nil {
			t.Fatalf("failed to get client: %v", err)
		}
		if !got.IsRevoked() {
			t.Error("expected the client to be revoked")
		}

		// A second revoke of an already-revoked client affects no rows and
		// must report ErrClientNotFound rather than silently succeeding.
		if err := repo.Revoke(ctx, c.ID); err != client.ErrClientNotFound {
			t.Errorf("expected ErrClientNotFound on a repeat revoke, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		clients, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("failed to list clients: %v", err)
		}
		if len(clients) == 0 {
			t.Error("expected at least one client in the list")
		}
	})
}
