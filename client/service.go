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

package client

import (
	"context"
	"time"

	"github.com/oauthforge/authserver/audit"
	"github.com/oauthforge/authserver/id"
)

// Service is the client registry: the admin-facing API that validates and
// persists client registrations. It is never exposed directly to OAuth
// clients — validator failures here surface to whatever internal channel
// registered the client, per the error handling design.
type Service struct {
	repo          Repository
	auditLogger   audit.Logger
	hmacAlgorithm string
	hmacKey       []byte
}

// NewService creates a new client registry.
func NewService(repo Repository, auditLogger audit.Logger, hmacAlgorithm string, hmacKey []byte) *Service {
	return &Service{
		repo:          repo,
		auditLogger:   auditLogger,
		hmacAlgorithm: hmacAlgorithm,
		hmacKey:       hmacKey,
	}
}

// RegisterClient validates a client draft, runs the write-path derivation
// (Normalize), and persists the result.
func (s *Service) RegisterClient(ctx context.Context, actorID string, draft *Client) (*Client, error) {
	if draft.ID == "" {
		draft.ID = id.NewUUIDv7()
	}
	if draft.ClientID == "" {
		draft.ClientID = id.NewUUIDv7()
	}

	c, err := Normalize(draft, s.hmacAlgorithm, s.hmacKey)
	if err != nil {
		return nil, err
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeClientCreated,
		ActorID:    actorID,
		Resource:   audit.ResourceClient,
		TargetName: c.Name,
		TargetID:   c.ClientID,
		Metadata: map[string]any{
			"client_id": c.ClientID,
			"profile":   string(c.ClientProfile),
		},
	})

	return c, nil
}

// UpdateClient re-validates and persists changes to an existing client.
// ClientType, Grants and SecretKey are re-derived, never taken from the
// caller's edits.
func (s *Service) UpdateClient(ctx context.Context, actorID string, draft *Client) (*Client, error) {
	c, err := Normalize(draft, s.hmacAlgorithm, s.hmacKey)
	if err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeClientUpdated,
		ActorID:    actorID,
		Resource:   audit.ResourceClient,
		TargetName: c.Name,
		TargetID:   c.ClientID,
	})

	return c, nil
}

// RevokeClient revokes a client, blocking all of its flows from this point
// forward. Revocation does not retroactively revoke tokens already issued;
// those remain valid until their own expiry or explicit revocation.
func (s *Service) RevokeClient(ctx context.Context, actorID, id string) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Revoke(ctx, id); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeClientRevoked,
		ActorID:    actorID,
		Resource:   audit.ResourceClient,
		TargetName: c.Name,
		TargetID:   c.ClientID,
	})
	return nil
}

// GetByClientID retrieves a client by its external client_id.
func (s *Service) GetByClientID(ctx context.Context, clientID string) (*Client, error) {
	return s.repo.GetByClientID(ctx, clientID)
}

// List retrieves all registered clients.
func (s *Service) List(ctx context.Context) ([]*Client, error) {
	return s.repo.List(ctx)
}
