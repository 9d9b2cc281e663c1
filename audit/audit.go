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

// Package audit provides structured, slog-based security event logging for
// the authorization server, with optional durable persistence.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event types.
const (
	TypeClientCreated    = "client_created"
	TypeClientUpdated    = "client_updated"
	TypeClientRevoked    = "client_revoked"
	TypeCodeIssued       = "code_issued"
	TypeCodeRedeemed     = "code_redeemed"
	TypeTokenIssued      = "token_issued"
	TypeTokenRevoked     = "token_revoked"
	TypeLoginSuccess     = "login_success"
	TypeLoginFailed      = "login_failed"
	TypeClientAuthFailed = "client_auth_failed"
	TypeUserLocked       = "user_locked"
	TypeUserCreated      = "user_created"
	TypePasswordChanged  = "password_changed"
	TypeLogout           = "logout"
)

// Standard audit attribute keys.
const (
	AttrAuditType  = "audit_type"
	AttrActorID    = "actor_id"
	AttrResource   = "resource"
	AttrTargetName = "target_name"
	AttrTargetID   = "target_id"
	AttrTimestamp  = "timestamp"
	AttrIPAddress  = "ip_address"
	AttrUserAgent  = "user_agent"
	AttrComponent  = "component"
	AttrMetadata   = "metadata"
	AttrReason     = "reason"
	AttrAttempts   = "attempts"
)

// Common resource types.
const (
	ResourceClient = "client"
	ResourceToken  = "token"
	ResourceCode   = "authorization_code"
	ResourceUser   = "user"
)

// Event represents an auditable action.
//
// Purpose: canonical representation of a security event in the token-issuance
// state machine.
// Invariants: Type must be a known Type constant; Timestamp must be set.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	ActorID    string         `json:"actor_id"`
	Resource   string         `json:"resource"`
	TargetName string         `json:"target_name"`
	TargetID   string         `json:"target_id"`
	Metadata   map[string]any `json:"metadata"`
	Timestamp  time.Time      `json:"created_at"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
}

// Logger defines the interface for audit logging.
type Logger interface {
	Log(ctx context.Context, event Event)
}

// Filter defines criteria for listing audit events.
type Filter struct {
	ActorID   *string
	Type      *string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// Repository defines storage for audit events.
type Repository interface {
	Log(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, int, error)
}

// SlogLogger implements Logger using slog only.
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger.
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event via structured logging.
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String(AttrAuditType, event.Type),
		slog.String(AttrActorID, event.ActorID),
		slog.String(AttrResource, event.Resource),
		slog.String(AttrTargetName, event.TargetName),
		slog.String(AttrTargetID, event.TargetID),
		slog.Time(AttrTimestamp, event.Timestamp),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String(AttrIPAddress, event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String(AttrUserAgent, event.UserAgent))
	}

	if len(event.Metadata) > 0 {
		group := []any{}
		for k, v := range event.Metadata {
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group(AttrMetadata, group...))
	}

	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String(AttrComponent, "audit"))...)
}

// RepositoryLogger implements Logger using a Repository in addition to slog.
type RepositoryLogger struct {
	repo Repository
	slog *SlogLogger
}

// NewRepositoryLogger creates a new repository-backed logger.
func NewRepositoryLogger(repo Repository) *RepositoryLogger {
	return &RepositoryLogger{
		repo: repo,
		slog: NewSlogLogger(),
	}
}

// Log records an audit event to both slog and the repository. Persistence
// runs synchronously so an audit trail gap can't outlive the request that
// caused it.
func (l *RepositoryLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.slog.Log(ctx, event)

	if err := l.repo.Log(ctx, event); err != nil {
		slog.ErrorContext(ctx, "failed to persist audit event", "error", err)
	}
}

// isSecret checks if a metadata key likely contains a secret, so it can be
// redacted before reaching logs.
func isSecret(key string) bool {
	k := strings.ToLower(key)
	secrets := []string{
		"password", "secret", "token", "key", "authorization",
		"hash", "credential", "private", "api_key",
	}
	for _, s := range secrets {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
