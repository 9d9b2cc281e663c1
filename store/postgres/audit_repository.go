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
	"fmt"
	"strings"

	"github.com/oauthforge/authserver/audit"
	"github.com/oauthforge/authserver/id"
)

// AuditRepository implements audit.Repository.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Log persists an audit event.
func (r *AuditRepository) Log(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = id.NewUUIDv7()
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO audit_events (
			id, type, actor_id, resource, target_name, target_id, ip_address, user_agent, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		event.ID, event.Type, event.ActorID, event.Resource,
		event.TargetName, event.TargetID, event.IPAddress, event.UserAgent,
		event.Metadata, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("log audit event: %w", err)
	}
	return nil
}

// List retrieves events matching a filter.
func (r *AuditRepository) List(ctx context.Context, filter audit.Filter) ([]audit.Event, int, error) {
	whereClauses := []string{}
	args := []any{}
	argIdx := 1

	if filter.ActorID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("actor_id = $%d", argIdx))
		args = append(args, *filter.ActorID)
		argIdx++
	}
	if filter.Type != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *filter.Type)
		argIdx++
	}
	if filter.StartDate != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *filter.StartDate)
		argIdx++
	}
	if filter.EndDate != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *filter.EndDate)
		argIdx++
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_events " + whereSQL
	if err := r.db.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, type, actor_id, resource, target_name, target_id, ip_address, user_agent, metadata, created_at
		FROM audit_events
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereSQL, argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(
			&e.ID, &e.Type, &e.ActorID, &e.Resource,
			&e.TargetName, &e.TargetID, &e.IPAddress, &e.UserAgent, &e.Metadata, &e.Timestamp,
		); err != nil {
			return nil, 0, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}

	return events, total, rows.Err()
}
