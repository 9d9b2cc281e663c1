// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: MIT

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
)

// SetupTestDB creates a connection to the test database and runs migrations.
// Host and port come from TEST_DB_HOST and TEST_DB_PORT, defaulting to
// localhost and 5434; the calling test fails when no database is reachable.
func SetupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("TEST_DB_PORT")
	if port == "" {
		port = "5434"
	}

	cfg := Config{
		Host:         host,
		Port:         port,
		User:         "oauthforge",
		Password:     "oauthforge_test_password",
		Database:     "oauthforge_test",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 10,
	}

	ctx := context.Background()
	db, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}

	tables := []string{
		"audit_events",
		"sessions",
		"refresh_tokens",
		"access_tokens",
		"authorization_codes",
		"user_credentials",
		"users",
		"oauth2_clients",
	}
	for _, table := range tables {
		_, _ = db.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
	}

	if err := db.Migrate(ctx, InitialSchema); err != nil {
		db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	cleanup := func() {
		for _, table := range tables {
			_, _ = db.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		}
		db.Close()
	}

	return db, cleanup
}
