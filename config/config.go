// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the authorization server's process-wide
// configuration from environment variables once at startup. The resulting
// Config is read-only thereafter.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/oauthforge/authserver/client"
	"github.com/oauthforge/authserver/store/postgres"
)

// Config is the fully resolved, process-wide configuration.
type Config struct {
	// Crypto / signing.
	SecretKey     string
	HMACAlgorithm string
	JWTAlgorithm  string
	JWTSigningKey string

	// Identity.
	BaseURL      string
	ProviderName string
	TokenType    string

	// Lifetimes.
	AuthorizationCodeTTL time.Duration
	Lifetimes            client.Lifetimes

	// Session / dialog.
	SessionLifetime time.Duration
	SessionIdle     time.Duration
	DialogKey       string
	CookieSecure    bool

	// Password lockout policy.
	LockoutMaxAttempts int
	LockoutDuration    time.Duration

	// Database.
	Database postgres.Config

	// ListenAddr is the address net/http.ListenAndServe binds to.
	ListenAddr string
}

// Load reads Config from the process environment. It returns an error if
// any required variable is missing, the same fail-fast-at-startup posture
// store/postgres.Config's caller already assumes.
func Load() (*Config, error) {
	secretKey, err := requireEnv("OAUTH_SECRET_KEY")
	if err != nil {
		return nil, err
	}
	jwtSigningKey, err := requireEnv("OAUTH_JWT_SIGNING_KEY")
	if err != nil {
		return nil, err
	}
	dialogKey, err := requireEnv("OAUTH_DIALOG_KEY")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		SecretKey:     secretKey,
		HMACAlgorithm: getEnv("OAUTH_HMAC_ALGORITHM", "sha512"),
		JWTAlgorithm:  getEnv("OAUTH_JWT_ALGORITHM", "HS256"),
		JWTSigningKey: jwtSigningKey,
		BaseURL:       getEnv("OAUTH_BASE_URL", "http://localhost:8080"),
		ProviderName:  getEnv("OAUTH_PROVIDER_NAME", "oauthforge"),
		TokenType:     getEnv("OAUTH_TOKEN_TYPE", "Bearer"),
		DialogKey:     dialogKey,
		CookieSecure:  getEnvBool("OAUTH_COOKIE_SECURE", true),
		ListenAddr:    getEnv("OAUTH_LISTEN_ADDR", ":8080"),

		AuthorizationCodeTTL: getEnvDuration("OAUTH_AUTH_CODE_TTL", 10*time.Minute),
		SessionLifetime:      getEnvDuration("OAUTH_SESSION_LIFETIME", 24*time.Hour),
		SessionIdle:          getEnvDuration("OAUTH_SESSION_IDLE_TIMEOUT", 30*time.Minute),

		LockoutMaxAttempts: getEnvInt("OAUTH_LOCKOUT_MAX_ATTEMPTS", 5),
		LockoutDuration:    getEnvDuration("OAUTH_LOCKOUT_DURATION", 15*time.Minute),

		Database: postgres.Config{
			Host:         getEnv("OAUTH_DB_HOST", "localhost"),
			Port:         getEnv("OAUTH_DB_PORT", "5432"),
			User:         getEnv("OAUTH_DB_USER", "oauthforge"),
			Password:     os.Getenv("OAUTH_DB_PASSWORD"),
			Database:     getEnv("OAUTH_DB_NAME", "oauthforge"),
			SSLMode:      getEnv("OAUTH_DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("OAUTH_DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvInt("OAUTH_DB_MAX_IDLE_CONNS", 20),
		},
	}

	cfg.Lifetimes = defaultLifetimes()
	return cfg, nil
}

// defaultLifetimes builds the access/refresh TTL table keyed by
// (ClientType, Internal), per the data model's "lifetime is a function of
// clientType x internal" rule. Internal confidential clients (the server's
// own first-party apps) get the longest-lived tokens; external public
// clients get the shortest.
func defaultLifetimes() client.Lifetimes {
	return client.Lifetimes{
		AccessToken: map[client.LifetimeKey]time.Duration{
			{ClientType: client.TypeConfidential, Internal: true}:  1 * time.Hour,
			{ClientType: client.TypeConfidential, Internal: false}: 30 * time.Minute,
			{ClientType: client.TypePublic, Internal: true}:        30 * time.Minute,
			{ClientType: client.TypePublic, Internal: false}:       15 * time.Minute,
		},
		RefreshToken: map[client.LifetimeKey]time.Duration{
			{ClientType: client.TypeConfidential, Internal: true}:  30 * 24 * time.Hour,
			{ClientType: client.TypeConfidential, Internal: false}: 14 * 24 * time.Hour,
		},
	}
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("config: required environment variable %s is not set", key)
	}
	return v, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
