// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oauthforge/authserver/audit"
	"github.com/oauthforge/authserver/client"
	"github.com/oauthforge/authserver/config"
	"github.com/oauthforge/authserver/crypto"
	"github.com/oauthforge/authserver/oauth2server"
	"github.com/oauthforge/authserver/password"
	"github.com/oauthforge/authserver/session"
	"github.com/oauthforge/authserver/store/postgres"
	"github.com/oauthforge/authserver/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx := context.Background()

	log.Println("connecting to database...")
	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("running database migrations...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	auditLogger := audit.NewRepositoryLogger(postgres.NewAuditRepository(db))

	signer, err := crypto.NewJWTSigner(cfg.JWTAlgorithm, []byte(cfg.JWTSigningKey), []byte(cfg.JWTSigningKey))
	if err != nil {
		log.Fatalf("failed to initialize jwt signer: %v", err)
	}

	clientRepo := postgres.NewClientRepository(db)
	codeRepo := postgres.NewAuthorizationCodeRepository(db)
	accessTokenRepo := postgres.NewAccessTokenRepository(db)
	refreshTokenRepo := postgres.NewRefreshTokenRepository(db)
	userRepo := postgres.NewUserRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)

	// RegisterClient is an admin-only API, not exposed over HTTP; operators call it
	// from a separate tool built against this package.
	_ = client.NewService(clientRepo, auditLogger, cfg.HMACAlgorithm, []byte(cfg.SecretKey))

	tokenFactory := client.NewTokenFactory(accessTokenRepo, refreshTokenRepo, signer, cfg.Lifetimes, cfg.TokenType)

	hasher := password.NewHasher(65536, 3, 2, 16, 32)
	userService := user.NewService(userRepo, hasher, auditLogger, cfg.LockoutMaxAttempts, cfg.LockoutDuration, cfg.SecretKey)

	sessionService := session.NewService(sessionRepo, cfg.SessionLifetime, cfg.SessionIdle)

	server := oauth2server.New(oauth2server.Config{
		Clients:       clientRepo,
		Codes:         codeRepo,
		AccessTokens:  accessTokenRepo,
		RefreshTokens: refreshTokenRepo,
		Tokens:        tokenFactory,
		Users:         userService,
		Sessions:      sessionService,
		AuditLogger:   auditLogger,
		Signer:        signer,
		HMACAlgorithm: cfg.HMACAlgorithm,
		HMACKey:       []byte(cfg.SecretKey),
		DialogKey:     []byte(cfg.DialogKey),
		BaseURL:       cfg.BaseURL,
		AuthCodeTTL:   cfg.AuthorizationCodeTTL,
		CookieSecure:  cfg.CookieSecure,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("oauth2server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
