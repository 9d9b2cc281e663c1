// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package oauth2server

import (
	"net/http"
	"time"

	"github.com/oauthforge/authserver/audit"
	"github.com/oauthforge/authserver/client"
	"github.com/oauthforge/authserver/crypto"
	"github.com/oauthforge/authserver/session"
	"github.com/oauthforge/authserver/user"
)

// Server holds the collaborators the authorize and token endpoints need and
// implements the HTTP front/back channel described by the authorization
// server's external interfaces.
type Server struct {
	clients       client.Repository
	codes         client.AuthorizationCodeRepository
	accessTokens  client.AccessTokenRepository
	refreshTokens client.RefreshTokenRepository
	tokens        *client.TokenFactory
	users         *user.Service
	sessions      *session.Service
	auditLogger   audit.Logger
	signer        *crypto.JWTSigner

	hmacAlgorithm string
	hmacKey       []byte
	dialogKey     []byte
	baseURL       string
	authCodeTTL   time.Duration
	cookieSecure  bool
}

// Config collects the constructor arguments for New: one struct field per
// collaborator, assembled once at process start.
type Config struct {
	Clients       client.Repository
	Codes         client.AuthorizationCodeRepository
	AccessTokens  client.AccessTokenRepository
	RefreshTokens client.RefreshTokenRepository
	Tokens        *client.TokenFactory
	Users         *user.Service
	Sessions      *session.Service
	AuditLogger   audit.Logger
	Signer        *crypto.JWTSigner

	HMACAlgorithm string
	HMACKey       []byte
	DialogKey     []byte
	BaseURL       string
	AuthCodeTTL   time.Duration
	CookieSecure  bool
}

// New builds a Server from its collaborators.
func New(cfg Config) *Server {
	return &Server{
		clients:       cfg.Clients,
		codes:         cfg.Codes,
		accessTokens:  cfg.AccessTokens,
		refreshTokens: cfg.RefreshTokens,
		tokens:        cfg.Tokens,
		users:         cfg.Users,
		sessions:      cfg.Sessions,
		auditLogger:   cfg.AuditLogger,
		signer:        cfg.Signer,
		hmacAlgorithm: cfg.HMACAlgorithm,
		hmacKey:       cfg.HMACKey,
		dialogKey:     cfg.DialogKey,
		baseURL:       cfg.BaseURL,
		authCodeTTL:   cfg.AuthCodeTTL,
		cookieSecure:  cfg.CookieSecure,
	}
}

// Routes returns the HTTP mux wiring the five endpoints this server exposes.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/authorize", s.HandleAuthorize)
	mux.HandleFunc("/oauth/dialog", s.HandleDialog)
	mux.HandleFunc("/oauth/token", s.HandleToken)
	mux.HandleFunc("/oauth/callback", s.HandleCallback)
	return mux
}
