// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	ocrypto "github.com/oauthforge/authserver/crypto"
	"github.com/oauthforge/authserver/id"
)

// ErrGrantNotAllowed is returned when NewAccessToken is asked to mint a
// token for a grant the client does not hold. oauth2server maps it to the
// RFC 6749 unauthorized_client response.
var ErrGrantNotAllowed = errors.New("client: grant not allowed for this client")

// RequestMeta carries request-scoped data the token factory needs but must
// never read from a global: the caller's user-agent string and the
// server's own base URL (used to build iss/aud/azp).
type RequestMeta struct {
	UserAgent string
	BaseURL   string
}

// TokenResponse is the body returned from a successful token request.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
}

// LifetimeKey identifies one cell of the access/refresh TTL tables, keyed by
// (ClientType, Internal) as the data model specifies.
type LifetimeKey struct {
	ClientType ClientType
	Internal   bool
}

// Lifetimes is the configured TTL table the token factory consults.
type Lifetimes struct {
	AccessToken  map[LifetimeKey]time.Duration
	RefreshToken map[LifetimeKey]time.Duration
}

// AccessTTL returns the access token lifetime for a client classification.
func (l Lifetimes) AccessTTL(ct ClientType, internal bool) time.Duration {
	if d, ok := l.AccessToken[LifetimeKey{ct, internal}]; ok {
		return d
	}
	return 10 * time.Minute
}

// RefreshTTL returns the refresh token lifetime for a client classification.
func (l Lifetimes) RefreshTTL(ct ClientType, internal bool) time.Duration {
	if d, ok := l.RefreshToken[LifetimeKey{ct, internal}]; ok {
		return d
	}
	return 30 * 24 * time.Hour
}

// TokenFactory mints signed access and refresh tokens for a
// (client, subject, grant, scope) tuple, persisting the backing records
// before returning the signed JWTs.
type TokenFactory struct {
	accessTokens  AccessTokenRepository
	refreshTokens RefreshTokenRepository
	signer        *ocrypto.JWTSigner
	lifetimes     Lifetimes
	tokenType     string
}

// NewTokenFactory builds a token factory.
func NewTokenFactory(accessTokens AccessTokenRepository, refreshTokens RefreshTokenRepository, signer *ocrypto.JWTSigner, lifetimes Lifetimes, tokenType string) *TokenFactory {
	return &TokenFactory{
		accessTokens:  accessTokens,
		refreshTokens: refreshTokens,
		signer:        signer,
		lifetimes:     lifetimes,
		tokenType:     tokenType,
	}
}

// NewAccessToken mints a signed access token and, where the grant and client
// type allow it, a paired refresh token. The access token record is made
// durable before its JWT (whose jti is the record's id) is returned.
func (f *TokenFactory) NewAccessToken(ctx context.Context, c *Client, grant, scope, subject string, meta RequestMeta) (*TokenResponse, error) {
	// client_credentials and refresh_token are authorized by their callers
	// instead of by client.grants: grantTable never lists refresh_token (it
	// is a capability of a confidential client, not a requestable grant an
	// admin assigns), and an external confidential client is entitled to
	// client_credentials despite it being absent from its derived grants.
	if grant != GrantClientCredentials && grant != GrantRefreshToken && !c.HasGrant(grant) {
		return nil, fmt.Errorf("%w: client does not hold grant %q", ErrGrantNotAllowed, grant)
	}

	accessTTL := f.lifetimes.AccessTTL(c.ClientType, c.Internal)
	now := time.Now()

	at := &AccessToken{
		ID:        id.NewUUIDv7(),
		ClientID:  c.ClientID,
		UserID:    subject,
		Scope:     scope,
		ExpiresAt: now.Add(accessTTL),
		UserAgent: meta.UserAgent,
		CreatedAt: now,
	}
	if err := f.accessTokens.Create(ctx, at); err != nil {
		return nil, fmt.Errorf("persist access token: %w", err)
	}

	principal := audience(c)
	accessJWT, err := f.signer.Sign(ocrypto.Claims{
		Issuer:          meta.BaseURL,
		Audience:        principal,
		AuthorizedParty: principal,
		Subject:         subject,
		ClientID:        c.ClientID,
		Scope:           scope,
		ID:              at.ID,
		ExpiresAt:       at.ExpiresAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	resp := &TokenResponse{
		AccessToken: accessJWT,
		TokenType:   f.tokenType,
		ExpiresIn:   int64(accessTTL.Seconds()),
	}

	if c.AllowsRefreshToken(grant) {
		refreshTTL := f.lifetimes.RefreshTTL(c.ClientType, c.Internal)
		rt := &RefreshToken{
			ID:            id.NewUUIDv7(),
			AccessTokenID: at.ID,
			ExpiresAt:     now.Add(refreshTTL),
			CreatedAt:     now,
		}
		if err := f.refreshTokens.Create(ctx, rt); err != nil {
			return nil, fmt.Errorf("persist refresh token: %w", err)
		}

		refreshJWT, err := f.signer.Sign(ocrypto.Claims{
			Issuer:          meta.BaseURL,
			Audience:        principal,
			AuthorizedParty: principal,
			Subject:         subject,
			ClientID:        c.ClientID,
			ID:              rt.ID,
			ExpiresAt:       rt.ExpiresAt.Unix(),
		})
		if err != nil {
			return nil, fmt.Errorf("sign refresh token: %w", err)
		}
		resp.RefreshToken = refreshJWT
	}

	return resp, nil
}

// audience computes azp/aud = domaine||clientId, per the token factory
// design: prefer the client's own web-facing origin, fall back to its
// opaque client_id when it has none (native/user-agent-based clients).
func audience(c *Client) string {
	if c.Domaine != "" {
		return c.Domaine
	}
	return c.ClientID
}
