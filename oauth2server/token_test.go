// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package oauth2server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/oauthforge/authserver/audit"
	"github.com/oauthforge/authserver/client"
	ocrypto "github.com/oauthforge/authserver/crypto"
	"github.com/oauthforge/authserver/id"
	"github.com/oauthforge/authserver/password"
	"github.com/oauthforge/authserver/session"
	"github.com/oauthforge/authserver/user"
)

type mockClientRepo struct {
	clients map[string]*client.Client
}

func (m *mockClientRepo) Create(ctx context.Context, c *client.Client) error { m.clients[c.ID] = c; return nil }
func (m *mockClientRepo) GetByClientID(ctx context.Context, clientID string) (*client.Client, error) {
	for _, c := range m.clients {
		if c.ClientID == clientID {
			return c, nil
		}
	}
	return nil, client.ErrClientNotFound
}
func (m *mockClientRepo) GetByID(ctx context.Context, id string) (*client.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, client.ErrClientNotFound
	}
	return c, nil
}
func (m *mockClientRepo) GetByName(ctx context.Context, name string) (*client.Client, error) {
	return nil, client.ErrClientNotFound
}
func (m *mockClientRepo) Update(ctx context.Context, c *client.Client) error { m.clients[c.ID] = c; return nil }
func (m *mockClientRepo) Revoke(ctx context.Context, id string) error {
	c, ok := m.clients[id]
	if !ok {
		return client.ErrClientNotFound
	}
	now := time.Now()
	c.RevokedAt = &now
	return nil
}
func (m *mockClientRepo) List(ctx context.Context) ([]*client.Client, error) { return nil, nil }

type mockCodeRepo struct {
	codes map[string]*client.AuthorizationCode
}

func (m *mockCodeRepo) Create(ctx context.Context, c *client.AuthorizationCode) error {
	m.codes[c.AuthorizationCode] = c
	return nil
}
func (m *mockCodeRepo) GetByClientAndCode(ctx context.Context, clientID, code string) (*client.AuthorizationCode, error) {
	c, ok := m.codes[code]
	if !ok || c.ClientID != clientID {
		return nil, client.ErrCodeNotFound
	}
	return c, nil
}
func (m *mockCodeRepo) Attach(ctx context.Context, code string, userID, scope string) error {
	c, ok := m.codes[code]
	if !ok {
		return client.ErrCodeNotFound
	}
	c.UserID = userID
	c.Scope = scope
	return nil
}
func (m *mockCodeRepo) Redeem(ctx context.Context, code string) error {
	c, ok := m.codes[code]
	if !ok {
		return client.ErrCodeNotFound
	}
	if c.IsRevoked() {
		return client.ErrCodeAlreadyUsed
	}
	now := time.Now()
	c.RevokedAt = &now
	return nil
}
func (m *mockCodeRepo) DeleteExpired(ctx context.Context) error { return nil }

type mockAccessTokenRepo struct {
	tokens map[string]*client.AccessToken
}

func (m *mockAccessTokenRepo) Create(ctx context.Context, t *client.AccessToken) error {
	m.tokens[t.ID] = t
	return nil
}
func (m *mockAccessTokenRepo) GetByID(ctx context.Context, id string) (*client.AccessToken, error) {
	t, ok := m.tokens[id]
	if !ok {
		return nil, client.ErrTokenNotFound
	}
	return t, nil
}
func (m *mockAccessTokenRepo) Revoke(ctx context.Context, id string) error {
	t, ok := m.tokens[id]
	if !ok {
		return client.ErrTokenNotFound
	}
	now := time.Now()
	t.RevokedAt = &now
	return nil
}
func (m *mockAccessTokenRepo) DeleteExpired(ctx context.Context) error { return nil }

type mockRefreshTokenRepo struct {
	tokens map[string]*client.RefreshToken
}

func (m *mockRefreshTokenRepo) Create(ctx context.Context, t *client.RefreshToken) error {
	m.tokens[t.ID] = t
	return nil
}
func (m *mockRefreshTokenRepo) GetByID(ctx context.Context, id string) (*client.RefreshToken, error) {
	t, ok := m.tokens[id]
	if !ok {
		return nil, client.ErrTokenNotFound
	}
	return t, nil
}
func (m *mockRefreshTokenRepo) Revoke(ctx context.Context, id string) error {
	t, ok := m.tokens[id]
	if !ok {
		return client.ErrTokenNotFound
	}
	now := time.Now()
	t.RevokedAt = &now
	return nil
}
func (m *mockRefreshTokenRepo) DeleteExpired(ctx context.Context) error { return nil }

type mockUserRepo struct {
	users map[string]*user.User
	creds map[string]*user.Credentials
}

func (m *mockUserRepo) Create(ctx context.Context, u *user.User) error { m.users[u.ID] = u; return nil }
func (m *mockUserRepo) AddCredentials(ctx context.Context, c *user.Credentials) error {
	m.creds[c.UserID] = c
	return nil
}
func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*user.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return u, nil
}
func (m *mockUserRepo) GetByHash(ctx context.Context, hash string) (*user.User, error) {
	for _, u := range m.users {
		if u.EmailHash == hash {
			return u, nil
		}
	}
	return nil, user.ErrUserNotFound
}
func (m *mockUserRepo) Update(ctx context.Context, u *user.User) error { m.users[u.ID] = u; return nil }
func (m *mockUserRepo) UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	u, ok := m.users[userID]
	if !ok {
		return user.ErrUserNotFound
	}
	u.FailedLoginAttempts = failedAttempts
	u.LockedUntil = lockedUntil
	return nil
}
func (m *mockUserRepo) Delete(ctx context.Context, id string) error { delete(m.users, id); return nil }
func (m *mockUserRepo) GetCredentials(ctx context.Context, userID string) (*user.Credentials, error) {
	c, ok := m.creds[userID]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return c, nil
}
func (m *mockUserRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	m.creds[userID] = &user.Credentials{UserID: userID, PasswordHash: passwordHash}
	return nil
}

type mockSessionRepo struct {
	sessions map[string]*session.Session
}

func (m *mockSessionRepo) Create(ctx context.Context, s *session.Session) error {
	m.sessions[s.ID] = s
	return nil
}
func (m *mockSessionRepo) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return s, nil
}
func (m *mockSessionRepo) Update(ctx context.Context, s *session.Session) error {
	m.sessions[s.ID] = s
	return nil
}
func (m *mockSessionRepo) Delete(ctx context.Context, sessionID string) error {
	delete(m.sessions, sessionID)
	return nil
}
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error { return nil }
func (m *mockSessionRepo) DeleteExpired(ctx context.Context) error                 { return nil }

type mockAuditLogger struct{}

func (m *mockAuditLogger) Log(ctx context.Context, event audit.Event) {}

// testServer assembles a Server wired entirely to in-memory mocks, mirroring
// the collaborators a real process builds in cmd/oauth2server/main.go.
func testServer(t *testing.T) (*Server, *mockClientRepo, *mockCodeRepo, *mockUserRepo) {
	t.Helper()

	key := []byte("a-sufficiently-long-test-signing-key")
	signer, err := ocrypto.NewJWTSigner("HS256", key, key)
	if err != nil {
		t.Fatalf("unexpected error building signer: %v", err)
	}

	lifetimes := client.Lifetimes{
		AccessToken: map[client.LifetimeKey]time.Duration{
			{ClientType: client.TypeConfidential, Internal: true}: time.Hour,
			{ClientType: client.TypePublic, Internal: false}:       15 * time.Minute,
		},
		RefreshToken: map[client.LifetimeKey]time.Duration{
			{ClientType: client.TypeConfidential, Internal: true}: 30 * 24 * time.Hour,
		},
	}

	clientRepo := &mockClientRepo{clients: map[string]*client.Client{}}
	codeRepo := &mockCodeRepo{codes: map[string]*client.AuthorizationCode{}}
	accessRepo := &mockAccessTokenRepo{tokens: map[string]*client.AccessToken{}}
	refreshRepo := &mockRefreshTokenRepo{tokens: map[string]*client.RefreshToken{}}
	userRepo := &mockUserRepo{users: map[string]*user.User{}, creds: map[string]*user.Credentials{}}
	sessionRepo := &mockSessionRepo{sessions: map[string]*session.Session{}}

	tokens := client.NewTokenFactory(accessRepo, refreshRepo, signer, lifetimes, "Bearer")
	hasher := password.NewHasher(16*1024, 1, 1, 16, 32)
	userService := user.NewService(userRepo, hasher, &mockAuditLogger{}, 5, 15*time.Minute, "hmac-key")
	sessionService := session.NewService(sessionRepo, 24*time.Hour, 30*time.Minute)

	srv := New(Config{
		Clients:       clientRepo,
		Codes:         codeRepo,
		AccessTokens:  accessRepo,
		RefreshTokens: refreshRepo,
		Tokens:        tokens,
		Users:         userService,
		Sessions:      sessionService,
		AuditLogger:   &mockAuditLogger{},
		Signer:        signer,
		HMACAlgorithm: "sha256",
		HMACKey:       []byte("hmac-key"),
		DialogKey:     []byte("dialog-key"),
		BaseURL:       "https://auth.example.com",
		AuthCodeTTL:   10 * time.Minute,
		CookieSecure:  true,
	})

	return srv, clientRepo, codeRepo, userRepo
}

func mustClientSecret(t *testing.T, clientID string) string {
	t.Helper()
	secret, err := ocrypto.DeriveClientSecret("sha256", []byte("hmac-key"), clientID)
	if err != nil {
		t.Fatalf("unexpected error deriving client secret: %v", err)
	}
	return secret
}

func doTokenRequest(t *testing.T, srv *Server, form url.Values) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("POST", "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	srv.HandleToken(rec, req)

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected error decoding response body: %v", err)
	}
	return rec.Code, body
}

func TestHandleToken_ClientCredentialsGrant(t *testing.T) {
	srv, clientRepo, _, _ := testServer(t)

	c := &client.Client{
		ID:         id.NewUUIDv7(),
		ClientID:   "service-client",
		ClientType: client.TypeConfidential,
		Internal:   true,
		Scope:      "read write",
		Grants:     []string{client.GrantClientCredentials},
	}
	clientRepo.clients[c.ID] = c

	form := url.Values{
		"grant_type":    {client.GrantClientCredentials},
		"client_id":     {c.ClientID},
		"client_secret": {mustClientSecret(t, c.ClientID)},
	}

	status, body := doTokenRequest(t, srv, form)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %+v", status, body)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Error("expected a non-empty access_token")
	}
	if body["refresh_token"] != nil && body["refresh_token"] != "" {
		t.Error("expected client_credentials to never mint a refresh token")
	}
}

// TestHandleToken_ClientCredentialsGrantNonInternalClient exercises the
// confidential-but-not-internal row of the grant table, where
// client.Normalize never assigns client_credentials to c.Grants at all.
// client_credentials is authorized by ClientType alone (grantClientCredentials
// in token.go), not by HasGrant, so this must still succeed.
func TestHandleToken_ClientCredentialsGrantNonInternalClient(t *testing.T) {
	srv, clientRepo, _, _ := testServer(t)

	draft := &client.Client{
		ID:            id.NewUUIDv7(),
		ClientID:      "third-party-service",
		ClientProfile: client.ProfileWeb,
		Internal:      false,
		Scope:         "read",
		Domaine:       "https://partner.example.com",
	}
	c, err := client.Normalize(draft, "sha256", []byte("hmac-key"))
	if err != nil {
		t.Fatalf("unexpected error normalizing client: %v", err)
	}
	if c.HasGrant(client.GrantClientCredentials) {
		t.Fatalf("precondition failed: a confidential, non-internal client should not be derived with client_credentials in Grants, got %v", c.Grants)
	}
	clientRepo.clients[c.ID] = c

	form := url.Values{
		"grant_type":    {client.GrantClientCredentials},
		"client_id":     {c.ClientID},
		"client_secret": {mustClientSecret(t, c.ClientID)},
	}

	status, body := doTokenRequest(t, srv, form)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %+v", status, body)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Error("expected a non-empty access_token")
	}
}

func TestHandleToken_PasswordGrantDerivesScopeFromUser(t *testing.T) {
	srv, clientRepo, _, userRepo := testServer(t)

	c := &client.Client{
		ID:         id.NewUUIDv7(),
		ClientID:   "first-party-app",
		ClientType: client.TypeConfidential,
		Internal:   true,
		Scope:      "read write admin",
		Grants:     []string{client.GrantPassword},
	}
	clientRepo.clients[c.ID] = c

	hasher := password.NewHasher(16*1024, 1, 1, 16, 32)
	hash, err := hasher.Hash("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("unexpected error hashing password: %v", err)
	}
	emailHash := ocrypto.ComputeEmailHash("hmac-key", "owner@example.com")
	u := &user.User{ID: id.NewUUIDv7(), EmailHash: emailHash, Scope: "read write"}
	userRepo.users[u.ID] = u
	userRepo.creds[u.ID] = &user.Credentials{UserID: u.ID, PasswordHash: hash}

	form := url.Values{
		"grant_type":    {client.GrantPassword},
		"client_id":     {c.ClientID},
		"client_secret": {mustClientSecret(t, c.ClientID)},
		"username":      {"owner@example.com"},
		"password":      {"correct-horse-battery-staple"},
	}

	status, body := doTokenRequest(t, srv, form)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %+v", status, body)
	}
	if body["refresh_token"] == "" || body["refresh_token"] == nil {
		t.Error("expected a confidential client on password grant to receive a refresh token")
	}
	for _, at := range srv.accessTokens.(*mockAccessTokenRepo).tokens {
		if at.Scope != "read write" {
			t.Errorf("expected scope derived from the user's scope %q, got %q", "read write", at.Scope)
		}
	}
}

func TestHandleToken_PasswordGrantRejectsWrongPassword(t *testing.T) {
	srv, clientRepo, _, userRepo := testServer(t)

	c := &client.Client{
		ID:         id.NewUUIDv7(),
		ClientID:   "first-party-app",
		ClientType: client.TypeConfidential,
		Internal:   true,
		Scope:      "read",
		Grants:     []string{client.GrantPassword},
	}
	clientRepo.clients[c.ID] = c

	hasher := password.NewHasher(16*1024, 1, 1, 16, 32)
	hash, _ := hasher.Hash("the-real-password")
	emailHash := ocrypto.ComputeEmailHash("hmac-key", "owner@example.com")
	u := &user.User{ID: id.NewUUIDv7(), EmailHash: emailHash, Scope: "read"}
	userRepo.users[u.ID] = u
	userRepo.creds[u.ID] = &user.Credentials{UserID: u.ID, PasswordHash: hash}

	form := url.Values{
		"grant_type":    {client.GrantPassword},
		"client_id":     {c.ClientID},
		"client_secret": {mustClientSecret(t, c.ClientID)},
		"username":      {"owner@example.com"},
		"password":      {"wrong-password"},
	}

	status, body := doTokenRequest(t, srv, form)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
	if body["error"] != CodeInvalidGrant {
		t.Errorf("expected error code %q, got %v", CodeInvalidGrant, body["error"])
	}
}

func TestHandleToken_AuthorizationCodeGrant(t *testing.T) {
	srv, clientRepo, codeRepo, _ := testServer(t)

	c := &client.Client{
		ID:           id.NewUUIDv7(),
		ClientID:     "web-app",
		ClientType:   client.TypeConfidential,
		Internal:     true,
		Scope:        "read write",
		RedirectURIs: []string{"https://app.example.com/callback"},
		Grants:       []string{client.GrantAuthorizationCode},
	}
	clientRepo.clients[c.ID] = c

	code := &client.AuthorizationCode{
		ID:                id.NewUUIDv7(),
		AuthorizationCode: "authz-code-123",
		ClientID:          c.ClientID,
		UserID:            "user-1",
		Scope:             "read",
		RedirectURI:       "https://app.example.com/callback",
		ExpiresAt:         time.Now().Add(10 * time.Minute),
	}
	codeRepo.codes[code.AuthorizationCode] = code

	form := url.Values{
		"grant_type":    {client.GrantAuthorizationCode},
		"client_id":     {c.ClientID},
		"client_secret": {mustClientSecret(t, c.ClientID)},
		"code":          {code.AuthorizationCode},
		"redirect_uri":  {"https://app.example.com/callback"},
	}

	status, body := doTokenRequest(t, srv, form)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %+v", status, body)
	}
	if !code.IsRevoked() {
		t.Error("expected the authorization code to be redeemed (revoked) after use")
	}

	// Replaying the same code must fail: it is single-use.
	status, body = doTokenRequest(t, srv, form)
	if status != 400 || body["error"] != CodeInvalidGrant {
		t.Errorf("expected a replayed authorization code to be rejected with invalid_grant, got %d %v", status, body)
	}
}

// TestHandleToken_RefreshTokenGrant exercises the full refresh path:
// refresh_token is never in a client's derived Grants (grantTable has no
// such row), so the grant handler must not be gated by HasGrant.
func TestHandleToken_RefreshTokenGrant(t *testing.T) {
	srv, clientRepo, codeRepo, _ := testServer(t)

	c := &client.Client{
		ID:           id.NewUUIDv7(),
		ClientID:     "web-app",
		ClientType:   client.TypeConfidential,
		Internal:     true,
		Scope:        "read write",
		RedirectURIs: []string{"https://app.example.com/callback"},
		Grants:       []string{client.GrantAuthorizationCode},
	}
	clientRepo.clients[c.ID] = c

	code := &client.AuthorizationCode{
		ID:                id.NewUUIDv7(),
		AuthorizationCode: "authz-code-456",
		ClientID:          c.ClientID,
		UserID:            "user-1",
		Scope:             "read write",
		RedirectURI:       "https://app.example.com/callback",
		ExpiresAt:         time.Now().Add(10 * time.Minute),
	}
	codeRepo.codes[code.AuthorizationCode] = code

	form := url.Values{
		"grant_type":    {client.GrantAuthorizationCode},
		"client_id":     {c.ClientID},
		"client_secret": {mustClientSecret(t, c.ClientID)},
		"code":          {code.AuthorizationCode},
		"redirect_uri":  {"https://app.example.com/callback"},
	}

	status, body := doTokenRequest(t, srv, form)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %+v", status, body)
	}
	refreshToken, _ := body["refresh_token"].(string)
	if refreshToken == "" {
		t.Fatalf("expected the authorization_code grant to mint a refresh token, got %+v", body)
	}

	refreshForm := url.Values{
		"grant_type":    {client.GrantRefreshToken},
		"client_id":     {c.ClientID},
		"client_secret": {mustClientSecret(t, c.ClientID)},
		"refresh_token": {refreshToken},
	}

	status, body = doTokenRequest(t, srv, refreshForm)
	if status != 200 {
		t.Fatalf("expected 200 from the refresh grant, got %d: %+v", status, body)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Error("expected a non-empty access_token from the refresh grant")
	}
	newRefreshToken, _ := body["refresh_token"].(string)
	if newRefreshToken == "" {
		t.Error("expected the refresh grant to mint a new refresh token for a confidential client")
	}
	if newRefreshToken == refreshToken {
		t.Error("expected a freshly minted refresh token, not the one just redeemed")
	}

	// The redeemed refresh token (and its paired access token) must not be
	// usable again.
	status, body = doTokenRequest(t, srv, refreshForm)
	if status != 400 || body["error"] != CodeInvalidGrant {
		t.Errorf("expected a replayed refresh token to be rejected with invalid_grant, got %d %v", status, body)
	}
}

func TestHandleToken_UnsupportedGrantType(t *testing.T) {
	srv, clientRepo, _, _ := testServer(t)

	c := &client.Client{
		ID:       id.NewUUIDv7(),
		ClientID: "any-client",
		Scope:    "read",
		Grants:   []string{client.GrantClientCredentials},
	}
	clientRepo.clients[c.ID] = c

	form := url.Values{
		"grant_type": {"carrier_pigeon"},
		"client_id":  {c.ClientID},
	}

	status, body := doTokenRequest(t, srv, form)
	if status != 400 || body["error"] != CodeUnsupportedGrantType {
		t.Errorf("expected unsupported_grant_type, got %d %v", status, body)
	}
}

func TestHandleToken_UnknownClientRejected(t *testing.T) {
	srv, _, _, _ := testServer(t)

	form := url.Values{
		"grant_type": {client.GrantClientCredentials},
		"client_id":  {"does-not-exist"},
	}

	status, body := doTokenRequest(t, srv, form)
	if status != 401 || body["error"] != CodeInvalidClient {
		t.Errorf("expected invalid_client, got %d %v", status, body)
	}
}
