// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package oauth2server

import (
	"errors"
	"net/http"

	"github.com/oauthforge/authserver/audit"
	"github.com/oauthforge/authserver/client"
	"github.com/oauthforge/authserver/crypto"
)

// mintAccessToken calls the token factory and translates
// client.ErrGrantNotAllowed into the RFC 6749 unauthorized_client response;
// every other error passes through unchanged.
func (s *Server) mintAccessToken(r *http.Request, c *client.Client, grant, scope, subject string, meta client.RequestMeta) (*client.TokenResponse, error) {
	resp, err := s.tokens.NewAccessToken(r.Context(), c, grant, scope, subject, meta)
	if err != nil {
		if errors.Is(err, client.ErrGrantNotAllowed) {
			return nil, errUnauthorizedClient(err.Error())
		}
		return nil, err
	}
	return resp, nil
}

// HandleToken serves POST /oauth/token: the back-channel grant dispatch
// (RFC 6749 section 4 and section 6).
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeProtocolError(w, errInvalidRequest("malformed request body"))
		return
	}

	clientID, clientSecret, hasBasic := r.BasicAuth()
	if !hasBasic {
		clientID = r.FormValue("client_id")
		clientSecret = r.FormValue("client_secret")
	}
	if clientID == "" {
		writeProtocolError(w, errInvalidRequest("client_id is required"))
		return
	}

	c, err := s.clients.GetByClientID(r.Context(), clientID)
	if err != nil || c.IsRevoked() {
		writeProtocolError(w, errInvalidClient("unknown or revoked client"))
		return
	}

	requestedScope := r.FormValue("scope")
	if requestedScope != "" {
		if err := client.ValidateScope(c, requestedScope); err != nil {
			writeProtocolError(w, errInvalidScope("requested scope exceeds the client's allowed scope"))
			return
		}
	}

	if c.ClientType == client.TypeConfidential {
		if clientSecret == "" {
			writeProtocolError(w, errInvalidRequest("client_secret is required for confidential clients"))
			return
		}
		ok, err := crypto.VerifyClientSecret(s.hmacAlgorithm, s.hmacKey, c.ClientID, clientSecret)
		if err != nil || !ok {
			s.auditLogger.Log(r.Context(), audit.Event{
				Type:       audit.TypeClientAuthFailed,
				Resource:   audit.ResourceClient,
				TargetID:   c.ClientID,
				TargetName: c.Name,
			})
			writeProtocolError(w, errInvalidClient("client secret does not verify"))
			return
		}
	}

	grantType := r.FormValue("grant_type")
	meta := client.RequestMeta{UserAgent: r.UserAgent(), BaseURL: s.baseURL}

	var resp *client.TokenResponse
	switch grantType {
	case client.GrantAuthorizationCode:
		resp, err = s.grantAuthorizationCode(r, c, requestedScope, meta)
	case client.GrantClientCredentials:
		resp, err = s.grantClientCredentials(r, c, requestedScope, meta)
	case client.GrantPassword:
		resp, err = s.grantPassword(r, c, requestedScope, meta)
	case client.GrantRefreshToken:
		resp, err = s.grantRefreshToken(r, c, requestedScope, meta)
	case "":
		writeProtocolError(w, errInvalidRequest("grant_type is required"))
		return
	default:
		writeProtocolError(w, errUnsupportedGrantType(grantType))
		return
	}

	if err != nil {
		if protoErr, ok := err.(ProtocolError); ok {
			writeProtocolError(w, protoErr)
			return
		}
		writeProtocolError(w, errServerError(err))
		return
	}

	s.auditLogger.Log(r.Context(), audit.Event{
		Type:       audit.TypeTokenIssued,
		Resource:   audit.ResourceToken,
		TargetName: c.Name,
		Metadata:   map[string]any{"grant_type": grantType},
	})

	writeTokenResponse(w, resp)
}

// grantAuthorizationCode implements RFC 6749 section 4.1.3.
func (s *Server) grantAuthorizationCode(r *http.Request, c *client.Client, requestedScope string, meta client.RequestMeta) (*client.TokenResponse, error) {
	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")
	if code == "" {
		return nil, errInvalidRequest("code is required")
	}

	authzCode, err := s.codes.GetByClientAndCode(r.Context(), c.ClientID, code)
	if err != nil {
		return nil, errInvalidGrant("authorization code not found")
	}
	if authzCode.IsExpired() || authzCode.IsRevoked() {
		return nil, errInvalidGrant("authorization code expired or already used")
	}
	if authzCode.RedirectURI != redirectURI {
		return nil, errInvalidGrant("redirect_uri does not match the one used to request this code")
	}

	if authzCode.CodeChallenge != "" {
		verifier := r.FormValue("code_verifier")
		if verifier == "" {
			return nil, errInvalidRequest("code_verifier is required")
		}
		if !crypto.VerifyPKCE(authzCode.CodeChallengeMethod, verifier, authzCode.CodeChallenge) {
			return nil, errInvalidGrant("code_verifier does not match code_challenge")
		}
	}

	if err := s.codes.Redeem(r.Context(), code); err != nil {
		return nil, errInvalidGrant("authorization code already used")
	}

	s.auditLogger.Log(r.Context(), audit.Event{
		Type:     audit.TypeCodeRedeemed,
		Resource: audit.ResourceCode,
		TargetID: authzCode.ID,
		ActorID:  authzCode.UserID,
	})

	return s.mintAccessToken(r, c, client.GrantAuthorizationCode, authzCode.Scope, authzCode.UserID, meta)
}

// grantClientCredentials implements RFC 6749 section 4.4.
func (s *Server) grantClientCredentials(r *http.Request, c *client.Client, requestedScope string, meta client.RequestMeta) (*client.TokenResponse, error) {
	if c.ClientType != client.TypeConfidential {
		return nil, errUnauthorizedClient("client_credentials requires a confidential client")
	}

	scope, err := client.MergeScope(c.Scope, requestedScope, c)
	if err != nil {
		return nil, errInvalidScope("requested scope exceeds the client's allowed scope")
	}

	return s.mintAccessToken(r, c, client.GrantClientCredentials, scope, c.ClientID, meta)
}

// grantPassword implements RFC 6749 section 4.3.
func (s *Server) grantPassword(r *http.Request, c *client.Client, requestedScope string, meta client.RequestMeta) (*client.TokenResponse, error) {
	username := r.FormValue("username")
	password := r.FormValue("password")
	if username == "" || password == "" {
		return nil, errInvalidRequest("username and password are required")
	}

	u, err := s.users.Authenticate(r.Context(), username, password)
	if err != nil {
		return nil, errInvalidGrant("invalid resource owner credentials")
	}

	scope, err := client.MergeScope(u.Scope, requestedScope, c)
	if err != nil {
		return nil, errInvalidScope("requested scope exceeds the subject's or client's allowed scope")
	}

	return s.mintAccessToken(r, c, client.GrantPassword, scope, u.ID, meta)
}

// grantRefreshToken implements RFC 6749 section 6.
func (s *Server) grantRefreshToken(r *http.Request, c *client.Client, requestedScope string, meta client.RequestMeta) (*client.TokenResponse, error) {
	token := r.FormValue("refresh_token")
	if token == "" {
		return nil, errInvalidRequest("refresh_token is required")
	}

	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, errInvalidGrant("refresh token signature is invalid")
	}

	rt, err := s.refreshTokens.GetByID(r.Context(), claims.ID)
	if err != nil {
		return nil, errInvalidGrant("refresh token not found")
	}
	if rt.IsExpired() || rt.IsRevoked() {
		return nil, errInvalidGrant("refresh token expired or revoked")
	}

	at, err := s.accessTokens.GetByID(r.Context(), rt.AccessTokenID)
	if err != nil {
		return nil, errInvalidGrant("paired access token not found")
	}
	if at.ClientID != c.ClientID {
		return nil, errInvalidGrant("refresh token was issued to a different client")
	}

	scope := at.Scope
	if requestedScope != "" {
		if !client.IsSubsetScope(requestedScope, at.Scope) {
			return nil, errInvalidScope("requested scope exceeds the scope previously granted")
		}
		scope = requestedScope
	}

	if err := s.accessTokens.Revoke(r.Context(), at.ID); err != nil {
		return nil, errServerError(err)
	}
	if err := s.refreshTokens.Revoke(r.Context(), rt.ID); err != nil {
		return nil, errServerError(err)
	}

	return s.mintAccessToken(r, c, client.GrantRefreshToken, scope, at.UserID, meta)
}
