// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package oauth2server

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"time"

	"github.com/oauthforge/authserver/audit"
	"github.com/oauthforge/authserver/client"
	"github.com/oauthforge/authserver/id"
)

// HandleAuthorize serves both halves of the front channel: GET starts a new
// authorization request, POST carries the resource owner's decision back
// from the login dialog (RFC 6749 section 3.1, section 4.1.1).
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleAuthorizeStart(w, r)
	case http.MethodPost:
		s.handleAuthorizeDecision(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAuthorizeStart validates the incoming request, persists an
// authorization code, and redirects the browser to the login dialog. Per
// the error handling design: a client lookup/redirect_uri failure renders
// an error page directly (the redirect_uri is not yet trusted), while a
// scope failure — now that redirect_uri is known good — redirects with an
// error query string instead.
func (s *Server) handleAuthorizeStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	responseType := q.Get("response_type")
	scope := q.Get("scope")
	state := q.Get("state")
	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")

	c, err := s.clients.GetByClientID(r.Context(), clientID)
	if err != nil || c.IsRevoked() {
		http.Error(w, "unknown or revoked client", http.StatusBadRequest)
		return
	}

	if !c.ValidateRedirectURI(redirectURI) {
		http.Error(w, "redirect_uri does not match a registered URI for this client", http.StatusBadRequest)
		return
	}

	if responseType != "code" {
		s.redirectWithError(w, r, redirectURI, ProtocolError{
			Code:        CodeInvalidRequest,
			Description: "response_type must be \"code\"",
			State:       state,
		})
		return
	}

	if err := client.ValidateScope(c, scope); err != nil {
		s.redirectWithError(w, r, redirectURI, errInvalidScope("requested scope exceeds the client's allowed scope").withState(state))
		return
	}

	now := time.Now()
	authzCode := &client.AuthorizationCode{
		ID:                  id.NewUUIDv7(),
		AuthorizationCode:   generateCodeValue(),
		ClientID:            c.ClientID,
		Scope:               scope,
		RedirectURI:         redirectURI,
		State:               state,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		ExpiresAt:           now.Add(s.authCodeTTL),
		CreatedAt:           now,
	}
	if err := s.codes.Create(r.Context(), authzCode); err != nil {
		s.redirectWithError(w, r, redirectURI, errServerError(err).withState(state))
		return
	}

	s.auditLogger.Log(r.Context(), audit.Event{
		Type:       audit.TypeCodeIssued,
		Resource:   audit.ResourceCode,
		TargetID:   authzCode.ID,
		TargetName: c.Name,
	})

	payload, err := encodeDialogPayload(s.dialogKey, dialogPayload{ClientID: c.ClientID, Code: authzCode.AuthorizationCode})
	if err != nil {
		s.redirectWithError(w, r, redirectURI, errServerError(err).withState(state))
		return
	}

	http.Redirect(w, r, "/oauth/dialog?p="+url.QueryEscape(payload), http.StatusFound)
}

// handleAuthorizeDecision processes the dialog's POST: a cancellation, a
// fresh credential submission, or a consent confirmation from a browser
// that already carries a session.
func (s *Server) handleAuthorizeDecision(w http.ResponseWriter, r *http.Request) {
	_, code, ok := s.loadDialogCode(w, r)
	if !ok {
		return
	}

	if r.FormValue("decision") == "cancel" {
		s.redirectWithError(w, r, code.RedirectURI, errAccessDenied(code.State))
		return
	}

	if email := r.FormValue("email"); email != "" {
		u, err := s.users.Authenticate(r.Context(), email, r.FormValue("password"))
		if err != nil {
			raw := r.FormValue("p")
			renderLoginForm(w, raw, "invalid email or password")
			return
		}
		s.completeAuthorization(w, r, code, u.ID)
		return
	}

	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		http.Error(w, "no active session to confirm consent for", http.StatusBadRequest)
		return
	}
	sess, err := s.sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		http.Error(w, "session expired, please sign in again", http.StatusBadRequest)
		return
	}
	s.completeAuthorization(w, r, code, sess.UserID)
}

// completeAuthorization attaches the authenticated subject and scope to the
// authorization code, establishes a browser session, and redirects back to
// the client's redirect_uri with the code.
func (s *Server) completeAuthorization(w http.ResponseWriter, r *http.Request, code *codeState, userID string) {
	if err := s.codes.Attach(r.Context(), code.AuthorizationCode, userID, code.Scope); err != nil {
		s.redirectWithError(w, r, code.RedirectURI, errServerError(err).withState(code.State))
		return
	}

	sess, err := s.sessions.Create(r.Context(), userID, clientIP(r), r.UserAgent())
	if err == nil {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.cookieSecure,
			SameSite: http.SameSiteLaxMode,
			Expires:  sess.ExpiresAt,
		})
	}

	q := url.Values{}
	q.Set("code", code.AuthorizationCode)
	if code.State != "" {
		q.Set("state", code.State)
	}
	http.Redirect(w, r, code.RedirectURI+"?"+q.Encode(), http.StatusFound)
}

// redirectWithError redirects to redirectURI with the RFC 6749 section
// 4.1.2.1 error query parameters.
func (s *Server) redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI string, protoErr ProtocolError) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, protoErr.Error(), http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("error", protoErr.Code)
	if protoErr.Description != "" {
		q.Set("error_description", protoErr.Description)
	}
	if protoErr.State != "" {
		q.Set("state", protoErr.State)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// generateCodeValue returns a random, URL-safe authorization code value
// distinct from its record ID, following the same random-token construction
// session.generateSessionID uses for browser session identifiers.
func generateCodeValue() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
