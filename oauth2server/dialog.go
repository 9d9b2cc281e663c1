// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package oauth2server

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// dialogPayload is the opaque state the authorize handler hands the browser
// so /oauth/dialog can recover which authorization code it is deciding on
// without trusting anything the browser could tamper with: the client_id
// scopes the lookup and the code itself is the record's natural key.
type dialogPayload struct {
	ClientID string `json:"cid"`
	Code     string `json:"code"`
}

var errDialogPayloadInvalid = errors.New("oauth2server: dialog payload invalid or tampered")

// encodeDialogPayload serializes and HMAC-signs p, producing the value
// carried in the /oauth/dialog?p= query parameter and echoed back on the
// POST /oauth/authorize submission.
func encodeDialogPayload(key []byte, p dialogPayload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode dialog payload: %w", err)
	}
	sig := signDialogPayload(key, body)
	return base64.RawURLEncoding.EncodeToString(body) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// decodeDialogPayload verifies and parses a value previously produced by
// encodeDialogPayload, in constant time against the signature.
func decodeDialogPayload(key []byte, token string) (dialogPayload, error) {
	var p dialogPayload

	parts := splitOnce(token, '.')
	if len(parts) != 2 {
		return p, errDialogPayloadInvalid
	}

	body, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return p, errDialogPayloadInvalid
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return p, errDialogPayloadInvalid
	}

	expected := signDialogPayload(key, body)
	if subtle.ConstantTimeCompare(expected, sig) != 1 {
		return p, errDialogPayloadInvalid
	}

	if err := json.Unmarshal(body, &p); err != nil {
		return p, errDialogPayloadInvalid
	}
	return p, nil
}

func signDialogPayload(key, body []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(body)
	return h.Sum(nil)
}

func splitOnce(s string, sep byte) []string {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return []string{s[:i], s[i+1:]}
		}
	}
	return []string{s}
}

const sessionCookieName = "oauth_session"

// codeState is the subset of client.AuthorizationCode the dialog and the
// decision handler need.
type codeState struct {
	AuthorizationCode string
	RedirectURI       string
	State             string
	Scope             string
}

// loadDialogCode decodes and verifies the ?p= (or form "p") payload and
// loads the authorization code it names. On failure it writes a response
// itself and returns ok=false.
func (s *Server) loadDialogCode(w http.ResponseWriter, r *http.Request) (string, *codeState, bool) {
	raw := r.URL.Query().Get("p")
	if raw == "" {
		raw = r.FormValue("p")
	}

	payload, err := decodeDialogPayload(s.dialogKey, raw)
	if err != nil {
		http.Error(w, "invalid or expired authorization request", http.StatusBadRequest)
		return "", nil, false
	}

	c, err := s.codes.GetByClientAndCode(r.Context(), payload.ClientID, payload.Code)
	if err != nil {
		http.Error(w, "invalid or expired authorization request", http.StatusBadRequest)
		return "", nil, false
	}
	if c.IsExpired() || c.IsRevoked() {
		http.Error(w, "authorization request expired", http.StatusBadRequest)
		return "", nil, false
	}

	return raw, &codeState{
		AuthorizationCode: c.AuthorizationCode,
		RedirectURI:       c.RedirectURI,
		State:             c.State,
		Scope:             c.Scope,
	}, true
}

// HandleDialog serves GET /oauth/dialog: render the credential form for a
// fresh browser, or a consent confirmation for one that already carries a
// valid session. Both forms submit to POST /oauth/authorize.
func (s *Server) HandleDialog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, code, ok := s.loadDialogCode(w, r)
	if !ok {
		return
	}

	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if _, err := s.sessions.Get(r.Context(), cookie.Value); err == nil {
			renderConsentForm(w, raw, code.Scope)
			return
		}
	}

	renderLoginForm(w, raw, "")
}

// renderLoginForm writes a minimal HTML credential form. The login UI
// itself is out of scope; only the wire contract (fields "email" and
// "password", "decision=cancel" to deny) is specified. raw is the same
// ?p= payload the GET carried, threaded through unchanged so the POST can
// recover the same authorization code.
func renderLoginForm(w http.ResponseWriter, raw, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!doctype html>
<html><body>
<form method="post" action="/oauth/authorize">
<input type="hidden" name="p" value="%s">
<input type="email" name="email" placeholder="email" required>
<input type="password" name="password" placeholder="password" required>
<button type="submit">Authorize</button>
<button type="submit" name="decision" value="cancel">Cancel</button>
</form>
%s
</body></html>`, raw, errMsg)
}

// renderConsentForm writes the consent confirmation shown to a browser that
// already has a session, so a returning resource owner isn't re-prompted
// for credentials.
func renderConsentForm(w http.ResponseWriter, raw, scope string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!doctype html>
<html><body>
<p>Grant access to scope: %s</p>
<form method="post" action="/oauth/authorize">
<input type="hidden" name="p" value="%s">
<button type="submit">Allow</button>
<button type="submit" name="decision" value="cancel">Deny</button>
</form>
</body></html>`, scope, raw)
}
