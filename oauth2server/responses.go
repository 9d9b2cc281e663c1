// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package oauth2server

import (
	"encoding/json"
	"net/http"

	"github.com/oauthforge/authserver/client"
)

// writeJSON writes v as a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the wire shape of a ProtocolError response, per RFC 6749
// section 5.2.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// writeProtocolError renders a ProtocolError as a JSON error body at the
// status it carries.
func writeProtocolError(w http.ResponseWriter, err ProtocolError) {
	writeJSON(w, err.HTTPStatus, errorBody{Error: err.Code, ErrorDescription: err.Description})
}

// tokenResponseBody is the wire shape of a successful token response.
type tokenResponseBody struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func writeTokenResponse(w http.ResponseWriter, resp *client.TokenResponse) {
	writeJSON(w, http.StatusOK, tokenResponseBody{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
		RefreshToken: resp.RefreshToken,
	})
}
