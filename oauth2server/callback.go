// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package oauth2server

import "net/http"

// HandleCallback serves GET /oauth/callback: a diagnostic echo of whatever
// query string it received, useful when manually exercising the
// authorization_code flow against a redirect_uri this server owns instead
// of a registered third-party client.
func (s *Server) HandleCallback(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"code":  r.URL.Query().Get("code"),
		"state": r.URL.Query().Get("state"),
		"error": r.URL.Query().Get("error"),
	})
}
