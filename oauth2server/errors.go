// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

// Package oauth2server implements the HTTP front and back channels of the
// authorization server: the /oauth/authorize and /oauth/dialog endpoints
// (front-channel) and the /oauth/token endpoint (back-channel).
package oauth2server

import (
	"log/slog"
	"net/http"
)

// ProtocolError is an RFC 6749 section 5.2 error, carried as a value rather
// than a panic or a bare Go error so every endpoint can translate it to
// either a JSON body or a redirect query string without losing the HTTP
// status it should produce.
type ProtocolError struct {
	HTTPStatus  int
	Code        string
	Description string
	State       string
}

func (e ProtocolError) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

// withState returns a copy of e carrying the request's state parameter, for
// errors built before state is known at the call site.
func (e ProtocolError) withState(state string) ProtocolError {
	e.State = state
	return e
}

// Error code constants, the RFC 6749 set plus server_error.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidGrant         = "invalid_grant"
	CodeUnauthorizedClient   = "unauthorized_client"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeInvalidScope         = "invalid_scope"
	CodeAccessDenied         = "access_denied"
	CodeServerError          = "server_error"
)

func errInvalidRequest(description string) ProtocolError {
	return ProtocolError{HTTPStatus: http.StatusBadRequest, Code: CodeInvalidRequest, Description: description}
}

func errInvalidClient(description string) ProtocolError {
	return ProtocolError{HTTPStatus: http.StatusUnauthorized, Code: CodeInvalidClient, Description: description}
}

func errInvalidGrant(description string) ProtocolError {
	return ProtocolError{HTTPStatus: http.StatusBadRequest, Code: CodeInvalidGrant, Description: description}
}

func errUnauthorizedClient(description string) ProtocolError {
	return ProtocolError{HTTPStatus: http.StatusBadRequest, Code: CodeUnauthorizedClient, Description: description}
}

func errUnsupportedGrantType(grant string) ProtocolError {
	return ProtocolError{
		HTTPStatus:  http.StatusBadRequest,
		Code:        CodeUnsupportedGrantType,
		Description: "grant_type " + grant + " is not supported",
	}
}

func errInvalidScope(description string) ProtocolError {
	return ProtocolError{HTTPStatus: http.StatusBadRequest, Code: CodeInvalidScope, Description: description}
}

// errServerError logs cause (never leaked in the response body, per the
// error handling design) and returns the public server_error value.
func errServerError(cause error) ProtocolError {
	slog.Error("oauth2server: internal error", "error", cause)
	return ProtocolError{
		HTTPStatus:  http.StatusBadRequest,
		Code:        CodeServerError,
		Description: "the server encountered an unexpected condition",
	}
}

// errAccessDenied builds the error redirected to the client's redirect_uri
// when the resource owner cancels the dialog; a failed login re-renders the
// form instead. state is echoed back per RFC 6749 section 4.1.2.1.
func errAccessDenied(state string) ProtocolError {
	return ProtocolError{Code: CodeAccessDenied, Description: "resource owner denied the request", State: state}
}
