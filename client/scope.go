// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package client

import "strings"

// scopeTokens splits a space-separated scope string into its tokens.
func scopeTokens(scope string) []string {
	return strings.Fields(scope)
}

func containsToken(tokens []string, token string) bool {
	for _, t := range tokens {
		if t == token {
			return true
		}
	}
	return false
}

// intersectScopes returns the set intersection of two space-separated scope
// strings, as a normalized (sorted-by-first-seen, deduplicated) space
// separated string. Order of the result is unspecified beyond that; callers
// comparing results should do so as sets.
func intersectScopes(a, b string) string {
	bTokens := scopeTokens(b)
	var out []string
	seen := map[string]bool{}
	for _, t := range scopeTokens(a) {
		if seen[t] {
			continue
		}
		if containsToken(bTokens, t) {
			out = append(out, t)
			seen[t] = true
		}
	}
	return strings.Join(out, " ")
}

// ValidateScope checks a requested scope string against a client's allowed
// scope. A client scope of "*" accepts anything except a wildcard requested
// by the caller; otherwise every requested token must appear in the
// client's scope.
func ValidateScope(c *Client, requested string) error {
	if requested == "" {
		return nil
	}
	if requested == ScopeWildcard {
		return ErrInvalidScope
	}
	if c.Scope == ScopeWildcard {
		return nil
	}

	allowed := scopeTokens(c.Scope)
	for _, t := range scopeTokens(requested) {
		if !containsToken(allowed, t) {
			return ErrInvalidScope
		}
	}
	return nil
}

// MergeScope resolves the scope granted to an issued token from the
// subject's own maximal scope, the scope requested on the request (if any),
// and the client's allowed scope. A present requestScope must pass
// ValidateScope and is intersected with subjectScope; without one,
// subjectScope is intersected with the client's scope. "*" in either operand
// yields the other operand unchanged.
func MergeScope(subjectScope, requestScope string, c *Client) (string, error) {
	if requestScope != "" {
		if err := ValidateScope(c, requestScope); err != nil {
			return "", err
		}
		switch {
		case requestScope == ScopeWildcard:
			return subjectScope, nil
		case subjectScope == ScopeWildcard:
			return requestScope, nil
		default:
			return intersectScopes(requestScope, subjectScope), nil
		}
	}

	switch {
	case c.Scope == ScopeWildcard:
		return subjectScope, nil
	case subjectScope == ScopeWildcard:
		return c.Scope, nil
	default:
		return intersectScopes(subjectScope, c.Scope), nil
	}
}

// IsSubsetScope reports whether every token in scope also appears in of,
// used by the refresh_token grant to reject a broader re-requested scope.
func IsSubsetScope(scope, of string) bool {
	if scope == "" {
		return true
	}
	if of == ScopeWildcard {
		return scope != ScopeWildcard
	}
	ofTokens := scopeTokens(of)
	for _, t := range scopeTokens(scope) {
		if !containsToken(ofTokens, t) {
			return false
		}
	}
	return true
}
