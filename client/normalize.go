// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"net/url"

	ocrypto "github.com/oauthforge/authserver/crypto"
)

// grantTable implements the ClientType x Internal -> grants derivation from
// the data model: the grant set is never accepted as input, only computed.
var grantTable = map[ClientType]map[bool][]string{
	TypePublic: {
		true:  {GrantImplicit, GrantAuthorizationCode, GrantPassword},
		false: {GrantImplicit, GrantAuthorizationCode},
	},
	TypeConfidential: {
		true:  {GrantImplicit, GrantAuthorizationCode, GrantPassword, GrantClientCredentials},
		false: {GrantImplicit, GrantAuthorizationCode},
	},
}

// deriveClientType maps a client profile to its client type: web clients run
// on a server that can protect a secret, so they are confidential; anything
// else (user-agent-based, native) is public.
func deriveClientType(profile ClientProfile) ClientType {
	if profile == ProfileWeb {
		return TypeConfidential
	}
	return TypePublic
}

// Normalize runs the write-path derivation the entity store must apply
// before persisting a Client: profile -> type -> secret presence -> grants.
// It is a pure function precisely so tests can exercise the derivation
// without a live store, per the design notes. hmacAlgorithm/hmacKey are the
// OAUTH_HMAC_ALGORITHM/OAUTH_SECRET_KEY configuration values.
func Normalize(draft *Client, hmacAlgorithm string, hmacKey []byte) (*Client, error) {
	c := *draft

	switch c.ClientProfile {
	case ProfileWeb, ProfileUserAgentBased, ProfileNative:
	default:
		return nil, fmt.Errorf("%w: unknown client profile %q", ErrInvalidScope, c.ClientProfile)
	}

	c.ClientType = deriveClientType(c.ClientProfile)
	c.Grants = grantTable[c.ClientType][c.Internal]

	if c.ClientType == TypeConfidential {
		secret, err := ocrypto.DeriveClientSecret(hmacAlgorithm, hmacKey, c.ClientID)
		if err != nil {
			return nil, err
		}
		c.SecretKey = secret
	} else {
		c.SecretKey = ""
	}

	if c.ClientProfile == ProfileWeb || c.ClientProfile == ProfileUserAgentBased {
		if c.Domaine == "" {
			return nil, fmt.Errorf("%w: domaine is required for profile %q", ErrInvalidDomaine, c.ClientProfile)
		}
	}
	if c.Domaine != "" {
		if u, err := url.ParseRequestURI(c.Domaine); err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDomaine, c.Domaine)
		}
	}

	for _, uri := range c.RedirectURIs {
		u, err := url.ParseRequestURI(uri)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRedirectURI, uri)
		}
	}

	if !c.Internal {
		if c.Scope == "" {
			return nil, fmt.Errorf("%w: non-internal client must declare a scope", ErrInvalidScope)
		}
		if c.Scope == ScopeWildcard {
			return nil, fmt.Errorf("%w: non-internal client may not request wildcard scope", ErrInvalidScope)
		}
	}

	return &c, nil
}
