// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE code challenge methods (RFC 7636 section 4.3).
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// ComputeS256Challenge hashes a PKCE code verifier the way a conforming
// client would before sending it as code_challenge: base64url(SHA-256(ASCII(verifier))),
// padding stripped.
func ComputeS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE checks a code_verifier presented at the token endpoint against
// the code_challenge stored alongside the authorization code. A present
// challenge with no method defaults to "plain" per RFC 7636 section 4.3; any
// other unrecognized method still fails closed.
func VerifyPKCE(method, verifier, challenge string) bool {
	if method == "" {
		method = PKCEMethodPlain
	}
	switch method {
	case PKCEMethodS256:
		computed := ComputeS256Challenge(verifier)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	case PKCEMethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}
