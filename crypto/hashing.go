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
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"hash"
	"strings"
)

// ComputeEmailHash computes a HMAC-SHA256 hash for an email using the provided key.
//
// Purpose: Generates a stable, opaque primary identifier for users to prevent email exposure in secondary indices.
// Domain: Identity
// Invariants: Normalizes email to lowercase and trims whitespace before hashing.
// Audited: No
// Errors: None
func ComputeEmailHash(key string, emailPlain string) string {
	normalized := strings.TrimSpace(strings.ToLower(emailPlain))

	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(normalized))

	return hex.EncodeToString(h.Sum(nil))
}

// ErrUnsupportedHMACAlgorithm is returned when OAUTH_HMAC_ALGORITHM names a
// hash construction this package does not recognize.
var ErrUnsupportedHMACAlgorithm = errors.New("crypto: unsupported hmac algorithm")

// hmacConstructors maps the configuration-facing algorithm name to a
// hash.Hash constructor, the same style of name->constructor table
// jwt.go keeps for its JOSE signature algorithms.
var hmacConstructors = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// DeriveClientSecret computes secret = HMAC(algorithm, key, clientID), hex-encoded.
// It is the client-credential analogue of ComputeEmailHash: a keyed MAC over an
// opaque identifier, so the server never has to persist the secret itself.
func DeriveClientSecret(algorithm string, key []byte, clientID string) (string, error) {
	ctor, ok := hmacConstructors[strings.ToLower(algorithm)]
	if !ok {
		return "", ErrUnsupportedHMACAlgorithm
	}

	h := hmac.New(ctor, key)
	h.Write([]byte(clientID))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyClientSecret recomputes the client secret and compares it against the
// candidate in constant time, so a timing side channel can't be used to
// brute-force the secret one byte at a time.
func VerifyClientSecret(algorithm string, key []byte, clientID string, candidate string) (bool, error) {
	expected, err := DeriveClientSecret(algorithm, key, clientID)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1, nil
}
