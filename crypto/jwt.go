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
	"encoding/json"
	"errors"
	"fmt"

	jose "gopkg.in/square/go-jose.v2"
)

// Claims is the claim set signed into both access and refresh token JWTs.
// Scope is empty for refresh tokens, which carry no scope of their own
// (the parent access token's scope is authoritative).
type Claims struct {
	Issuer          string `json:"iss"`
	Audience        string `json:"aud"`
	AuthorizedParty string `json:"azp"`
	Subject         string `json:"sub"`
	ClientID        string `json:"client_id"`
	Scope           string `json:"scope,omitempty"`
	ID              string `json:"jti"`
	ExpiresAt       int64  `json:"exp"`
}

// ErrInvalidToken is returned by Verify for any malformed, mis-signed, or
// unparseable JWT. Callers translate it to the OAuth invalid_grant error.
var ErrInvalidToken = errors.New("crypto: invalid token")

// supportedAlgorithms lists the JOSE signature algorithms this server will
// sign with or accept: one HMAC family and the two most common asymmetric
// families.
var supportedAlgorithms = map[string]jose.SignatureAlgorithm{
	"HS256": jose.HS256,
	"HS384": jose.HS384,
	"HS512": jose.HS512,
	"RS256": jose.RS256,
	"ES256": jose.ES256,
}

// JWTSigner signs and verifies the compact JWS tokens the token factory
// issues. Key is either a []byte (HMAC families) or an asymmetric private/
// public key recognized by go-jose (e.g. *rsa.PrivateKey / *rsa.PublicKey).
type JWTSigner struct {
	algorithm jose.SignatureAlgorithm
	signer    jose.Signer
	verifyKey interface{}
}

// NewJWTSigner builds a signer for the configured algorithm and key
// material. signKey is used to sign; verifyKey is used to verify (for
// symmetric algorithms they are the same value).
func NewJWTSigner(algorithmName string, signKey, verifyKey interface{}) (*JWTSigner, error) {
	alg, ok := supportedAlgorithms[algorithmName]
	if !ok {
		return nil, fmt.Errorf("crypto: unsupported jwt algorithm %q", algorithmName)
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: signKey}, &jose.SignerOptions{})
	if err != nil {
		return nil, fmt.Errorf("crypto: unable to create signer: %w", err)
	}

	return &JWTSigner{algorithm: alg, signer: signer, verifyKey: verifyKey}, nil
}

// Sign produces a compact JWS over claims.
func (s *JWTSigner) Sign(claims Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("crypto: unable to marshal claims: %w", err)
	}

	jws, err := s.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("crypto: unable to sign claims: %w", err)
	}

	return jws.CompactSerialize()
}

// Verify parses and verifies a compact JWS, returning its claim set. The
// signature algorithm is pinned to the one this signer was built with, so a
// token signed with "alg: none" or a different algorithm is rejected.
func (s *JWTSigner) Verify(token string) (Claims, error) {
	jws, err := jose.ParseSigned(token)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	if len(jws.Signatures) != 1 || jws.Signatures[0].Header.Algorithm != string(s.algorithm) {
		return Claims{}, ErrInvalidToken
	}

	payload, err := jws.Verify(s.verifyKey)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}

	return claims, nil
}
