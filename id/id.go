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

// Package id generates primary-key identifiers for persisted entities.
package id

import "github.com/google/uuid"

// NewUUIDv7 returns a new time-ordered UUIDv7 string, suitable as a
// primary key for any entity created by this service (clients, tokens,
// authorization codes, users, sessions).
func NewUUIDv7() string {
	v, err := uuid.NewV7()
	if err != nil {
		// Entropy source failure; fall back to a random v4 rather than
		// panicking a request handler.
		return uuid.NewString()
	}
	return v.String()
}
