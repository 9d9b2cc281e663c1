// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import "testing"

func TestComputeEmailHashNormalizes(t *testing.T) {
	h1 := ComputeEmailHash("key", "  User@Example.com ")
	h2 := ComputeEmailHash("key", "user@example.com")

	if h1 != h2 {
		t.Error("expected email hash to be case and whitespace insensitive")
	}
}

func TestDeriveAndVerifyClientSecret(t *testing.T) {
	secret, err := DeriveClientSecret("sha256", []byte("hmac-key"), "client-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := VerifyClientSecret("sha256", []byte("hmac-key"), "client-123", secret)
	if err != nil || !ok {
		t.Errorf("expected derived secret to verify, ok=%v err=%v", ok, err)
	}

	ok, err = VerifyClientSecret("sha256", []byte("hmac-key"), "client-123", "wrong-secret")
	if err != nil || ok {
		t.Errorf("expected a wrong secret to fail verification, ok=%v err=%v", ok, err)
	}
}

func TestDeriveClientSecretUnsupportedAlgorithm(t *testing.T) {
	if _, err := DeriveClientSecret("md5", []byte("k"), "c"); err != ErrUnsupportedHMACAlgorithm {
		t.Errorf("expected ErrUnsupportedHMACAlgorithm, got %v", err)
	}
}
