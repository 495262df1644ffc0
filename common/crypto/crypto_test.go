package crypto

import (
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	c, err := NewCipher("unit-test-secret")
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	plaintext := "ya29.someaccesstoken"
	sealed, err := c.EncryptAccess(plaintext)
	if err != nil {
		t.Fatalf("EncryptAccess failed: %v", err)
	}

	if strings.Contains(sealed, plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	got, err := c.DecryptAccess(sealed)
	if err != nil {
		t.Fatalf("DecryptAccess failed: %v", err)
	}
	if got != plaintext {
		t.Errorf("round trip mismatch: got %q", got)
	}
}

func TestDistinctDerivation(t *testing.T) {
	c, err := NewCipher("unit-test-secret")
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	// An access-token ciphertext must not open with the refresh key.
	sealed, err := c.EncryptAccess("token-value")
	if err != nil {
		t.Fatalf("EncryptAccess failed: %v", err)
	}

	if _, err := c.DecryptRefresh(sealed); err == nil {
		t.Error("refresh key decrypted access ciphertext; derivations are not distinct")
	}
}

func TestDeterministicKeys(t *testing.T) {
	c1, _ := NewCipher("same-secret")
	c2, _ := NewCipher("same-secret")

	sealed, err := c1.EncryptRefresh("1//refreshtoken")
	if err != nil {
		t.Fatalf("EncryptRefresh failed: %v", err)
	}

	got, err := c2.DecryptRefresh(sealed)
	if err != nil {
		t.Fatalf("second cipher could not decrypt: %v", err)
	}
	if got != "1//refreshtoken" {
		t.Errorf("round trip across instances mismatch: got %q", got)
	}
}

func TestEmptySecretRejected(t *testing.T) {
	if _, err := NewCipher(""); err == nil {
		t.Error("expected error for empty secret")
	}
}
