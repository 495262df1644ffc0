package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Cipher encrypts credential secrets with AES-256-GCM. Two keys are derived
// from the deployment secret so access and refresh token ciphertexts cannot
// be decrypted with each other's key.
type Cipher struct {
	accessAEAD  cipher.AEAD
	refreshAEAD cipher.AEAD
}

// NewCipher derives keys from the deployment secret. The derivation is a
// fixed KDF: the same secret always yields the same keys.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret is required")
	}

	accessAEAD, err := deriveAEAD(secret, "access-token")
	if err != nil {
		return nil, err
	}
	refreshAEAD, err := deriveAEAD(secret, "refresh-token")
	if err != nil {
		return nil, err
	}

	return &Cipher{
		accessAEAD:  accessAEAD,
		refreshAEAD: refreshAEAD,
	}, nil
}

func deriveAEAD(secret, info string) (cipher.AEAD, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return aead, nil
}

// EncryptAccess encrypts an access token
func (c *Cipher) EncryptAccess(plaintext string) (string, error) {
	return seal(c.accessAEAD, plaintext)
}

// DecryptAccess decrypts an access token ciphertext
func (c *Cipher) DecryptAccess(ciphertext string) (string, error) {
	return open(c.accessAEAD, ciphertext)
}

// EncryptRefresh encrypts a refresh token
func (c *Cipher) EncryptRefresh(plaintext string) (string, error) {
	return seal(c.refreshAEAD, plaintext)
}

// DecryptRefresh decrypts a refresh token ciphertext
func (c *Cipher) DecryptRefresh(ciphertext string) (string, error) {
	return open(c.refreshAEAD, ciphertext)
}

// seal produces base64(nonce || ciphertext)
func seal(aead cipher.AEAD, plaintext string) (string, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func open(aead cipher.AEAD, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}
