package symmetric

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// AESGCM implements AES-GCM authenticated encryption.
type AESGCM struct {
	baseCipher
}

// NewAESGCM creates a new AES-GCM cipher.
//
// Key must be 16, 24, or 32 bytes for AES-128, AES-192, or AES-256.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if !ValidateKey(key) {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("symmetric: aes: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("symmetric: gcm: %w", err)
	}

	return &AESGCM{
		baseCipher: baseCipher{aead: aead},
	}, nil
}

// Type returns the cipher type.
func (c *AESGCM) Type() CipherType {
	return CipherAESGCM
}

// Encrypt seals plaintext under a fresh IV.
func (c *AESGCM) Encrypt(plaintext []byte) (Sealed, error) {
	return c.encrypt(plaintext)
}

// Decrypt opens ciphertext with iv.
func (c *AESGCM) Decrypt(ciphertext, iv []byte) ([]byte, error) {
	return c.decrypt(ciphertext, iv)
}
