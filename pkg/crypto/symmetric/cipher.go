package symmetric

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

// Errors returned by this package.
var (
	ErrInvalidKey = errors.New("symmetric: invalid key size: must be 16, 24, or 32 bytes")
	ErrDecryption = errors.New("symmetric: decryption failed")
)

// DecryptionError reports a failed decryption: wrong key, wrong IV or
// corrupted ciphertext. It matches ErrDecryption with errors.Is.
type DecryptionError struct {
	Reason string
	Cause  error
}

func (e *DecryptionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("symmetric: decryption failed: %s: %v", e.Reason, e.Cause)
	}
	return "symmetric: decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Cause }

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// Sealed is the output of Encrypt. The IV is kept apart from the
// ciphertext (which still carries the authentication tag).
type Sealed struct {
	Ciphertext []byte
	IV         []byte
}

// Cipher provides authenticated encryption with an explicit IV.
type Cipher interface {
	// Type returns the cipher type.
	Type() CipherType

	// Encrypt seals plaintext under a freshly generated IV.
	Encrypt(plaintext []byte) (Sealed, error)

	// Decrypt opens ciphertext produced by Encrypt with the matching IV.
	Decrypt(ciphertext, iv []byte) ([]byte, error)

	// NonceSize returns the IV size in bytes.
	NonceSize() int

	// Overhead returns the authentication tag size in bytes.
	Overhead() int
}

// ValidateKey reports whether key has an allowed raw length (16, 24 or 32
// bytes, the AES-128/192/256 key sizes).
func ValidateKey(key []byte) bool {
	switch len(key) {
	case 16, 24, 32:
		return true
	default:
		return false
	}
}

// New creates the default cipher (AES-GCM) for key.
func New(key []byte) (Cipher, error) {
	return NewAESGCM(key)
}

// NewWithType creates a cipher of the specified type. An empty type selects
// the default.
func NewWithType(key []byte, cipherType CipherType) (Cipher, error) {
	switch cipherType {
	case CipherAESGCM, "":
		return NewAESGCM(key)
	case CipherChaCha20:
		return NewChaCha20(key)
	default:
		return nil, errors.New("symmetric: unknown cipher type: " + string(cipherType))
	}
}

// EncryptString encrypts plaintext with the default cipher and returns the
// ciphertext and IV base64 encoded, ready for an opaque string store.
func EncryptString(plaintext string, key []byte) (ciphertext, iv string, err error) {
	c, err := New(key)
	if err != nil {
		return "", "", err
	}
	sealed, err := c.Encrypt([]byte(plaintext))
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(sealed.Ciphertext),
		base64.StdEncoding.EncodeToString(sealed.IV), nil
}

// DecryptString reverses EncryptString.
func DecryptString(ciphertext string, key []byte, iv string) (string, error) {
	c, err := New(key)
	if err != nil {
		return "", err
	}
	plaintext, err := DecodeAndOpen(c, ciphertext, iv)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DecodeAndOpen base64-decodes both halves and decrypts them with c.
// Decoding failures are reported as DecryptionError.
func DecodeAndOpen(c Cipher, ciphertext, iv string) ([]byte, error) {
	rawCiphertext, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, &DecryptionError{Reason: "ciphertext is not valid base64", Cause: err}
	}
	rawIV, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, &DecryptionError{Reason: "iv is not valid base64", Cause: err}
	}
	return c.Decrypt(rawCiphertext, rawIV)
}

// baseCipher provides common functionality for ciphers.
type baseCipher struct {
	aead cipher.AEAD
}

// NonceSize returns the nonce size.
func (c *baseCipher) NonceSize() int {
	return c.aead.NonceSize()
}

// Overhead returns the authentication tag overhead.
func (c *baseCipher) Overhead() int {
	return c.aead.Overhead()
}

// encrypt performs authenticated encryption under a random nonce.
func (c *baseCipher) encrypt(plaintext []byte) (Sealed, error) {
	iv := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Sealed{}, fmt.Errorf("symmetric: generate iv: %w", err)
	}

	return Sealed{
		Ciphertext: c.aead.Seal(nil, iv, plaintext, nil),
		IV:         iv,
	}, nil
}

// decrypt performs authenticated decryption.
func (c *baseCipher) decrypt(ciphertext, iv []byte) ([]byte, error) {
	if len(iv) != c.aead.NonceSize() {
		return nil, &DecryptionError{Reason: fmt.Sprintf("iv must be %d bytes, got %d", c.aead.NonceSize(), len(iv))}
	}
	if len(ciphertext) < c.aead.Overhead() {
		return nil, &DecryptionError{Reason: "ciphertext too short"}
	}

	plaintext, err := c.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, &DecryptionError{Reason: "message authentication failed", Cause: err}
	}
	return plaintext, nil
}
