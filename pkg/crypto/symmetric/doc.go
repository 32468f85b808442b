// Package symmetric provides the authenticated ciphers used to protect
// persisted session state at rest.
//
// Supported Algorithms:
//
//   - AES-GCM: default, accepts 16, 24 or 32 byte keys
//   - ChaCha20-Poly1305: opt-in, 32 byte keys only
//
// Unlike a nonce-prefixed wire format, the IV is returned separately from
// the ciphertext so callers can store the two halves under sibling keys.
// Every Encrypt call draws a fresh random IV.
//
// Usage:
//
//	c, err := symmetric.New(key)
//	sealed, err := c.Encrypt(plaintext)
//	plaintext, err := c.Decrypt(sealed.Ciphertext, sealed.IV)
package symmetric
