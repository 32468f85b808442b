// Package rsakey wraps the RSA operations used by the session handshake:
// keypair generation, PEM (de)serialisation, SHA-256 request signing,
// response verification and small-payload public key encryption.
package rsakey

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// MinBits is the smallest accepted modulus size.
const MinBits = 2048

// PEM block types. Public keys are written as PKIX, private keys as PKCS#1.
const (
	pemPublicKey     = "PUBLIC KEY"
	pemRSAPublicKey  = "RSA PUBLIC KEY"
	pemRSAPrivateKey = "RSA PRIVATE KEY"
	pemPrivateKey    = "PRIVATE KEY"
)

// Errors returned by this package.
var (
	ErrKeyTooSmall  = fmt.Errorf("rsakey: key size must be at least %d bits", MinBits)
	ErrMalformedKey = errors.New("rsakey: malformed key")
)

// MalformedKeyError reports PEM input that could not be parsed into a key.
// It matches ErrMalformedKey with errors.Is.
type MalformedKeyError struct {
	Kind  string // "public" or "private"
	Cause error
}

func (e *MalformedKeyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rsakey: malformed %s key: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("rsakey: malformed %s key", e.Kind)
}

func (e *MalformedKeyError) Unwrap() error { return e.Cause }

func (e *MalformedKeyError) Is(target error) bool { return target == ErrMalformedKey }

// GenerateKeyPair generates an RSA keypair of the given size.
//
// Generation runs on its own goroutine so the call returns as soon as ctx is
// done. A cancelled generation returns ctx.Err() and its result is dropped.
func GenerateKeyPair(ctx context.Context, bits int) (*rsa.PrivateKey, error) {
	if bits < MinBits {
		return nil, ErrKeyTooSmall
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		key *rsa.PrivateKey
		err error
	}
	done := make(chan result, 1)

	go func() {
		key, err := rsa.GenerateKey(rand.Reader, bits)
		done <- result{key: key, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("rsakey: generate %d-bit key: %w", bits, r.err)
		}
		return r.key, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublicKeyToPEM encodes pub as a PKIX "PUBLIC KEY" block.
func PublicKeyToPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("rsakey: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: der})), nil
}

// PrivateKeyToPEM encodes priv as a PKCS#1 "RSA PRIVATE KEY" block.
func PrivateKeyToPEM(priv *rsa.PrivateKey) string {
	der := x509.MarshalPKCS1PrivateKey(priv)
	return string(pem.EncodeToMemory(&pem.Block{Type: pemRSAPrivateKey, Bytes: der}))
}

// KeyPairToPEM returns both PEM forms of priv.
func KeyPairToPEM(priv *rsa.PrivateKey) (publicPEM, privatePEM string, err error) {
	publicPEM, err = PublicKeyToPEM(&priv.PublicKey)
	if err != nil {
		return "", "", err
	}
	return publicPEM, PrivateKeyToPEM(priv), nil
}

// PublicKeyFromPEM parses a PKIX or PKCS#1 encoded RSA public key.
func PublicKeyFromPEM(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, &MalformedKeyError{Kind: "public", Cause: errors.New("no PEM block found")}
	}

	switch block.Type {
	case pemPublicKey:
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, &MalformedKeyError{Kind: "public", Cause: err}
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, &MalformedKeyError{Kind: "public", Cause: fmt.Errorf("unexpected key type %T", parsed)}
		}
		return pub, nil
	case pemRSAPublicKey:
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, &MalformedKeyError{Kind: "public", Cause: err}
		}
		return pub, nil
	default:
		return nil, &MalformedKeyError{Kind: "public", Cause: fmt.Errorf("unexpected PEM type %q", block.Type)}
	}
}

// PrivateKeyFromPEM parses a PKCS#1 or PKCS#8 encoded RSA private key.
func PrivateKeyFromPEM(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, &MalformedKeyError{Kind: "private", Cause: errors.New("no PEM block found")}
	}

	switch block.Type {
	case pemRSAPrivateKey:
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, &MalformedKeyError{Kind: "private", Cause: err}
		}
		return priv, nil
	case pemPrivateKey:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, &MalformedKeyError{Kind: "private", Cause: err}
		}
		priv, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, &MalformedKeyError{Kind: "private", Cause: fmt.Errorf("unexpected key type %T", parsed)}
		}
		return priv, nil
	default:
		return nil, &MalformedKeyError{Kind: "private", Cause: fmt.Errorf("unexpected PEM type %q", block.Type)}
	}
}
