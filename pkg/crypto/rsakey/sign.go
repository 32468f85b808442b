package rsakey

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// Hash returns the hex encoded SHA-256 digest of data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Sign computes the SHA-256 digest of data, signs it with RSASSA-PKCS1-v1_5
// and returns the signature base64 encoded.
func Sign(data []byte, priv *rsa.PrivateKey) (string, error) {
	if priv == nil {
		return "", errors.New("rsakey: sign: nil private key")
	}

	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("rsakey: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether signature is a valid base64 encoded signature of
// data under pub. Any decode or verification failure yields false.
func Verify(data []byte, pub *rsa.PublicKey, signature string) bool {
	if pub == nil {
		return false
	}

	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(data)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], raw) == nil
}

// Encrypt encrypts a short payload with pub using RSAES-PKCS1-v1_5.
func Encrypt(data []byte, pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, errors.New("rsakey: encrypt: nil public key")
	}

	out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, data)
	if err != nil {
		return nil, fmt.Errorf("rsakey: encrypt: %w", err)
	}
	return out, nil
}

// EncryptString is Encrypt with a base64 encoded result.
func EncryptString(data []byte, pub *rsa.PublicKey) (string, error) {
	out, err := Encrypt(data, pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. It is the counterpart used in tests and by
// callers that receive payloads encrypted to the client key.
func Decrypt(data []byte, priv *rsa.PrivateKey) ([]byte, error) {
	out, err := rsa.DecryptPKCS1v15(rand.Reader, priv, data)
	if err != nil {
		return nil, fmt.Errorf("rsakey: decrypt: %w", err)
	}
	return out, nil
}
