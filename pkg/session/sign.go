package session

import (
	"fmt"

	"github.com/yndnr/bunqsession-go/pkg/crypto/rsakey"
)

// SignRequest signs body with the client private key. The result is the
// base64 SHA-256/PKCS#1 v1.5 signature.
func (s *Session) SignRequest(body []byte) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.keys == nil {
		return "", ErrNoKeypair
	}
	sig, err := rsakey.Sign(body, s.keys.private)
	if err != nil {
		return "", fmt.Errorf("session: sign request: %w", err)
	}
	return sig, nil
}

// VerifyResponse checks a server signature over body. It returns false
// before installation and on any verification failure.
func (s *Session) VerifyResponse(body []byte, signature string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.chain.installation == nil {
		return false
	}
	return rsakey.Verify(body, s.chain.installation.ServerPublicKey, signature)
}

// EncryptForServer encrypts a short secret with the server public key.
func (s *Session) EncryptForServer(data []byte) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.chain.installation == nil {
		return "", ErrHandshakeOrder.WithDetails("no server public key before installation")
	}
	out, err := rsakey.EncryptString(data, s.chain.installation.ServerPublicKey)
	if err != nil {
		return "", fmt.Errorf("session: encrypt for server: %w", err)
	}
	return out, nil
}

// AuthToken returns the token to authenticate requests with: the session
// token while a session exists, else the install token, else "".
func (s *Session) AuthToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if as := s.chain.session; as != nil && as.Token != "" {
		return as.Token
	}
	if in := s.chain.installation; in != nil {
		return in.Token
	}
	return ""
}
