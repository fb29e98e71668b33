// Package crypto supplies the security primitives the command layer consumes:
// high-entropy tokens for intent state, PKCE and nonces, webhook signing keys,
// and password hashing.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
)

const (
	// stateBytes yields 43 base64url characters, well above the 22-character
	// floor required for CSRF state.
	stateBytes = 32

	// verifierBytes yields the RFC 7636 minimum code verifier length of 43.
	verifierBytes = 32

	nonceBytes      = 32
	signingKeyBytes = 32
)

func randomURLToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process cannot operate safely.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// NewState returns the CSRF state for an IDP intent: 32 random bytes,
// base64url without padding (43 characters).
func NewState() string { return randomURLToken(stateBytes) }

// NewCodeVerifier returns a PKCE code verifier (43 characters).
func NewCodeVerifier() string { return randomURLToken(verifierBytes) }

// NewNonce returns an OIDC nonce.
func NewNonce() string { return randomURLToken(nonceBytes) }

// NewSigningKey returns a webhook signing secret.
func NewSigningKey() string { return randomURLToken(signingKeyBytes) }

// NewSessionToken returns an opaque session token.
func NewSessionToken() string { return randomURLToken(32) }

// NewClientSecret returns an OIDC/API client secret.
func NewClientSecret() string { return randomURLToken(32) }
