package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSecretRequired is returned when a verifier is built without a secret.
var ErrSecretRequired = errors.New("signature secret is required")

// Verifier checks request signatures against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret. An empty secret is refused so the
// webhook can never run unauthenticated.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}

	return &Verifier{secret: []byte(secret)}, nil
}

// Sign returns the signature UCB would send for body.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(body)

	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// Verify reports whether presented is the signature of body.
// A missing or malformed signature is simply invalid.
func (v *Verifier) Verify(body []byte, presented string) bool {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return false
	}

	expected := v.Sign(body)

	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToUpper(presented))) == 1
}
