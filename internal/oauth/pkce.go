package oauth

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/oauth2"
)

// newState returns a cryptographically strong, URL-safe CSRF token for the
// authorization-code flow's state parameter.
func newState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// pkcePair is a verifier/challenge pair for providers that support PKCE.
// The verifier is kept in-process for the callback's token exchange; the
// challenge is embedded in the authorization URL.
type pkcePair struct {
	verifier string
}

func newPKCEPair() pkcePair {
	return pkcePair{verifier: oauth2.GenerateVerifier()}
}

func (p pkcePair) authCodeOption() oauth2.AuthCodeOption {
	return oauth2.S256ChallengeOption(p.verifier)
}

func (p pkcePair) exchangeOption() oauth2.AuthCodeOption {
	return oauth2.VerifierOption(p.verifier)
}
