package webauthn

import (
	"crypto/rand"
	"fmt"
)

// DefaultChallengeSize is the number of random bytes GenerateChallenge produces
// when the caller doesn't need a different length. The WebAuthn spec recommends
// challenges be at least 16 bytes.
//
// https://www.w3.org/TR/webauthn-3/#sctn-cryptographic-challenges
const DefaultChallengeSize = 32

// GenerateChallenge samples n bytes (DefaultChallengeSize bytes when n <= 0)
// from the operating system's CSPRNG for use as a one-time registration or
// assertion challenge. The caller is responsible for
// storing the result (e.g. in session state) until the ceremony completes.
func GenerateChallenge(n int) ([]byte, error) {
	if n <= 0 {
		n = DefaultChallengeSize
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// Verification errors are modeled as *Error; challenge generation is the
		// module's one impure, non-verification operation, so it reports
		// failures as plain errors instead of forcing one of the Kind values.
		return nil, fmt.Errorf("webauthn: generating challenge: %w", err)
	}
	return b, nil
}

// DefaultRelyingParty builds a RelyingParty from just an rpId, deriving rpOrigin as
// "https://" + rpId and using rpId as the display name. Callers with a non-default
// origin (a non-standard port, for instance) should construct RelyingParty directly.
func DefaultRelyingParty(rpID string) RelyingParty {
	return RelyingParty{
		ID:     rpID,
		Name:   rpID,
		Origin: "https://" + rpID,
	}
}
