package webauthn

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
)

// CeremonyType distinguishes a registration ceremony from an authentication
// ceremony, mirroring the "type" member of CollectedClientData.
//
// https://www.w3.org/TR/webauthn-3/#dom-collectedclientdata-type
type CeremonyType string

const (
	CreateCeremony CeremonyType = "webauthn.create"
	AssertCeremony CeremonyType = "webauthn.get"
)

// TokenBindingStatus is the state of the Token Binding protocol on the connection
// the client used to talk to the relying party.
type TokenBindingStatus string

const (
	TokenBindingUnsupported TokenBindingStatus = ""
	TokenBindingSupported   TokenBindingStatus = "supported"
	TokenBindingPresent     TokenBindingStatus = "present"
)

// TokenBinding is the optional channel-binding hint reported by the client.
// ID is only meaningful when Status is TokenBindingPresent.
type TokenBinding struct {
	Status TokenBindingStatus
	ID     string
}

// challengeBytes is a base64url (no padding)-encoded byte string, as used for the
// "challenge" member of CollectedClientData.
type challengeBytes []byte

func (c *challengeBytes) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	*c = challengeBytes(data)
	return nil
}

// rawTokenBinding mirrors the clientDataJSON "tokenBinding" member's wire shape.
type rawTokenBinding struct {
	Status TokenBindingStatus `json:"status"`
	ID     string             `json:"id,omitempty"`
}

// CollectedClientData is the decoded form of clientDataJSON.
//
// https://www.w3.org/TR/webauthn-3/#dictionary-client-data
type CollectedClientData struct {
	Type         CeremonyType
	Challenge    []byte
	Origin       string
	TokenBinding *TokenBinding
}

type wireClientData struct {
	Type         CeremonyType     `json:"type"`
	Challenge    challengeBytes   `json:"challenge"`
	Origin       string           `json:"origin"`
	TokenBinding *rawTokenBinding `json:"tokenBinding,omitempty"`
}

// parseClientData decodes clientDataJSON, the raw UTF-8 JSON bytes returned by the
// browser, without performing any of the checks in checkClientData.
func parseClientData(clientDataJSON []byte) (*CollectedClientData, error) {
	var wire wireClientData
	if err := json.Unmarshal(clientDataJSON, &wire); err != nil {
		return nil, wrapErr(KindJSONDecodeError, err, "parsing clientDataJSON")
	}
	cd := &CollectedClientData{
		Type:      wire.Type,
		Challenge: []byte(wire.Challenge),
		Origin:    wire.Origin,
	}
	if wire.TokenBinding != nil {
		cd.TokenBinding = &TokenBinding{Status: wire.TokenBinding.Status, ID: wire.TokenBinding.ID}
	}
	return cd, nil
}

// checkClientData parses clientDataJSON and validates its type,
// challenge, origin, and token binding against what the relying party expects.
func checkClientData(ceremony CeremonyType, expectedChallenge []byte, clientDataJSON []byte, rp *RelyingParty, expectedTokenBinding *TokenBinding) (*CollectedClientData, error) {
	cd, err := parseClientData(clientDataJSON)
	if err != nil {
		return nil, err
	}

	if cd.Type != ceremony {
		return nil, newErr(KindInvalidType, "expected type %q, got %q", ceremony, cd.Type)
	}

	if subtle.ConstantTimeCompare(cd.Challenge, expectedChallenge) != 1 {
		return nil, newErr(KindMismatchedChallenge, "challenge does not match")
	}

	if cd.Origin != rp.Origin {
		return nil, newErr(KindMismatchedOrigin, "expected origin %q, got %q", rp.Origin, cd.Origin)
	}

	if err := checkTokenBinding(cd.TokenBinding, expectedTokenBinding); err != nil {
		return nil, err
	}

	return cd, nil
}

// CheckClientData parses clientDataJSON and validates its type, challenge,
// origin, and token binding against what the relying party expects. It is the
// exported entry point used by the registration and assertion orchestrators.
func CheckClientData(ceremony CeremonyType, expectedChallenge []byte, clientDataJSON []byte, rp *RelyingParty, expectedTokenBinding *TokenBinding) (*CollectedClientData, error) {
	return checkClientData(ceremony, expectedChallenge, clientDataJSON, rp, expectedTokenBinding)
}

// checkTokenBinding implements the token-binding matrix. expected
// is the relying party's own record of the token binding ID negotiated over the TLS
// connection, if any; got is what the client reported in clientDataJSON.
func checkTokenBinding(got, expected *TokenBinding) error {
	clientPresent := got != nil && got.Status == TokenBindingPresent

	switch {
	case expected != nil && !clientPresent:
		// The relying party negotiated token binding but the client's report of the
		// ceremony doesn't show it: the two views of the connection disagree.
		return newErr(KindUnexpectedPresenceOfTokenBinding, "token binding expected but absent from client data")
	case expected == nil && clientPresent:
		// The client reports a token binding the relying party never negotiated.
		return newErr(KindUnexpectedPresenceOfTokenBinding, "client reported token binding but none was expected")
	case expected != nil && clientPresent && expected.ID != got.ID:
		return newErr(KindMismatchedTokenBinding, "token binding id does not match")
	default:
		return nil
	}
}
