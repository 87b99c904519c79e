// Package rp implements the two relying-party ceremonies, composing the
// primitive parsers and checks in the root package with the attestation
// format verifiers in packed, tpm, safetynet, and u2f.
package rp

import (
	"crypto/sha256"

	wan "github.com/jsynacek/webauthn"
	"github.com/jsynacek/webauthn/packed"
	"github.com/jsynacek/webauthn/safetynet"
	"github.com/jsynacek/webauthn/tpm"
	"github.com/jsynacek/webauthn/u2f"
)

// Assertion is the result of a successful authentication ceremony. Callers
// compare Counter against the value stored for the credential and reject (or
// at least flag) the device if it didn't strictly increase.
type Assertion struct {
	Flags   wan.Flags
	Counter uint32
}

// RegisterCredential runs the full registration ceremony: it validates
// clientDataJSON against the expected ceremony parameters, parses and checks
// the authenticator data, dispatches to the attestation statement's format
// verifier, and returns the attested credential on success.
//
// store is consulted only by formats that validate a certificate chain
// against a trust anchor (android-safetynet); it may be nil for formats that
// don't.
func RegisterCredential(
	store wan.CertificateStore,
	expectedChallenge []byte,
	relyingParty *wan.RelyingParty,
	expectedTokenBinding *wan.TokenBinding,
	requireUV bool,
	clientDataJSON, attestationObject []byte,
) (*wan.CredentialData, error) {
	if _, err := wan.CheckClientData(wan.CreateCeremony, expectedChallenge, clientDataJSON, relyingParty, expectedTokenBinding); err != nil {
		return nil, err
	}

	attObj, err := wan.ParseAttestationObject(attestationObject)
	if err != nil {
		return nil, err
	}

	ad, err := wan.ParseAuthenticatorData(attObj.AuthenticatorDataRaw)
	if err != nil {
		return nil, err
	}
	if err := wan.VerifyAuthenticatorData(ad, relyingParty, requireUV); err != nil {
		return nil, err
	}

	clientDataHash := sha256.Sum256(clientDataJSON)
	if err := verifyAttestationStatement(attObj, ad, store, clientDataHash[:]); err != nil {
		return nil, err
	}

	if ad.AttestedCredentialData == nil {
		return nil, wan.NewError(wan.KindMalformedAuthenticatorData, "authenticator data missing attested credential data")
	}
	return ad.AttestedCredentialData, nil
}

func verifyAttestationStatement(attObj *wan.AttestationObject, ad *wan.AuthenticatorData, store wan.CertificateStore, clientDataHash []byte) error {
	switch attObj.Format {
	case "none":
		return nil
	case "fido-u2f":
		return u2f.Verify(attObj.AttestationStatement, ad, clientDataHash)
	case "packed":
		return packed.Verify(attObj.AttestationStatement, ad, attObj.AuthenticatorDataRaw, clientDataHash)
	case "tpm":
		return tpm.Verify(attObj.AttestationStatement, ad, attObj.AuthenticatorDataRaw, clientDataHash)
	case "android-safetynet":
		return safetynet.Verify(attObj.AttestationStatement, store, attObj.AuthenticatorDataRaw, clientDataHash)
	default:
		return wan.NewError(wan.KindUnsupportedAttestationFormat, "unsupported attestation format %q", attObj.Format)
	}
}

// Verify runs the authentication ceremony: it validates clientDataJSON
// against the expected ceremony parameters, parses and checks the
// authenticator data, decodes storedPublicKey (the raw COSE_Key bytes
// persisted from registration), and verifies the assertion signature under
// it.
func Verify(
	expectedChallenge []byte,
	relyingParty *wan.RelyingParty,
	expectedTokenBinding *wan.TokenBinding,
	requireUV bool,
	clientDataJSON, authDataRaw, signature []byte,
	storedPublicKey []byte,
) (*Assertion, error) {
	if _, err := wan.CheckClientData(wan.AssertCeremony, expectedChallenge, clientDataJSON, relyingParty, expectedTokenBinding); err != nil {
		return nil, err
	}

	ad, err := wan.ParseAuthenticatorData(authDataRaw)
	if err != nil {
		return nil, err
	}
	if err := wan.VerifyAuthenticatorData(ad, relyingParty, requireUV); err != nil {
		return nil, err
	}

	pub, alg, err := wan.DecodePublicKey(storedPublicKey)
	if err != nil {
		return nil, err
	}

	clientDataHash := sha256.Sum256(clientDataJSON)
	signedBytes := append(append([]byte(nil), authDataRaw...), clientDataHash[:]...)
	if err := wan.VerifySignature(pub, alg, signedBytes, signature); err != nil {
		return nil, err
	}

	return &Assertion{Flags: ad.Flags, Counter: ad.Counter}, nil
}
