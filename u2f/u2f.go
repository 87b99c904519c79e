// Package u2f verifies "fido-u2f" attestation statements, produced by legacy
// U2F authenticators operating in WebAuthn-compatibility mode.
package u2f

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"

	wan "github.com/jsynacek/webauthn"
)

// Verify checks a fido-u2f attestation statement against the credential's
// public key, rpIdHash, credential ID, and clientDataHash.
func Verify(attStmt map[string]interface{}, ad *wan.AuthenticatorData, clientDataHash []byte) error {
	if ad.AttestedCredentialData == nil {
		return wan.NewError(wan.KindMalformedAuthenticatorData, "fido-u2f attestation requires attested credential data")
	}

	x5c, ok := attStmt["x5c"].([]interface{})
	if !ok || len(x5c) == 0 {
		return wan.NewError(wan.KindInvalidType, "fido-u2f attestation statement missing x5c")
	}
	rawCert, ok := x5c[0].([]byte)
	if !ok {
		return wan.NewError(wan.KindInvalidType, "fido-u2f attestation statement has malformed x5c[0]")
	}
	cert, err := x509.ParseCertificate(rawCert)
	if err != nil {
		return wan.WrapError(wan.KindUntrustedCertificate, err, "parsing fido-u2f attestation certificate")
	}

	sig, ok := attStmt["sig"].([]byte)
	if !ok {
		return wan.NewError(wan.KindInvalidType, "fido-u2f attestation statement missing sig")
	}

	pub, _, err := wan.DecodePublicKey(ad.AttestedCredentialData.CredentialPublicKey)
	if err != nil {
		return err
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok || ecdsaPub.Curve != elliptic.P256() {
		return wan.NewError(wan.KindMalformedPublicKey, "fido-u2f credential public key must be an EC P-256 key, got %T", pub)
	}

	publicKeyU2F := uncompressedPoint(ecdsaPub)

	verificationData := make([]byte, 0, 1+32+32+len(ad.AttestedCredentialData.CredentialID)+len(publicKeyU2F))
	verificationData = append(verificationData, 0x00)
	verificationData = append(verificationData, ad.RPIDHash[:]...)
	verificationData = append(verificationData, clientDataHash...)
	verificationData = append(verificationData, ad.AttestedCredentialData.CredentialID...)
	verificationData = append(verificationData, publicKeyU2F...)

	if err := cert.CheckSignature(x509.ECDSAWithSHA256, verificationData, sig); err != nil {
		return wan.WrapError(wan.KindSignatureFailure, err, "verifying fido-u2f attestation signature")
	}

	return nil
}

// uncompressedPoint encodes an EC public key as the 65-byte uncompressed form
// 0x04 || X || Y required by the U2F raw message formats.
func uncompressedPoint(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, 65)
	out[0] = 0x04
	xb := pub.X.Bytes()
	yb := pub.Y.Bytes()
	copy(out[1+32-len(xb):33], xb)
	copy(out[33+32-len(yb):65], yb)
	return out
}
