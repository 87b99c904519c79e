// Package packed verifies "packed" attestation statements, the general-purpose
// attestation format most platform and roaming authenticators that don't use a
// more specific format (tpm, android-safetynet, fido-u2f) fall back to.
package packed

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"

	wan "github.com/jsynacek/webauthn"
)

// id-fido-gen-ce-aaguid, the X.509 extension some packed attestation
// certificates carry to bind the certificate to a specific authenticator
// model's AAGUID.
var extensionIDFIDOGenCEAAAGUID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 45724, 1, 1, 4}

// Verify checks a packed attestation statement against authData and
// clientDataHash, dispatching on whether the statement carries an X.509
// certificate chain (basic attestation), an ECDAA key id, or neither (self
// attestation).
func Verify(attStmt map[string]interface{}, ad *wan.AuthenticatorData, authDataRaw, clientDataHash []byte) error {
	algInt, ok := coseInt(attStmt["alg"])
	if !ok {
		return wan.NewError(wan.KindInvalidType, "packed attestation statement missing alg")
	}
	alg := wan.Algorithm(algInt)

	sig, ok := attStmt["sig"].([]byte)
	if !ok {
		return wan.NewError(wan.KindInvalidType, "packed attestation statement missing sig")
	}

	if _, ok := attStmt["x5c"]; ok {
		return verifyBasic(attStmt, ad, authDataRaw, clientDataHash, alg, sig)
	}
	if _, ok := attStmt["ecdaaKeyId"]; ok {
		return wan.NewError(wan.KindUnsupportedAttestationFormat, "packed ECDAA attestation is not implemented")
	}
	return verifySelf(ad, authDataRaw, clientDataHash, alg, sig)
}

func verifyBasic(attStmt map[string]interface{}, ad *wan.AuthenticatorData, authDataRaw, clientDataHash []byte, alg wan.Algorithm, sig []byte) error {
	x5c, ok := attStmt["x5c"].([]interface{})
	if !ok || len(x5c) == 0 {
		return wan.NewError(wan.KindInvalidType, "packed attestation statement has malformed x5c")
	}
	rawCert, ok := x5c[0].([]byte)
	if !ok {
		return wan.NewError(wan.KindInvalidType, "packed attestation statement has malformed x5c[0]")
	}
	cert, err := x509.ParseCertificate(rawCert)
	if err != nil {
		return wan.WrapError(wan.KindUntrustedCertificate, err, "parsing packed attestation certificate")
	}

	signedBytes := append(append([]byte(nil), authDataRaw...), clientDataHash...)
	if err := cert.CheckSignature(cert.SignatureAlgorithm, signedBytes, sig); err != nil {
		// A handful of deployed authenticators (notably some Yubikeys) mislabel
		// an ECDSA-with-SHA256 signature under a different algorithm OID.
		if err := cert.CheckSignature(x509.ECDSAWithSHA256, signedBytes, sig); err != nil {
			return wan.WrapError(wan.KindSignatureFailure, err, "verifying packed basic attestation signature")
		}
	}

	if cert.IsCA {
		return wan.NewError(wan.KindUntrustedCertificate, "packed attestation certificate has CA=true")
	}

	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(extensionIDFIDOGenCEAAAGUID) {
			continue
		}
		if ext.Critical {
			return wan.NewError(wan.KindUntrustedCertificate, "id-fido-gen-ce-aaguid extension marked critical")
		}
		var aaguid []byte
		if _, err := asn1.Unmarshal(ext.Value, &aaguid); err != nil {
			return wan.WrapError(wan.KindUntrustedCertificate, err, "decoding id-fido-gen-ce-aaguid extension")
		}
		if ad.AttestedCredentialData == nil || !bytes.Equal(ad.AttestedCredentialData.AAGUID[:], aaguid) {
			return wan.NewError(wan.KindUntrustedCertificate, "id-fido-gen-ce-aaguid extension does not match authenticator data AAGUID")
		}
	}

	return nil
}

func verifySelf(ad *wan.AuthenticatorData, authDataRaw, clientDataHash []byte, alg wan.Algorithm, sig []byte) error {
	if ad.AttestedCredentialData == nil {
		return wan.NewError(wan.KindMalformedAuthenticatorData, "self attestation requires attested credential data")
	}
	pub, credAlg, err := wan.DecodePublicKey(ad.AttestedCredentialData.CredentialPublicKey)
	if err != nil {
		return err
	}
	if credAlg != alg {
		return wan.NewError(wan.KindInvalidType, "packed self attestation alg %s does not match credential public key algorithm %s", alg, credAlg)
	}
	signedBytes := append(append([]byte(nil), authDataRaw...), clientDataHash...)
	return wan.VerifySignature(pub, alg, signedBytes, sig)
}

func coseInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	default:
		return 0, false
	}
}
