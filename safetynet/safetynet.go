// Package safetynet verifies "android-safetynet" attestation statements,
// produced by the Android SafetyNet attestation API.
package safetynet

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"

	"gopkg.in/square/go-jose.v2"

	wan "github.com/jsynacek/webauthn"
)

// attestAndroidHostname is the hostname the leaf certificate in a genuine
// SafetyNet response is issued to.
const attestAndroidHostname = "attest.android.com"

// response is the JSON payload of a verified SafetyNet JWS.
type response struct {
	Nonce           []byte `json:"nonce"`
	TimestampMs     int64  `json:"timestampMs"`
	CtsProfileMatch bool   `json:"ctsProfileMatch"`
	BasicIntegrity  bool   `json:"basicIntegrity"`
}

// Verify checks an android-safetynet attestation statement against authData,
// clientDataHash, and the caller-supplied root certificate store.
func Verify(attStmt map[string]interface{}, store wan.CertificateStore, authDataRaw, clientDataHash []byte) error {
	ver, ok := attStmt["ver"].(string)
	if !ok || ver == "" {
		return wan.NewError(wan.KindInvalidAndroidAttestation, "android-safetynet attestation statement missing ver")
	}

	rawResponse, ok := attStmt["response"].([]byte)
	if !ok {
		return wan.NewError(wan.KindInvalidAndroidAttestation, "android-safetynet attestation statement missing response")
	}

	jws, err := jose.ParseSigned(string(rawResponse))
	if err != nil {
		return wan.WrapError(wan.KindInvalidAndroidAttestation, err, "parsing SafetyNet JWS")
	}
	if len(jws.Signatures) != 1 {
		return wan.NewError(wan.KindInvalidAndroidAttestation, "SafetyNet JWS must carry exactly one signature")
	}

	var roots *x509.CertPool
	if store != nil {
		roots = store.Roots()
	}
	chains, err := jws.Signatures[0].Protected.Certificates(x509.VerifyOptions{
		DNSName: attestAndroidHostname,
		Roots:   roots,
	})
	if err != nil {
		return wan.WrapError(wan.KindUntrustedCertificate, err, "validating SafetyNet attestation certificate chain")
	}
	leaf := chains[0][0]

	payload, err := jws.Verify(leaf.PublicKey)
	if err != nil {
		return wan.WrapError(wan.KindSignatureFailure, err, "verifying SafetyNet JWS signature")
	}

	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return wan.WrapError(wan.KindInvalidAndroidAttestation, err, "decoding SafetyNet JWS payload")
	}

	nonceInput := append(append([]byte(nil), authDataRaw...), clientDataHash...)
	wantNonce := sha256.Sum256(nonceInput)
	if !bytes.Equal(wantNonce[:], resp.Nonce) {
		return wan.NewError(wan.KindNonceCheckFailure, "SafetyNet response nonce does not match hash of authData||clientDataHash")
	}

	if !resp.CtsProfileMatch {
		return wan.NewError(wan.KindInvalidAndroidAttestation, "SafetyNet response ctsProfileMatch is false")
	}

	return nil
}
