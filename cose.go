package webauthn

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// COSE key type identifiers.
//
// https://www.iana.org/assignments/cose/cose.xhtml#key-type
const (
	coseKtyOKP = 1
	coseKtyEC2 = 2
	coseKtyRSA = 3
)

// COSE elliptic curve identifiers.
const (
	coseCrvP256    = 1
	coseCrvEd25519 = 6
)

// DecodePublicKey decodes a COSE_Key CBOR map into a Go public key and the
// algorithm it should be used with. It is the only point where credentialPublicKey
// bytes are interpreted; everywhere else they are carried around opaquely.
func DecodePublicKey(raw []byte) (crypto.PublicKey, Algorithm, error) {
	var m map[int]interface{}
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return nil, 0, wrapErr(KindMalformedPublicKey, err, "decoding COSE_Key")
	}

	kty, ok := coseInt(m[1])
	if !ok {
		return nil, 0, newErr(KindMalformedPublicKey, "COSE_Key missing kty")
	}

	switch kty {
	case coseKtyEC2:
		crv, _ := coseInt(m[-1])
		x, _ := m[-2].([]byte)
		y, _ := m[-3].([]byte)
		if crv != coseCrvP256 {
			return nil, 0, newErr(KindMalformedPublicKey, "unsupported EC2 curve %d", crv)
		}
		if len(x) != 32 || len(y) != 32 {
			return nil, 0, newErr(KindMalformedPublicKey, "malformed EC2 coordinates")
		}
		pub := &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}
		return pub, ES256, nil

	case coseKtyRSA:
		n, _ := m[-1].([]byte)
		e, _ := m[-2].([]byte)
		if len(n) == 0 || len(e) == 0 {
			return nil, 0, newErr(KindMalformedPublicKey, "malformed RSA modulus/exponent")
		}
		pub := &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
		return pub, RS256, nil

	case coseKtyOKP:
		crv, _ := coseInt(m[-1])
		x, _ := m[-2].([]byte)
		if crv != coseCrvEd25519 {
			return nil, 0, newErr(KindMalformedPublicKey, "unsupported OKP curve %d", crv)
		}
		if len(x) != ed25519.PublicKeySize {
			return nil, 0, newErr(KindMalformedPublicKey, "malformed Ed25519 public key")
		}
		return ed25519.PublicKey(x), EdDSA, nil

	default:
		return nil, 0, newErr(KindMalformedPublicKey, "unsupported COSE key type %d", kty)
	}
}

// coseInt normalizes a generically-decoded CBOR integer (fxamacker/cbor yields
// int64 for negative values and uint64 for non-negative ones when decoding into
// interface{}) into a plain int.
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

// VerifySignature validates sig against message under pub using alg. message
// is always either authData||SHA256(clientDataJSON) (assertion) or a format-defined
// byte string (attestation).
func VerifySignature(pub crypto.PublicKey, alg Algorithm, message, sig []byte) error {
	switch alg {
	case ES256:
		ecdsaPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return newErr(KindMalformedPublicKey, "ES256 requires an ECDSA public key, got %T", pub)
		}
		hash := sha256.Sum256(message)
		if !ecdsa.VerifyASN1(ecdsaPub, hash[:], sig) {
			return newErr(KindSignatureFailure, "invalid ES256 signature")
		}
		return nil

	case RS256:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return newErr(KindMalformedPublicKey, "RS256 requires an RSA public key, got %T", pub)
		}
		hash := sha256.Sum256(message)
		if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, hash[:], sig); err != nil {
			return newErr(KindSignatureFailure, "invalid RS256 signature")
		}
		return nil

	case EdDSA:
		edPub, ok := pub.(ed25519.PublicKey)
		if !ok {
			return newErr(KindMalformedPublicKey, "EdDSA requires an Ed25519 public key, got %T", pub)
		}
		if !ed25519.Verify(edPub, message, sig) {
			return newErr(KindSignatureFailure, "invalid EdDSA signature")
		}
		return nil

	default:
		return newErr(KindMalformedSignature, "unsupported signature algorithm %s", alg)
	}
}
