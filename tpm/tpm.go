// Package tpm verifies "tpm" attestation statements produced by TPM 2.0-backed
// platform authenticators (most Windows Hello deployments).
package tpm

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"strings"

	"github.com/google/go-tpm/tpm2"

	wan "github.com/jsynacek/webauthn"
)

var (
	tcgKpAIKCertificate  = asn1.ObjectIdentifier{2, 23, 133, 8, 3}
	tcgAtTpmManufacturer = asn1.ObjectIdentifier{2, 23, 133, 2, 1}
	tcgAtTpmModel        = asn1.ObjectIdentifier{2, 23, 133, 2, 2}
	tcgAtTpmVersion      = asn1.ObjectIdentifier{2, 23, 133, 2, 3}

	oidSubjectAltName   = asn1.ObjectIdentifier{2, 5, 29, 17}
	oidExtKeyUsage      = asn1.ObjectIdentifier{2, 5, 29, 37}
	oidBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}
)

// Verify checks a tpm attestation statement against the credential's public
// key, authData, and clientDataHash.
func Verify(attStmt map[string]interface{}, ad *wan.AuthenticatorData, authDataRaw, clientDataHash []byte) error {
	ver, _ := attStmt["ver"].(string)
	if ver != "2.0" {
		return wan.NewError(wan.KindInvalidTPMAttestation, "unsupported tpm version %q", ver)
	}

	algInt, ok := coseInt(attStmt["alg"])
	if !ok {
		return wan.NewError(wan.KindInvalidTPMAttestation, "tpm attestation statement missing alg")
	}
	alg := wan.Algorithm(algInt)

	x5c, ok := attStmt["x5c"].([]interface{})
	if !ok || len(x5c) == 0 {
		return wan.NewError(wan.KindUnsupportedAttestationFormat, "tpm attestation without x5c is not implemented")
	}
	if _, ok := attStmt["ecdaaKeyId"]; ok {
		return wan.NewError(wan.KindUnsupportedAttestationFormat, "tpm ECDAA attestation is not implemented")
	}

	sig, ok := attStmt["sig"].([]byte)
	if !ok {
		return wan.NewError(wan.KindInvalidTPMAttestation, "tpm attestation statement missing sig")
	}
	certInfoBytes, ok := attStmt["certInfo"].([]byte)
	if !ok {
		return wan.NewError(wan.KindInvalidTPMAttestation, "tpm attestation statement missing certInfo")
	}
	pubAreaBytes, ok := attStmt["pubArea"].([]byte)
	if !ok {
		return wan.NewError(wan.KindInvalidTPMAttestation, "tpm attestation statement missing pubArea")
	}

	if ad.AttestedCredentialData == nil {
		return wan.NewError(wan.KindMalformedAuthenticatorData, "tpm attestation requires attested credential data")
	}

	pubArea, err := tpm2.DecodePublic(pubAreaBytes)
	if err != nil {
		return wan.WrapError(wan.KindInvalidTPMAttestation, err, "decoding TPMT_PUBLIC pubArea")
	}

	pub, _, err := wan.DecodePublicKey(ad.AttestedCredentialData.CredentialPublicKey)
	if err != nil {
		return err
	}
	if err := matchesPublic(pubArea, pub); err != nil {
		return err
	}

	certInfo, err := tpm2.DecodeAttestationData(certInfoBytes)
	if err != nil {
		return wan.WrapError(wan.KindInvalidTPMAttestation, err, "decoding TPMS_ATTEST certInfo")
	}
	if certInfo.Type != tpm2.TagAttestCertify {
		return wan.NewError(wan.KindInvalidTPMAttestation, "certInfo type is not TPM_ST_ATTEST_CERTIFY")
	}

	attToBeSigned := append(append([]byte(nil), authDataRaw...), clientDataHash...)
	wantExtraData, err := hashForAlg(alg, attToBeSigned)
	if err != nil {
		return err
	}
	if !bytes.Equal(certInfo.ExtraData, wantExtraData) {
		return wan.NewError(wan.KindInvalidTPMAttestation, "certInfo extraData does not match hash of authData||clientDataHash")
	}

	matches, err := certInfo.AttestedCertifyInfo.Name.MatchesPublic(pubArea)
	if err != nil {
		return wan.WrapError(wan.KindInvalidTPMAttestation, err, "matching certInfo attested name against pubArea")
	}
	if !matches {
		return wan.NewError(wan.KindInvalidTPMAttestation, "certInfo attested name does not match pubArea")
	}

	rawAIKCert, ok := x5c[0].([]byte)
	if !ok {
		return wan.NewError(wan.KindInvalidTPMAttestation, "tpm attestation statement has malformed x5c[0]")
	}
	aikCert, err := x509.ParseCertificate(rawAIKCert)
	if err != nil {
		return wan.WrapError(wan.KindUntrustedCertificate, err, "parsing AIK certificate")
	}

	sigAlg, err := x509SigAlgForCOSE(alg)
	if err != nil {
		return err
	}
	if err := aikCert.CheckSignature(sigAlg, certInfoBytes, sig); err != nil {
		return wan.WrapError(wan.KindSignatureFailure, err, "verifying tpm attestation signature over certInfo")
	}

	return checkAIKCertConstraints(aikCert)
}

func checkAIKCertConstraints(cert *x509.Certificate) error {
	if cert.Version != 3 {
		return wan.NewError(wan.KindUntrustedCertificate, "AIK certificate version must be 3")
	}
	if cert.Subject.String() != "" {
		return wan.NewError(wan.KindUntrustedCertificate, "AIK certificate subject must be empty")
	}

	var manufacturer, model, version string
	var ekuValid bool
	var constraints struct {
		IsCA       bool `asn1:"optional"`
		MaxPathLen int  `asn1:"optional,default:-1"`
	}

	for _, ext := range cert.Extensions {
		switch {
		case ext.Id.Equal(oidSubjectAltName):
			var err error
			manufacturer, model, version, err = parseSANExtension(ext.Value)
			if err != nil {
				return wan.WrapError(wan.KindUntrustedCertificate, err, "parsing AIK certificate SAN")
			}
		case ext.Id.Equal(oidExtKeyUsage):
			var eku []asn1.ObjectIdentifier
			rest, err := asn1.Unmarshal(ext.Value, &eku)
			if err != nil || len(rest) != 0 || len(eku) == 0 || !eku[0].Equal(tcgKpAIKCertificate) {
				return wan.NewError(wan.KindUntrustedCertificate, "AIK certificate EKU missing 2.23.133.8.3")
			}
			ekuValid = true
		case ext.Id.Equal(oidBasicConstraints):
			if rest, err := asn1.Unmarshal(ext.Value, &constraints); err != nil || len(rest) != 0 {
				return wan.NewError(wan.KindUntrustedCertificate, "AIK certificate basic constraints malformed")
			}
		}
	}

	if manufacturer == "" || model == "" || version == "" {
		return wan.NewError(wan.KindUntrustedCertificate, "AIK certificate missing SAN TPM device attributes")
	}
	if !ekuValid {
		return wan.NewError(wan.KindUntrustedCertificate, "AIK certificate missing EKU")
	}
	if constraints.IsCA {
		return wan.NewError(wan.KindUntrustedCertificate, "AIK certificate basic constraints has CA=true")
	}
	return nil
}

func parseSANExtension(value []byte) (manufacturer, model, version string, err error) {
	var seq asn1.RawValue
	rest, err := asn1.Unmarshal(value, &seq)
	if err != nil {
		return "", "", "", err
	}
	if len(rest) != 0 {
		return "", "", "", errors.New("trailing data after SAN extension")
	}
	if !seq.IsCompound || seq.Tag != 16 || seq.Class != 0 {
		return "", "", "", asn1.StructuralError{Msg: "bad SAN sequence"}
	}

	rest = seq.Bytes
	for len(rest) > 0 {
		var v asn1.RawValue
		rest, err = asn1.Unmarshal(rest, &v)
		if err != nil {
			return "", "", "", err
		}
		const nameTypeDN = 4
		if v.Tag != nameTypeDN {
			continue
		}
		var rdns pkix.RDNSequence
		if _, err := asn1.Unmarshal(v.Bytes, &rdns); err != nil {
			return "", "", "", err
		}
		for _, rdn := range rdns {
			for _, atv := range rdn {
				s, ok := atv.Value.(string)
				if !ok {
					continue
				}
				switch {
				case atv.Type.Equal(tcgAtTpmManufacturer):
					manufacturer = strings.TrimPrefix(s, "id:")
				case atv.Type.Equal(tcgAtTpmModel):
					model = s
				case atv.Type.Equal(tcgAtTpmVersion):
					version = strings.TrimPrefix(s, "id:")
				}
			}
		}
	}
	return manufacturer, model, version, nil
}

func hashForAlg(alg wan.Algorithm, data []byte) ([]byte, error) {
	switch alg {
	case wan.ES256, wan.RS256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	default:
		return nil, wan.NewError(wan.KindInvalidTPMAttestation, "unsupported tpm signature algorithm %s", alg)
	}
}

func x509SigAlgForCOSE(alg wan.Algorithm) (x509.SignatureAlgorithm, error) {
	switch alg {
	case wan.ES256:
		return x509.ECDSAWithSHA256, nil
	case wan.RS256:
		return x509.SHA256WithRSA, nil
	default:
		return 0, wan.NewError(wan.KindInvalidTPMAttestation, "unsupported tpm signature algorithm %s", alg)
	}
}

// matchesPublic verifies that the public key parameters encoded in a
// TPMT_PUBLIC structure are the same key carried as the credential's COSE_Key.
func matchesPublic(pubArea tpm2.Public, pub crypto.PublicKey) error {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		if pubArea.ECCParameters == nil {
			return wan.NewError(wan.KindInvalidTPMAttestation, "pubArea has no ECC parameters for an EC2 credential key")
		}
		if pubArea.ECCParameters.CurveID != tpm2.CurveNISTP256 {
			return wan.NewError(wan.KindInvalidTPMAttestation, "pubArea ECC curve does not match credential key curve")
		}
		xRaw := leftPad(k.X.Bytes(), 32)
		yRaw := leftPad(k.Y.Bytes(), 32)
		if !bytes.Equal(pubArea.ECCParameters.Point.XRaw, xRaw) || !bytes.Equal(pubArea.ECCParameters.Point.YRaw, yRaw) {
			return wan.NewError(wan.KindInvalidTPMAttestation, "pubArea ECC point does not match credential public key")
		}
		return nil

	case *rsa.PublicKey:
		if pubArea.RSAParameters == nil {
			return wan.NewError(wan.KindInvalidTPMAttestation, "pubArea has no RSA parameters for an RSA credential key")
		}
		if !bytes.Equal(pubArea.RSAParameters.ModulusRaw, k.N.Bytes()) {
			return wan.NewError(wan.KindInvalidTPMAttestation, "pubArea RSA modulus does not match credential public key")
		}
		if pubArea.RSAParameters.Exponent() != uint32(k.E) {
			return wan.NewError(wan.KindInvalidTPMAttestation, "pubArea RSA exponent does not match credential public key")
		}
		return nil

	default:
		return wan.NewError(wan.KindInvalidTPMAttestation, "unsupported credential public key type %T for tpm attestation", pub)
	}
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
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
