package tpm

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	wan "github.com/jsynacek/webauthn"
)

// ec2CredentialPublicKey builds the raw COSE_Key CBOR bytes for an ES256
// credential public key, the shape stored in CredentialData.
func ec2CredentialPublicKey(t *testing.T, pub *ecdsa.PublicKey) []byte {
	t.Helper()
	xBytes := make([]byte, 32)
	yBytes := make([]byte, 32)
	pub.X.FillBytes(xBytes)
	pub.Y.FillBytes(yBytes)
	raw, err := cbor.Marshal(map[int]interface{}{
		1:  int64(2),
		3:  int64(-7),
		-1: int64(1),
		-2: xBytes,
		-3: yBytes,
	})
	if err != nil {
		t.Fatalf("marshaling COSE EC2 key: %v", err)
	}
	return raw
}

// buildECCPubArea encodes a TPMT_PUBLIC structure for an EC P-256 signing
// key with the given raw (32-byte) coordinates.
func buildECCPubArea(x, y []byte) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint16(0x0023)) // TPM_ALG_ECC
	binary.Write(buf, binary.BigEndian, uint16(0x000B)) // TPM_ALG_SHA256 (nameAlg)
	binary.Write(buf, binary.BigEndian, uint32(0x00050040))
	binary.Write(buf, binary.BigEndian, uint16(0)) // authPolicy, empty
	binary.Write(buf, binary.BigEndian, uint16(0x0010)) // symmetric.algorithm = TPM_ALG_NULL
	binary.Write(buf, binary.BigEndian, uint16(0x0010)) // scheme.scheme = TPM_ALG_NULL
	binary.Write(buf, binary.BigEndian, uint16(0x0003)) // curveID = TPM_ECC_NIST_P256
	binary.Write(buf, binary.BigEndian, uint16(0x0010)) // kdf.scheme = TPM_ALG_NULL
	binary.Write(buf, binary.BigEndian, uint16(len(x)))
	buf.Write(x)
	binary.Write(buf, binary.BigEndian, uint16(len(y)))
	buf.Write(y)
	return buf.Bytes()
}

// buildTPMName encodes a TPM2B_NAME carrying a SHA-256 digest, the form used
// both for the attested object's name and for the certifying key's name.
func buildTPMName(digest [32]byte) []byte {
	content := new(bytes.Buffer)
	binary.Write(content, binary.BigEndian, uint16(0x000B)) // TPM_ALG_SHA256
	content.Write(digest[:])

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint16(content.Len()))
	buf.Write(content.Bytes())
	return buf.Bytes()
}

// buildCertInfo encodes a TPMS_ATTEST structure of type TPM_ST_ATTEST_CERTIFY.
func buildCertInfo(attestedName, qualifiedSignerName, extraData []byte) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(0xff544347)) // TPM_GENERATED_VALUE
	binary.Write(buf, binary.BigEndian, uint16(0x8017))     // TPM_ST_ATTEST_CERTIFY
	buf.Write(qualifiedSignerName)
	binary.Write(buf, binary.BigEndian, uint16(len(extraData)))
	buf.Write(extraData)
	binary.Write(buf, binary.BigEndian, uint64(0)) // clock
	binary.Write(buf, binary.BigEndian, uint32(0)) // resetCount
	binary.Write(buf, binary.BigEndian, uint32(0)) // restartCount
	buf.WriteByte(1)                               // safe = YES
	binary.Write(buf, binary.BigEndian, uint64(0)) // firmwareVersion
	buf.Write(attestedName)                        // TPMS_CERTIFY_INFO.name
	buf.Write(qualifiedSignerName)                 // TPMS_CERTIFY_INFO.qualifiedName
	return buf.Bytes()
}

// buildAIKCertificate self-signs a certificate satisfying
// checkAIKCertConstraints: empty subject, a TCG SAN carrying manufacturer,
// model, and version, the AIK EKU, and CA=false basic constraints.
func buildAIKCertificate(t *testing.T, priv *ecdsa.PrivateKey) []byte {
	t.Helper()

	name := pkix.Name{
		ExtraNames: []pkix.AttributeTypeAndValue{
			{Type: tcgAtTpmManufacturer, Value: "id:ABCD1234"},
			{Type: tcgAtTpmModel, Value: "FakeTPM"},
			{Type: tcgAtTpmVersion, Value: "id:1.0"},
		},
	}
	rdnBytes, err := asn1.Marshal(name.ToRDNSequence())
	if err != nil {
		t.Fatalf("marshaling AIK SAN RDN sequence: %v", err)
	}
	var rawRDN asn1.RawValue
	if _, err := asn1.Unmarshal(rdnBytes, &rawRDN); err != nil {
		t.Fatalf("unwrapping AIK SAN RDN sequence: %v", err)
	}
	generalName := asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 4, IsCompound: true, Bytes: rawRDN.Bytes}
	sanValue, err := asn1.Marshal([]asn1.RawValue{generalName})
	if err != nil {
		t.Fatalf("marshaling AIK SAN extension: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		NotBefore:             time.Unix(0, 0),
		NotAfter:              time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  false,
		UnknownExtKeyUsage:    []asn1.ObjectIdentifier{tcgKpAIKCertificate},
		ExtraExtensions: []pkix.Extension{
			{Id: oidSubjectAltName, Critical: true, Value: sanValue},
		},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("creating AIK certificate: %v", err)
	}
	return der
}

func TestVerifyAcceptsValidAttestation(t *testing.T) {
	credPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating credential key: %v", err)
	}
	aikPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating AIK key: %v", err)
	}

	xBytes := make([]byte, 32)
	yBytes := make([]byte, 32)
	credPriv.PublicKey.X.FillBytes(xBytes)
	credPriv.PublicKey.Y.FillBytes(yBytes)
	pubAreaBytes := buildECCPubArea(xBytes, yBytes)

	attestedName := buildTPMName(sha256.Sum256(pubAreaBytes))
	qualifiedSignerName := buildTPMName(sha256.Sum256([]byte("aik-qualified-name")))

	authDataRaw := make([]byte, 37)
	authDataRaw[32] = 0x01 // user present
	clientDataHash := sha256.Sum256([]byte("tpm attestation clientDataJSON"))
	attToBeSigned := append(append([]byte(nil), authDataRaw...), clientDataHash[:]...)
	extraData := sha256.Sum256(attToBeSigned)

	certInfoBytes := buildCertInfo(attestedName, qualifiedSignerName, extraData[:])

	digest := sha256.Sum256(certInfoBytes)
	sig, err := ecdsa.SignASN1(rand.Reader, aikPriv, digest[:])
	if err != nil {
		t.Fatalf("signing certInfo: %v", err)
	}

	aikCert := buildAIKCertificate(t, aikPriv)

	ad := &wan.AuthenticatorData{
		AttestedCredentialData: &wan.CredentialData{
			CredentialPublicKey: ec2CredentialPublicKey(t, &credPriv.PublicKey),
		},
	}
	attStmt := map[string]interface{}{
		"ver":      "2.0",
		"alg":      int64(wan.ES256),
		"sig":      sig,
		"certInfo": certInfoBytes,
		"pubArea":  pubAreaBytes,
		"x5c":      []interface{}{aikCert},
	}

	if err := Verify(attStmt, ad, authDataRaw, clientDataHash[:]); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsNonTPM2(t *testing.T) {
	ad := &wan.AuthenticatorData{}
	err := Verify(map[string]interface{}{"ver": "1.2"}, ad, nil, nil)
	if err == nil {
		t.Fatal("expected error for non-2.0 tpm version")
	}
	werr, ok := err.(*wan.Error)
	if !ok || werr.Kind != wan.KindInvalidTPMAttestation {
		t.Fatalf("expected KindInvalidTPMAttestation, got %v", err)
	}
}

func TestVerifyRejectsMissingX5C(t *testing.T) {
	ad := &wan.AuthenticatorData{}
	attStmt := map[string]interface{}{
		"ver": "2.0",
		"alg": int64(-7),
	}
	err := Verify(attStmt, ad, nil, nil)
	if err == nil {
		t.Fatal("expected error for missing x5c")
	}
	werr, ok := err.(*wan.Error)
	if !ok || werr.Kind != wan.KindUnsupportedAttestationFormat {
		t.Fatalf("expected KindUnsupportedAttestationFormat, got %v", err)
	}
}
