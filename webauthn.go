// Package webauthn implements the server-side verification core of a WebAuthn
// relying party: parsing the artifacts a browser forwards from an authenticator
// and deciding whether a registration or authentication ceremony is genuine.
//
// This package holds the primitive types and low-level parsers. Attestation
// statement format verifiers live in sibling packages
// (packed, tpm, safetynet, u2f); the two public orchestrators, RegisterCredential
// and Verify, live in the rp package, which composes this package with the format
// packages.
package webauthn

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Algorithm identifies a COSE signing algorithm: both a public key scheme and its
// associated hash function.
//
// https://www.iana.org/assignments/cose/cose.xhtml#algorithms
type Algorithm int

const (
	ES256 Algorithm = -7
	EdDSA Algorithm = -8
	RS256 Algorithm = -257
)

var algorithmStrings = map[Algorithm]string{
	ES256: "ES256",
	EdDSA: "EdDSA",
	RS256: "RS256",
}

func (a Algorithm) String() string {
	if s, ok := algorithmStrings[a]; ok {
		return s
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// RelyingParty is the immutable configuration of the server verifying
// credentials.
type RelyingParty struct {
	// ID is the relying party identifier, a domain label such as "example.com".
	ID string
	// Name is a human-readable name for the relying party, shown to the user by
	// the authenticator UI during registration.
	Name string
	// Origin is the exact origin the browser must report in clientDataJSON, such
	// as "https://example.com" or "https://example.com:8443".
	Origin string
}

// User is opaque identifying information about the account being registered or
// authenticated. The core never interprets these fields.
type User struct {
	ID          []byte
	Name        string
	DisplayName string
}

// AAGUID identifies an authenticator model.
type AAGUID [16]byte

func (a AAGUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", a[0:4], a[4:6], a[6:8], a[8:10], a[10:16])
}

// CredentialData is the attested credential information produced by a successful
// registration. Callers persist this alongside the user record and supply it back
// to Verify for subsequent authentication ceremonies.
type CredentialData struct {
	AAGUID AAGUID
	// CredentialID uniquely identifies the credential to the authenticator that
	// created it.
	CredentialID []byte
	// CredentialPublicKey is the raw COSE_Key CBOR bytes. It is decoded only when
	// a signature must be verified against it.
	CredentialPublicKey []byte
}

// Flags is the one-byte flags field of AuthenticatorData.
//
// https://www.w3.org/TR/webauthn-3/#authdata-flags
type Flags byte

const (
	flagUP Flags = 1 << 0
	flagUV Flags = 1 << 2
	flagBE Flags = 1 << 3
	flagBS Flags = 1 << 4
	flagAT Flags = 1 << 6
	flagED Flags = 1 << 7
)

func (f Flags) UserPresent() bool            { return f&flagUP != 0 }
func (f Flags) UserVerified() bool           { return f&flagUV != 0 }
func (f Flags) BackupEligible() bool         { return f&flagBE != 0 }
func (f Flags) BackedUp() bool               { return f&flagBS != 0 }
func (f Flags) AttestedCredentialData() bool { return f&flagAT != 0 }
func (f Flags) Extensions() bool             { return f&flagED != 0 }

func (f Flags) String() string {
	var s []byte
	add := func(set bool, c byte) {
		if set {
			s = append(s, c)
		}
	}
	add(f.UserPresent(), 'P')
	add(f.UserVerified(), 'V')
	add(f.BackupEligible(), 'E')
	add(f.BackedUp(), 'S')
	add(f.AttestedCredentialData(), 'A')
	add(f.Extensions(), 'X')
	if len(s) == 0 {
		return "Flags()"
	}
	return fmt.Sprintf("Flags(%s)", s)
}

// AuthenticatorData is the parsed form of the binary authData blob.
type AuthenticatorData struct {
	RPIDHash               [32]byte
	Flags                  Flags
	Counter                uint32
	AttestedCredentialData *CredentialData
	// Extensions is the raw CBOR-encoded extension map, present when
	// Flags.Extensions() is true. It is not semantically interpreted here.
	Extensions []byte
}

// ParseAuthenticatorData decodes the fixed-layout binary authData blob,
// extracting flags and, if present, attested credential data. It performs no
// relying-party checks; call VerifyAuthenticatorData for those.
func ParseAuthenticatorData(b []byte) (*AuthenticatorData, error) {
	if len(b) < 37 {
		return nil, newErr(KindMalformedAuthenticatorData, "authenticator data too short: %d bytes", len(b))
	}

	var ad AuthenticatorData
	copy(ad.RPIDHash[:], b[0:32])
	ad.Flags = Flags(b[32])
	ad.Counter = binary.BigEndian.Uint32(b[33:37])
	b = b[37:]

	if !ad.Flags.AttestedCredentialData() {
		if len(b) != 0 {
			if ad.Flags.Extensions() {
				ad.Extensions = b
			} else {
				return nil, newErr(KindMalformedAuthenticatorData, "trailing bytes with no attested credential data or extensions flag set")
			}
		}
		return &ad, nil
	}

	if len(b) < 16+2 {
		return nil, newErr(KindMalformedAuthenticatorData, "not enough bytes for aaguid and credential id length")
	}
	cred := &CredentialData{}
	copy(cred.AAGUID[:], b[0:16])
	credIDLen := int(binary.BigEndian.Uint16(b[16:18]))
	b = b[18:]

	if len(b) < credIDLen {
		return nil, newErr(KindMalformedAuthenticatorData, "not enough bytes for credential id")
	}
	cred.CredentialID = append([]byte(nil), b[:credIDLen]...)
	b = b[credIDLen:]

	pubKeyRaw, rest, err := decodeOneCBORItem(b)
	if err != nil {
		return nil, wrapErr(KindCBORDecodeError, err, "decoding credentialPublicKey")
	}
	cred.CredentialPublicKey = pubKeyRaw
	ad.AttestedCredentialData = cred

	if len(rest) > 0 {
		if !ad.Flags.Extensions() {
			return nil, newErr(KindMalformedAuthenticatorData, "trailing bytes after credential public key with no extensions flag set")
		}
		ad.Extensions = rest
	}

	return &ad, nil
}

// decodeOneCBORItem decodes exactly one CBOR data item prefixing b and returns its
// raw encoded bytes along with whatever of b follows it.
func decodeOneCBORItem(b []byte) (item []byte, rest []byte, err error) {
	dec := cbor.NewDecoder(bytes.NewReader(b))
	var raw cbor.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, err
	}
	return []byte(raw), b[len(raw):], nil
}

// VerifyAuthenticatorData performs the post-parse checks: that the
// authenticator data binds to the expected relying party, and that the requested
// user-presence/verification bits are set.
func VerifyAuthenticatorData(ad *AuthenticatorData, rp *RelyingParty, requireUV bool) error {
	wantHash := sha256.Sum256([]byte(rp.ID))
	if wantHash != ad.RPIDHash {
		return newErr(KindMismatchedRPID, "authenticator data rpIdHash does not match relying party ID %q", rp.ID)
	}
	if !ad.Flags.UserPresent() {
		return newErr(KindUserNotPresent, "user presence flag not set")
	}
	if requireUV && !ad.Flags.UserVerified() {
		return newErr(KindUserUnverified, "user verification required but not performed")
	}
	return nil
}

// AttestationObject is the decoded, but not yet format-verified, form of an
// attestationObject.
type AttestationObject struct {
	// Format names the attestation statement format ("packed", "tpm",
	// "fido-u2f", "android-safetynet", "none", ...).
	Format string
	// AttestationStatement is the decoded attStmt CBOR map, keyed by its
	// top-level field names. Interpretation is entirely format-specific.
	AttestationStatement map[string]interface{}
	// AuthenticatorDataRaw is the authData byte string, preserved verbatim
	// because several attestation formats sign over it directly.
	AuthenticatorDataRaw []byte
}

type wireAttestationObject struct {
	Fmt      string          `cbor:"fmt"`
	AttStmt  cbor.RawMessage `cbor:"attStmt"`
	AuthData []byte          `cbor:"authData"`
}

// ParseAttestationObject decodes the attestationObject CBOR map into its
// format, its statement (decoded into a generic map), and raw authenticator
// data. It does not dispatch to a format-specific verifier or parse the
// authenticator data further.
func ParseAttestationObject(b []byte) (*AttestationObject, error) {
	var wire wireAttestationObject
	if err := cbor.Unmarshal(b, &wire); err != nil {
		return nil, wrapErr(KindCBORDecodeError, err, "decoding attestation object")
	}
	if wire.Fmt == "" {
		return nil, newErr(KindCBORDecodeError, "attestation object missing fmt")
	}
	if len(wire.AuthData) == 0 {
		return nil, newErr(KindCBORDecodeError, "attestation object missing authData")
	}

	var attStmt map[string]interface{}
	if len(wire.AttStmt) > 0 {
		if err := cbor.Unmarshal(wire.AttStmt, &attStmt); err != nil {
			return nil, wrapErr(KindCBORDecodeError, err, "decoding attStmt")
		}
	}

	return &AttestationObject{
		Format:               wire.Fmt,
		AttestationStatement: attStmt,
		AuthenticatorDataRaw: wire.AuthData,
	}, nil
}
