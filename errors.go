package webauthn

import "fmt"

// Kind identifies the category of a verification failure. The set is closed and
// flat: every step of registration and assertion verification fails with exactly
// one of these, never a custom or embedded variant.
type Kind int

const (
	_ Kind = iota
	KindJSONDecodeError
	KindCBORDecodeError
	KindInvalidType
	KindMismatchedChallenge
	KindMismatchedOrigin
	KindUnexpectedPresenceOfTokenBinding
	KindMismatchedTokenBinding
	KindMalformedAuthenticatorData
	KindMismatchedRPID
	KindUserNotPresent
	KindUserUnverified
	KindMalformedPublicKey
	KindMalformedSignature
	KindSignatureFailure
	KindUnsupportedAttestationFormat
	KindUntrustedCertificate
	KindNonceCheckFailure
	KindInvalidAndroidAttestation
	KindInvalidTPMAttestation
)

var kindStrings = map[Kind]string{
	KindJSONDecodeError:                  "JSONDecodeError",
	KindCBORDecodeError:                  "CBORDecodeError",
	KindInvalidType:                      "InvalidType",
	KindMismatchedChallenge:              "MismatchedChallenge",
	KindMismatchedOrigin:                 "MismatchedOrigin",
	KindUnexpectedPresenceOfTokenBinding: "UnexpectedPresenceOfTokenBinding",
	KindMismatchedTokenBinding:           "MismatchedTokenBinding",
	KindMalformedAuthenticatorData:       "MalformedAuthenticatorData",
	KindMismatchedRPID:                   "MismatchedRPID",
	KindUserNotPresent:                   "UserNotPresent",
	KindUserUnverified:                   "UserUnverified",
	KindMalformedPublicKey:               "MalformedPublicKey",
	KindMalformedSignature:               "MalformedSignature",
	KindSignatureFailure:                 "SignatureFailure",
	KindUnsupportedAttestationFormat:     "UnsupportedAttestationFormat",
	KindUntrustedCertificate:             "UntrustedCertificate",
	KindNonceCheckFailure:                "NonceCheckFailure",
	KindInvalidAndroidAttestation:        "InvalidAndroidAttestation",
	KindInvalidTPMAttestation:            "InvalidTPMAttestation",
}

func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the single error type returned by every verification function in this
// module and its format subpackages. Context strings (Msg, Format) are meant for
// logs and debugging; they never embed raw attacker-controlled binary content.
type Error struct {
	Kind Kind
	// Msg is a short, human-readable description of the failure.
	Msg string
	// Format names the attestation statement format involved, set only for
	// KindUnsupportedAttestationFormat.
	Format string
	// cause, if set, is the underlying error this one wraps.
	cause error
}

func (e *Error) Error() string {
	switch {
	case e.Format != "":
		return fmt.Sprintf("webauthn: %s: %s (%s)", e.Kind, e.Msg, e.Format)
	case e.Msg != "":
		return fmt.Sprintf("webauthn: %s: %s", e.Kind, e.Msg)
	default:
		return fmt.Sprintf("webauthn: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// newErr builds an Error of the given kind with a formatted message.
func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrapErr builds an Error of the given kind, wrapping a lower-level cause.
func wrapErr(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

// unsupportedFormat reports an attestation statement format this module does not
// implement a verifier for.
func unsupportedFormat(format string) *Error {
	return &Error{Kind: KindUnsupportedAttestationFormat, Msg: "unsupported attestation format", Format: format}
}

// NewError and WrapError let the format subpackages (packed, tpm, safetynet, u2f)
// build errors of the kinds defined here without reaching into this package's
// unexported constructors.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return newErr(kind, format, args...)
}

func WrapError(kind Kind, cause error, msg string) *Error {
	return wrapErr(kind, cause, msg)
}
