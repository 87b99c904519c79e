package webauthn

import "crypto/x509"

// CertificateStore is the trust-anchor store the caller loads once (from its own
// config, a pinned root bundle, or a metadata service) and passes into every
// verification call that needs to validate an attestation certificate chain. The
// core only ever reads from it.
//
// https://www.w3.org/TR/webauthn-3/#sctn-attestation (trust anchor discussion)
type CertificateStore interface {
	// Roots returns the pool of trusted root certificates used to validate
	// attestation certificate chains (for example, the Android SafetyNet leaf
	// certificate's issuance chain).
	Roots() *x509.CertPool
}

// certPoolStore is the straightforward CertificateStore backed by a single
// in-memory *x509.CertPool, sufficient for callers that don't need anything
// fancier (such as a per-AAGUID metadata-service lookup).
type certPoolStore struct {
	roots *x509.CertPool
}

// NewCertificateStore wraps a pre-populated root pool as a CertificateStore.
func NewCertificateStore(roots *x509.CertPool) CertificateStore {
	return certPoolStore{roots: roots}
}

func (s certPoolStore) Roots() *x509.CertPool { return s.roots }
