package webauthn

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestDecodePublicKeyEC2(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating EC key: %v", err)
	}
	xBytes := make([]byte, 32)
	yBytes := make([]byte, 32)
	priv.X.FillBytes(xBytes)
	priv.Y.FillBytes(yBytes)

	raw, err := cbor.Marshal(map[int]interface{}{
		1:  int64(coseKtyEC2),
		3:  int64(ES256),
		-1: int64(coseCrvP256),
		-2: xBytes,
		-3: yBytes,
	})
	if err != nil {
		t.Fatalf("marshaling COSE key: %v", err)
	}

	pub, alg, err := DecodePublicKey(raw)
	if err != nil {
		t.Fatalf("DecodePublicKey: %v", err)
	}
	if alg != ES256 {
		t.Errorf("got alg %s, want ES256", alg)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		t.Fatalf("got %T, want *ecdsa.PublicKey", pub)
	}
	if ecPub.X.Cmp(priv.X) != 0 || ecPub.Y.Cmp(priv.Y) != 0 {
		t.Error("decoded public key coordinates do not match")
	}
}

func TestDecodePublicKeyOKP(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating Ed25519 key: %v", err)
	}
	raw, err := cbor.Marshal(map[int]interface{}{
		1:  int64(coseKtyOKP),
		3:  int64(EdDSA),
		-1: int64(coseCrvEd25519),
		-2: []byte(pub),
	})
	if err != nil {
		t.Fatalf("marshaling COSE key: %v", err)
	}

	decoded, alg, err := DecodePublicKey(raw)
	if err != nil {
		t.Fatalf("DecodePublicKey: %v", err)
	}
	if alg != EdDSA {
		t.Errorf("got alg %s, want EdDSA", alg)
	}
	if !bytesEqual([]byte(decoded.(ed25519.PublicKey)), []byte(pub)) {
		t.Error("decoded Ed25519 key mismatch")
	}
}

func TestVerifySignatureRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating EC key: %v", err)
	}
	message := []byte("authData||clientDataHash")
	hash := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, hash[:])
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if err := VerifySignature(&priv.PublicKey, ES256, message, sig); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}

	sig[0] ^= 0xFF
	err = VerifySignature(&priv.PublicKey, ES256, message, sig)
	assertKind(t, err, KindSignatureFailure)
}

func TestVerifySignatureWrongKeyType(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	err = VerifySignature(&rsaKey.PublicKey, ES256, []byte("msg"), []byte("sig"))
	assertKind(t, err, KindMalformedPublicKey)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
