package netmap

import (
	"testing"

	"github.com/linsihaku/corda/src/crypto/keys"
)

func TestSignVerifyParameters(t *testing.T) {
	operatorKey, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	notaryKey, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	params := &NetworkParameters{
		MinimumPlatformVersion: 4,
		Notaries: []NotaryInfo{
			{Party: NewParty("notary", &notaryKey.PublicKey), Validating: true},
		},
	}

	signed, err := SignParameters(params, operatorKey)
	if err != nil {
		t.Fatal(err)
	}

	verified, err := signed.Verify(&operatorKey.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if verified.MinimumPlatformVersion != 4 {
		t.Fatalf("minimum platform version should be 4, not %d", verified.MinimumPlatformVersion)
	}
	if len(verified.Notaries) != 1 || !verified.Notaries[0].Validating {
		t.Fatalf("notary set should survive the round trip, got %v", verified.Notaries)
	}

	otherKey, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := signed.Verify(&otherKey.PublicKey); err != ErrInvalidSignature {
		t.Fatalf("untrusted key should yield ErrInvalidSignature, got %v", err)
	}
	if _, err := signed.Verify(nil); err != ErrInvalidSignature {
		t.Fatalf("nil key should yield ErrInvalidSignature, got %v", err)
	}
}

func TestParametersHashIsContentOnly(t *testing.T) {
	params := &NetworkParameters{MinimumPlatformVersion: 4}

	key1, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	key2, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	signed1, err := SignParameters(params, key1)
	if err != nil {
		t.Fatal(err)
	}
	signed2, err := SignParameters(params, key2)
	if err != nil {
		t.Fatal(err)
	}

	// The hash identifies the parameter content, not the signature wrapper.
	if signed1.Hex() != signed2.Hex() {
		t.Fatal("same parameters should hash identically regardless of signer")
	}

	hash, err := params.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if len(hash) != 32 {
		t.Fatalf("hash should be 32 bytes, not %d", len(hash))
	}

	other := &NetworkParameters{MinimumPlatformVersion: 5}
	signedOther, err := SignParameters(other, key1)
	if err != nil {
		t.Fatal(err)
	}
	if signed1.Hex() == signedOther.Hex() {
		t.Fatal("different parameters should hash differently")
	}
}
