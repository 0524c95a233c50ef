package identity

import (
	"testing"
	"time"

	"github.com/linsihaku/corda/src/common"
	"github.com/linsihaku/corda/src/crypto/keys"
	"github.com/linsihaku/corda/src/netmap"
)

func testIdentity(t *testing.T, name string) netmap.PartyAndCertificate {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	return netmap.PartyAndCertificate{
		Party:       netmap.NewParty(name, &key.PublicKey),
		Certificate: []byte("cert for " + name),
	}
}

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry(common.NewTestEntry(t))

	alice := testIdentity(t, "O=Alice,L=London,C=GB")
	if err := reg.VerifyAndRegister(alice); err != nil {
		t.Fatal(err)
	}

	name, ok := reg.Name(alice.Party.PubKeyHex)
	if !ok || name != "O=Alice,L=London,C=GB" {
		t.Fatalf("registry should resolve the key to Alice, got %q (%v)", name, ok)
	}

	cert, ok := reg.Certificate(alice.Party.PubKeyHex)
	if !ok || string(cert) != "cert for O=Alice,L=London,C=GB" {
		t.Fatalf("registry should hold Alice's certificate, got %q (%v)", cert, ok)
	}

	// Re-registering the same binding is a no-op
	if err := reg.VerifyAndRegister(alice); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryConflict(t *testing.T) {
	reg := NewRegistry(common.NewTestEntry(t))

	alice := testIdentity(t, "O=Alice,L=London,C=GB")
	if err := reg.VerifyAndRegister(alice); err != nil {
		t.Fatal(err)
	}

	// Same key, different name
	impostor := netmap.PartyAndCertificate{
		Party: netmap.Party{
			Name:      "O=Mallory,L=Berlin,C=DE",
			PubKeyHex: alice.Party.PubKeyHex,
		},
	}
	if err := reg.VerifyAndRegister(impostor); err == nil {
		t.Fatal("rebinding a key to a different name should fail")
	}

	name, _ := reg.Name(alice.Party.PubKeyHex)
	if name != "O=Alice,L=London,C=GB" {
		t.Fatalf("original binding should survive, got %q", name)
	}
}

func TestRegistryWithVerifyingCache(t *testing.T) {
	reg := NewRegistry(common.NewTestEntry(t))

	cache, err := netmap.NewCache(netmap.NewInmemStore(), 10, common.NewTestEntry(t))
	if err != nil {
		t.Fatal(err)
	}

	vc := netmap.NewVerifyingCache(cache, reg, common.NewTestEntry(t))
	defer vc.Close()

	alice := testIdentity(t, "O=Alice,L=London,C=GB")
	info := &netmap.NodeInfo{
		Addresses: []netmap.Address{
			{Host: "alice.example.com", Port: 10000},
		},
		Identities:      []netmap.PartyAndCertificate{alice},
		PlatformVersion: 4,
		Serial:          1,
	}

	if err := vc.AddNode(info); err != nil {
		t.Fatal(err)
	}

	// Registration happens on the feed, asynchronously
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := reg.Name(alice.Party.PubKeyHex); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for identity registration")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
