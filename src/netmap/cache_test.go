package netmap

import (
	"crypto/ecdsa"
	"testing"

	cm "github.com/linsihaku/corda/src/common"
	"github.com/linsihaku/corda/src/crypto/keys"
)

func testNode(t *testing.T, name string, serial uint64, addrs ...string) (*NodeInfo, *ecdsa.PrivateKey) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	return nodeWithKey(t, key, name, serial, addrs...), key
}

func nodeWithKey(t *testing.T, key *ecdsa.PrivateKey, name string, serial uint64, addrs ...string) *NodeInfo {
	addresses := []Address{}
	for _, a := range addrs {
		addr, err := ParseAddress(a)
		if err != nil {
			t.Fatal(err)
		}
		addresses = append(addresses, addr)
	}
	return &NodeInfo{
		Addresses: addresses,
		Identities: []PartyAndCertificate{
			{Party: NewParty(name, &key.PublicKey)},
		},
		PlatformVersion: 4,
		Serial:          serial,
	}
}

func newTestCache(t *testing.T) *Cache {
	cache, err := NewCache(NewInmemStore(), 0, cm.NewTestEntry(t))
	if err != nil {
		t.Fatal(err)
	}
	return cache
}

func nextChange(t *testing.T, sub *Subscription) MapChange {
	select {
	case change := <-sub.C:
		return change
	default:
		t.Fatal("expected a change on the feed")
		return MapChange{}
	}
}

func expectNoChange(t *testing.T, sub *Subscription) {
	select {
	case change := <-sub.C:
		t.Fatalf("unexpected %s change on the feed", change.Type)
	default:
	}
}

func TestCacheAddAndLookup(t *testing.T) {
	cache := newTestCache(t)

	alice, _ := testNode(t, "alice", 1, "127.0.0.1:10000")
	key := alice.MainIdentity().Party.PubKeyHex

	if err := cache.AddNode(alice); err != nil {
		t.Fatal(err)
	}

	byKey, err := cache.GetNodeByPubKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if !byKey.Equals(alice) {
		t.Fatalf("GetNodeByPubKey should return %v, not %v", alice, byKey)
	}

	byName, err := cache.GetNodesByLegalName("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(byName) != 1 || !byName[0].Equals(alice) {
		t.Fatalf("GetNodesByLegalName should return [%v], not %v", alice, byName)
	}

	byAddr, err := cache.GetNodeByAddress(alice.Addresses[0])
	if err != nil {
		t.Fatal(err)
	}
	if !byAddr.Equals(alice) {
		t.Fatalf("GetNodeByAddress should return %v, not %v", alice, byAddr)
	}
}

func TestCacheStaleSerialDiscarded(t *testing.T) {
	cache := newTestCache(t)

	alice, aliceKey := testNode(t, "alice", 2, "127.0.0.1:10000")
	if err := cache.AddNode(alice); err != nil {
		t.Fatal(err)
	}

	_, sub := cache.Track()
	defer sub.Cancel()

	// Same serial, different content. The stored record wins.
	equal := nodeWithKey(t, aliceKey, "alice", 2, "127.0.0.1:20000")
	if err := cache.AddNode(equal); err != nil {
		t.Fatal(err)
	}

	lower := nodeWithKey(t, aliceKey, "alice", 1, "127.0.0.1:30000")
	if err := cache.AddNode(lower); err != nil {
		t.Fatal(err)
	}

	stored, err := cache.GetNodeByPubKey(alice.MainIdentity().Party.PubKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Equals(alice) {
		t.Fatalf("stale writes should be discarded; stored %v", stored)
	}

	expectNoChange(t, sub)
}

func TestCacheAddressChange(t *testing.T) {
	cache := newTestCache(t)

	alice, aliceKey := testNode(t, "alice", 1, "127.0.0.1:10000")
	if err := cache.AddNode(alice); err != nil {
		t.Fatal(err)
	}

	_, sub := cache.Track()
	defer sub.Cancel()

	moved := nodeWithKey(t, aliceKey, "alice", 2, "127.0.0.1:20000")
	if err := cache.AddNode(moved); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.GetNodeByAddress(alice.Addresses[0]); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("old address should be unbound, got %v", err)
	}

	byAddr, err := cache.GetNodeByAddress(moved.Addresses[0])
	if err != nil {
		t.Fatal(err)
	}
	if !byAddr.Equals(moved) {
		t.Fatalf("new address should resolve to %v, not %v", moved, byAddr)
	}

	change := nextChange(t, sub)
	if change.Type != Modified {
		t.Fatalf("change type should be Modified, not %s", change.Type)
	}
	if change.Previous == nil || change.Previous.Serial != 1 {
		t.Fatalf("Modified change should carry the previous record, got %v", change.Previous)
	}
	if change.Node.Serial != 2 {
		t.Fatalf("Modified change should carry serial 2, not %d", change.Node.Serial)
	}

	expectNoChange(t, sub)
}

func TestCacheRemove(t *testing.T) {
	cache := newTestCache(t)

	alice, _ := testNode(t, "alice", 1, "127.0.0.1:10000")
	if err := cache.AddNode(alice); err != nil {
		t.Fatal(err)
	}

	_, sub := cache.Track()
	defer sub.Cancel()

	if err := cache.RemoveNode(alice); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.GetNodeByPubKey(alice.MainIdentity().Party.PubKeyHex); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("removed record should not resolve, got %v", err)
	}

	change := nextChange(t, sub)
	if change.Type != Removed {
		t.Fatalf("change type should be Removed, not %s", change.Type)
	}

	// Removing an unknown record is a no-op and publishes nothing.
	bob, _ := testNode(t, "bob", 1, "127.0.0.1:20000")
	if err := cache.RemoveNode(bob); err != nil {
		t.Fatal(err)
	}
	expectNoChange(t, sub)
}

func TestCacheTrack(t *testing.T) {
	cache := newTestCache(t)

	alice, _ := testNode(t, "alice", 1, "127.0.0.1:10000")
	if err := cache.AddNode(alice); err != nil {
		t.Fatal(err)
	}

	snapshot, sub := cache.Track()
	defer sub.Cancel()

	if len(snapshot) != 1 || !snapshot[0].Equals(alice) {
		t.Fatalf("snapshot should hold [%v], not %v", alice, snapshot)
	}

	// Changes before Track land in the snapshot only; changes after it land on
	// the feed only.
	expectNoChange(t, sub)

	bob, _ := testNode(t, "bob", 1, "127.0.0.1:20000")
	if err := cache.AddNode(bob); err != nil {
		t.Fatal(err)
	}

	change := nextChange(t, sub)
	if change.Type != Added {
		t.Fatalf("change type should be Added, not %s", change.Type)
	}
	if !change.Node.Equals(bob) {
		t.Fatalf("Added change should carry %v, not %v", bob, change.Node)
	}
	expectNoChange(t, sub)
}

func TestCachePartyInfo(t *testing.T) {
	cache := newTestCache(t)

	alice, _ := testNode(t, "alice", 1, "127.0.0.1:10000")
	if err := cache.AddNode(alice); err != nil {
		t.Fatal(err)
	}

	info, err := cache.GetPartyInfo(alice.MainIdentity().Party)
	if err != nil {
		t.Fatal(err)
	}
	if info.Location != SingleNode {
		t.Fatalf("alice should be a SingleNode, not %s", info.Location)
	}
	if len(info.Addresses) != 1 || info.Addresses[0] != alice.Addresses[0] {
		t.Fatalf("SingleNode info should carry the record addresses, got %v", info.Addresses)
	}

	// A notary identity shared by two cluster members resolves to a
	// DistributedNode with no single endpoint.
	notaryKey, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	notary := NewParty("notary", &notaryKey.PublicKey)

	for i, name := range []string{"member0", "member1"} {
		member, _ := testNode(t, name, 1, Address{Host: "127.0.0.1", Port: 30000 + i}.String())
		member.Identities = append(member.Identities, PartyAndCertificate{Party: notary})
		if err := cache.AddNode(member); err != nil {
			t.Fatal(err)
		}
	}

	info, err = cache.GetPartyInfo(notary)
	if err != nil {
		t.Fatal(err)
	}
	if info.Location != DistributedNode {
		t.Fatalf("notary should be a DistributedNode, not %s", info.Location)
	}
	if len(info.Addresses) != 0 {
		t.Fatalf("DistributedNode info should carry no addresses, got %v", info.Addresses)
	}

	unknown, _ := testNode(t, "unknown", 1, "127.0.0.1:40000")
	if _, err := cache.GetPartyInfo(unknown.MainIdentity().Party); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("unknown party should not resolve, got %v", err)
	}
}

func TestCacheDuplicateAddress(t *testing.T) {
	cache := newTestCache(t)

	alice, _ := testNode(t, "alice", 1, "127.0.0.1:10000")
	if err := cache.AddNode(alice); err != nil {
		t.Fatal(err)
	}

	bob, _ := testNode(t, "bob", 1, "127.0.0.1:10000")
	if err := cache.AddNode(bob); !cm.IsStore(err, cm.DuplicateAddress) {
		t.Fatalf("second record on the same address should be rejected, got %v", err)
	}
}

func TestCachePinParameters(t *testing.T) {
	cache := newTestCache(t)

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

	if cache.Parameters() != nil {
		t.Fatal("parameters should be nil before pinning")
	}

	if err := cache.PinParameters(signed); err != nil {
		t.Fatal(err)
	}
	if cache.Parameters() == nil || cache.Parameters().Hex() != signed.Hex() {
		t.Fatal("pinned parameters should be returned by Parameters")
	}

	// Re-pinning the same parameters is a no-op.
	if err := cache.PinParameters(signed); err != nil {
		t.Fatal(err)
	}

	other, err := SignParameters(&NetworkParameters{MinimumPlatformVersion: 5}, operatorKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.PinParameters(other); err != ErrParametersMismatch {
		t.Fatalf("different parameters should yield ErrParametersMismatch, got %v", err)
	}

	notaries := cache.NotaryIdentities()
	if len(notaries) != 1 || notaries[0].Name != "notary" {
		t.Fatalf("NotaryIdentities should return the notary set, got %v", notaries)
	}
	validating := cache.ValidatingNotaryIdentities()
	if len(validating) != 1 {
		t.Fatalf("ValidatingNotaryIdentities should return 1 notary, got %v", validating)
	}
}

func TestCacheClear(t *testing.T) {
	cache := newTestCache(t)

	operatorKey, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	signed, err := SignParameters(&NetworkParameters{MinimumPlatformVersion: 4}, operatorKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.PinParameters(signed); err != nil {
		t.Fatal(err)
	}

	for i, name := range []string{"alice", "bob"} {
		node, _ := testNode(t, name, 1, Address{Host: "127.0.0.1", Port: 10000 + i}.String())
		if err := cache.AddNode(node); err != nil {
			t.Fatal(err)
		}
	}

	_, sub := cache.Track()
	defer sub.Cancel()

	if err := cache.Clear(); err != nil {
		t.Fatal(err)
	}

	nodes, err := cache.AllNodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 0 {
		t.Fatalf("cache should be empty after Clear, got %d records", len(nodes))
	}

	// A tracked view sees the clear as one Removed change per record.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		change := nextChange(t, sub)
		if change.Type != Removed {
			t.Fatalf("Clear should publish Removed changes, got %s", change.Type)
		}
		seen[change.Node.MainIdentity().Party.Name] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Fatalf("Clear should publish a removal for every record, got %v", seen)
	}
	expectNoChange(t, sub)

	// Pinned parameters survive a Clear.
	if cache.Parameters() == nil {
		t.Fatal("parameters should survive Clear")
	}
}

func TestCacheLookupsReturnCopies(t *testing.T) {
	cache := newTestCache(t)

	alice, _ := testNode(t, "alice", 1, "127.0.0.1:10000")
	key := alice.MainIdentity().Party.PubKeyHex

	if err := cache.AddNode(alice); err != nil {
		t.Fatal(err)
	}

	// Mutating the record handed to AddNode must not reach the cache.
	alice.Serial = 99

	got, err := cache.GetNodeByPubKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Serial != 1 {
		t.Fatalf("cached serial should be 1, not %d", got.Serial)
	}

	// Mutating a lookup result must not reach the cache either.
	got.Serial = 50
	got.Addresses[0].Port = 1

	again, err := cache.GetNodeByPubKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if again.Serial != 1 || again.Addresses[0].Port != 10000 {
		t.Fatalf("lookups should return copies of cached state, got %v", again)
	}

	// Same for a Track snapshot.
	snapshot, sub := cache.Track()
	defer sub.Cancel()
	if len(snapshot) != 1 {
		t.Fatalf("snapshot should hold 1 record, not %d", len(snapshot))
	}
	snapshot[0].Serial = 77

	final, err := cache.GetNodeByPubKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if final.Serial != 1 {
		t.Fatalf("snapshot mutation should not reach the cache, serial is %d", final.Serial)
	}
}

func TestCachePrimedFromStore(t *testing.T) {
	store, err := NewBadgerStore(testDBDir(t))
	if err != nil {
		t.Fatal(err)
	}
	path := store.StorePath()
	defer cleanDBDir(t, path)

	alice, _ := testNode(t, "alice", 1, "127.0.0.1:10000")
	if err := store.SetNode(alice); err != nil {
		t.Fatal(err)
	}

	operatorKey, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	signed, err := SignParameters(&NetworkParameters{MinimumPlatformVersion: 4}, operatorKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetParameters(signed); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadBadgerStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()

	cache, err := NewCache(reloaded, 0, cm.NewTestEntry(t))
	if err != nil {
		t.Fatal(err)
	}

	if !cache.LoadedFromStore() {
		t.Fatal("cache should report it was primed from the store")
	}
	if cache.Parameters() == nil || cache.Parameters().Hex() != signed.Hex() {
		t.Fatal("pinned parameters should be primed from the store")
	}

	snapshot, sub := cache.Track()
	defer sub.Cancel()
	if len(snapshot) != 1 || !snapshot[0].Equals(alice) {
		t.Fatalf("snapshot should be primed with [%v], got %v", alice, snapshot)
	}
}
