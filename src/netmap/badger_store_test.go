package netmap

import (
	"io/ioutil"
	"os"
	"testing"

	cm "github.com/linsihaku/corda/src/common"
	"github.com/linsihaku/corda/src/crypto/keys"
)

func testDBDir(t *testing.T) string {
	os.MkdirAll("test_data", os.ModeDir|0777)
	dir, err := ioutil.TempDir("test_data", "badger")
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func cleanDBDir(t *testing.T, path string) {
	if err := os.RemoveAll(path); err != nil {
		t.Fatal(err)
	}
}

func initBadgerStore(t *testing.T) *BadgerStore {
	store, err := NewBadgerStore(testDBDir(t))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func removeBadgerStore(store *BadgerStore, t *testing.T) {
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	cleanDBDir(t, store.StorePath())
}

func TestBadgerStoreNodes(t *testing.T) {
	store := initBadgerStore(t)
	defer removeBadgerStore(store, t)

	alice, _ := testNode(t, "alice", 1, "127.0.0.1:10000")
	key := alice.MainIdentity().Party.PubKeyHex

	if _, err := store.GetNode(key); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("unknown key should yield KeyNotFound, got %v", err)
	}

	if err := store.SetNode(alice); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetNode(key)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equals(alice) {
		t.Fatalf("GetNode should return %v, not %v", alice, got)
	}

	byName, err := store.NodesByName("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(byName) != 1 || !byName[0].Equals(alice) {
		t.Fatalf("NodesByName should return [%v], not %v", alice, byName)
	}

	byAddr, err := store.NodeByAddress(alice.Addresses[0])
	if err != nil {
		t.Fatal(err)
	}
	if !byAddr.Equals(alice) {
		t.Fatalf("NodeByAddress should return %v, not %v", alice, byAddr)
	}

	byParty, err := store.NodesByParty(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(byParty) != 1 || !byParty[0].Equals(alice) {
		t.Fatalf("NodesByParty should return [%v], not %v", alice, byParty)
	}

	if err := store.DeleteNode(key); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetNode(key); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("deleted record should yield KeyNotFound, got %v", err)
	}
	if _, err := store.NodeByAddress(alice.Addresses[0]); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("address of a deleted record should be unbound, got %v", err)
	}
}

func TestBadgerStoreReindexOnUpdate(t *testing.T) {
	store := initBadgerStore(t)
	defer removeBadgerStore(store, t)

	alice, aliceKey := testNode(t, "alice", 1, "127.0.0.1:10000")
	if err := store.SetNode(alice); err != nil {
		t.Fatal(err)
	}

	// Replacing the record drops the old index rows and writes new ones.
	moved := nodeWithKey(t, aliceKey, "alice", 2, "127.0.0.1:20000")
	if err := store.SetNode(moved); err != nil {
		t.Fatal(err)
	}

	if _, err := store.NodeByAddress(alice.Addresses[0]); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("old address should be unbound after update, got %v", err)
	}

	byAddr, err := store.NodeByAddress(moved.Addresses[0])
	if err != nil {
		t.Fatal(err)
	}
	if !byAddr.Equals(moved) {
		t.Fatalf("new address should resolve to %v, not %v", moved, byAddr)
	}
}

func TestBadgerStoreDuplicateAddress(t *testing.T) {
	store := initBadgerStore(t)
	defer removeBadgerStore(store, t)

	alice, _ := testNode(t, "alice", 1, "127.0.0.1:10000")
	if err := store.SetNode(alice); err != nil {
		t.Fatal(err)
	}

	bob, _ := testNode(t, "bob", 1, "127.0.0.1:10000")
	if err := store.SetNode(bob); !cm.IsStore(err, cm.DuplicateAddress) {
		t.Fatalf("second record on the same address should be rejected, got %v", err)
	}

	// The rejected transaction must leave no trace of bob.
	if _, err := store.GetNode(bob.MainIdentity().Party.PubKeyHex); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("rejected record should not be stored, got %v", err)
	}
}

func TestLoadBadgerStore(t *testing.T) {
	store := initBadgerStore(t)
	path := store.StorePath()
	defer cleanDBDir(t, path)

	if store.NeedBootstrap() {
		t.Fatal("a brand new store should not need bootstrap")
	}

	alice, _ := testNode(t, "alice", 1, "127.0.0.1:10000")
	bob, _ := testNode(t, "bob", 1, "127.0.0.1:20000")
	for _, node := range []*NodeInfo{alice, bob} {
		if err := store.SetNode(node); err != nil {
			t.Fatal(err)
		}
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
	if err := store.SetMapVersion(42); err != nil {
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

	if !reloaded.NeedBootstrap() {
		t.Fatal("a loaded store should need bootstrap")
	}

	nodes, err := reloaded.AllNodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("reloaded store should hold 2 records, not %d", len(nodes))
	}

	params, err := reloaded.Parameters()
	if err != nil {
		t.Fatal(err)
	}
	if params.Hex() != signed.Hex() {
		t.Fatal("reloaded parameters should match the stored ones")
	}

	version, err := reloaded.MapVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 42 {
		t.Fatalf("reloaded map version should be 42, not %d", version)
	}
}

func TestBadgerStoreClearPreservesParameters(t *testing.T) {
	store := initBadgerStore(t)
	defer removeBadgerStore(store, t)

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
	if err := store.SetMapVersion(7); err != nil {
		t.Fatal(err)
	}

	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}

	nodes, err := store.AllNodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 0 {
		t.Fatalf("store should be empty after Clear, got %d records", len(nodes))
	}
	if _, err := store.NodeByAddress(alice.Addresses[0]); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("index rows should be gone after Clear, got %v", err)
	}

	params, err := store.Parameters()
	if err != nil {
		t.Fatal(err)
	}
	if params.Hex() != signed.Hex() {
		t.Fatal("parameters should survive Clear")
	}
	version, err := store.MapVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 7 {
		t.Fatalf("map version should survive Clear, got %d", version)
	}
}

func TestBadgerStoreNoParameters(t *testing.T) {
	store := initBadgerStore(t)
	defer removeBadgerStore(store, t)

	if _, err := store.Parameters(); !cm.IsStore(err, cm.NoParameters) {
		t.Fatalf("unpinned parameters should yield NoParameters, got %v", err)
	}

	version, err := store.MapVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Fatalf("unset map version should be 0, not %d", version)
	}
}
