package netmap

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
	cm "github.com/linsihaku/corda/src/common"
)

const (
	nodePrefix    = "nodeinfo"
	namePrefix    = "name"
	addrPrefix    = "addr"
	partyPrefix   = "party"
	paramsKey     = "params"
	mapVersionKey = "mapversion"

	// sep joins the components of index keys. Legal names and addresses never
	// contain a NUL byte, so composite keys cannot collide across rows.
	sep = "\x00"
)

// BadgerStore implements the Store interface on top of a Badger database.
// Each NodeInfo maps to one row-set: the record row keyed by the main
// identity key, plus index rows for legal name, each address, and each
// identity in the record. Record and index rows are written in a single
// transaction, so index lookups always reflect committed records.
type BadgerStore struct {
	db            *badger.DB
	path          string
	needBootstrap bool
}

// NewBadgerStore creates a brand new store with a new database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = false
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{
		db:   handle,
		path: path,
	}, nil
}

// LoadBadgerStore opens a store from an existing database.
func LoadBadgerStore(path string) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = false
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{
		db:            handle,
		path:          path,
		needBootstrap: true,
	}, nil
}

// LoadOrCreateBadgerStore tries to load an existing database and falls back
// to creating a new one.
func LoadOrCreateBadgerStore(path string) (*BadgerStore, error) {
	store, err := LoadBadgerStore(path)
	if err != nil {
		store, err = NewBadgerStore(path)
		if err != nil {
			return nil, err
		}
	}
	return store, nil
}

//==============================================================================
//Keys

func nodeKey(pubKeyHex string) []byte {
	return []byte(fmt.Sprintf("%s%s%s", nodePrefix, sep, pubKeyHex))
}

func nameKey(name, pubKeyHex string) []byte {
	return []byte(fmt.Sprintf("%s%s%s%s%s", namePrefix, sep, name, sep, pubKeyHex))
}

func nameIndexPrefix(name string) []byte {
	return []byte(fmt.Sprintf("%s%s%s%s", namePrefix, sep, name, sep))
}

func addrKey(addr, pubKeyHex string) []byte {
	return []byte(fmt.Sprintf("%s%s%s%s%s", addrPrefix, sep, addr, sep, pubKeyHex))
}

func addrIndexPrefix(addr string) []byte {
	return []byte(fmt.Sprintf("%s%s%s%s", addrPrefix, sep, addr, sep))
}

func partyKey(partyPubKeyHex, mainPubKeyHex string) []byte {
	return []byte(fmt.Sprintf("%s%s%s%s%s", partyPrefix, sep, partyPubKeyHex, sep, mainPubKeyHex))
}

func partyIndexPrefix(partyPubKeyHex string) []byte {
	return []byte(fmt.Sprintf("%s%s%s%s", partyPrefix, sep, partyPubKeyHex, sep))
}

//==============================================================================
//Implement the Store interface

// GetNode implements the Store interface.
func (s *BadgerStore) GetNode(pubKeyHex string) (*NodeInfo, error) {
	var info *NodeInfo
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		info, err = txnGetNode(txn, pubKeyHex)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// SetNode implements the Store interface. The record row and all its index
// rows are written in one transaction; an existing row-set for the same
// identity is overwritten in place so relational links survive the update.
func (s *BadgerStore) SetNode(info *NodeInfo) error {
	key := info.MainIdentity().Party.PubKeyHex

	return s.db.Update(func(txn *badger.Txn) error {
		// Addresses are unique across identities; reject eagerly.
		for _, addr := range info.Addresses {
			owners, err := txnAddrOwners(txn, addr.String())
			if err != nil {
				return err
			}
			for _, owner := range owners {
				if owner != key {
					return cm.NewStoreErr("NodeInfo", cm.DuplicateAddress, addr.String())
				}
			}
		}

		// Drop the previous index rows before writing the new ones.
		if old, err := txnGetNode(txn, key); err == nil {
			if err := txnUnindexNode(txn, key, old); err != nil {
				return err
			}
		} else if !cm.IsStore(err, cm.KeyNotFound) {
			return err
		}

		raw, err := info.Marshal()
		if err != nil {
			return err
		}
		if err := txn.Set(nodeKey(key), raw); err != nil {
			return err
		}

		return txnIndexNode(txn, key, info)
	})
}

// DeleteNode implements the Store interface.
func (s *BadgerStore) DeleteNode(pubKeyHex string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		old, err := txnGetNode(txn, pubKeyHex)
		if err != nil {
			return err
		}
		if err := txnUnindexNode(txn, pubKeyHex, old); err != nil {
			return err
		}
		return txn.Delete(nodeKey(pubKeyHex))
	})
}

// NodesByName implements the Store interface.
func (s *BadgerStore) NodesByName(name string) ([]*NodeInfo, error) {
	res := []*NodeInfo{}
	err := s.db.View(func(txn *badger.Txn) error {
		keys, err := txnIndexValues(txn, nameIndexPrefix(name))
		if err != nil {
			return err
		}
		for _, key := range keys {
			info, err := txnGetNode(txn, key)
			if err != nil {
				return err
			}
			res = append(res, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// NodeByAddress implements the Store interface.
func (s *BadgerStore) NodeByAddress(addr Address) (*NodeInfo, error) {
	var info *NodeInfo
	err := s.db.View(func(txn *badger.Txn) error {
		owners, err := txnAddrOwners(txn, addr.String())
		if err != nil {
			return err
		}
		if len(owners) == 0 {
			return cm.NewStoreErr("NodeInfo", cm.KeyNotFound, addr.String())
		}
		if len(owners) > 1 {
			return cm.NewStoreErr("NodeInfo", cm.DuplicateAddress, addr.String())
		}
		info, err = txnGetNode(txn, owners[0])
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// NodesByParty implements the Store interface.
func (s *BadgerStore) NodesByParty(pubKeyHex string) ([]*NodeInfo, error) {
	res := []*NodeInfo{}
	err := s.db.View(func(txn *badger.Txn) error {
		keys, err := txnIndexValues(txn, partyIndexPrefix(pubKeyHex))
		if err != nil {
			return err
		}
		for _, key := range keys {
			info, err := txnGetNode(txn, key)
			if err != nil {
				return err
			}
			res = append(res, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AllNodes implements the Store interface.
func (s *BadgerStore) AllNodes() ([]*NodeInfo, error) {
	res := []*NodeInfo{}
	prefix := []byte(nodePrefix + sep)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			info := new(NodeInfo)
			if err := info.Unmarshal(raw); err != nil {
				return err
			}
			res = append(res, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Parameters implements the Store interface.
func (s *BadgerStore) Parameters() (*SignedNetworkParameters, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(paramsKey))
		if err != nil {
			if isDBKeyNotFound(err) {
				return cm.NewStoreErr("NetworkParameters", cm.NoParameters, paramsKey)
			}
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	params := new(SignedNetworkParameters)
	if err := json.Unmarshal(raw, params); err != nil {
		return nil, err
	}
	return params, nil
}

// SetParameters implements the Store interface.
func (s *BadgerStore) SetParameters(params *SignedNetworkParameters) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(paramsKey), raw)
	})
}

// MapVersion implements the Store interface.
func (s *BadgerStore) MapVersion() (uint64, error) {
	var version uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(mapVersionKey))
		if err != nil {
			if isDBKeyNotFound(err) {
				return nil
			}
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		version = binary.BigEndian.Uint64(raw)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// SetMapVersion implements the Store interface.
func (s *BadgerStore) SetMapVersion(version uint64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, version)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(mapVersionKey), raw)
	})
}

// Clear implements the Store interface. Record and index rows are removed;
// pinned parameters and the map version survive.
func (s *BadgerStore) Clear() error {
	prefixes := [][]byte{
		[]byte(nodePrefix + sep),
		[]byte(namePrefix + sep),
		[]byte(addrPrefix + sep),
		[]byte(partyPrefix + sep),
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range prefixes {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)

			toDelete := [][]byte{}
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				toDelete = append(toDelete, it.Item().KeyCopy(nil))
			}
			it.Close()

			for _, key := range toDelete {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// NeedBootstrap implements the Store interface.
func (s *BadgerStore) NeedBootstrap() bool {
	return s.needBootstrap
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath returns the location of the database directory.
func (s *BadgerStore) StorePath() string {
	return s.path
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
//DB Methods

func txnGetNode(txn *badger.Txn, pubKeyHex string) (*NodeInfo, error) {
	item, err := txn.Get(nodeKey(pubKeyHex))
	if err != nil {
		if isDBKeyNotFound(err) {
			return nil, cm.NewStoreErr("NodeInfo", cm.KeyNotFound, pubKeyHex)
		}
		return nil, err
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	info := new(NodeInfo)
	if err := info.Unmarshal(raw); err != nil {
		return nil, err
	}
	return info, nil
}

func txnIndexNode(txn *badger.Txn, key string, info *NodeInfo) error {
	name := info.MainIdentity().Party.Name
	if err := txn.Set(nameKey(name, key), []byte(key)); err != nil {
		return err
	}

	for _, addr := range info.Addresses {
		if err := txn.Set(addrKey(addr.String(), key), []byte(key)); err != nil {
			return err
		}
	}

	for i, id := range info.Identities {
		// one row per identity; the main flag marks exactly the first one
		flag := []byte{0}
		if i == 0 {
			flag = []byte{1}
		}
		if err := txn.Set(partyKey(id.Party.PubKeyHex, key), flag); err != nil {
			return err
		}
	}

	return nil
}

func txnUnindexNode(txn *badger.Txn, key string, info *NodeInfo) error {
	name := info.MainIdentity().Party.Name
	if err := txn.Delete(nameKey(name, key)); err != nil {
		return err
	}

	for _, addr := range info.Addresses {
		if err := txn.Delete(addrKey(addr.String(), key)); err != nil {
			return err
		}
	}

	for _, id := range info.Identities {
		if err := txn.Delete(partyKey(id.Party.PubKeyHex, key)); err != nil {
			return err
		}
	}

	return nil
}

// txnIndexValues collects the values of every index row under a prefix. For
// the party index the value is the main key and the row payload flag is
// ignored here.
func txnIndexValues(txn *badger.Txn, prefix []byte) ([]string, error) {
	res := []string{}
	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		res = append(res, string(key[len(prefix):]))
	}
	return res, nil
}

func txnAddrOwners(txn *badger.Txn, addr string) ([]string, error) {
	return txnIndexValues(txn, addrIndexPrefix(addr))
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}
