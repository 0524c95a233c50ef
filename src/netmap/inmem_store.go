package netmap

import (
	"sync"

	cm "github.com/linsihaku/corda/src/common"
)

// InmemStore implements the Store interface with in-memory maps. It is used
// when persistence is disabled, and in tests. Records are copied at the store
// boundary, both on write and on read, so callers never share pointers with
// the store's state.
type InmemStore struct {
	sync.RWMutex

	nodes   map[string]*NodeInfo           // main identity key => record
	byName  map[string]map[string]struct{} // legal name => set of main keys
	byAddr  map[string]map[string]struct{} // host:port => set of main keys
	byParty map[string]map[string]struct{} // any identity key => set of main keys

	params     *SignedNetworkParameters
	mapVersion uint64
}

// NewInmemStore creates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		nodes:   make(map[string]*NodeInfo),
		byName:  make(map[string]map[string]struct{}),
		byAddr:  make(map[string]map[string]struct{}),
		byParty: make(map[string]map[string]struct{}),
	}
}

// GetNode implements the Store interface.
func (s *InmemStore) GetNode(pubKeyHex string) (*NodeInfo, error) {
	s.RLock()
	defer s.RUnlock()

	node, ok := s.nodes[pubKeyHex]
	if !ok {
		return nil, cm.NewStoreErr("NodeInfo", cm.KeyNotFound, pubKeyHex)
	}
	return node.Copy(), nil
}

// SetNode implements the Store interface.
func (s *InmemStore) SetNode(info *NodeInfo) error {
	s.Lock()
	defer s.Unlock()

	key := info.MainIdentity().Party.PubKeyHex

	// Addresses are unique across identities; reject eagerly at write time.
	for _, addr := range info.Addresses {
		for owner := range s.byAddr[addr.String()] {
			if owner != key {
				return cm.NewStoreErr("NodeInfo", cm.DuplicateAddress, addr.String())
			}
		}
	}

	if old, ok := s.nodes[key]; ok {
		s.unindex(key, old)
	}

	stored := info.Copy()
	s.nodes[key] = stored
	s.index(key, stored)

	return nil
}

// DeleteNode implements the Store interface.
func (s *InmemStore) DeleteNode(pubKeyHex string) error {
	s.Lock()
	defer s.Unlock()

	old, ok := s.nodes[pubKeyHex]
	if !ok {
		return cm.NewStoreErr("NodeInfo", cm.KeyNotFound, pubKeyHex)
	}

	s.unindex(pubKeyHex, old)
	delete(s.nodes, pubKeyHex)

	return nil
}

// NodesByName implements the Store interface.
func (s *InmemStore) NodesByName(name string) ([]*NodeInfo, error) {
	s.RLock()
	defer s.RUnlock()

	res := []*NodeInfo{}
	for key := range s.byName[name] {
		if node, ok := s.nodes[key]; ok {
			res = append(res, node.Copy())
		}
	}
	return res, nil
}

// NodeByAddress implements the Store interface.
func (s *InmemStore) NodeByAddress(addr Address) (*NodeInfo, error) {
	s.RLock()
	defer s.RUnlock()

	owners := s.byAddr[addr.String()]
	if len(owners) == 0 {
		return nil, cm.NewStoreErr("NodeInfo", cm.KeyNotFound, addr.String())
	}
	if len(owners) > 1 {
		return nil, cm.NewStoreErr("NodeInfo", cm.DuplicateAddress, addr.String())
	}

	for key := range owners {
		return s.nodes[key].Copy(), nil
	}
	return nil, cm.NewStoreErr("NodeInfo", cm.KeyNotFound, addr.String())
}

// NodesByParty implements the Store interface.
func (s *InmemStore) NodesByParty(pubKeyHex string) ([]*NodeInfo, error) {
	s.RLock()
	defer s.RUnlock()

	res := []*NodeInfo{}
	for key := range s.byParty[pubKeyHex] {
		if node, ok := s.nodes[key]; ok {
			res = append(res, node.Copy())
		}
	}
	return res, nil
}

// AllNodes implements the Store interface.
func (s *InmemStore) AllNodes() ([]*NodeInfo, error) {
	s.RLock()
	defer s.RUnlock()

	res := []*NodeInfo{}
	for _, node := range s.nodes {
		res = append(res, node.Copy())
	}
	return res, nil
}

// Parameters implements the Store interface.
func (s *InmemStore) Parameters() (*SignedNetworkParameters, error) {
	s.RLock()
	defer s.RUnlock()

	if s.params == nil {
		return nil, cm.NewStoreErr("NetworkParameters", cm.NoParameters, "")
	}
	return s.params, nil
}

// SetParameters implements the Store interface.
func (s *InmemStore) SetParameters(params *SignedNetworkParameters) error {
	s.Lock()
	defer s.Unlock()

	s.params = params
	return nil
}

// MapVersion implements the Store interface.
func (s *InmemStore) MapVersion() (uint64, error) {
	s.RLock()
	defer s.RUnlock()
	return s.mapVersion, nil
}

// SetMapVersion implements the Store interface.
func (s *InmemStore) SetMapVersion(version uint64) error {
	s.Lock()
	defer s.Unlock()
	s.mapVersion = version
	return nil
}

// Clear implements the Store interface.
func (s *InmemStore) Clear() error {
	s.Lock()
	defer s.Unlock()

	s.nodes = make(map[string]*NodeInfo)
	s.byName = make(map[string]map[string]struct{})
	s.byAddr = make(map[string]map[string]struct{})
	s.byParty = make(map[string]map[string]struct{})

	return nil
}

// NeedBootstrap implements the Store interface. An in-memory store never has
// prior state.
func (s *InmemStore) NeedBootstrap() bool {
	return false
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

func (s *InmemStore) index(key string, info *NodeInfo) {
	name := info.MainIdentity().Party.Name
	if s.byName[name] == nil {
		s.byName[name] = make(map[string]struct{})
	}
	s.byName[name][key] = struct{}{}

	for _, addr := range info.Addresses {
		if s.byAddr[addr.String()] == nil {
			s.byAddr[addr.String()] = make(map[string]struct{})
		}
		s.byAddr[addr.String()][key] = struct{}{}
	}

	for _, id := range info.Identities {
		if s.byParty[id.Party.PubKeyHex] == nil {
			s.byParty[id.Party.PubKeyHex] = make(map[string]struct{})
		}
		s.byParty[id.Party.PubKeyHex][key] = struct{}{}
	}
}

func (s *InmemStore) unindex(key string, info *NodeInfo) {
	name := info.MainIdentity().Party.Name
	if set, ok := s.byName[name]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(s.byName, name)
		}
	}

	for _, addr := range info.Addresses {
		if set, ok := s.byAddr[addr.String()]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.byAddr, addr.String())
			}
		}
	}

	for _, id := range info.Identities {
		if set, ok := s.byParty[id.Party.PubKeyHex]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.byParty, id.Party.PubKeyHex)
			}
		}
	}
}
