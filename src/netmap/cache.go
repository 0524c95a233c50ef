package netmap

import (
	"fmt"
	"sort"
	"sync"

	cm "github.com/linsihaku/corda/src/common"
	"github.com/sirupsen/logrus"
)

// NetworkMap is the capability set exposed by the directory cache. The
// identity-verifying decorator wraps this interface, so everything downstream
// of the sync protocol talks to it rather than to a concrete cache.
type NetworkMap interface {
	// AddNode applies an add/replace for the record's main identity. Records
	// whose serial does not supersede the stored one are discarded silently.
	AddNode(info *NodeInfo) error

	// RemoveNode deletes the record for the record's main identity.
	RemoveNode(info *NodeInfo) error

	// GetNodeByPubKey returns the record owned by the main identity key.
	GetNodeByPubKey(pubKeyHex string) (*NodeInfo, error)

	// GetNodesByLegalName returns the records whose main identity carries the
	// exact legal name.
	GetNodesByLegalName(name string) ([]*NodeInfo, error)

	// GetNodeByAddress returns the single record bound to the address. More
	// than one match is a fatal consistency violation.
	GetNodeByAddress(addr Address) (*NodeInfo, error)

	// GetPartyInfo resolves a party to the node or cluster that acts for it.
	GetPartyInfo(party Party) (*PartyInfo, error)

	// Track atomically returns the current snapshot and a subscription to
	// subsequent changes: no change is missed or duplicated between the two.
	Track() ([]*NodeInfo, *Subscription)

	// AllNodes enumerates every record.
	AllNodes() ([]*NodeInfo, error)

	// Clear removes all records without serial checks, publishing a Removed
	// change for each.
	Clear() error

	// NotaryIdentities returns the notary set of the pinned parameters.
	NotaryIdentities() []Party

	// ValidatingNotaryIdentities returns the validating notary subset.
	ValidatingNotaryIdentities() []Party

	// Parameters returns the pinned signed parameters, or nil before pinning.
	Parameters() *SignedNetworkParameters

	// PinParameters pins signed parameters, or verifies that already-pinned
	// parameters carry the same hash. A hash mismatch is fatal.
	PinParameters(signed *SignedNetworkParameters) error

	// MapVersion returns the latest directory version acknowledged from the
	// map service.
	MapVersion() (uint64, error)

	// SetMapVersion records the latest acknowledged directory version.
	SetMapVersion(version uint64) error

	// LoadedFromStore reports whether the cache was primed from an existing
	// durable store at startup.
	LoadedFromStore() bool
}

// Cache is the in-memory authoritative view of the directory, backed
// write-through by a Store. All mutation is serialized through one mutation
// lock; point queries bypass the lock and are served by the store's own
// transactions, so reads are transaction-commit-consistent rather than
// lock-consistent. Changes are published on the feed only after the store
// write has committed.
type Cache struct {
	mutationLock sync.Mutex
	nodes        map[string]*NodeInfo // main identity key => record

	paramsLock sync.RWMutex
	signed     *SignedNetworkParameters
	params     *NetworkParameters

	store  Store
	feed   *ChangeFeed
	logger *logrus.Entry

	loadedFromStore bool
}

// NewCache creates a Cache over a store. If the store was loaded from an
// existing database, the cache primes its in-memory map and pinned
// parameters from it.
func NewCache(store Store, feedBuffer int, logger *logrus.Entry) (*Cache, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	c := &Cache{
		nodes:  make(map[string]*NodeInfo),
		store:  store,
		feed:   NewChangeFeed(feedBuffer),
		logger: logger,
	}

	if store.NeedBootstrap() {
		nodes, err := store.AllNodes()
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			c.nodes[n.MainIdentity().Party.PubKeyHex] = n
		}

		signed, err := store.Parameters()
		if err == nil {
			params, perr := parseParameters(signed)
			if perr != nil {
				return nil, perr
			}
			c.signed = signed
			c.params = params
		} else if !cm.IsStore(err, cm.NoParameters) {
			return nil, err
		}

		c.loadedFromStore = true

		logger.WithFields(logrus.Fields{
			"nodes":      len(nodes),
			"parameters": c.signed != nil,
		}).Debug("Primed directory cache from durable store")
	}

	return c, nil
}

// Feed returns the change feed. It is exposed so decorators can react to
// changes; regular consumers should use Track.
func (c *Cache) Feed() *ChangeFeed {
	return c.feed
}

// AddNode implements the NetworkMap interface. The record is written through
// to the store inside one transaction and the corresponding change is
// published only after that transaction commits. A record whose serial is not
// strictly greater than the stored one is discarded without effect.
func (c *Cache) AddNode(info *NodeInfo) error {
	key := info.MainIdentity().Party.PubKeyHex
	if key == "" {
		return fmt.Errorf("node record carries no main identity")
	}

	// Detach from the caller's pointer; the cache owns what it stores.
	info = info.Copy()

	c.mutationLock.Lock()
	defer c.mutationLock.Unlock()

	existing := c.nodes[key]
	if existing != nil && existing.Serial >= info.Serial {
		// The serial is part of the signed bytes, so a byte-equal replay also
		// lands here. Not an error.
		c.logger.WithFields(logrus.Fields{
			"name":   info.MainIdentity().Party.Name,
			"serial": info.Serial,
			"stored": existing.Serial,
		}).Info("Discarding stale node record")
		return nil
	}

	if err := c.store.SetNode(info); err != nil {
		return err
	}

	c.nodes[key] = info

	if existing == nil {
		c.feed.Publish(MapChange{Type: Added, Node: info})
	} else {
		c.feed.Publish(MapChange{Type: Modified, Node: info, Previous: existing})
	}

	return nil
}

// RemoveNode implements the NetworkMap interface. Removal is not subject to
// serial checks. Removing an unknown record is a no-op.
func (c *Cache) RemoveNode(info *NodeInfo) error {
	key := info.MainIdentity().Party.PubKeyHex
	if key == "" {
		return fmt.Errorf("node record carries no main identity")
	}

	c.mutationLock.Lock()
	defer c.mutationLock.Unlock()

	existing := c.nodes[key]

	if err := c.store.DeleteNode(key); err != nil {
		if cm.IsStore(err, cm.KeyNotFound) {
			if existing == nil {
				return nil
			}
		} else {
			return err
		}
	}

	delete(c.nodes, key)

	removed := existing
	if removed == nil {
		removed = info
	}
	c.feed.Publish(MapChange{Type: Removed, Node: removed})

	return nil
}

// GetNodeByPubKey implements the NetworkMap interface.
func (c *Cache) GetNodeByPubKey(pubKeyHex string) (*NodeInfo, error) {
	return c.store.GetNode(pubKeyHex)
}

// GetNodesByLegalName implements the NetworkMap interface.
func (c *Cache) GetNodesByLegalName(name string) ([]*NodeInfo, error) {
	return c.store.NodesByName(name)
}

// GetNodeByAddress implements the NetworkMap interface. A DuplicateAddress
// error from the store is surfaced as-is: it means the directory is
// inconsistent and the caller must not guess which record wins.
func (c *Cache) GetNodeByAddress(addr Address) (*NodeInfo, error) {
	info, err := c.store.NodeByAddress(addr)
	if err != nil && cm.IsStore(err, cm.DuplicateAddress) {
		c.logger.WithField("address", addr.String()).Error("More than one node record bound to address")
	}
	return info, err
}

// GetPartyInfo implements the NetworkMap interface.
func (c *Cache) GetPartyInfo(party Party) (*PartyInfo, error) {
	records, err := c.store.NodesByParty(party.PubKeyHex)
	if err != nil {
		return nil, err
	}

	switch len(records) {
	case 0:
		return nil, cm.NewStoreErr("PartyInfo", cm.KeyNotFound, party.PubKeyHex)
	case 1:
		return &PartyInfo{
			Party:     party,
			Location:  SingleNode,
			Addresses: records[0].Addresses,
		}, nil
	default:
		// identity shared by a cluster acting under one identity
		return &PartyInfo{
			Party:    party,
			Location: DistributedNode,
		}, nil
	}
}

// Track implements the NetworkMap interface. Snapshot and subscription are
// produced under the mutation lock, so no change can be both missing from the
// snapshot and missing from the feed, nor present in both.
func (c *Cache) Track() ([]*NodeInfo, *Subscription) {
	c.mutationLock.Lock()
	defer c.mutationLock.Unlock()

	keys := make([]string, 0, len(c.nodes))
	for key := range c.nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	snapshot := make([]*NodeInfo, 0, len(keys))
	for _, key := range keys {
		snapshot = append(snapshot, c.nodes[key].Copy())
	}

	return snapshot, c.feed.Subscribe()
}

// AllNodes implements the NetworkMap interface.
func (c *Cache) AllNodes() ([]*NodeInfo, error) {
	return c.store.AllNodes()
}

// Clear implements the NetworkMap interface. It shares the mutation lock with
// AddNode and RemoveNode, so it never runs concurrently with them. Each
// cleared record is published as a Removed change, so a tracked view converges
// instead of silently diverging.
func (c *Cache) Clear() error {
	c.mutationLock.Lock()
	defer c.mutationLock.Unlock()

	if err := c.store.Clear(); err != nil {
		return err
	}

	removed := c.nodes
	c.nodes = make(map[string]*NodeInfo)

	for _, info := range removed {
		c.feed.Publish(MapChange{Type: Removed, Node: info})
	}

	c.logger.WithField("records", len(removed)).Info("Cleared directory cache")

	return nil
}

// NotaryIdentities implements the NetworkMap interface.
func (c *Cache) NotaryIdentities() []Party {
	c.paramsLock.RLock()
	defer c.paramsLock.RUnlock()

	if c.params == nil {
		return []Party{}
	}
	return c.params.NotaryParties()
}

// ValidatingNotaryIdentities implements the NetworkMap interface.
func (c *Cache) ValidatingNotaryIdentities() []Party {
	c.paramsLock.RLock()
	defer c.paramsLock.RUnlock()

	if c.params == nil {
		return []Party{}
	}
	return c.params.ValidatingNotaryParties()
}

// Parameters implements the NetworkMap interface.
func (c *Cache) Parameters() *SignedNetworkParameters {
	c.paramsLock.RLock()
	defer c.paramsLock.RUnlock()
	return c.signed
}

// PinParameters implements the NetworkMap interface. The first accepted
// parameters are written through to the store and pinned for the lifetime of
// the cache; any later parameters with a different hash yield
// ErrParametersMismatch.
func (c *Cache) PinParameters(signed *SignedNetworkParameters) error {
	c.paramsLock.Lock()
	defer c.paramsLock.Unlock()

	if c.signed != nil {
		if c.signed.Hex() != signed.Hex() {
			return ErrParametersMismatch
		}
		return nil
	}

	params, err := parseParameters(signed)
	if err != nil {
		return err
	}

	if err := c.store.SetParameters(signed); err != nil {
		return err
	}

	c.signed = signed
	c.params = params

	c.logger.WithField("hash", signed.Hex()).Info("Pinned network parameters")

	return nil
}

// MapVersion implements the NetworkMap interface.
func (c *Cache) MapVersion() (uint64, error) {
	return c.store.MapVersion()
}

// SetMapVersion implements the NetworkMap interface.
func (c *Cache) SetMapVersion(version uint64) error {
	return c.store.SetMapVersion(version)
}

// LoadedFromStore implements the NetworkMap interface.
func (c *Cache) LoadedFromStore() bool {
	return c.loadedFromStore
}

func parseParameters(signed *SignedNetworkParameters) (*NetworkParameters, error) {
	params := new(NetworkParameters)
	if err := params.Unmarshal(signed.Raw); err != nil {
		return nil, err
	}
	return params, nil
}
