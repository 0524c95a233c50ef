package netmap

// Store is the transactional persistence layer for directory records. The
// Cache is the write-through authority: it serializes mutations and calls
// SetNode/DeleteNode inside its mutation lock, while point queries go
// straight to the store in their own short transaction.
//
// A store keyed by the main identity's public key holds at most one record
// per identity; SetNode overwrites in place, preserving the row identity, and
// maintains the legal-name, address, and identity-membership indexes
// atomically with the record write.
type Store interface {
	// GetNode returns the record owned by the given main identity key, or a
	// KeyNotFound StoreErr.
	GetNode(pubKeyHex string) (*NodeInfo, error)

	// SetNode inserts or overwrites the record for its main identity key,
	// updating all indexes in the same transaction. It returns a
	// DuplicateAddress StoreErr if one of the record's addresses is already
	// bound to a different identity.
	SetNode(info *NodeInfo) error

	// DeleteNode removes the record and its index rows.
	DeleteNode(pubKeyHex string) error

	// NodesByName returns all records whose main identity carries the exact
	// legal name.
	NodesByName(name string) ([]*NodeInfo, error)

	// NodeByAddress returns the single record bound to the address, a
	// KeyNotFound StoreErr if there is none, or a DuplicateAddress StoreErr
	// if more than one record matches.
	NodeByAddress(addr Address) (*NodeInfo, error)

	// NodesByParty returns all records whose identity set contains the key,
	// main or not.
	NodesByParty(pubKeyHex string) ([]*NodeInfo, error)

	// AllNodes enumerates every record.
	AllNodes() ([]*NodeInfo, error)

	// Parameters returns the pinned network parameters, or a NoParameters
	// StoreErr.
	Parameters() (*SignedNetworkParameters, error)

	// SetParameters pins the network parameters.
	SetParameters(params *SignedNetworkParameters) error

	// MapVersion returns the latest directory version acknowledged from the
	// map service; zero when never synced.
	MapVersion() (uint64, error)

	// SetMapVersion records the latest acknowledged directory version.
	SetMapVersion(version uint64) error

	// Clear removes every record and index row. Parameters and map version
	// survive a clear.
	Clear() error

	// NeedBootstrap reports whether the store was loaded from an existing
	// database, in which case the cache primes itself from it.
	NeedBootstrap() bool

	// Close releases the underlying resources.
	Close() error
}
