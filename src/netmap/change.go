package netmap

// MapChangeType tags a change published on the change feed.
type MapChangeType uint8

const (
	// Added means a record appeared for a previously unknown identity.
	Added MapChangeType = iota
	// Modified means a record replaced a previous one for the same identity.
	Modified
	// Removed means a record was deleted.
	Removed
)

// String ...
func (t MapChangeType) String() string {
	switch t {
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// MapChange is the unit published on the change feed. Previous is only set
// for Modified changes and holds the prior committed record.
type MapChange struct {
	Type     MapChangeType
	Node     *NodeInfo
	Previous *NodeInfo
}

// PartyLocation describes how a legal identity maps to physical nodes.
type PartyLocation uint8

const (
	// SingleNode means the identity resolves to exactly one physical node.
	SingleNode PartyLocation = iota
	// DistributedNode means the identity is shared by a cluster of nodes
	// acting under one identity, such as a notary cluster.
	DistributedNode
)

// String ...
func (l PartyLocation) String() string {
	switch l {
	case SingleNode:
		return "SingleNode"
	case DistributedNode:
		return "DistributedNode"
	default:
		return "Unknown"
	}
}

// PartyInfo is the answer to "where does this party live". For a SingleNode
// location, Addresses holds the owning record's addresses; for a
// DistributedNode location the address list is empty because no single
// endpoint owns the identity.
type PartyInfo struct {
	Party     Party
	Location  PartyLocation
	Addresses []Address
}
