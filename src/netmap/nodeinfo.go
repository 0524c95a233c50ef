package netmap

import (
	"bytes"
	"fmt"

	"github.com/linsihaku/corda/src/common"
	"github.com/linsihaku/corda/src/crypto"
	"github.com/ugorji/go/codec"
)

// NodeInfo is the directory entry for one node: the addresses it listens on,
// the legal identities it acts for (the first one is the main identity that
// owns the entry), the platform version it runs, and a per-identity monotonic
// serial. A higher serial always supersedes a lower one; the serial is a
// logical version, not a wall-clock timestamp.
type NodeInfo struct {
	Addresses       []Address
	Identities      []PartyAndCertificate
	PlatformVersion int
	Serial          uint64
}

// MainIdentity returns the identity that owns this entry. There is at most
// one NodeInfo per main identity key in the directory.
func (n *NodeInfo) MainIdentity() PartyAndCertificate {
	if len(n.Identities) == 0 {
		return PartyAndCertificate{}
	}
	return n.Identities[0]
}

// Copy returns a deep copy of the NodeInfo. Stores and snapshots hand out
// copies so a mutating caller cannot corrupt cached state. Nil and empty
// slices are preserved as-is to keep the canonical encoding stable.
func (n *NodeInfo) Copy() *NodeInfo {
	var addresses []Address
	if n.Addresses != nil {
		addresses = make([]Address, len(n.Addresses))
		copy(addresses, n.Addresses)
	}

	var identities []PartyAndCertificate
	if n.Identities != nil {
		identities = make([]PartyAndCertificate, len(n.Identities))
		for i, id := range n.Identities {
			identities[i] = PartyAndCertificate{Party: id.Party}
			if id.Certificate != nil {
				identities[i].Certificate = make([]byte, len(id.Certificate))
				copy(identities[i].Certificate, id.Certificate)
			}
		}
	}

	return &NodeInfo{
		Addresses:       addresses,
		Identities:      identities,
		PlatformVersion: n.PlatformVersion,
		Serial:          n.Serial,
	}
}

// Owns reports whether the node's identity set contains the given key.
func (n *NodeInfo) Owns(pubKeyHex string) bool {
	for _, id := range n.Identities {
		if id.Party.PubKeyHex == pubKeyHex {
			return true
		}
	}
	return false
}

// Marshal returns the canonical JSON encoding of the NodeInfo. Canonical
// encoding makes the bytes a stable input for hashing and signing.
func (n *NodeInfo) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(n); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal parses a NodeInfo from its canonical JSON encoding.
func (n *NodeInfo) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(n)
}

// Hash returns the SHA256 of the canonical encoding.
func (n *NodeInfo) Hash() ([]byte, error) {
	hashBytes, err := n.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(hashBytes), nil
}

// Hex returns the hexadecimal string of Hash.
func (n *NodeInfo) Hex() (string, error) {
	hash, err := n.Hash()
	if err != nil {
		return "", err
	}
	return common.EncodeToString(hash), nil
}

// Equals reports whether two NodeInfos have identical canonical encodings.
func (n *NodeInfo) Equals(other *NodeInfo) bool {
	if other == nil {
		return false
	}
	a, err := n.Marshal()
	if err != nil {
		return false
	}
	b, err := other.Marshal()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// String identifies the record by main identity and serial in log output.
func (n *NodeInfo) String() string {
	main := n.MainIdentity().Party
	return fmt.Sprintf("NodeInfo{%s, serial=%d, addrs=%d}", main.Name, n.Serial, len(n.Addresses))
}
