package netmap

import (
	"crypto/ecdsa"
	"errors"

	"github.com/linsihaku/corda/src/crypto"
	"github.com/linsihaku/corda/src/crypto/keys"
)

// NodeInfoOp tags a signed directory record with the operation it carries.
type NodeInfoOp string

const (
	// OpAdd adds or replaces a directory record.
	OpAdd NodeInfoOp = "add"
	// OpRemove removes a directory record.
	OpRemove NodeInfoOp = "remove"
)

// ErrInvalidSignature is returned when a signed payload does not verify
// against the expected key.
var ErrInvalidSignature = errors.New("invalid signature")

// SignedNodeInfo is a NodeInfo plus an operation tag, wrapped in a signature
// by the node's main identity key. Raw holds the canonical encoding of the
// inner NodeInfo so that the signed bytes are exactly the bytes checked.
type SignedNodeInfo struct {
	Op        NodeInfoOp
	Raw       []byte
	Signature string
}

// SignNodeInfo wraps a NodeInfo in a SignedNodeInfo, signing the operation tag
// and the canonical record bytes with the given key. The key is expected to be
// the node's main identity key; Verify checks against it.
func SignNodeInfo(info *NodeInfo, op NodeInfoOp, priv *ecdsa.PrivateKey) (*SignedNodeInfo, error) {
	raw, err := info.Marshal()
	if err != nil {
		return nil, err
	}

	r, s, err := keys.Sign(priv, signedNodeInfoDigest(op, raw))
	if err != nil {
		return nil, err
	}

	return &SignedNodeInfo{
		Op:        op,
		Raw:       raw,
		Signature: keys.EncodeSignature(r, s),
	}, nil
}

// Verify checks the signature against the record's own main identity key and
// returns the inner NodeInfo. Any failure to decode or verify yields
// ErrInvalidSignature; the caller never gets an unverified record.
func (s *SignedNodeInfo) Verify() (*NodeInfo, error) {
	info := new(NodeInfo)
	if err := info.Unmarshal(s.Raw); err != nil {
		return nil, ErrInvalidSignature
	}

	pub := info.MainIdentity().Party.PublicKey()
	if pub == nil {
		return nil, ErrInvalidSignature
	}

	r, sv, err := keys.DecodeSignature(s.Signature)
	if err != nil {
		return nil, ErrInvalidSignature
	}

	if !keys.Verify(pub, signedNodeInfoDigest(s.Op, s.Raw), r, sv) {
		return nil, ErrInvalidSignature
	}

	return info, nil
}

func signedNodeInfoDigest(op NodeInfoOp, raw []byte) []byte {
	payload := make([]byte, 0, len(op)+len(raw))
	payload = append(payload, op...)
	payload = append(payload, raw...)
	return crypto.SHA256(payload)
}
