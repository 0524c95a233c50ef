package netmap

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/linsihaku/corda/src/common"
	"github.com/linsihaku/corda/src/crypto"
	"github.com/linsihaku/corda/src/crypto/keys"
	"github.com/ugorji/go/codec"
)

// ErrParametersMismatch is returned when network parameters observed after
// pinning carry a different hash than the pinned ones. Parameters are agreed
// out-of-band; a mismatch means the node and the map service disagree about
// which network this is, which is fatal, never silently resolved.
var ErrParametersMismatch = errors.New("network parameters hash does not match pinned parameters")

// MinPlatformVersionError is returned when the locally configured minimum
// platform version exceeds the network-wide minimum. The node must not
// proceed on such a network.
type MinPlatformVersionError struct {
	Local   int
	Network int
}

// Error implements the error interface.
func (e MinPlatformVersionError) Error() string {
	return fmt.Sprintf("local minimum platform version %d exceeds network minimum %d", e.Local, e.Network)
}

// NotaryInfo identifies one notary of the network and whether it validates
// transaction contents.
type NotaryInfo struct {
	Party      Party
	Validating bool
}

// NetworkParameters is the network-wide signed configuration. It is
// identified by the hash of its canonical encoding and pinned on first
// acceptance.
type NetworkParameters struct {
	MinimumPlatformVersion int
	Notaries               []NotaryInfo
}

// Marshal returns the canonical JSON encoding of the parameters.
func (p *NetworkParameters) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(p); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal parses parameters from their canonical JSON encoding.
func (p *NetworkParameters) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(p)
}

// Hash returns the SHA256 of the canonical encoding, the identity of the
// parameters.
func (p *NetworkParameters) Hash() ([]byte, error) {
	raw, err := p.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(raw), nil
}

// NotaryParties returns the full notary identity set.
func (p *NetworkParameters) NotaryParties() []Party {
	res := []Party{}
	for _, n := range p.Notaries {
		res = append(res, n.Party)
	}
	return res
}

// ValidatingNotaryParties returns the validating subset of the notaries.
func (p *NetworkParameters) ValidatingNotaryParties() []Party {
	res := []Party{}
	for _, n := range p.Notaries {
		if n.Validating {
			res = append(res, n.Party)
		}
	}
	return res
}

// SignedNetworkParameters wraps canonical parameter bytes in a signature from
// the network operator.
type SignedNetworkParameters struct {
	Raw       []byte
	Signature string
}

// SignParameters signs canonical parameter bytes with the network operator's
// key.
func SignParameters(params *NetworkParameters, priv *ecdsa.PrivateKey) (*SignedNetworkParameters, error) {
	raw, err := params.Marshal()
	if err != nil {
		return nil, err
	}

	r, s, err := keys.Sign(priv, crypto.SHA256(raw))
	if err != nil {
		return nil, err
	}

	return &SignedNetworkParameters{
		Raw:       raw,
		Signature: keys.EncodeSignature(r, s),
	}, nil
}

// Verify checks the signature against the trusted network operator key and
// returns the inner parameters.
func (s *SignedNetworkParameters) Verify(trusted *ecdsa.PublicKey) (*NetworkParameters, error) {
	if trusted == nil {
		return nil, ErrInvalidSignature
	}

	r, sv, err := keys.DecodeSignature(s.Signature)
	if err != nil {
		return nil, ErrInvalidSignature
	}

	if !keys.Verify(trusted, crypto.SHA256(s.Raw), r, sv) {
		return nil, ErrInvalidSignature
	}

	params := new(NetworkParameters)
	if err := params.Unmarshal(s.Raw); err != nil {
		return nil, ErrInvalidSignature
	}

	return params, nil
}

// Hash returns the identity of the signed parameters: the SHA256 of the inner
// canonical bytes.
func (s *SignedNetworkParameters) Hash() []byte {
	return crypto.SHA256(s.Raw)
}

// Hex returns the hexadecimal string of Hash.
func (s *SignedNetworkParameters) Hex() string {
	return common.EncodeToString(s.Hash())
}
