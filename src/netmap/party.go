package netmap

import (
	"crypto/ecdsa"

	"github.com/linsihaku/corda/src/common"
	"github.com/linsihaku/corda/src/crypto/keys"
)

// Party is a legal identity on the network, identified by its public key. The
// name is a human-readable legal name and is not required to be unique; the
// public key is.
type Party struct {
	Name      string
	PubKeyHex string
}

// NewParty creates a Party from a name and a public key.
func NewParty(name string, pub *ecdsa.PublicKey) Party {
	return Party{
		Name:      name,
		PubKeyHex: keys.PublicKeyHex(pub),
	}
}

// PubKeyBytes returns the decoded public key bytes.
func (p Party) PubKeyBytes() ([]byte, error) {
	return common.DecodeFromString(p.PubKeyHex)
}

// PublicKey returns the ecdsa.PublicKey of the party, or nil if the key does
// not decode to a point on the curve.
func (p Party) PublicKey() *ecdsa.PublicKey {
	b, err := p.PubKeyBytes()
	if err != nil {
		return nil
	}
	return keys.ToPublicKey(b)
}

// PartyAndCertificate pairs a legal identity with the certificate that binds
// its name to its key. The certificate is treated as an opaque blob; issuance
// and path validation belong to the identity service.
type PartyAndCertificate struct {
	Party       Party
	Certificate []byte
}
