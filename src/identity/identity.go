// Package identity provides the identity registry consulted when node records
// enter the directory.
package identity

import (
	"fmt"
	"sync"

	"github.com/linsihaku/corda/src/netmap"
	"github.com/sirupsen/logrus"
)

// Registry is an in-memory identity registry. It records the binding between
// an identity key and a legal name the first time the identity is seen and
// rejects any later attempt to bind the same key to a different name. The
// certificate is kept verbatim for callers that need to re-check it.
type Registry struct {
	sync.Mutex
	names map[string]string // identity key => legal name
	certs map[string][]byte

	logger *logrus.Entry
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Entry) *Registry {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Registry{
		names:  make(map[string]string),
		certs:  make(map[string][]byte),
		logger: logger,
	}
}

// VerifyAndRegister implements the netmap.IdentityService interface.
// Re-registering an identical binding is a no-op; binding a known key to a
// different name is rejected.
func (r *Registry) VerifyAndRegister(identity netmap.PartyAndCertificate) error {
	key := identity.Party.PubKeyHex
	if key == "" {
		return fmt.Errorf("identity carries no public key")
	}

	r.Lock()
	defer r.Unlock()

	if name, ok := r.names[key]; ok {
		if name != identity.Party.Name {
			return fmt.Errorf("identity key already registered to %q", name)
		}
		return nil
	}

	r.names[key] = identity.Party.Name
	r.certs[key] = identity.Certificate

	r.logger.WithFields(logrus.Fields{
		"name": identity.Party.Name,
	}).Debug("Registered identity")

	return nil
}

// Name returns the legal name registered for an identity key.
func (r *Registry) Name(pubKeyHex string) (string, bool) {
	r.Lock()
	defer r.Unlock()

	name, ok := r.names[pubKeyHex]
	return name, ok
}

// Certificate returns the certificate registered for an identity key.
func (r *Registry) Certificate(pubKeyHex string) ([]byte, bool) {
	r.Lock()
	defer r.Unlock()

	cert, ok := r.certs[pubKeyHex]
	return cert, ok
}
