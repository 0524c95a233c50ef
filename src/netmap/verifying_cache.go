package netmap

import (
	"github.com/sirupsen/logrus"
)

// IdentityService is the external identity-verification collaborator. It
// checks the certificate path binding a party name to its key and records the
// identity.
type IdentityService interface {
	VerifyAndRegister(identity PartyAndCertificate) error
}

// VerifyingCache decorates a NetworkMap so that every identity appearing in a
// newly added record is verified and registered with the identity service. It
// forwards all calls to the wrapped cache and reacts to Added changes on the
// cache's feed.
type VerifyingCache struct {
	NetworkMap

	identities IdentityService
	sub        *Subscription
	logger     *logrus.Entry
	stopped    chan struct{}
}

// NewVerifyingCache wraps a cache. It subscribes to the cache's feed and
// consumes it until Close is called.
func NewVerifyingCache(inner *Cache, identities IdentityService, logger *logrus.Entry) *VerifyingCache {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	vc := &VerifyingCache{
		NetworkMap: inner,
		identities: identities,
		sub:        inner.Feed().Subscribe(),
		logger:     logger,
		stopped:    make(chan struct{}),
	}

	go vc.run()

	return vc
}

func (vc *VerifyingCache) run() {
	defer close(vc.stopped)

	for change := range vc.sub.C {
		if change.Type != Added {
			continue
		}
		for _, id := range change.Node.Identities {
			if err := vc.identities.VerifyAndRegister(id); err != nil {
				// The record itself is already committed; a rejected identity
				// only means it cannot be resolved through the identity
				// service.
				vc.logger.WithFields(logrus.Fields{
					"party": id.Party.Name,
					"error": err,
				}).Warn("Identity verification failed")
			}
		}
	}
}

// Close cancels the feed subscription and waits for the registration loop to
// drain.
func (vc *VerifyingCache) Close() {
	vc.sub.Cancel()
	<-vc.stopped
}
