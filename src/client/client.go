// Package client implements the node side of the directory sync protocol: the
// initial fetch from a map service, the push-update subscription, and the
// parameter negotiation that gates both.
package client

import (
	"errors"
	"fmt"
	"sync"

	"github.com/linsihaku/corda/src/net"
	"github.com/linsihaku/corda/src/netmap"
	"github.com/sirupsen/logrus"
)

// ErrUnknownParty is the reason carried by a DeregistrationError when the
// party to deregister is absent from the directory. The check runs before any
// network call.
var ErrUnknownParty = errors.New("party is not in the directory")

// DeregistrationError is the typed failure of Disconnect. It never escapes as
// a generic fault.
type DeregistrationError struct {
	Party  string
	Reason error
}

// Error implements the error interface.
func (e DeregistrationError) Error() string {
	return fmt.Sprintf("failed to deregister %s: %v", e.Party, e.Reason)
}

// Unwrap exposes the underlying reason.
func (e DeregistrationError) Unwrap() error {
	return e.Reason
}

// MapClient synchronizes a local directory cache with a remote map service.
// It owns the transport's consumer loop, so pushed updates are applied in
// arrival order: verified, applied to the cache, and acknowledged back to the
// map service. An update that fails verification is dropped without an
// acknowledgment and without disturbing later updates.
type MapClient struct {
	state

	nm         netmap.NetworkMap
	trans      net.Transport
	negotiator *ParameterNegotiator

	remoteLock sync.RWMutex
	remote     string

	readyCh   chan struct{}
	readyOnce sync.Once

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	logger *logrus.Entry
}

// NewMapClient creates a client over a cache and a transport and starts
// processing inbound traffic. If the cache was primed from a durable store
// that already holds pinned parameters, the ready signal resolves immediately;
// otherwise it resolves on the first successful Connect.
func NewMapClient(
	nm netmap.NetworkMap,
	trans net.Transport,
	negotiator *ParameterNegotiator,
	logger *logrus.Entry,
) *MapClient {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	c := &MapClient{
		nm:         nm,
		trans:      trans,
		negotiator: negotiator,
		readyCh:    make(chan struct{}),
		shutdownCh: make(chan struct{}),
		logger:     logger,
	}

	if nm.LoadedFromStore() && nm.Parameters() != nil {
		c.signalReady()
	}

	c.goFunc(c.run)

	return c
}

// Ready returns a channel that is closed exactly once, either because the
// durable store already held valid parameters at startup, or on completion of
// the first successful Connect. Node startup waits on it before processing is
// considered safe.
func (c *MapClient) Ready() <-chan struct{} {
	return c.readyCh
}

// State returns the current client state.
func (c *MapClient) State() State {
	return c.getState()
}

// Connect performs the initial fetch against a map service. The subscription
// flag asks the service to push subsequent updates; sinceVersion asks it to
// omit records unchanged since that map version. The parameters hash from the
// response goes through the negotiator before any record is applied.
func (c *MapClient) Connect(remote string, subscribe bool, sinceVersion uint64) error {
	if s := c.getState(); s == Shutdown {
		return fmt.Errorf("client is shutdown")
	} else if s == Fetching {
		return fmt.Errorf("fetch already in flight")
	}

	c.setRemote(remote)
	c.setState(Fetching)

	req := net.FetchRequest{
		Subscribe:    subscribe,
		SinceVersion: sinceVersion,
		From:         c.trans.AdvertiseAddr(),
	}

	var resp net.FetchResponse
	if err := c.trans.Fetch(remote, &req, &resp); err != nil {
		c.setState(Unregistered)
		return err
	}

	if err := c.negotiator.Negotiate(c.trans, remote, resp.ParametersHash); err != nil {
		c.setState(Unregistered)
		return err
	}

	for _, update := range resp.Updates {
		if err := c.apply(update); err != nil {
			c.setState(Unregistered)
			return err
		}
	}

	if err := c.nm.SetMapVersion(resp.Version); err != nil {
		c.setState(Unregistered)
		return err
	}

	if subscribe {
		c.setState(Subscribed)
	} else {
		c.setState(OneShot)
	}

	c.logger.WithFields(logrus.Fields{
		"remote":     remote,
		"version":    resp.Version,
		"records":    len(resp.Updates),
		"subscribed": subscribe,
	}).Debug("Synchronized with map service")

	c.signalReady()

	return nil
}

// Disconnect deregisters from pushed updates. An unknown party is rejected
// before any network call. All failures come back as DeregistrationError.
func (c *MapClient) Disconnect(remote string, party netmap.Party) error {
	if _, err := c.nm.GetNodeByPubKey(party.PubKeyHex); err != nil {
		return DeregistrationError{Party: party.Name, Reason: ErrUnknownParty}
	}

	req := net.SubscribeRequest{
		Subscribe: false,
		From:      c.trans.AdvertiseAddr(),
	}

	var resp net.SubscribeResponse
	if err := c.trans.Subscribe(remote, &req, &resp); err != nil {
		return DeregistrationError{Party: party.Name, Reason: err}
	}

	if !resp.Confirmed {
		return DeregistrationError{Party: party.Name, Reason: fmt.Errorf("map service did not confirm")}
	}

	if c.getState() == Subscribed {
		c.setState(OneShot)
	}

	return nil
}

// Shutdown stops the consumer loop, waits for in-flight push handling, and
// closes the transport.
func (c *MapClient) Shutdown() {
	c.shutdownLock.Lock()
	defer c.shutdownLock.Unlock()

	if !c.shutdown {
		close(c.shutdownCh)
		c.setState(Shutdown)
		c.waitRoutines()
		c.trans.Close()
		c.shutdown = true
	}
}

// run is the consumer loop. RPCs are processed serially, in arrival order;
// handing a push to its own goroutine would let a removal overtake the
// publication it supersedes.
func (c *MapClient) run() {
	netCh := c.trans.Consumer()
	for {
		select {
		case rpc := <-netCh:
			c.processRPC(rpc)
		case <-c.shutdownCh:
			return
		}
	}
}

func (c *MapClient) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.PushRequest:
		c.processPushRequest(rpc, cmd)
	default:
		c.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

// processPushRequest applies one unsolicited update. The push round trip is
// unblocked immediately; the acknowledgment is a separate message sent only
// after the update verified and applied. Failures are isolated per message.
func (c *MapClient) processPushRequest(rpc net.RPC, cmd *net.PushRequest) {
	c.logger.WithField("version", cmd.Version).Debug("process PushRequest")

	rpc.Respond(&net.PushResponse{}, nil)

	if cmd.Update == nil {
		c.logger.Warning("Dropping empty push update")
		return
	}

	if err := c.apply(cmd.Update); err != nil {
		c.logger.WithFields(logrus.Fields{
			"version": cmd.Version,
			"error":   err,
		}).Warning("Dropping push update")
		return
	}

	// A replayed or late push must not move the map version backwards.
	current, err := c.nm.MapVersion()
	if err != nil {
		c.logger.WithField("error", err).Warning("Failed to read map version")
		return
	}
	if cmd.Version > current {
		if err := c.nm.SetMapVersion(cmd.Version); err != nil {
			c.logger.WithField("error", err).Warning("Failed to record map version")
			return
		}
	}

	ack := net.AckRequest{
		Version: cmd.Version,
		From:    c.trans.AdvertiseAddr(),
	}

	var ackResp net.AckResponse
	if err := c.trans.Ack(c.getRemote(), &ack, &ackResp); err != nil {
		c.logger.WithFields(logrus.Fields{
			"version": cmd.Version,
			"error":   err,
		}).Warning("Failed to acknowledge push update")
	}
}

// apply verifies a signed record and routes it to the cache by operation.
func (c *MapClient) apply(update *netmap.SignedNodeInfo) error {
	info, err := update.Verify()
	if err != nil {
		return err
	}

	switch update.Op {
	case netmap.OpAdd:
		return c.nm.AddNode(info)
	case netmap.OpRemove:
		return c.nm.RemoveNode(info)
	default:
		return fmt.Errorf("unknown operation %q", update.Op)
	}
}

func (c *MapClient) signalReady() {
	c.readyOnce.Do(func() {
		close(c.readyCh)
	})
}

func (c *MapClient) setRemote(remote string) {
	c.remoteLock.Lock()
	defer c.remoteLock.Unlock()
	c.remote = remote
}

func (c *MapClient) getRemote() string {
	c.remoteLock.RLock()
	defer c.remoteLock.RUnlock()
	return c.remote
}
