// Package mapserver implements the map service side of the directory sync
// protocol. It is the authority that nodes fetch the directory from, subscribe
// to, and receive pushed updates from.
package mapserver

import (
	"fmt"
	"sync"

	"github.com/linsihaku/corda/src/net"
	"github.com/linsihaku/corda/src/netmap"
	"github.com/sirupsen/logrus"
)

// Server distributes signed node records to subscribed nodes. It keeps the
// latest signed record per main identity, a monotonically increasing map
// version, and the version at which each record last changed, which is what
// makes incremental fetches possible. Removal records are kept as tombstones
// so that a node fetching an old version learns about the removal.
type Server struct {
	signedParams *netmap.SignedNetworkParameters

	mu      sync.Mutex
	records map[string]*netmap.SignedNodeInfo // main identity key => latest signed record
	changed map[string]uint64                 // main identity key => version of last change
	serials map[string]uint64                 // main identity key => serial of latest add
	version uint64
	subs    map[string]uint64 // subscriber address => last acked version

	trans  net.Transport
	logger *logrus.Entry

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

// NewServer creates a map service over a transport. The signed parameters are
// the single parameter set this service distributes; nodes pin them on first
// contact.
func NewServer(
	trans net.Transport,
	signedParams *netmap.SignedNetworkParameters,
	logger *logrus.Entry,
) *Server {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Server{
		signedParams: signedParams,
		records:      make(map[string]*netmap.SignedNodeInfo),
		changed:      make(map[string]uint64),
		serials:      make(map[string]uint64),
		subs:         make(map[string]uint64),
		trans:        trans,
		logger:       logger,
		shutdownCh:   make(chan struct{}),
	}
}

// Run processes incoming RPC requests until Shutdown is called. Call it in a
// goroutine after starting the transport's listener.
func (s *Server) Run() {
	netCh := s.trans.Consumer()
	for {
		select {
		case rpc := <-netCh:
			s.processRPC(rpc)
		case <-s.shutdownCh:
			return
		}
	}
}

// Shutdown stops the RPC loop and closes the transport.
func (s *Server) Shutdown() {
	s.shutdownLock.Lock()
	defer s.shutdownLock.Unlock()

	if !s.shutdown {
		close(s.shutdownCh)
		s.trans.Close()
		s.shutdown = true
	}
}

// Addr returns the advertised address of the service.
func (s *Server) Addr() string {
	return s.trans.AdvertiseAddr()
}

// Version returns the current map version.
func (s *Server) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Publish verifies a signed record, applies it to the directory, and pushes
// it to every subscriber. A record whose serial does not supersede the
// latest published serial for the same identity is rejected.
func (s *Server) Publish(signed *netmap.SignedNodeInfo) error {
	info, err := signed.Verify()
	if err != nil {
		return err
	}

	key := info.MainIdentity().Party.PubKeyHex

	s.mu.Lock()

	if signed.Op == netmap.OpAdd {
		if last, ok := s.serials[key]; ok && last >= info.Serial {
			s.mu.Unlock()
			return fmt.Errorf("serial %d does not supersede %d", info.Serial, last)
		}
		s.serials[key] = info.Serial
	}

	s.version++
	version := s.version
	s.records[key] = signed
	s.changed[key] = version

	subs := make([]string, 0, len(s.subs))
	for addr := range s.subs {
		subs = append(subs, addr)
	}

	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"name":        info.MainIdentity().Party.Name,
		"op":          signed.Op,
		"version":     version,
		"subscribers": len(subs),
	}).Debug("Publishing node record")

	for _, addr := range subs {
		go s.push(addr, version, signed)
	}

	return nil
}

// push sends one update to one subscriber. A failed push is logged and
// dropped; the subscriber catches up on its next fetch.
func (s *Server) push(addr string, version uint64, signed *netmap.SignedNodeInfo) {
	req := net.PushRequest{
		Version: version,
		Update:  signed,
	}

	var resp net.PushResponse
	if err := s.trans.Push(addr, &req, &resp); err != nil {
		s.logger.WithFields(logrus.Fields{
			"subscriber": addr,
			"error":      err,
		}).Warning("Failed to push update")
	}
}

func (s *Server) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.FetchRequest:
		s.processFetchRequest(rpc, cmd)
	case *net.ParametersRequest:
		s.processParametersRequest(rpc, cmd)
	case *net.SubscribeRequest:
		s.processSubscribeRequest(rpc, cmd)
	case *net.AckRequest:
		s.processAckRequest(rpc, cmd)
	default:
		s.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (s *Server) processFetchRequest(rpc net.RPC, cmd *net.FetchRequest) {
	s.logger.WithFields(logrus.Fields{
		"from":          cmd.From,
		"since_version": cmd.SinceVersion,
		"subscribe":     cmd.Subscribe,
	}).Debug("process FetchRequest")

	s.mu.Lock()

	resp := &net.FetchResponse{
		ParametersHash: s.signedParams.Hash(),
		Version:        s.version,
	}

	if cmd.SinceVersion < s.version {
		for key, signed := range s.records {
			if s.changed[key] > cmd.SinceVersion {
				resp.Updates = append(resp.Updates, signed)
			}
		}
	}

	// A re-fetch must not move an already-acked version backwards.
	if cmd.Subscribe && cmd.From != "" {
		if acked, ok := s.subs[cmd.From]; !ok || cmd.SinceVersion > acked {
			s.subs[cmd.From] = cmd.SinceVersion
		}
	}

	s.mu.Unlock()

	rpc.Respond(resp, nil)
}

func (s *Server) processParametersRequest(rpc net.RPC, cmd *net.ParametersRequest) {
	s.logger.WithField("from", cmd.From).Debug("process ParametersRequest")

	rpc.Respond(&net.ParametersResponse{SignedParameters: s.signedParams}, nil)
}

func (s *Server) processSubscribeRequest(rpc net.RPC, cmd *net.SubscribeRequest) {
	s.logger.WithFields(logrus.Fields{
		"from":      cmd.From,
		"subscribe": cmd.Subscribe,
	}).Debug("process SubscribeRequest")

	if cmd.From == "" {
		rpc.Respond(&net.SubscribeResponse{Confirmed: false}, fmt.Errorf("empty subscriber address"))
		return
	}

	s.mu.Lock()
	if cmd.Subscribe {
		if _, ok := s.subs[cmd.From]; !ok {
			s.subs[cmd.From] = 0
		}
	} else {
		delete(s.subs, cmd.From)
	}
	s.mu.Unlock()

	rpc.Respond(&net.SubscribeResponse{Confirmed: true}, nil)
}

func (s *Server) processAckRequest(rpc net.RPC, cmd *net.AckRequest) {
	s.logger.WithFields(logrus.Fields{
		"from":    cmd.From,
		"version": cmd.Version,
	}).Debug("process AckRequest")

	s.mu.Lock()
	if acked, ok := s.subs[cmd.From]; ok && cmd.Version > acked {
		s.subs[cmd.From] = cmd.Version
	}
	s.mu.Unlock()

	rpc.Respond(&net.AckResponse{}, nil)
}

// AckedVersion returns the last version acknowledged by a subscriber, and
// whether the address is subscribed at all.
func (s *Server) AckedVersion(addr string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acked, ok := s.subs[addr]
	return acked, ok
}
