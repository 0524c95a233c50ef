// Package service exposes a read-only HTTP API over the directory cache.
package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/linsihaku/corda/src/netmap"
	"github.com/sirupsen/logrus"
)

// Service ...
type Service struct {
	sync.Mutex

	bindAddress string
	nm          netmap.NetworkMap
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, nm netmap.NetworkMap, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		nm:          nm,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of the
// http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	http.HandleFunc("/network-map", s.makeHandler(s.GetNetworkMap))
	http.HandleFunc("/node/", s.makeHandler(s.GetNode))
	http.HandleFunc("/name/", s.makeHandler(s.GetNodesByName))
	http.HandleFunc("/parameters", s.makeHandler(s.GetParameters))
	http.HandleFunc("/notaries", s.makeHandler(s.GetNotaries))
	http.HandleFunc("/version", s.makeHandler(s.GetMapVersion))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when another server has already been started with the
// DefaultServerMux and the same address:port combination.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving directory API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetNetworkMap returns every record in the directory.
func (s *Service) GetNetworkMap(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.nm.AllNodes()
	if err != nil {
		s.logger.WithError(err).Error("Retrieving network map")

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(nodes)
}

// GetNode returns the record owned by a main identity key.
func (s *Service) GetNode(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/node/"):]

	node, err := s.nm.GetNodeByPubKey(param)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving node %s", param)

		http.Error(w, err.Error(), http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(node)
}

// GetNodesByName returns the records whose main identity carries the exact
// legal name.
func (s *Service) GetNodesByName(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/name/"):]

	nodes, err := s.nm.GetNodesByLegalName(param)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving nodes named %s", param)

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(nodes)
}

// GetParameters returns the pinned signed network parameters.
func (s *Service) GetParameters(w http.ResponseWriter, r *http.Request) {
	signed := s.nm.Parameters()
	if signed == nil {
		http.Error(w, "no network parameters pinned", http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(signed)
}

// GetNotaries returns the notary identities of the pinned parameters.
func (s *Service) GetNotaries(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(struct {
		Notaries   []netmap.Party
		Validating []netmap.Party
	}{
		Notaries:   s.nm.NotaryIdentities(),
		Validating: s.nm.ValidatingNotaryIdentities(),
	})
}

// GetMapVersion returns the latest acknowledged map version.
func (s *Service) GetMapVersion(w http.ResponseWriter, r *http.Request) {
	version, err := s.nm.MapVersion()
	if err != nil {
		s.logger.WithError(err).Error("Retrieving map version")

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(struct {
		Version uint64
	}{Version: version})
}
