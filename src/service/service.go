package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/astreum/astreum-go/src/crypto"
	"github.com/astreum/astreum-go/src/node"
	"github.com/astreum/astreum-go/src/peers"
	"github.com/sirupsen/logrus"
)

// Service exposes a read-only HTTP API over a running node.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of the
// http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers. This is usefull when Astreum is embedded
// and expected to use the same endpoint (address:port) as the application's
// API.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Astreum API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/validationpeers", s.makeHandler(s.GetValidationPeers))
	http.HandleFunc("/storage", s.makeHandler(s.GetStorage))
	http.HandleFunc("/object/", s.makeHandler(s.GetObject))
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
// call Serve when Astreum is embedded and another server has already been
// started with the DefaultServerMux and the same address:port combination.
// Indeed, the API handlers have already been registered when the service was
// instantiated.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Astreum API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	returnPeerSet(w, r, s.node.GetPeers())
}

// GetValidationPeers ...
func (s *Service) GetValidationPeers(w http.ResponseWriter, r *http.Request) {
	vp, err := s.node.GetValidationPeers()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	returnPeerSet(w, r, vp)
}

// GetStorage reports the store's capacity accounting.
func (s *Service) GetStorage(w http.ResponseWriter, r *http.Request) {
	st := s.node.Store()

	res := map[string]int64{
		"used_bytes":      st.UsedBytes(),
		"remaining_bytes": st.CapacityRemaining(),
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}

// GetObject serves the record stored under the hex hash in the path.
func (s *Service) GetObject(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/object/"):]

	hash, err := crypto.FromHex(param)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing object hash parameter %s", param)

		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	data, err := s.node.Store().Get(hash)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving object %s", hash.String())

		http.Error(w, err.Error(), http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")

	w.Write(data)
}

func returnPeerSet(w http.ResponseWriter, r *http.Request, peers []*peers.Peer) {
	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)

	encoder.Encode(peers)
}
