package machine

import (
	"sync"

	"github.com/astreum/astreum-go/src/crypto"
	"github.com/astreum/astreum-go/src/resolver"
	"github.com/sirupsen/logrus"
)

// InmemMachine folds the roots of applied graphs into a running state hash.
// It keeps no object data and is suitable for tests and relay-only nodes.
type InmemMachine struct {
	mu      sync.Mutex
	state   crypto.Hash
	applied int
	logger  *logrus.Entry
}

// NewInmemMachine instantiates an InmemMachine.
func NewInmemMachine(logger *logrus.Entry) *InmemMachine {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	return &InmemMachine{logger: logger}
}

// Apply implements the Machine interface. The new state hash is the digest of
// the previous state concatenated with the graph root.
func (m *InmemMachine) Apply(graph *resolver.Graph) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	material := append(m.state.Bytes(), graph.Root.Bytes()...)
	m.state = crypto.Sum256(material)
	m.applied++

	m.logger.WithFields(logrus.Fields{
		"root":    graph.Root.String(),
		"records": graph.Size(),
		"applied": m.applied,
	}).Debug("applied object graph")

	return m.state.Bytes(), nil
}

// StateHash implements the Machine interface.
func (m *InmemMachine) StateHash() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Bytes()
}

// Applied returns the number of graphs applied so far.
func (m *InmemMachine) Applied() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}
