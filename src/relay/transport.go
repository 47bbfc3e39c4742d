package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrMessageTooLarge is returned when an encoded envelope exceeds the
	// transport's datagram budget.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// Handler processes an inbound envelope. It runs on a decode worker.
type Handler func(env *Envelope, from *net.UDPAddr)

type packet struct {
	data []byte
	addr *net.UDPAddr
}

// Transport sends and receives envelopes over a single UDP socket.
type Transport struct {
	conn   *net.UDPConn
	logger *logrus.Entry

	maxMessageSize int
	numWorkers     int

	inbound  chan packet
	outbound chan packet

	pending *correlationTable

	handlerMu sync.RWMutex
	handler   Handler

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	wg sync.WaitGroup
}

// NewTransport binds a UDP socket on bindAddr. The read loop and workers do
// not run until Listen is called, so a handler can be installed first.
func NewTransport(
	bindAddr string,
	useIPv6 bool,
	maxMessageSize int,
	numWorkers int,
	logger *logrus.Entry,
) (*Transport, error) {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	network := "udp4"
	if useIPv6 {
		network = "udp6"
	}

	addr, err := net.ResolveUDPAddr(network, bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %v", bindAddr, err)
	}

	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		conn:           conn,
		logger:         logger,
		maxMessageSize: maxMessageSize,
		numWorkers:     numWorkers,
		inbound:        make(chan packet, numWorkers*2),
		outbound:       make(chan packet, numWorkers*2),
		pending:        newCorrelationTable(),
		shutdownCh:     make(chan struct{}),
	}

	return t, nil
}

// SetHandler installs the function invoked for unsolicited envelopes.
func (t *Transport) SetHandler(h Handler) {
	t.handlerMu.Lock()
	t.handler = h
	t.handlerMu.Unlock()
}

// LocalAddr returns the bound socket address.
func (t *Transport) LocalAddr() string {
	return t.conn.LocalAddr().String()
}

// Listen starts the read loop, the decode workers, and the send loop.
func (t *Transport) Listen() {
	t.wg.Add(2 + t.numWorkers)
	go t.readLoop()
	go t.sendLoop()
	for i := 0; i < t.numWorkers; i++ {
		go t.worker(i)
	}
}

func (t *Transport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, t.maxMessageSize+1)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.shutdownCh:
				return
			default:
				t.logger.WithError(err).Error("read error")
				continue
			}
		}

		if n > t.maxMessageSize {
			t.logger.WithFields(logrus.Fields{
				"from": addr.String(),
				"size": n,
			}).Warn("dropping oversized datagram")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case t.inbound <- packet{data: data, addr: addr}:
		case <-t.shutdownCh:
			return
		}
	}
}

func (t *Transport) worker(id int) {
	defer t.wg.Done()

	for {
		select {
		case p := <-t.inbound:
			t.deliver(p)
		case <-t.shutdownCh:
			return
		}
	}
}

func (t *Transport) deliver(p packet) {
	env := new(Envelope)
	if err := env.Unmarshal(p.data); err != nil {
		t.logger.WithFields(logrus.Fields{
			"from":  p.addr.String(),
			"error": err,
		}).Warn("dropping undecodable datagram")
		return
	}

	// A tokened envelope may be the response to one of our requests.
	if len(env.Token) > 0 && t.pending.resolve(env.Token, env) {
		return
	}

	t.handlerMu.RLock()
	handler := t.handler
	t.handlerMu.RUnlock()

	if handler == nil {
		t.logger.WithField("topic", env.Topic.String()).Debug("no handler installed")
		return
	}
	handler(env, p.addr)
}

func (t *Transport) sendLoop() {
	defer t.wg.Done()

	for {
		select {
		case p := <-t.outbound:
			if _, err := t.conn.WriteToUDP(p.data, p.addr); err != nil {
				t.logger.WithFields(logrus.Fields{
					"to":    p.addr.String(),
					"error": err,
				}).Warn("send failed")
			}
		case <-t.shutdownCh:
			return
		}
	}
}

// Send encodes the envelope and queues it for transmission.
func (t *Transport) Send(target string, env *Envelope) error {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return fmt.Errorf("resolving %s: %v", target, err)
	}

	data, err := env.Marshal()
	if err != nil {
		return err
	}
	if len(data) > t.maxMessageSize {
		return ErrMessageTooLarge
	}

	select {
	case t.outbound <- packet{data: data, addr: addr}:
		return nil
	case <-t.shutdownCh:
		return ErrTransportShutdown
	}
}

// Request sends the envelope and blocks until the matching response arrives,
// the context expires, or the transport shuts down. A fresh correlation token
// is assigned when the envelope carries none.
func (t *Transport) Request(ctx context.Context, target string, env *Envelope) (*Envelope, error) {
	if len(env.Token) == 0 {
		token := uuid.New()
		env.Token = token[:]
	}

	ch := t.pending.register(env.Token)

	if err := t.Send(target, env); err != nil {
		t.pending.drop(env.Token)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrTransportShutdown
		}
		return resp, nil
	case <-ctx.Done():
		t.pending.drop(env.Token)
		return nil, ctx.Err()
	case <-t.shutdownCh:
		t.pending.drop(env.Token)
		return nil, ErrTransportShutdown
	}
}

// Close stops the loops, closes the socket, and unblocks pending requests.
func (t *Transport) Close() error {
	t.shutdownLock.Lock()
	defer t.shutdownLock.Unlock()

	if t.shutdown {
		return nil
	}
	t.shutdown = true
	close(t.shutdownCh)

	err := t.conn.Close()
	t.wg.Wait()
	t.pending.closeAll()
	return err
}
