package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/astreum/astreum-go/src/config"
	"github.com/astreum/astreum-go/src/crypto"
	"github.com/astreum/astreum-go/src/crypto/keys"
	"github.com/astreum/astreum-go/src/peers"
	"github.com/astreum/astreum-go/src/relay"
	"github.com/astreum/astreum-go/src/resolver"
	"github.com/astreum/astreum-go/src/route"
	"github.com/astreum/astreum-go/src/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// lookupAlpha is the number of peers queried in parallel during one round
	// of an iterative lookup.
	lookupAlpha = 3

	// lookupRounds caps the number of query rounds in one lookup.
	lookupRounds = 8

	// maintenanceInterval is the period of the background refresh: a lookup
	// of the node's own routing key keeps nearby buckets populated.
	maintenanceInterval = 60 * time.Second
)

// ErrNotValidator is returned by validation-route operations on a node that
// did not join the validation route.
var ErrNotValidator = errors.New("node is not on the validation route")

// Node defines an Astreum node
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	validator *Validator

	store    store.Store
	trans    *relay.Transport
	resolver *resolver.Resolver

	peerRoute *route.Table
	valRoute  *route.Table

	sigintCh   chan os.Signal
	shutdownCh chan struct{}

	start time.Time
}

// NewNode is a factory method that returns a Node instance. The transport
// must be bound but not yet listening; the node installs its handler before
// starting the loops.
func NewNode(
	conf *config.Config,
	validator *Validator,
	s store.Store,
	trans *relay.Transport,
) *Node {
	// Prepare sigintCh to relay SIGINT system calls
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT)

	logger := conf.Logger().WithField("this_id", validator.ID())

	node := Node{
		conf:       conf,
		logger:     logger,
		validator:  validator,
		store:      s,
		trans:      trans,
		peerRoute:  route.NewTable(validator.RouteID(), logger.WithField("route", "peer")),
		sigintCh:   sigintCh,
		shutdownCh: make(chan struct{}),
	}

	if conf.Validation {
		node.valRoute = route.NewTable(validator.RouteID(), logger.WithField("route", "validation"))
	}

	node.resolver = resolver.NewResolver(s, &node, logger)

	return &node
}

// Init installs the message handler, starts the transport, wires the liveness
// probes, and seeds the peer route from the peers file and the bootstrap
// addresses.
func (n *Node) Init() error {
	n.trans.SetHandler(n.handleMessage)
	n.trans.Listen()

	n.peerRoute.SetPingFunc(n.probePeer(false))
	if n.valRoute != nil {
		n.valRoute.SetPingFunc(n.probePeer(true))
	}

	n.bootstrap()

	n.setState(Running)
	n.start = time.Now()

	n.logger.WithFields(logrus.Fields{
		"addr":       n.AdvertiseAddr(),
		"validation": n.conf.Validation,
	}).Debug("node initialized")

	return nil
}

// bootstrap contacts the peers file and the configured bootstrap addresses.
// Responses flow back through the normal ping exchange and populate the
// routing tables.
func (n *Node) bootstrap() {
	addrs := map[string]bool{}

	if ps, err := peers.NewJSONPeerSet(n.conf.DataDir).Peers(); err == nil {
		for _, p := range peers.ExcludePeer(ps, n.AdvertiseAddr()) {
			addrs[p.NetAddr] = true
		}
	}
	for _, addr := range n.conf.BootstrapPeers {
		addrs[addr] = true
	}

	for addr := range addrs {
		if addr == "" || addr == n.AdvertiseAddr() {
			continue
		}
		n.goFunc(func(addr string) func() {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), n.conf.RequestTimeout)
				defer cancel()
				if _, err := n.pingAddr(ctx, addr, false); err != nil {
					n.logger.WithFields(logrus.Fields{
						"addr":  addr,
						"error": err,
					}).Debug("bootstrap ping failed")
				}
			}
		}(addr))
	}
}

// RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	go n.Run()
}

// Run blocks on the maintenance loop until Shutdown or SIGINT.
func (n *Node) Run() {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.refresh()
			n.logStats()
		case <-n.sigintCh:
			n.logger.Debug("reaping SIGINT")
			n.Shutdown()
			return
		case <-n.shutdownCh:
			return
		}
	}
}

// refresh runs a lookup of the node's own routing key to keep the closest
// buckets fresh.
func (n *Node) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(lookupRounds)*n.conf.RequestTimeout)
	defer cancel()

	n.lookup(ctx, n.validator.RouteID(), n.peerRoute, false)
	if n.valRoute != nil {
		n.lookup(ctx, n.validator.RouteID(), n.valRoute, true)
	}
}

// Shutdown shuts down the node
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		// Exit any non-shutdown state immediately
		n.setState(Shutdown)

		// Stop and wait for concurrent operations
		close(n.shutdownCh)
		n.waitRoutines()

		// transport and store are closed once all concurrent operations are
		// finished otherwise they panic trying to use closed objects
		n.trans.Close()
		n.store.Close()
	}
}

/*******************************************************************************
Message handling
*******************************************************************************/

func (n *Node) handleMessage(env *relay.Envelope, from *net.UDPAddr) {
	table := n.peerRoute
	if env.Topic.IsValidation() {
		if n.valRoute == nil {
			n.logger.WithField("topic", env.Topic.String()).
				Debug("dropping validation message, not a validator")
			return
		}
		table = n.valRoute
	}

	switch env.Topic.Base() {
	case relay.TopicPing:
		n.handlePing(env, from, table)
	case relay.TopicRouteRequest:
		n.handleRouteRequest(env, from, table)
	case relay.TopicObjectRequest:
		n.handleObjectRequest(env, from)
	case relay.TopicPong, relay.TopicRoute, relay.TopicObjectResponse:
		// solicited variants are consumed by the correlation table
		n.logger.WithField("topic", env.Topic.String()).
			Debug("dropping unsolicited response")
	default:
		n.logger.WithField("topic", env.Topic.String()).
			Debug("dropping unknown message type")
	}
}

// verifySender checks the envelope signature and returns the sender as a
// peer. dfltAddr is used when the payload does not advertise an address.
func (n *Node) verifySender(env *relay.Envelope, dfltAddr string) (*peers.Peer, *PingPayload, error) {
	pub := keys.ToPublicKey(env.Sender)
	if pub == nil {
		return nil, nil, fmt.Errorf("sender key is not on the curve")
	}
	if !keys.VerifyBytes(pub, env.SigningMaterial(), env.Sig) {
		return nil, nil, fmt.Errorf("bad signature")
	}

	body := new(PingPayload)
	if err := unmarshalPayload(env.Payload, body); err != nil {
		return nil, nil, err
	}

	addr := body.NetAddr
	if addr == "" {
		addr = dfltAddr
	}

	peer := peers.NewPeer(keys.PublicKeyHex(pub), addr)
	peer.Validator = body.Validator
	return peer, body, nil
}

func (n *Node) handlePing(env *relay.Envelope, from *net.UDPAddr, table *route.Table) {
	peer, _, err := n.verifySender(env, from.String())
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"from":  from.String(),
			"error": err,
		}).Warn("dropping bad ping")
		return
	}

	if env.Topic.IsValidation() && !peer.Validator {
		n.logger.WithField("from", from.String()).
			Debug("dropping validation ping from non-validator")
		return
	}

	table.Update(peer)

	pong, err := n.signedEnvelope(relay.TopicPong|env.Topic&relay.ValidationBit, env.Token)
	if err != nil {
		n.logger.WithError(err).Error("signing pong")
		return
	}
	if err := n.trans.Send(peer.NetAddr, pong); err != nil {
		n.logger.WithError(err).Debug("sending pong")
	}
}

func (n *Node) handleRouteRequest(env *relay.Envelope, from *net.UDPAddr, table *route.Table) {
	body := new(RouteRequestPayload)
	if err := unmarshalPayload(env.Payload, body); err != nil {
		n.logger.WithError(err).Warn("dropping bad route request")
		return
	}
	target, err := crypto.FromBytes(body.Target)
	if err != nil {
		n.logger.WithError(err).Warn("dropping bad route request")
		return
	}

	closest := table.FindClosest(target, route.BucketSize)
	resp := RoutePayload{Peers: make([]PeerEntry, 0, len(closest))}
	for _, p := range closest {
		resp.Peers = append(resp.Peers, PeerEntry{
			NetAddr:   p.NetAddr,
			PubKeyHex: p.PubKeyHex,
			Validator: p.Validator,
		})
	}

	payload, err := marshalPayload(resp)
	if err != nil {
		n.logger.WithError(err).Error("encoding route response")
		return
	}

	out := &relay.Envelope{
		Topic:   relay.TopicRoute | env.Topic&relay.ValidationBit,
		Sender:  n.validator.PublicKeyBytes(),
		Token:   env.Token,
		Payload: payload,
	}
	if err := n.trans.Send(from.String(), out); err != nil {
		n.logger.WithError(err).Debug("sending route response")
	}
}

func (n *Node) handleObjectRequest(env *relay.Envelope, from *net.UDPAddr) {
	body := new(ObjectRequestPayload)
	if err := unmarshalPayload(env.Payload, body); err != nil {
		n.logger.WithError(err).Warn("dropping bad object request")
		return
	}
	hash, err := crypto.FromBytes(body.Hash)
	if err != nil {
		n.logger.WithError(err).Warn("dropping bad object request")
		return
	}

	data, err := n.store.Get(hash)
	if err != nil {
		// nothing to serve; the requester will try another peer
		n.logger.WithField("hash", hash.String()).Debug("object request miss")
		return
	}

	payload, err := marshalPayload(ObjectResponsePayload{Data: data})
	if err != nil {
		n.logger.WithError(err).Error("encoding object response")
		return
	}

	out := &relay.Envelope{
		Topic:   relay.TopicObjectResponse,
		Sender:  n.validator.PublicKeyBytes(),
		Token:   env.Token,
		Payload: payload,
	}
	if err := n.trans.Send(from.String(), out); err != nil {
		n.logger.WithError(err).Debug("sending object response")
	}
}

// signedEnvelope builds a ping or pong envelope carrying this node's
// advertised address and validation flag, signed with the node key.
func (n *Node) signedEnvelope(topic relay.Topic, token []byte) (*relay.Envelope, error) {
	payload, err := marshalPayload(PingPayload{
		NetAddr:   n.AdvertiseAddr(),
		Validator: n.conf.Validation,
	})
	if err != nil {
		return nil, err
	}

	env := &relay.Envelope{
		Topic:   topic,
		Sender:  n.validator.PublicKeyBytes(),
		Token:   token,
		Payload: payload,
	}
	env.Sig, err = n.validator.Sign(env.SigningMaterial())
	if err != nil {
		return nil, err
	}
	return env, nil
}

/*******************************************************************************
Outbound operations
*******************************************************************************/

// pingAddr runs one signed ping exchange with the given address and returns
// the responder as a peer, after updating the matching routing table.
func (n *Node) pingAddr(ctx context.Context, addr string, validation bool) (*peers.Peer, error) {
	topic := relay.TopicPing
	if validation {
		topic = topic.Validation()
	}

	// the signature covers the correlation token, so it is set here rather
	// than left for the transport to assign
	token := uuid.New()

	env, err := n.signedEnvelope(topic, token[:])
	if err != nil {
		return nil, err
	}

	resp, err := n.trans.Request(ctx, addr, env)
	if err != nil {
		return nil, err
	}
	if resp.Topic.Base() != relay.TopicPong {
		return nil, fmt.Errorf("expected pong, got %s", resp.Topic)
	}

	peer, _, err := n.verifySender(resp, addr)
	if err != nil {
		return nil, err
	}

	table := n.peerRoute
	if validation {
		if n.valRoute == nil {
			return nil, ErrNotValidator
		}
		if !peer.Validator {
			return nil, fmt.Errorf("peer is not on the validation route")
		}
		table = n.valRoute
	}
	table.Update(peer)

	return peer, nil
}

// probePeer adapts pingAddr into the routing table's liveness probe. The
// probe confirms not only that something answers at the address, but that it
// still holds the identity the table knows.
func (n *Node) probePeer(validation bool) route.PingFunc {
	return func(p *peers.Peer) bool {
		ctx, cancel := context.WithTimeout(context.Background(), n.conf.RequestTimeout)
		defer cancel()

		peer, err := n.pingAddr(ctx, p.NetAddr, validation)
		if err != nil {
			return false
		}
		return peer.PubKeyHex == p.PubKeyHex
	}
}

// routeRequest asks one peer for its closest entries to target.
func (n *Node) routeRequest(ctx context.Context, peer *peers.Peer, target crypto.Hash, validation bool) ([]*peers.Peer, error) {
	topic := relay.TopicRouteRequest
	if validation {
		topic = topic.Validation()
	}

	payload, err := marshalPayload(RouteRequestPayload{Target: target.Bytes()})
	if err != nil {
		return nil, err
	}

	env := &relay.Envelope{
		Topic:   topic,
		Sender:  n.validator.PublicKeyBytes(),
		Payload: payload,
	}

	rctx, cancel := context.WithTimeout(ctx, n.conf.RequestTimeout)
	defer cancel()

	resp, err := n.trans.Request(rctx, peer.NetAddr, env)
	if err != nil {
		return nil, err
	}
	if resp.Topic.Base() != relay.TopicRoute {
		return nil, fmt.Errorf("expected route, got %s", resp.Topic)
	}

	body := new(RoutePayload)
	if err := unmarshalPayload(resp.Payload, body); err != nil {
		return nil, err
	}

	res := make([]*peers.Peer, 0, len(body.Peers))
	for _, e := range body.Peers {
		p := peers.NewPeer(e.PubKeyHex, e.NetAddr)
		p.Validator = e.Validator
		if p.RouteID().IsZero() || p.RouteID() == n.validator.RouteID() {
			continue
		}
		res = append(res, p)
	}
	return res, nil
}

// Lookup runs an iterative traversal of the peer route towards target and
// returns the closest peers found on the network.
func (n *Node) Lookup(ctx context.Context, target crypto.Hash) []*peers.Peer {
	return n.lookup(ctx, target, n.peerRoute, false)
}

// LookupValidation is Lookup on the validation route.
func (n *Node) LookupValidation(ctx context.Context, target crypto.Hash) ([]*peers.Peer, error) {
	if n.valRoute == nil {
		return nil, ErrNotValidator
	}
	return n.lookup(ctx, target, n.valRoute, true), nil
}

// lookup queries lookupAlpha unvisited peers per round, merging their answers
// into a shortlist ordered by distance to target, until a round brings no
// closer peer or the round limit is reached.
func (n *Node) lookup(ctx context.Context, target crypto.Hash, table *route.Table, validation bool) []*peers.Peer {
	shortlist := table.FindClosest(target, route.BucketSize)
	queried := map[string]bool{}

	for round := 0; round < lookupRounds; round++ {
		var wave []*peers.Peer
		for _, p := range shortlist {
			if len(wave) == lookupAlpha {
				break
			}
			if !queried[p.PubKeyHex] {
				queried[p.PubKeyHex] = true
				wave = append(wave, p)
			}
		}
		if len(wave) == 0 {
			break
		}

		type result struct {
			peers []*peers.Peer
			err   error
		}
		results := make(chan result, len(wave))
		for _, p := range wave {
			go func(p *peers.Peer) {
				found, err := n.routeRequest(ctx, p, target, validation)
				results <- result{peers: found, err: err}
			}(p)
		}

		var closestBefore crypto.Hash
		if len(shortlist) > 0 {
			closestBefore = shortlist[0].RouteID().Distance(target)
		}

		seen := map[string]bool{}
		for _, p := range shortlist {
			seen[p.PubKeyHex] = true
		}
		for range wave {
			r := <-results
			if r.err != nil {
				continue
			}
			for _, p := range r.peers {
				if !seen[p.PubKeyHex] {
					seen[p.PubKeyHex] = true
					shortlist = append(shortlist, p)
				}
			}
		}

		sort.Slice(shortlist, func(i, j int) bool {
			return shortlist[i].RouteID().Distance(target).
				Less(shortlist[j].RouteID().Distance(target))
		})
		if len(shortlist) > route.BucketSize {
			shortlist = shortlist[:route.BucketSize]
		}

		// convergence: no round may end farther than it started
		if len(shortlist) == 0 ||
			!shortlist[0].RouteID().Distance(target).Less(closestBefore) {
			break
		}

		select {
		case <-ctx.Done():
			return shortlist
		default:
		}
	}

	return shortlist
}

// Fetch implements resolver.Fetcher: it locates the record on the network via
// a peer-route lookup and asks the closest peers in turn, up to the retry
// budget. The resolver verifies the returned bytes against the hash.
func (n *Node) Fetch(ctx context.Context, hash crypto.Hash) ([]byte, error) {
	candidates := n.Lookup(ctx, hash)
	if len(candidates) == 0 {
		return nil, resolver.ErrPeerUnreachable
	}

	attempts := 1 + n.conf.ObjectRetries
	if attempts > len(candidates) {
		attempts = len(candidates)
	}

	payload, err := marshalPayload(ObjectRequestPayload{Hash: hash.Bytes()})
	if err != nil {
		return nil, err
	}

	timedOut := false
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		env := &relay.Envelope{
			Topic:   relay.TopicObjectRequest,
			Sender:  n.validator.PublicKeyBytes(),
			Payload: payload,
		}

		rctx, cancel := context.WithTimeout(ctx, n.conf.RequestTimeout)
		resp, err := n.trans.Request(rctx, candidates[i].NetAddr, env)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				timedOut = true
			}
			n.logger.WithFields(logrus.Fields{
				"hash":  hash.String(),
				"peer":  candidates[i].NetAddr,
				"error": err,
			}).Debug("object fetch attempt failed")
			continue
		}

		body := new(ObjectResponsePayload)
		if err := unmarshalPayload(resp.Payload, body); err != nil {
			continue
		}
		if crypto.Sum256(body.Data) != hash {
			n.logger.WithFields(logrus.Fields{
				"hash": hash.String(),
				"peer": candidates[i].NetAddr,
			}).Warn("peer served bytes with wrong hash")
			continue
		}
		return body.Data, nil
	}

	// peers that never reply are a timeout, not an absence of holders
	if timedOut {
		return nil, resolver.ErrTimeout
	}
	return nil, resolver.ErrPeerUnreachable
}

// Resolve materializes the object graph under root, reading locally and
// fetching missing records from the network, within the configured recursion
// budget.
func (n *Node) Resolve(ctx context.Context, root crypto.Hash, depth int) (*resolver.Graph, error) {
	if depth > n.conf.MaxRecursion {
		depth = n.conf.MaxRecursion
	}
	return n.resolver.Resolve(ctx, root, depth)
}

// ApplyObject resolves the graph under root and feeds it to the machine.
func (n *Node) ApplyObject(ctx context.Context, root crypto.Hash) ([]byte, error) {
	graph, err := n.Resolve(ctx, root, n.conf.MaxRecursion)
	if err != nil {
		return nil, err
	}
	return n.conf.Machine.Apply(graph)
}

/*******************************************************************************
Accessors
*******************************************************************************/

// AdvertiseAddr returns the address other nodes should use to reach this
// node.
func (n *Node) AdvertiseAddr() string {
	if n.conf.AdvertiseAddr != "" {
		return n.conf.AdvertiseAddr
	}
	return n.trans.LocalAddr()
}

// ID returns the node's compact ID
func (n *Node) ID() uint32 {
	return n.validator.ID()
}

// RouteID returns the node's routing key.
func (n *Node) RouteID() crypto.Hash {
	return n.validator.RouteID()
}

// GetPeers returns the peer route's content.
func (n *Node) GetPeers() []*peers.Peer {
	return n.peerRoute.Peers()
}

// GetValidationPeers returns the validation route's content.
func (n *Node) GetValidationPeers() ([]*peers.Peer, error) {
	if n.valRoute == nil {
		return nil, ErrNotValidator
	}
	return n.valRoute.Peers(), nil
}

// Store exposes the record store.
func (n *Node) Store() store.Store {
	return n.store
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	s := map[string]string{
		"id":                fmt.Sprint(n.validator.ID()),
		"moniker":           n.validator.Moniker,
		"state":             n.getState().String(),
		"addr":              n.AdvertiseAddr(),
		"num_peers":         strconv.Itoa(n.peerRoute.Size()),
		"validation":        strconv.FormatBool(n.conf.Validation),
		"storage_used":      strconv.FormatInt(n.store.UsedBytes(), 10),
		"storage_remaining": strconv.FormatInt(n.store.CapacityRemaining(), 10),
		"uptime":            time.Since(n.start).String(),
	}
	if n.valRoute != nil {
		s["num_validation_peers"] = strconv.Itoa(n.valRoute.Size())
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"num_peers":         stats["num_peers"],
		"storage_used":      stats["storage_used"],
		"storage_remaining": stats["storage_remaining"],
		"state":             stats["state"],
	}).Debug("Stats")
}
