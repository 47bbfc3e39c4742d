package relay

import "sync"

const numShards = 16

// correlationTable matches response envelopes to waiting requests by token.
// It is sharded to keep lock contention low when many requests are in flight.
type correlationTable struct {
	shards [numShards]*shard
}

type shard struct {
	mu      sync.Mutex
	waiters map[string]chan *Envelope
}

func newCorrelationTable() *correlationTable {
	c := &correlationTable{}
	for i := range c.shards {
		c.shards[i] = &shard{waiters: make(map[string]chan *Envelope)}
	}
	return c
}

func (c *correlationTable) shardFor(token []byte) *shard {
	if len(token) == 0 {
		return c.shards[0]
	}
	return c.shards[int(token[0])%numShards]
}

// register creates a waiter for the token. The returned channel has capacity
// one so resolve never blocks on a slow requester.
func (c *correlationTable) register(token []byte) chan *Envelope {
	ch := make(chan *Envelope, 1)
	s := c.shardFor(token)
	s.mu.Lock()
	s.waiters[string(token)] = ch
	s.mu.Unlock()
	return ch
}

// resolve delivers a response to its waiter and reports whether one existed.
func (c *correlationTable) resolve(token []byte, env *Envelope) bool {
	s := c.shardFor(token)
	s.mu.Lock()
	ch, ok := s.waiters[string(token)]
	if ok {
		delete(s.waiters, string(token))
	}
	s.mu.Unlock()

	if ok {
		ch <- env
	}
	return ok
}

// drop removes a waiter without delivering anything.
func (c *correlationTable) drop(token []byte) {
	s := c.shardFor(token)
	s.mu.Lock()
	delete(s.waiters, string(token))
	s.mu.Unlock()
}

// closeAll closes every waiter channel, unblocking pending requests.
func (c *correlationTable) closeAll() {
	for _, s := range c.shards {
		s.mu.Lock()
		for token, ch := range s.waiters {
			close(ch)
			delete(s.waiters, token)
		}
		s.mu.Unlock()
	}
}
