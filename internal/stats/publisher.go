package stats

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/loopstats/internal/monitoring"
)

// Consumer receives finished snapshots. Consumers must treat the snapshot
// as read-only and Clone it if they keep it beyond the call.
type Consumer interface {
	Consume(s *Snapshot)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(s *Snapshot)

// Consume calls f(s).
func (f ConsumerFunc) Consume(s *Snapshot) { f(s) }

// Publisher hands each finished snapshot to its consumers, in
// subscription order, on the caller's goroutine.
type Publisher struct {
	mu        sync.RWMutex
	consumers []Consumer

	published atomic.Uint64
}

// NewPublisher creates a publisher with an initial set of consumers.
func NewPublisher(consumers ...Consumer) *Publisher {
	p := &Publisher{}
	for _, c := range consumers {
		p.Subscribe(c)
	}
	return p
}

// Subscribe adds c to the consumer list. Nil consumers are ignored.
func (p *Publisher) Subscribe(c Consumer) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = append(p.consumers, c)
}

// Publish delivers s to every consumer. The caller must not modify s
// afterwards. A nil snapshot is dropped.
func (p *Publisher) Publish(s *Snapshot) {
	if s == nil {
		return
	}
	p.mu.RLock()
	consumers := p.consumers
	p.mu.RUnlock()

	n := p.published.Add(1)
	monitoring.Debugf("[stats] publishing snapshot #%d ref=%d loop=%d metrics=%d to %d consumers",
		n, s.RefImageID(), s.LoopClosureID(), s.Len(), len(consumers))

	for _, c := range consumers {
		c.Consume(s)
	}
}

// Published returns how many snapshots have been published.
func (p *Publisher) Published() uint64 {
	return p.published.Load()
}
