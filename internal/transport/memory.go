package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/paxosdb/leaderelection/internal/paxos"
	"github.com/paxosdb/leaderelection/internal/storage"
)

// Simulated wraps a Peer with controllable network behavior: added
// latency, pairwise partitions, and probabilistic message loss. It
// models one directed link, caller to callee, so two nodes observing
// each other each hold their own Simulated.
type Simulated struct {
	inner Peer

	mu          sync.Mutex
	latency     time.Duration
	partitioned bool
	lossRate    float64
	rng         *rand.Rand
}

// NewSimulated returns a link to inner with no latency, no loss, and no
// partition.
func NewSimulated(inner Peer, seed int64) *Simulated {
	return &Simulated{inner: inner, rng: rand.New(rand.NewSource(seed))}
}

// SetLatency delays every call by d before it reaches the callee.
func (s *Simulated) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetPartitioned makes every call fail with ErrPartitioned while true.
func (s *Simulated) SetPartitioned(partitioned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitioned = partitioned
}

// SetLossRate drops each call with probability p, failing it with
// ErrDropped.
func (s *Simulated) SetLossRate(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lossRate = p
}

// deliver applies the link's failure model before a call crosses it.
func (s *Simulated) deliver(ctx context.Context) error {
	s.mu.Lock()
	partitioned := s.partitioned
	latency := s.latency
	dropped := s.lossRate > 0 && s.rng.Float64() < s.lossRate
	s.mu.Unlock()

	if partitioned {
		return ErrPartitioned
	}
	if dropped {
		return ErrDropped
	}
	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ctx.Err()
}

func (s *Simulated) Prepare(ctx context.Context, seq paxos.SequenceNumber, n paxos.BallotNumber) (paxos.Promise, error) {
	if err := s.deliver(ctx); err != nil {
		return paxos.Promise{}, err
	}
	return s.inner.Prepare(ctx, seq, n)
}

func (s *Simulated) Accept(ctx context.Context, seq paxos.SequenceNumber, n paxos.BallotNumber, v paxos.Value) (paxos.Accepted, error) {
	if err := s.deliver(ctx); err != nil {
		return paxos.Accepted{}, err
	}
	return s.inner.Accept(ctx, seq, n, v)
}

func (s *Simulated) Learn(ctx context.Context, seq paxos.SequenceNumber, v paxos.Value) error {
	if err := s.deliver(ctx); err != nil {
		return err
	}
	return s.inner.Learn(ctx, seq, v)
}

func (s *Simulated) GetLearnedValuesSince(ctx context.Context, seq paxos.SequenceNumber) ([]storage.LearnedEntry, error) {
	if err := s.deliver(ctx); err != nil {
		return nil, err
	}
	return s.inner.GetLearnedValuesSince(ctx, seq)
}

func (s *Simulated) LatestSequencePreparedOrAccepted(ctx context.Context) (paxos.SequenceNumber, bool, error) {
	if err := s.deliver(ctx); err != nil {
		return paxos.NoLogEntry, false, err
	}
	return s.inner.LatestSequencePreparedOrAccepted(ctx)
}

func (s *Simulated) Ping(ctx context.Context) (bool, error) {
	if err := s.deliver(ctx); err != nil {
		return false, err
	}
	return s.inner.Ping(ctx)
}

func (s *Simulated) GetUUID(ctx context.Context) (string, error) {
	if err := s.deliver(ctx); err != nil {
		return "", err
	}
	return s.inner.GetUUID(ctx)
}

// Network tracks the directed Simulated links of an in-process cluster
// so tests and the demo can partition and heal nodes symmetrically
// instead of flipping individual links.
type Network struct {
	mu    sync.Mutex
	links map[linkKey]*Simulated
	seed  int64
}

type linkKey struct {
	from, to string
}

// NewNetwork returns an empty Network; seed makes the loss model
// reproducible across runs.
func NewNetwork(seed int64) *Network {
	return &Network{links: make(map[linkKey]*Simulated), seed: seed}
}

// Link registers and returns the directed link from caller to callee.
func (n *Network) Link(from, to string, callee Peer) *Simulated {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seed++
	s := NewSimulated(callee, n.seed)
	n.links[linkKey{from: from, to: to}] = s
	return s
}

// Partition cuts both directions between a and b.
func (n *Network) Partition(a, b string) {
	n.setPartitioned(a, b, true)
}

// Heal restores both directions between a and b.
func (n *Network) Heal(a, b string) {
	n.setPartitioned(a, b, false)
}

func (n *Network) setPartitioned(a, b string, partitioned bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, key := range []linkKey{{from: a, to: b}, {from: b, to: a}} {
		if link, ok := n.links[key]; ok {
			link.SetPartitioned(partitioned)
		}
	}
}

// Isolate cuts every link to and from uuid, simulating a dead or
// unreachable node.
func (n *Network) Isolate(uuid string) {
	n.setIsolated(uuid, true)
}

// Restore reconnects every link to and from uuid.
func (n *Network) Restore(uuid string) {
	n.setIsolated(uuid, false)
}

func (n *Network) setIsolated(uuid string, isolated bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for key, link := range n.links {
		if key.from == uuid || key.to == uuid {
			link.SetPartitioned(isolated)
		}
	}
}

// SetMessageLoss applies a uniform drop probability to every link.
func (n *Network) SetMessageLoss(p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, link := range n.links {
		link.SetLossRate(p)
	}
}
