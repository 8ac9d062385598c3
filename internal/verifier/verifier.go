// Package verifier answers "is round R still the latest?" against a
// quorum of acceptors, coalescing concurrent identical queries into a
// single in-flight RPC wave.
package verifier

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/paxosdb/leaderelection/internal/paxos"
	"github.com/paxosdb/leaderelection/internal/quorum"
	"github.com/paxosdb/leaderelection/internal/transport"
)

// Status is the outcome of a latest-round check.
type Status int

const (
	// Latest: a quorum of acceptors responded and none reported a
	// sequence number greater than the queried one.
	Latest Status = iota
	// NotLatest: some acceptor has prepared or accepted a greater
	// sequence number, so the queried round is stale.
	NotLatest
	// NoQuorum: fewer than a quorum of acceptors responded before the
	// deadline; the answer is unknown.
	NoQuorum
)

func (s Status) String() string {
	switch s {
	case Latest:
		return "LATEST"
	case NotLatest:
		return "NOT_LATEST"
	case NoQuorum:
		return "NO_QUORUM"
	default:
		return "UNKNOWN"
	}
}

// Verifier runs latest-round quorum waves. Concurrent IsLatestRound
// calls for the same seq share one wave via singleflight; results are
// never cached past the wave itself, so every call after a wave
// completes triggers a fresh one.
type Verifier struct {
	peers      []transport.Peer
	quorumSize int
	rpcTimeout time.Duration

	inflight singleflight.Group
}

// New returns a Verifier over peers (self included) with the given
// quorum size and per-wave deadline.
func New(peers []transport.Peer, quorumSize int, rpcTimeout time.Duration) *Verifier {
	return &Verifier{peers: peers, quorumSize: quorumSize, rpcTimeout: rpcTimeout}
}

// latestReply is one acceptor's answer: its greatest prepared-or-accepted
// seq, or none if its log is empty.
type latestReply struct {
	seq paxos.SequenceNumber
	ok  bool
}

// IsLatestRound reports whether seq is still the greatest round any
// quorum acceptor has seen. Callers racing on the same seq join the
// wave already in flight; a different seq starts its own wave
// immediately (singleflight keys are per-seq).
func (v *Verifier) IsLatestRound(ctx context.Context, seq paxos.SequenceNumber) Status {
	key := strconv.FormatInt(int64(seq), 10)
	res, _, _ := v.inflight.Do(key, func() (interface{}, error) {
		return v.runWave(ctx, seq), nil
	})
	return res.(Status)
}

func (v *Verifier) runWave(ctx context.Context, seq paxos.SequenceNumber) Status {
	collected := quorum.CollectUntil(ctx, v.peers, v.rpcTimeout,
		func(ctx context.Context, p transport.Peer) (latestReply, error) {
			s, ok, err := p.LatestSequencePreparedOrAccepted(ctx)
			return latestReply{seq: s, ok: ok}, err
		},
		func(c quorum.Collected[latestReply]) bool {
			// A single greater seq already decides the answer; otherwise
			// wait for a quorum of replies.
			return anyGreater(c, seq) || c.HasQuorumOf(v.quorumSize)
		},
	)

	switch {
	case anyGreater(collected, seq):
		return NotLatest
	case collected.HasQuorumOf(v.quorumSize):
		return Latest
	default:
		return NoQuorum
	}
}

func anyGreater(c quorum.Collected[latestReply], seq paxos.SequenceNumber) bool {
	for _, r := range c.Successes {
		if r.Value.ok && r.Value.seq > seq {
			return true
		}
	}
	return false
}
