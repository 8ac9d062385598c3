package paxos

import (
	"context"
	"sync"

	"github.com/paxosdb/leaderelection/internal/storage"
)

// Acceptor is the Phase 1b/2b local state machine over the durable log.
// Its two rules are the whole of Paxos safety: never promise backwards,
// never accept below the highest promise.
type Acceptor struct {
	// mu serializes concurrent Prepare/Accept calls. A single mutex
	// rather than a per-seq lock table: leader election runs a handful
	// of rounds, and a single lock keeps the log-then-reply sequencing
	// trivially correct.
	mu  sync.Mutex
	log storage.Log
}

// NewAcceptor returns an Acceptor backed by log.
func NewAcceptor(log storage.Log) *Acceptor {
	return &Acceptor{log: log}
}

// Prepare handles Phase 1a. If n is strictly greater than the current
// promise, the promise is raised and flushed before any reply.
// Rejections don't mutate state, so nothing to flush on that path.
func (a *Acceptor) Prepare(ctx context.Context, seq SequenceNumber, n BallotNumber) (Promise, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, _, err := a.log.Read(ctx, seq)
	if err != nil {
		return Promise{}, err
	}

	if !n.GreaterThan(rec.PromisedBallot) {
		return Promise{Granted: false, PromisedBallot: rec.PromisedBallot}, nil
	}

	rec.PromisedBallot = n
	if err := a.log.WriteAndFlush(ctx, seq, rec); err != nil {
		return Promise{}, err
	}

	return Promise{
		Granted:        true,
		PromisedBallot: n,
		AcceptedBallot: rec.AcceptedBallot,
		AcceptedValue:  rec.AcceptedValue,
	}, nil
}

// Accept handles Phase 2a. Note the comparison is >=, not >: an
// acceptor must accept at the exact ballot it just promised, otherwise
// the promise it made is worthless.
func (a *Acceptor) Accept(ctx context.Context, seq SequenceNumber, n BallotNumber, v Value) (Accepted, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, _, err := a.log.Read(ctx, seq)
	if err != nil {
		return Accepted{}, err
	}

	if !n.AtLeast(rec.PromisedBallot) {
		return Accepted{Granted: false, PromisedBallot: rec.PromisedBallot}, nil
	}

	rec.PromisedBallot = n
	rec.AcceptedBallot = n
	av := v
	rec.AcceptedValue = &av
	if err := a.log.WriteAndFlush(ctx, seq, rec); err != nil {
		return Accepted{}, err
	}

	return Accepted{Granted: true, PromisedBallot: n}, nil
}

// LatestSequencePreparedOrAccepted returns the greatest seq this
// acceptor has promised or accepted at, the primitive the latest-round
// verifier polls across a quorum of acceptors.
func (a *Acceptor) LatestSequencePreparedOrAccepted(ctx context.Context) (SequenceNumber, bool, error) {
	return a.log.Latest(ctx)
}
