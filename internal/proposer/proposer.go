// Package proposer drives two-phase Paxos rounds against the cluster's
// acceptors. The proposer is the active role: acceptors wait passively
// for messages while the proposer picks ballot numbers, runs the
// prepare and accept phases, and notifies learners once a value is
// chosen.
package proposer

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/paxosdb/leaderelection/internal/paxos"
	"github.com/paxosdb/leaderelection/internal/quorum"
	"github.com/paxosdb/leaderelection/internal/transport"
)

// ErrRejected signals that a phase was rejected by a higher ballot; the
// proposer retries internally with a higher one.
var ErrRejected = errors.New("proposer: proposal rejected")

// ErrRoundFailed is the terminal outcome of Propose: the round could
// not reach quorum before its deadline. It leaves no durable local side
// effect beyond the acceptors' own promise bookkeeping; callers recover
// by retrying later or by observing a newer learned value.
var ErrRoundFailed = errors.New("proposer: round failed to reach quorum")

// Proposer runs Paxos rounds on behalf of one node. Ballot numbers from
// successive calls strictly increase, and ties across proposers are
// impossible because the ballot carries the proposer's UUID as a
// total-order tiebreaker.
type Proposer struct {
	uuid       string
	peers      []transport.Peer
	quorumSize int

	// roundTimeout bounds one whole Propose call; rpcTimeout bounds each
	// individual phase wave inside it.
	roundTimeout time.Duration
	rpcTimeout   time.Duration

	// mu serializes rounds from this node and guards highestRound, which
	// ratchets up on every attempt and every observed rejection so the
	// next ballot always outranks everything this proposer has seen.
	mu           sync.Mutex
	highestRound int64
}

// New returns a Proposer identified by uuid over peers (self included).
func New(uuid string, peers []transport.Peer, quorumSize int, roundTimeout, rpcTimeout time.Duration) *Proposer {
	return &Proposer{
		uuid:         uuid,
		peers:        peers,
		quorumSize:   quorumSize,
		roundTimeout: roundTimeout,
		rpcTimeout:   rpcTimeout,
	}
}

// Propose drives seq to a chosen value, starting from candidate. The
// returned value is whatever the round actually chose, which may be a
// competing proposer's value adopted during Phase 1. On quorum accept
// the chosen value is broadcast to all learners best effort before
// returning. Only rejections by a higher ballot are retried; a phase
// wave that ends without a quorum, or a round that runs past its
// deadline, returns ErrRoundFailed.
func (p *Proposer) Propose(ctx context.Context, seq paxos.SequenceNumber, candidate paxos.Value) (paxos.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	roundCtx, cancel := context.WithTimeout(ctx, p.roundTimeout)
	defer cancel()

	for {
		if err := roundCtx.Err(); err != nil {
			return paxos.Value{}, pkgerrors.Wrap(ErrRoundFailed, err.Error())
		}

		ballot := p.generateProposalNumber()

		value, err := p.runPhase1(roundCtx, seq, ballot, candidate)
		if errors.Is(err, ErrRejected) {
			continue
		}
		if err != nil {
			return paxos.Value{}, pkgerrors.Wrap(ErrRoundFailed, err.Error())
		}

		err = p.runPhase2(roundCtx, seq, ballot, value)
		if errors.Is(err, ErrRejected) {
			continue
		}
		if err != nil {
			return paxos.Value{}, pkgerrors.Wrap(ErrRoundFailed, err.Error())
		}

		p.broadcastLearn(ctx, seq, value)
		return value, nil
	}
}

// runPhase1 sends Prepare to every acceptor and waits for a quorum of
// promises. If any acceptor already accepted a value, the value from
// the highest-numbered accepted proposal is adopted in place of
// candidate. A rejection ratchets highestRound and returns ErrRejected
// so the caller retries with a higher ballot.
func (p *Proposer) runPhase1(ctx context.Context, seq paxos.SequenceNumber, ballot paxos.BallotNumber, candidate paxos.Value) (paxos.Value, error) {
	collected := quorum.CollectUntil(ctx, p.peers, p.rpcTimeout,
		func(ctx context.Context, peer transport.Peer) (paxos.Promise, error) {
			return peer.Prepare(ctx, seq, ballot)
		},
		func(c quorum.Collected[paxos.Promise]) bool {
			return anyRejection(c) || countGranted(c) >= p.quorumSize
		},
	)

	for _, r := range collected.Successes {
		if !r.Value.Granted {
			p.handleRejection(r.Value.PromisedBallot)
			return paxos.Value{}, ErrRejected
		}
	}
	if countGranted(collected) < p.quorumSize {
		return paxos.Value{}, pkgerrors.Errorf("prepare quorum not reached: %d/%d promises", countGranted(collected), p.quorumSize)
	}

	// Safety rule: scan every promise, not just the first with an
	// accepted value, and adopt the value of the highest accepted
	// ballot. Proposing anything else could choose a second value for a
	// round that already chose one.
	value := candidate
	var highestAccepted paxos.BallotNumber
	for _, r := range collected.Successes {
		promise := r.Value
		if promise.AcceptedValue != nil && promise.AcceptedBallot.GreaterThan(highestAccepted) {
			highestAccepted = promise.AcceptedBallot
			value = *promise.AcceptedValue
		}
	}
	return value, nil
}

// runPhase2 sends Accept(ballot, value) to every acceptor and waits for
// a quorum of acks. Any rejection means a higher ballot got in between
// our phases; ratchet and retry from Phase 1.
func (p *Proposer) runPhase2(ctx context.Context, seq paxos.SequenceNumber, ballot paxos.BallotNumber, value paxos.Value) error {
	collected := quorum.CollectUntil(ctx, p.peers, p.rpcTimeout,
		func(ctx context.Context, peer transport.Peer) (paxos.Accepted, error) {
			return peer.Accept(ctx, seq, ballot, value)
		},
		func(c quorum.Collected[paxos.Accepted]) bool {
			return anyAcceptRejection(c) || countAccepted(c) >= p.quorumSize
		},
	)

	for _, r := range collected.Successes {
		if !r.Value.Granted {
			p.handleRejection(r.Value.PromisedBallot)
			return ErrRejected
		}
	}
	if countAccepted(collected) < p.quorumSize {
		return pkgerrors.Errorf("accept quorum not reached: %d/%d acks", countAccepted(collected), p.quorumSize)
	}
	return nil
}

// broadcastLearn tells every learner the chosen value. Best effort: the
// value is already chosen, and any learner that misses this hears about
// it through catch-up.
func (p *Proposer) broadcastLearn(ctx context.Context, seq paxos.SequenceNumber, value paxos.Value) {
	quorum.CollectUntil(ctx, p.peers, p.rpcTimeout,
		func(ctx context.Context, peer transport.Peer) (struct{}, error) {
			return struct{}{}, peer.Learn(ctx, seq, value)
		},
		nil,
	)
}

// generateProposalNumber ratchets highestRound and stamps it with this
// proposer's UUID. Called with mu held.
func (p *Proposer) generateProposalNumber() paxos.BallotNumber {
	p.highestRound++
	return paxos.BallotNumber{Round: p.highestRound, ProposerUUID: p.uuid}
}

// handleRejection raises highestRound past the rejecting ballot so the
// next generated ballot outranks it. Called with mu held.
func (p *Proposer) handleRejection(highestSeen paxos.BallotNumber) {
	if highestSeen.Round > p.highestRound {
		p.highestRound = highestSeen.Round
	}
}

func countGranted(c quorum.Collected[paxos.Promise]) int {
	n := 0
	for _, r := range c.Successes {
		if r.Value.Granted {
			n++
		}
	}
	return n
}

func anyRejection(c quorum.Collected[paxos.Promise]) bool {
	for _, r := range c.Successes {
		if !r.Value.Granted {
			return true
		}
	}
	return false
}

func countAccepted(c quorum.Collected[paxos.Accepted]) int {
	n := 0
	for _, r := range c.Successes {
		if r.Value.Granted {
			n++
		}
	}
	return n
}

func anyAcceptRejection(c quorum.Collected[paxos.Accepted]) bool {
	for _, r := range c.Successes {
		if !r.Value.Granted {
			return true
		}
	}
	return false
}
