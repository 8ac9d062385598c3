package transport

import (
	"context"

	"github.com/paxosdb/leaderelection/internal/paxos"
	"github.com/paxosdb/leaderelection/internal/storage"
)

// Local is the self peer: it dispatches directly to this node's own
// Acceptor and Learner with no RPC round trip, breaking the
// cyclic-ownership problem of a node listing itself among its own
// potential leaders.
type Local struct {
	UUID     string
	Acceptor *paxos.Acceptor
	Learner  *paxos.Learner
}

func (l *Local) Prepare(ctx context.Context, seq paxos.SequenceNumber, n paxos.BallotNumber) (paxos.Promise, error) {
	return l.Acceptor.Prepare(ctx, seq, n)
}

func (l *Local) Accept(ctx context.Context, seq paxos.SequenceNumber, n paxos.BallotNumber, v paxos.Value) (paxos.Accepted, error) {
	return l.Acceptor.Accept(ctx, seq, n, v)
}

func (l *Local) Learn(ctx context.Context, seq paxos.SequenceNumber, v paxos.Value) error {
	return l.Learner.Learn(ctx, seq, v)
}

func (l *Local) GetLearnedValuesSince(ctx context.Context, seq paxos.SequenceNumber) ([]storage.LearnedEntry, error) {
	return l.Learner.GetLearnedValuesSince(ctx, seq)
}

func (l *Local) LatestSequencePreparedOrAccepted(ctx context.Context) (paxos.SequenceNumber, bool, error) {
	return l.Acceptor.LatestSequencePreparedOrAccepted(ctx)
}

// Ping reports whether this node is the leader for its own greatest
// learned value.
func (l *Local) Ping(ctx context.Context) (bool, error) {
	greatest := l.Learner.GetGreatestLearnedValue()
	return greatest != nil && greatest.LeaderUUID == l.UUID, nil
}

func (l *Local) GetUUID(ctx context.Context) (string, error) {
	return l.UUID, nil
}
