// Package storage defines the durable log: an append-only, crash-safe
// record of promises and chosen values per sequence number. The on-disk
// format is left to implementations; this package fixes only the
// crash-safety contract.
package storage

import (
	"context"
	"fmt"

	"github.com/paxosdb/leaderelection/internal/paxos"
)

// Record is the durable per-seq state: the acceptor's highest promise,
// its last accepted ballot/value (if any), and the learned value (if
// any). WriteAndFlush must make a Record visible to Read only once it is
// durable.
type Record struct {
	PromisedBallot paxos.BallotNumber
	AcceptedBallot paxos.BallotNumber
	AcceptedValue  *paxos.Value
	LearnedValue   *paxos.Value
}

// Log is the durable log abstraction. Serialization of concurrent
// writes to the same seq is the caller's job (the Acceptor holds its
// lock across the read-modify-flush), and corruption must surface as an
// error rather than be silently skipped.
type Log interface {
	// WriteAndFlush persists rec for seq and returns only once durable.
	WriteAndFlush(ctx context.Context, seq paxos.SequenceNumber, rec Record) error

	// Read returns the last durable Record for seq, or ok=false if none
	// has ever been written.
	Read(ctx context.Context, seq paxos.SequenceNumber) (rec Record, ok bool, err error)

	// Latest returns the greatest seq for which any record exists
	// (promised, accepted, or learned), or ok=false if the log is empty.
	// Backs Acceptor.LatestSequencePreparedOrAccepted.
	Latest(ctx context.Context) (seq paxos.SequenceNumber, ok bool, err error)

	// Since returns every learned value at seq' >= seq, ordered by seq
	// ascending. Backs learner catch-up.
	Since(ctx context.Context, seq paxos.SequenceNumber) ([]LearnedEntry, error)
}

// LearnedEntry pairs a sequence number with its chosen value for
// catch-up responses.
type LearnedEntry struct {
	Seq   paxos.SequenceNumber
	Value paxos.Value
}

// ErrCorrupted signals unrecoverable log corruption: the stored bytes
// for seq could not be interpreted as a valid Record. Log
// implementations that can detect this wrap it with the offending seq.
type ErrCorrupted struct {
	Seq   paxos.SequenceNumber
	Cause error
}

func (e *ErrCorrupted) Error() string {
	return fmt.Sprintf("paxos durable log: seq %d corrupted: %v", e.Seq, e.Cause)
}

func (e *ErrCorrupted) Unwrap() error { return e.Cause }
