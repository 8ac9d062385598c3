// Package transport defines the peer RPC surface and the concrete peer
// variants used to reach it. Framing is opaque here: every Peer call
// takes a context.Context deadline, and the only requirement is reliable
// request/response with distinct failure domains per peer, so one slow
// peer can never stall another.
package transport

import (
	"context"
	"errors"

	"github.com/paxosdb/leaderelection/internal/paxos"
	"github.com/paxosdb/leaderelection/internal/storage"
)

// Peer is the per-peer RPC capability set. Every method takes a
// deadline via ctx. A Peer may be the local node (direct dispatch, no
// RPC) or a remote node reached over some wire transport; callers never
// need to know which.
type Peer interface {
	Prepare(ctx context.Context, seq paxos.SequenceNumber, n paxos.BallotNumber) (paxos.Promise, error)
	Accept(ctx context.Context, seq paxos.SequenceNumber, n paxos.BallotNumber, v paxos.Value) (paxos.Accepted, error)
	Learn(ctx context.Context, seq paxos.SequenceNumber, v paxos.Value) error
	GetLearnedValuesSince(ctx context.Context, seq paxos.SequenceNumber) ([]storage.LearnedEntry, error)
	LatestSequencePreparedOrAccepted(ctx context.Context) (paxos.SequenceNumber, bool, error)
	Ping(ctx context.Context) (bool, error)
	GetUUID(ctx context.Context) (string, error)
}

// ErrPartitioned is returned by a Simulated peer while it is configured
// as unreachable.
var ErrPartitioned = errors.New("transport: peer unreachable (partitioned)")

// ErrDropped is returned by a Simulated peer when it randomly drops a
// call, modeling message loss on an asynchronous network.
var ErrDropped = errors.New("transport: message dropped")
