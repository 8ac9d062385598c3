// Package paxos implements the core Paxos data model and the two
// single-instance roles that must be durable: the Acceptor and the
// Learner. Everything here is pure state-machine logic over a single
// sequence number; quorum fan-out across peers lives one layer up, in
// internal/proposer and internal/quorum.
package paxos

import "fmt"

// SequenceNumber identifies one instance (round) of the consensus
// protocol. NoLogEntry means "no round has yet occurred"; the first real
// round is 0.
type SequenceNumber int64

// NoLogEntry is the reserved sentinel meaning no round has occurred yet.
const NoLogEntry SequenceNumber = -1

// BallotNumber is a Paxos proposal number: a per-proposer-monotonic round
// counter with the proposer's UUID as a total-order tiebreaker. Two
// distinct proposers never produce an equal BallotNumber because the
// tiebreak compares UUIDs.
type BallotNumber struct {
	Round        int64
	ProposerUUID string
}

// IsZero reports whether b is the zero BallotNumber, i.e. no ballot has
// ever been proposed or promised.
func (b BallotNumber) IsZero() bool {
	return b.Round == 0 && b.ProposerUUID == ""
}

// GreaterThan reports whether b strictly outranks other: higher round
// wins, ties broken by proposer UUID.
func (b BallotNumber) GreaterThan(other BallotNumber) bool {
	return b.compare(other) > 0
}

// AtLeast reports whether b is greater than or equal to other under the
// same ordering as GreaterThan.
func (b BallotNumber) AtLeast(other BallotNumber) bool {
	return b.compare(other) >= 0
}

// Equal reports whether b and other name the same ballot.
func (b BallotNumber) Equal(other BallotNumber) bool {
	return b == other
}

func (b BallotNumber) compare(other BallotNumber) int {
	if b.Round != other.Round {
		if b.Round > other.Round {
			return 1
		}
		return -1
	}
	switch {
	case b.ProposerUUID == other.ProposerUUID:
		return 0
	case b.ProposerUUID > other.ProposerUUID:
		return 1
	default:
		return -1
	}
}

func (b BallotNumber) String() string {
	return fmt.Sprintf("%d/%s", b.Round, b.ProposerUUID)
}
