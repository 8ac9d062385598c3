package election

import "github.com/paxosdb/leaderelection/internal/paxos"

// Status is the answer to "am I (still) the leader?".
type Status int

const (
	// Leading: this node's UUID is in the greatest learned value and a
	// quorum confirmed no newer round exists.
	Leading Status = iota
	// NotLeading: another node leads, or this node's view is stale.
	NotLeading
	// NoQuorum: the check could not assemble a quorum; the answer is
	// unknown and the caller should retry.
	NoQuorum
)

func (s Status) String() string {
	switch s {
	case Leading:
		return "LEADING"
	case NotLeading:
		return "NOT_LEADING"
	case NoQuorum:
		return "NO_QUORUM"
	default:
		return "UNKNOWN"
	}
}

// Token is the opaque handle handed to a confirmed leader. It wraps the
// Paxos value that made this node leader; it is valid only until a
// higher round is learned, and must be re-checked with IsStillLeading
// before each use.
type Token struct {
	value paxos.Value
}

// Round returns the sequence number this token was issued for.
func (t Token) Round() paxos.SequenceNumber {
	return t.value.Round
}
