package paxos

import "bytes"

// Value is the payload Paxos agrees on for one SequenceNumber: the
// proposer's stable identity plus an opaque payload. LeaderUUID is what
// the election service treats as "who won this round"; Payload is never
// interpreted by this package.
type Value struct {
	Round      SequenceNumber
	LeaderUUID string
	Payload    []byte
}

// Equal reports whether v and other carry the same round, leader and
// payload. A payload mismatch at an otherwise-equal round is still
// "not equal" here; whether that means staleness or corruption is
// decided at a higher layer, not in this comparison.
func (v Value) Equal(other Value) bool {
	return v.Round == other.Round &&
		v.LeaderUUID == other.LeaderUUID &&
		bytes.Equal(v.Payload, other.Payload)
}

// EqualValue reports whether two *Value pointers represent the same
// logical value, treating nil as a distinct third state.
func EqualValue(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
