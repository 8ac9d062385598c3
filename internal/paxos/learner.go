package paxos

import (
	"context"
	"fmt"
	"sync"

	"github.com/paxosdb/leaderelection/internal/storage"
)

// ErrLearnedValueMismatch is the fatal invariant violation of learning
// two different values for the same seq. A Learner that
// returns this has a corrupted view of consensus; callers should not
// retry, they should surface it.
type ErrLearnedValueMismatch struct {
	Seq      SequenceNumber
	Existing Value
	Attempt  Value
}

func (e *ErrLearnedValueMismatch) Error() string {
	return fmt.Sprintf("paxos: seq %d already learned %+v, cannot learn different value %+v", e.Seq, e.Existing, e.Attempt)
}

// Learner stores and serves chosen values per round. It keeps an
// in-memory cache of the greatest learned seq so GetGreatestLearnedValue,
// called on every leadership decision, never has to scan the whole log.
type Learner struct {
	mu       sync.Mutex
	log      storage.Log
	greatest *Value
}

// NewLearner returns a Learner backed by log, replaying any already
// learned values to seed the greatest-learned cache (crash recovery).
func NewLearner(ctx context.Context, log storage.Log) (*Learner, error) {
	l := &Learner{log: log}
	entries, err := log.Since(ctx, NoLogEntry+1)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		v := e.Value
		if l.greatest == nil || v.Round > l.greatest.Round {
			l.greatest = &v
		}
	}
	return l, nil
}

// Learn records v as chosen for seq. A second Learn for the same seq
// with a different value returns ErrLearnedValueMismatch without
// mutating state; an identical repeat is a no-op success.
func (l *Learner) Learn(ctx context.Context, seq SequenceNumber, v Value) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, _, err := l.log.Read(ctx, seq)
	if err != nil {
		return err
	}
	if rec.LearnedValue != nil {
		if rec.LearnedValue.Equal(v) {
			return nil
		}
		return &ErrLearnedValueMismatch{Seq: seq, Existing: *rec.LearnedValue, Attempt: v}
	}

	lv := v
	rec.LearnedValue = &lv
	if err := l.log.WriteAndFlush(ctx, seq, rec); err != nil {
		return err
	}
	if l.greatest == nil || v.Round > l.greatest.Round {
		g := v
		l.greatest = &g
	}
	return nil
}

// GetLearnedValue returns the chosen value for seq, if any.
func (l *Learner) GetLearnedValue(ctx context.Context, seq SequenceNumber) (*Value, error) {
	rec, ok, err := l.log.Read(ctx, seq)
	if err != nil || !ok {
		return nil, err
	}
	return rec.LearnedValue, nil
}

// GetGreatestLearnedValue returns the highest-seq chosen value this
// learner has observed, or nil if nothing has been learned yet.
func (l *Learner) GetGreatestLearnedValue() *Value {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.greatest == nil {
		return nil
	}
	v := *l.greatest
	return &v
}

// GetLearnedValuesSince returns every learned entry at seq' >= seq,
// ordered ascending. Catch-up responders serve from this.
func (l *Learner) GetLearnedValuesSince(ctx context.Context, seq SequenceNumber) ([]storage.LearnedEntry, error) {
	return l.log.Since(ctx, seq)
}
