package paxos

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxosdb/leaderelection/internal/storage"
)

func newLearner(t *testing.T, log storage.Log) *Learner {
	t.Helper()
	l, err := NewLearner(context.Background(), log)
	require.NoError(t, err)
	return l
}

func TestLearnerLearnIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newLearner(t, storage.NewMemoryLog())

	v := Value{Round: 0, LeaderUUID: "a"}
	require.NoError(t, l.Learn(ctx, 0, v))
	require.NoError(t, l.Learn(ctx, 0, v), "re-learning the same value is a no-op")

	got, err := l.GetLearnedValue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(v))
}

func TestLearnerConflictingLearnIsFatal(t *testing.T) {
	ctx := context.Background()
	l := newLearner(t, storage.NewMemoryLog())

	require.NoError(t, l.Learn(ctx, 0, Value{Round: 0, LeaderUUID: "a"}))

	err := l.Learn(ctx, 0, Value{Round: 0, LeaderUUID: "b"})
	var mismatch *ErrLearnedValueMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, SequenceNumber(0), mismatch.Seq)

	// The original chosen value is untouched.
	got, err := l.GetLearnedValue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", got.LeaderUUID)
}

func TestLearnerGreatestLearnedValue(t *testing.T) {
	ctx := context.Background()
	l := newLearner(t, storage.NewMemoryLog())

	assert.Nil(t, l.GetGreatestLearnedValue())

	require.NoError(t, l.Learn(ctx, 0, Value{Round: 0, LeaderUUID: "a"}))
	require.NoError(t, l.Learn(ctx, 2, Value{Round: 2, LeaderUUID: "b"}))
	require.NoError(t, l.Learn(ctx, 1, Value{Round: 1, LeaderUUID: "c"}))

	greatest := l.GetGreatestLearnedValue()
	require.NotNil(t, greatest)
	assert.Equal(t, SequenceNumber(2), greatest.Round)
	assert.Equal(t, "b", greatest.LeaderUUID)
}

func TestLearnerRecoversGreatestFromLog(t *testing.T) {
	ctx := context.Background()
	log := storage.NewMemoryLog()

	l := newLearner(t, log)
	require.NoError(t, l.Learn(ctx, 5, Value{Round: 5, LeaderUUID: "a"}))

	recovered := newLearner(t, log)
	greatest := recovered.GetGreatestLearnedValue()
	require.NotNil(t, greatest)
	assert.Equal(t, SequenceNumber(5), greatest.Round)
}

func TestLearnerLearnedValuesSince(t *testing.T) {
	ctx := context.Background()
	l := newLearner(t, storage.NewMemoryLog())

	for _, seq := range []SequenceNumber{0, 1, 3} {
		require.NoError(t, l.Learn(ctx, seq, Value{Round: seq, LeaderUUID: "a"}))
	}

	entries, err := l.GetLearnedValuesSince(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, SequenceNumber(1), entries[0].Seq)
	assert.Equal(t, SequenceNumber(3), entries[1].Seq)
}
