package quorum

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxosdb/leaderelection/internal/transport"
)

// fakePeer is an identity-only stand-in; the request function supplies
// all behavior, so none of the embedded interface's methods are called.
type fakePeer struct {
	transport.Peer
	name string
}

func peerSet(names ...string) []transport.Peer {
	out := make([]transport.Peer, len(names))
	for i, n := range names {
		out[i] = &fakePeer{name: n}
	}
	return out
}

func TestSize(t *testing.T) {
	assert.Equal(t, 2, Size(3))
	assert.Equal(t, 3, Size(4))
	assert.Equal(t, 3, Size(5))
	assert.Equal(t, 1, Size(1))
}

func TestCollectUntilAllRespond(t *testing.T) {
	peers := peerSet("a", "b", "c")

	c := CollectUntil(context.Background(), peers, time.Second,
		func(_ context.Context, p transport.Peer) (string, error) {
			return p.(*fakePeer).name, nil
		},
		nil,
	)

	assert.Len(t, c.Successes, 3)
	assert.Empty(t, c.Failures)
	assert.True(t, c.HasQuorumOf(2))
}

func TestCollectUntilPredicateShortCircuits(t *testing.T) {
	peers := peerSet("fast", "slow")
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	c := CollectUntil(context.Background(), peers, 5*time.Second,
		func(ctx context.Context, p transport.Peer) (string, error) {
			if p.(*fakePeer).name == "slow" {
				select {
				case <-release:
				case <-ctx.Done():
				}
			}
			return p.(*fakePeer).name, nil
		},
		func(c Collected[string]) bool { return len(c.Successes) >= 1 },
	)

	assert.Len(t, c.Successes, 1)
	assert.Equal(t, "fast", c.Successes[0].Value)
	assert.Less(t, time.Since(start), time.Second, "must not wait for the slow peer")
}

func TestCollectUntilDeadline(t *testing.T) {
	peers := peerSet("a", "b", "c")

	c := CollectUntil(context.Background(), peers, 50*time.Millisecond,
		func(ctx context.Context, p transport.Peer) (string, error) {
			if p.(*fakePeer).name == "a" {
				return "a", nil
			}
			<-ctx.Done()
			return "", ctx.Err()
		},
		nil,
	)

	assert.False(t, c.HasQuorumOf(2), "only one peer answered before the deadline")
	require.NotEmpty(t, c.Successes)
	assert.Equal(t, "a", c.Successes[0].Value)
}

func TestCollectUntilRecordsFailures(t *testing.T) {
	peers := peerSet("ok", "broken", "ok2")
	errBroken := errors.New("boom")

	c := CollectUntil(context.Background(), peers, time.Second,
		func(_ context.Context, p transport.Peer) (string, error) {
			if p.(*fakePeer).name == "broken" {
				return "", errBroken
			}
			return p.(*fakePeer).name, nil
		},
		nil,
	)

	assert.Len(t, c.Successes, 2)
	require.Len(t, c.Failures, 1)
	assert.ErrorIs(t, c.Failures[0].Err, errBroken)
}

func TestCollectUntilSlowPeerDoesNotBlockOthers(t *testing.T) {
	peers := peerSet("a", "b", "stuck")
	release := make(chan struct{})
	defer close(release)

	c := CollectUntil(context.Background(), peers, 5*time.Second,
		func(ctx context.Context, p transport.Peer) (string, error) {
			if p.(*fakePeer).name == "stuck" {
				select {
				case <-release:
				case <-ctx.Done():
				}
				return "", ctx.Err()
			}
			return p.(*fakePeer).name, nil
		},
		func(c Collected[string]) bool { return c.HasQuorumOf(2) },
	)

	assert.True(t, c.HasQuorumOf(2), "quorum must form around the stuck peer")
}
