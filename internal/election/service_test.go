package election_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxosdb/leaderelection/internal/election"
	"github.com/paxosdb/leaderelection/internal/events"
	"github.com/paxosdb/leaderelection/internal/node"
	"github.com/paxosdb/leaderelection/internal/paxos"
	"github.com/paxosdb/leaderelection/internal/storage"
	"github.com/paxosdb/leaderelection/internal/transport"
)

// spyRecorder counts election branch points for assertions.
type spyRecorder struct {
	proposals atomic.Int64
}

func (s *spyRecorder) ProposalAttempt(paxos.SequenceNumber)        { s.proposals.Add(1) }
func (s *spyRecorder) ProposalFailure(paxos.SequenceNumber, error) {}
func (s *spyRecorder) PingTimeout(string)                          {}
func (s *spyRecorder) PingReturnedFalse(string)                    {}
func (s *spyRecorder) PingFailure(string, error)                   {}
func (s *spyRecorder) NoQuorum()                                   {}
func (s *spyRecorder) NotLeading()                                 {}

type testCluster struct {
	nodes []*node.Node
	net   *transport.Network
}

// label returns the network-registry name of node i. Labels are
// distinct even when a test deliberately duplicates UUIDs.
func label(i int) string { return fmt.Sprintf("n%d", i) }

func testConfig(uuid string) election.Config {
	return election.Config{
		ProposerUUID:                        uuid,
		UpdatePollingRate:                   20 * time.Millisecond,
		RandomWaitBeforeProposingLeadership: 30 * time.Millisecond,
		LeaderPingResponseWait:              50 * time.Millisecond,
		RPCTimeout:                          100 * time.Millisecond,
		RoundTimeout:                        time.Second,
	}
}

// newCluster wires an in-process cluster. recs may be nil or hold a
// per-node recorder (nil entries fall back to the discard recorder).
func newCluster(t *testing.T, uuids []string, recs []events.Recorder) *testCluster {
	t.Helper()
	ctx := context.Background()

	nodes := make([]*node.Node, len(uuids))
	for i, id := range uuids {
		n, err := node.New(ctx, id, storage.NewMemoryLog())
		require.NoError(t, err)
		nodes[i] = n
	}

	net := transport.NewNetwork(1)
	for i, n := range nodes {
		var others []transport.Peer
		for j, other := range nodes {
			if j == i {
				continue
			}
			others = append(others, net.Link(label(i), label(j), other.Self()))
		}
		var rec events.Recorder
		if recs != nil {
			rec = recs[i]
		}
		require.NoError(t, n.ConnectPeers(testConfig(n.UUID()), others, rec))
	}
	return &testCluster{nodes: nodes, net: net}
}

func (c *testCluster) elect(t *testing.T, ctx context.Context, i int) election.Token {
	t.Helper()
	token, err := c.nodes[i].Election().BlockOnBecomingLeader(ctx)
	require.NoError(t, err)
	return token
}

func TestColdStartElectsExactlyOneLeader(t *testing.T) {
	c := newCluster(t, []string{"aaaa", "bbbb", "cccc"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type outcome struct {
		idx   int
		token election.Token
		err   error
	}
	results := make(chan outcome, len(c.nodes))
	var wg sync.WaitGroup
	for i, n := range c.nodes {
		i, n := i, n
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := n.Election().BlockOnBecomingLeader(ctx)
			results <- outcome{idx: i, token: tok, err: err}
		}()
	}

	first := <-results
	require.NoError(t, first.err)
	assert.Equal(t, paxos.SequenceNumber(0), first.token.Round())

	// The losers stay blocked, observing the winner; their non-blocking
	// snapshots must deny leadership.
	time.Sleep(100 * time.Millisecond)
	for i, n := range c.nodes {
		if i == first.idx {
			continue
		}
		_, ok := n.Election().GetCurrentTokenIfLeading(ctx)
		assert.False(t, ok, "node %d must not also be leading", i)
	}

	// Every learner converged on the same chosen value.
	winner := c.nodes[first.idx].UUID()
	for _, n := range c.nodes {
		greatest := n.Learner().GetGreatestLearnedValue()
		require.NotNil(t, greatest)
		assert.Equal(t, paxos.SequenceNumber(0), greatest.Round)
		assert.Equal(t, winner, greatest.LeaderUUID)
	}

	cancel()
	wg.Wait()
}

func TestLeaderDiesReplacementElected(t *testing.T) {
	c := newCluster(t, []string{"aaaa", "bbbb", "cccc"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tokenA := c.elect(t, ctx, 0)
	require.Equal(t, paxos.SequenceNumber(0), tokenA.Round())

	c.net.Isolate(label(0))

	tokenB := c.elect(t, ctx, 1)
	assert.Equal(t, paxos.SequenceNumber(1), tokenB.Round())
	assert.Equal(t, election.Leading, c.nodes[1].Election().IsStillLeading(ctx, tokenB))

	// The old leader heals and observes the newer round.
	c.net.Restore(label(0))
	assert.Equal(t, election.NotLeading, c.nodes[0].Election().IsStillLeading(ctx, tokenA))
}

func TestPartitionedMinorityGetsNoQuorum(t *testing.T) {
	c := newCluster(t, []string{"aaaa", "bbbb", "cccc"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tokenA := c.elect(t, ctx, 0)

	c.net.Isolate(label(0))
	assert.Equal(t, election.NoQuorum, c.nodes[0].Election().IsStillLeading(ctx, tokenA),
		"a minority of one cannot confirm or deny leadership")

	tokenB := c.elect(t, ctx, 1)
	require.Equal(t, paxos.SequenceNumber(1), tokenB.Round())

	c.net.Restore(label(0))
	assert.Equal(t, election.NotLeading, c.nodes[0].Election().IsStillLeading(ctx, tokenA))
}

func TestConcurrentIsStillLeadingAgree(t *testing.T) {
	c := newCluster(t, []string{"aaaa", "bbbb", "cccc"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token := c.elect(t, ctx, 0)

	const callers = 100
	statuses := make([]election.Status, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = c.nodes[0].Election().IsStillLeading(ctx, token)
		}()
	}
	wg.Wait()

	for _, s := range statuses {
		assert.Equal(t, election.Leading, s)
	}
}

func TestUUIDConflictRaisesMisconfiguration(t *testing.T) {
	// Node 2 is misconfigured with node 1's UUID. Node 1 discovers this
	// while probing for the dead leader's identity.
	c := newCluster(t, []string{"aaaa", "bbbb", "bbbb"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.elect(t, ctx, 0)
	c.net.Isolate(label(0))

	_, err := c.nodes[1].Election().BlockOnBecomingLeader(ctx)
	require.Error(t, err)
	assert.True(t, election.IsMisconfiguration(err))

	// The service stays responsive, and the error re-raises on the next
	// lookup.
	assert.Equal(t, "bbbb", c.nodes[1].Election().GetUUID())
	assert.False(t, c.nodes[1].Election().Ping())
	_, err = c.nodes[1].Election().BlockOnBecomingLeader(ctx)
	require.Error(t, err)
	assert.True(t, election.IsMisconfiguration(err))
}

func TestStepDown(t *testing.T) {
	c := newCluster(t, []string{"aaaa", "bbbb", "cccc"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token := c.elect(t, ctx, 0)
	svc := c.nodes[0].Election()

	stepped, err := svc.StepDown(ctx)
	require.NoError(t, err)
	assert.True(t, stepped)
	assert.Equal(t, election.NotLeading, svc.IsStillLeading(ctx, token))

	// Not leading anymore: a second step down is a no-op.
	stepped, err = svc.StepDown(ctx)
	require.NoError(t, err)
	assert.False(t, stepped)

	// The anonymous round bars nobody from re-proposing.
	token2 := c.elect(t, ctx, 0)
	assert.Equal(t, paxos.SequenceNumber(2), token2.Round())
}

func TestStepDownWithoutQuorumSurfacesUnavailability(t *testing.T) {
	c := newCluster(t, []string{"aaaa", "bbbb", "cccc"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.elect(t, ctx, 0)

	// Cut the leader off entirely: it cannot confirm its own leadership,
	// let alone get an anonymous value accepted.
	c.net.Isolate(label(0))

	stepped, err := c.nodes[0].Election().StepDown(ctx)
	assert.False(t, stepped)
	require.ErrorIs(t, err, election.ErrServiceNotAvailable)

	// A single healthy remote link keeps a quorum of two reachable, so
	// stepping down succeeds.
	c.net.Restore(label(0))
	c.net.Partition(label(0), label(1))
	stepped, err = c.nodes[0].Election().StepDown(ctx)
	require.NoError(t, err)
	assert.True(t, stepped)
}

func TestResponsiveLeaderSuppressesProposals(t *testing.T) {
	recs := []events.Recorder{nil, &spyRecorder{}, nil}
	c := newCluster(t, []string{"aaaa", "bbbb", "cccc"}, recs)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.elect(t, ctx, 0)

	// Node 1 learned the chosen round during the winner's broadcast.
	require.NotNil(t, c.nodes[1].Learner().GetGreatestLearnedValue())

	// While the leader answers pings, node 1 polls without proposing.
	pollCtx, pollCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer pollCancel()
	_, err := c.nodes[1].Election().BlockOnBecomingLeader(pollCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	spy := recs[1].(*spyRecorder)
	assert.Zero(t, spy.proposals.Load(), "no proposal while the leader is responsive")
}

func TestPingReflectsGreatestLearnedValue(t *testing.T) {
	c := newCluster(t, []string{"aaaa", "bbbb", "cccc"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assert.False(t, c.nodes[0].Election().Ping(), "nothing learned yet")

	c.elect(t, ctx, 0)
	assert.True(t, c.nodes[0].Election().Ping())
	assert.False(t, c.nodes[1].Election().Ping())
}
