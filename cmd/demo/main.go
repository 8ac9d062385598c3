// Demo: an in-process three-node cluster electing a leader, surviving
// the leader's death, and re-electing. Run with `go run ./cmd/demo`.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/paxosdb/leaderelection/internal/election"
	"github.com/paxosdb/leaderelection/internal/events"
	"github.com/paxosdb/leaderelection/internal/node"
	"github.com/paxosdb/leaderelection/internal/storage"
	"github.com/paxosdb/leaderelection/internal/transport"
)

const clusterSize = 3

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "demo failed:", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Build every node's local half first; peers can only be linked once
	// all of them exist.
	nodes := make([]*node.Node, clusterSize)
	for i := range nodes {
		n, err := node.New(ctx, uuid.NewString(), storage.NewMemoryLog())
		if err != nil {
			return err
		}
		nodes[i] = n
	}

	network := transport.NewNetwork(1)
	metrics := events.NewMetrics(prometheus.NewRegistry())
	for _, n := range nodes {
		var others []transport.Peer
		for _, other := range nodes {
			if other == n {
				continue
			}
			others = append(others, network.Link(n.UUID(), other.UUID(), other.Self()))
		}
		cfg := election.Config{
			ProposerUUID:                        n.UUID(),
			UpdatePollingRate:                   200 * time.Millisecond,
			RandomWaitBeforeProposingLeadership: 150 * time.Millisecond,
			LeaderPingResponseWait:              100 * time.Millisecond,
			RPCTimeout:                          100 * time.Millisecond,
			RoundTimeout:                        2 * time.Second,
		}
		rec := &events.ZapRecorder{
			Log:     logger.With(zap.String("node", shortID(n.UUID()))),
			Metrics: metrics,
		}
		if err := n.ConnectPeers(cfg, others, rec); err != nil {
			return err
		}
	}

	fmt.Println("=== cold start: all three nodes race for leadership ===")
	winner := electionWinner(ctx, nodes)
	leader := nodes[winner]
	token, err := leader.Election().BlockOnBecomingLeader(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("node %s is leader for round %d\n", shortID(leader.UUID()), token.Round())

	fmt.Printf("leader answers ping: %v\n", leader.Election().Ping())
	fmt.Printf("leader re-validates its token: %s\n", leader.Election().IsStillLeading(ctx, token))

	fmt.Println("=== leader dies: survivors elect a replacement ===")
	network.Isolate(leader.UUID())

	var survivors []*node.Node
	for _, n := range nodes {
		if n != leader {
			survivors = append(survivors, n)
		}
	}
	replacement := survivors[electionWinner(ctx, survivors)]
	newToken, err := replacement.Election().BlockOnBecomingLeader(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("node %s took over at round %d\n", shortID(replacement.UUID()), newToken.Round())

	fmt.Println("=== partition heals: old leader observes the newer round ===")
	network.Restore(leader.UUID())
	for leader.Election().IsStillLeading(ctx, token) != election.NotLeading {
		if err := ctx.Err(); err != nil {
			return err
		}
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Printf("old leader's token for round %d is now %s\n",
		token.Round(), leader.Election().IsStillLeading(ctx, token))

	fmt.Println("=== new leader steps down voluntarily ===")
	stepped, err := replacement.Election().StepDown(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("step down: %v; token now %s\n",
		stepped, replacement.Election().IsStillLeading(ctx, newToken))
	return nil
}

// electionWinner races every node's BlockOnBecomingLeader and returns
// the index of the first to win. The losers keep blocking in their
// ping-the-leader loop; their goroutines die with the process.
func electionWinner(ctx context.Context, nodes []*node.Node) int {
	won := make(chan int, len(nodes))
	for i, n := range nodes {
		i, n := i, n
		go func() {
			if _, err := n.Election().BlockOnBecomingLeader(ctx); err == nil {
				won <- i
			}
		}()
	}
	return <-won
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
