// Package quorum implements deadline-bounded fan-out over a peer set:
// dispatch a request to every peer on its own goroutine, accumulate
// responses, and return as soon as a caller-supplied predicate holds,
// every peer has answered or failed, or the deadline elapses. One slow
// or blocked peer never stalls the others, and stragglers left running
// after an early return are cancelled but never awaited.
package quorum

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paxosdb/leaderelection/internal/transport"
)

// Size returns the majority quorum size for a cluster of n peers
// including self: floor(n/2)+1.
func Size(n int) int {
	return n/2 + 1
}

// Response pairs a successful reply with the peer that produced it.
type Response[T any] struct {
	Peer  transport.Peer
	Value T
}

// Failure pairs a failed request with the peer it was sent to.
type Failure struct {
	Peer transport.Peer
	Err  error
}

// Collected is the outcome of one fan-out wave. Successes and Failures
// together never exceed the peer count; peers that had not answered
// when the wave ended appear in neither.
type Collected[T any] struct {
	Successes []Response[T]
	Failures  []Failure
}

// HasQuorumOf reports whether at least q successful responses arrived.
func (c Collected[T]) HasQuorumOf(q int) bool {
	return len(c.Successes) >= q
}

// outcome carries one peer's result through the collection channel.
type outcome[T any] struct {
	peer  transport.Peer
	value T
	err   error
}

// CollectUntil dispatches fn to every peer concurrently and collects
// results until predicate(collected) holds, all peers have responded or
// failed, or timeout elapses, whichever comes first. The per-request
// context is cancelled on return; detached requests finish on their own
// and their results are discarded.
//
// predicate is evaluated after every arrival, so it can short-circuit a
// wave the moment enough evidence exists ("quorum promised", "any peer
// claims UUID X"). A nil predicate collects until all-responded or
// deadline.
func CollectUntil[T any](
	ctx context.Context,
	peers []transport.Peer,
	timeout time.Duration,
	fn func(context.Context, transport.Peer) (T, error),
	predicate func(Collected[T]) bool,
) Collected[T] {
	waveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered to the peer count so detached workers can always deliver
	// and exit; nobody reads the channel after CollectUntil returns.
	results := make(chan outcome[T], len(peers))

	var g errgroup.Group
	for _, p := range peers {
		p := p
		g.Go(func() error {
			v, err := fn(waveCtx, p)
			results <- outcome[T]{peer: p, value: v, err: err}
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait() // workers never return errors
		close(done)
	}()

	var collected Collected[T]
	outstanding := len(peers)
	for outstanding > 0 {
		select {
		case o := <-results:
			outstanding--
			if o.err != nil {
				collected.Failures = append(collected.Failures, Failure{Peer: o.peer, Err: o.err})
			} else {
				collected.Successes = append(collected.Successes, Response[T]{Peer: o.peer, Value: o.value})
			}
			if predicate != nil && predicate(collected) {
				return collected
			}
		case <-waveCtx.Done():
			return collected
		case <-done:
			// All workers delivered; drain whatever raced past the
			// select so the final Collected is complete.
			for {
				select {
				case o := <-results:
					outstanding--
					if o.err != nil {
						collected.Failures = append(collected.Failures, Failure{Peer: o.peer, Err: o.err})
					} else {
						collected.Successes = append(collected.Successes, Response[T]{Peer: o.peer, Value: o.value})
					}
				default:
					return collected
				}
			}
		}
	}
	return collected
}
