// Package election implements Paxos-backed leader election: a node
// becomes leader by getting its own UUID chosen as the value of the
// next Paxos round, and stays leader only while that round remains the
// greatest round any quorum member has seen.
package election

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/paxosdb/leaderelection/internal/events"
	"github.com/paxosdb/leaderelection/internal/paxos"
	"github.com/paxosdb/leaderelection/internal/proposer"
	"github.com/paxosdb/leaderelection/internal/quorum"
	"github.com/paxosdb/leaderelection/internal/storage"
	"github.com/paxosdb/leaderelection/internal/transport"
	"github.com/paxosdb/leaderelection/internal/verifier"
)

// Service orchestrates leader election for one node. It owns the peer
// list (self included as a direct-dispatch peer), the proposer, the
// latest-round verifier, and the peer-identity cache.
type Service struct {
	cfg     Config
	learner *paxos.Learner
	others  []transport.Peer

	proposer *proposer.Proposer
	verifier *verifier.Verifier
	recorder events.Recorder

	// proposeMu serializes the decision to propose across concurrent
	// BlockOnBecomingLeader callers on this node. It is held across the
	// propose call itself, never during the ping, catch-up, or verifier
	// fan-outs.
	proposeMu sync.Mutex

	// uuidCache maps peer UUID to the peer handle that claimed it.
	// Entries bind exactly once; a rebind attempt or a claim of our own
	// UUID is a fatal misconfiguration.
	uuidCache sync.Map
}

// New wires a Service over self and the other peers. rec may be nil to
// discard events.
func New(cfg Config, learner *paxos.Learner, self transport.Peer, others []transport.Peer, rec events.Recorder) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = events.Nop{}
	}
	all := make([]transport.Peer, 0, len(others)+1)
	all = append(all, self)
	all = append(all, others...)
	q := quorum.Size(len(all))
	return &Service{
		cfg:      cfg,
		learner:  learner,
		others:   others,
		proposer: proposer.New(cfg.ProposerUUID, all, q, cfg.RoundTimeout, cfg.RPCTimeout),
		verifier: verifier.New(all, q, cfg.RPCTimeout),
		recorder: rec,
	}, nil
}

// GetUUID returns this node's stable identity.
func (s *Service) GetUUID() string {
	return s.cfg.ProposerUUID
}

// Ping reports whether this node is the leader for its greatest learned
// value. Remote peers call this to check on a suspected leader.
func (s *Service) Ping() bool {
	greatest := s.learner.GetGreatestLearnedValue()
	return greatest != nil && greatest.LeaderUUID == s.cfg.ProposerUUID
}

// BlockOnBecomingLeader blocks until this node holds a confirmed
// leadership token, then returns it. It surfaces ctx cancellation, fatal
// misconfiguration, and a learned-value conflict found during catch-up;
// everything else is absorbed and retried.
func (s *Service) BlockOnBecomingLeader(ctx context.Context) (Token, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Token{}, err
		}
		greatest := s.learner.GetGreatestLearnedValue()
		switch s.determineLeadershipStatus(ctx, greatest) {
		case Leading:
			return Token{value: *greatest}, nil
		case NoQuorum:
			// Retry immediately: the verifier's wave deadline already
			// rate-limits this loop.
			continue
		case NotLeading:
			if err := s.proposeOrWait(ctx, greatest); err != nil {
				return Token{}, err
			}
		}
	}
}

// GetCurrentTokenIfLeading is the non-blocking snapshot: a confirmed
// token if this node leads right now, else ok=false.
func (s *Service) GetCurrentTokenIfLeading(ctx context.Context) (Token, bool) {
	greatest := s.learner.GetGreatestLearnedValue()
	if s.determineLeadershipStatus(ctx, greatest) != Leading {
		return Token{}, false
	}
	return Token{value: *greatest}, true
}

// IsStillLeading re-validates a previously issued token. The result is
// a consistent snapshot taken during the call; it may be stale by the
// next instruction.
func (s *Service) IsStillLeading(ctx context.Context, t Token) Status {
	return s.determineLeadershipStatus(ctx, &t.value)
}

// StepDown relinquishes leadership by proposing an anonymous value,
// one whose leader UUID matches no peer, at the next round. Returns
// true once a value other than this node's own is chosen. Inability to
// reach quorum surfaces ErrServiceNotAvailable.
func (s *Service) StepDown(ctx context.Context) (bool, error) {
	greatest := s.learner.GetGreatestLearnedValue()
	switch s.determineLeadershipStatus(ctx, greatest) {
	case NoQuorum:
		return false, pkgerrors.Wrap(ErrServiceNotAvailable, "cannot confirm leadership before stepping down")
	case NotLeading:
		return false, nil
	}

	s.proposeMu.Lock()
	defer s.proposeMu.Unlock()

	seq := greatest.Round + 1
	s.recorder.ProposalAttempt(seq)
	// The zero LeaderUUID can never equal a real peer's UUID, so the
	// chosen value makes every node, including this one, not leading.
	chosen, err := s.proposer.Propose(ctx, seq, paxos.Value{Round: seq})
	if err != nil {
		s.recorder.ProposalFailure(seq, err)
		return false, pkgerrors.Wrap(ErrServiceNotAvailable, err.Error())
	}
	return chosen.LeaderUUID != s.cfg.ProposerUUID, nil
}

// determineLeadershipStatus decides whether value makes this node the
// leader: the value must carry our UUID, still be the local greatest
// learned value, and a quorum must confirm no newer round exists.
func (s *Service) determineLeadershipStatus(ctx context.Context, value *paxos.Value) Status {
	if value == nil || value.LeaderUUID != s.cfg.ProposerUUID {
		s.recorder.NotLeading()
		return NotLeading
	}
	// Cheap local staleness check before the quorum wave. A payload
	// mismatch at an equal round counts as stale here, not as an
	// invariant violation.
	if !paxos.EqualValue(value, s.learner.GetGreatestLearnedValue()) {
		s.recorder.NotLeading()
		return NotLeading
	}
	switch s.verifier.IsLatestRound(ctx, value.Round) {
	case verifier.Latest:
		return Leading
	case verifier.NotLatest:
		s.recorder.NotLeading()
		return NotLeading
	default:
		s.recorder.NoQuorum()
		return NoQuorum
	}
}

// proposeOrWait is one iteration of the becoming-leader loop when some
// other node may be leading: defer to a responsive leader, else catch
// up, else propose after a jittered sleep.
func (s *Service) proposeOrWait(ctx context.Context, greatest *paxos.Value) error {
	if greatest != nil && greatest.LeaderUUID != "" && greatest.LeaderUUID != s.cfg.ProposerUUID {
		leader, err := s.suspectedLeader(ctx, greatest.LeaderUUID)
		if err != nil {
			return err
		}
		if leader != nil && s.pingLeader(ctx, leader, greatest.LeaderUUID) {
			return s.sleep(ctx, s.cfg.UpdatePollingRate)
		}
	}

	learnedNew, err := s.updateLearnedStateFromPeers(ctx, greatest)
	if err != nil {
		return err
	}
	if learnedNew {
		// The loop re-evaluates against the fresher state.
		return nil
	}

	if err := s.sleep(ctx, s.jitter()); err != nil {
		return err
	}
	return s.proposeLeadershipAfter(ctx, greatest)
}

// pingLeader asks the suspected leader whether it still leads, bounded
// by the configured ping deadline. Every negative outcome is recorded
// and reported as false so the caller escalates.
func (s *Service) pingLeader(ctx context.Context, leader transport.Peer, leaderUUID string) bool {
	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.LeaderPingResponseWait)
	defer cancel()
	ok, err := leader.Ping(pingCtx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.recorder.PingTimeout(leaderUUID)
		return false
	case err != nil:
		s.recorder.PingFailure(leaderUUID, err)
		return false
	case !ok:
		s.recorder.PingReturnedFalse(leaderUUID)
		return false
	}
	return true
}

// updateLearnedStateFromPeers pulls learned values newer than greatest
// from every reachable peer into the local learner. Returns whether the
// local greatest advanced. A learn conflict is fatal and surfaces.
func (s *Service) updateLearnedStateFromPeers(ctx context.Context, greatest *paxos.Value) (bool, error) {
	next := paxos.SequenceNumber(0)
	if greatest != nil {
		next = greatest.Round + 1
	}

	collected := quorum.CollectUntil(ctx, s.others, s.cfg.RPCTimeout,
		func(ctx context.Context, p transport.Peer) ([]storage.LearnedEntry, error) {
			return p.GetLearnedValuesSince(ctx, next)
		},
		nil,
	)

	for _, r := range collected.Successes {
		for _, e := range r.Value {
			if err := s.learner.Learn(ctx, e.Seq, e.Value); err != nil {
				var mismatch *paxos.ErrLearnedValueMismatch
				if errors.As(err, &mismatch) {
					return false, err
				}
				// Log write failures abort this catch-up attempt; the
				// loop will retry.
				return false, nil
			}
		}
	}
	return !paxos.EqualValue(greatest, s.learner.GetGreatestLearnedValue()), nil
}

// proposeLeadershipAfter proposes this node as leader of the round
// after v. The lock serializes local proposal decisions; a concurrent
// caller that already advanced the learned state makes this a no-op.
// Round failures are recorded and swallowed so the loop re-evaluates.
func (s *Service) proposeLeadershipAfter(ctx context.Context, v *paxos.Value) error {
	s.proposeMu.Lock()
	defer s.proposeMu.Unlock()

	if !paxos.EqualValue(v, s.learner.GetGreatestLearnedValue()) {
		return nil
	}

	seq := paxos.SequenceNumber(0)
	if v != nil {
		seq = v.Round + 1
	}

	s.recorder.ProposalAttempt(seq)
	if _, err := s.proposer.Propose(ctx, seq, paxos.Value{Round: seq, LeaderUUID: s.cfg.ProposerUUID}); err != nil {
		s.recorder.ProposalFailure(seq, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return nil
}

// suspectedLeader resolves a leader UUID to a peer handle: first from
// the identity cache, then by probing every peer's GetUUID. Every UUID
// learned along the way is cached. Returns nil with no error when no
// reachable peer claims the UUID.
func (s *Service) suspectedLeader(ctx context.Context, leaderUUID string) (transport.Peer, error) {
	if cached, ok := s.uuidCache.Load(leaderUUID); ok {
		return cached.(transport.Peer), nil
	}

	collected := quorum.CollectUntil(ctx, s.others, s.cfg.RPCTimeout,
		func(ctx context.Context, p transport.Peer) (string, error) {
			return p.GetUUID(ctx)
		},
		func(c quorum.Collected[string]) bool {
			for _, r := range c.Successes {
				if r.Value == leaderUUID {
					return true
				}
			}
			return false
		},
	)

	for _, r := range collected.Successes {
		if err := s.cacheUUID(r.Value, r.Peer); err != nil {
			return nil, err
		}
	}

	if cached, ok := s.uuidCache.Load(leaderUUID); ok {
		return cached.(transport.Peer), nil
	}
	return nil, nil
}

// cacheUUID binds uuid to peer exactly once. A remote claiming our own
// UUID, or a UUID already bound to a different peer, is fatal
// misconfiguration.
func (s *Service) cacheUUID(uuid string, peer transport.Peer) error {
	if uuid == s.cfg.ProposerUUID {
		return &MisconfigurationError{UUID: uuid, Detail: "a remote peer claims this node's UUID"}
	}
	existing, loaded := s.uuidCache.LoadOrStore(uuid, peer)
	if loaded && existing.(transport.Peer) != peer {
		return &MisconfigurationError{UUID: uuid, Detail: "UUID already bound to a different peer"}
	}
	return nil
}

func (s *Service) jitter() time.Duration {
	bound := int64(s.cfg.RandomWaitBeforeProposingLeadership)
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(bound))
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
