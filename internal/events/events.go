// Package events is the observability sink for the election state
// machine. Every branch point reports here; recorders never influence
// control flow and never propagate a failure back to the caller.
package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/paxosdb/leaderelection/internal/paxos"
)

// Recorder receives election branch-point notifications.
type Recorder interface {
	ProposalAttempt(seq paxos.SequenceNumber)
	ProposalFailure(seq paxos.SequenceNumber, cause error)
	PingTimeout(leaderUUID string)
	PingReturnedFalse(leaderUUID string)
	PingFailure(leaderUUID string, cause error)
	NoQuorum()
	NotLeading()
}

// Nop discards every event. Useful default for tests.
type Nop struct{}

func (Nop) ProposalAttempt(paxos.SequenceNumber)        {}
func (Nop) ProposalFailure(paxos.SequenceNumber, error) {}
func (Nop) PingTimeout(string)                          {}
func (Nop) PingReturnedFalse(string)                    {}
func (Nop) PingFailure(string, error)                   {}
func (Nop) NoQuorum()                                   {}
func (Nop) NotLeading()                                 {}

// Metrics holds the election counters. One instance per registry; a
// second registration on the same registry panics, so construct it once
// and share.
type Metrics struct {
	ProposalAttempts   prometheus.Counter
	ProposalFailures   prometheus.Counter
	PingTimeouts       prometheus.Counter
	PingFalse          prometheus.Counter
	PingFailures       prometheus.Counter
	NoQuorumObserved   prometheus.Counter
	NotLeadingObserved prometheus.Counter
}

// NewMetrics registers the election counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProposalAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "leader_election_proposal_attempts_total",
			Help: "Paxos leadership proposals started by this node.",
		}),
		ProposalFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "leader_election_proposal_failures_total",
			Help: "Paxos leadership proposals that failed to reach quorum.",
		}),
		PingTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "leader_election_ping_timeouts_total",
			Help: "Pings to the suspected leader that timed out.",
		}),
		PingFalse: f.NewCounter(prometheus.CounterOpts{
			Name: "leader_election_ping_false_total",
			Help: "Pings answered by a node that no longer considers itself leader.",
		}),
		PingFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "leader_election_ping_failures_total",
			Help: "Pings to the suspected leader that failed outright.",
		}),
		NoQuorumObserved: f.NewCounter(prometheus.CounterOpts{
			Name: "leader_election_no_quorum_total",
			Help: "Leadership checks that could not assemble a quorum.",
		}),
		NotLeadingObserved: f.NewCounter(prometheus.CounterOpts{
			Name: "leader_election_not_leading_total",
			Help: "Leadership checks that found this node not leading.",
		}),
	}
}

// ZapRecorder logs every event through zap and bumps the corresponding
// counter. Metrics may be nil to log only.
type ZapRecorder struct {
	Log     *zap.Logger
	Metrics *Metrics
}

func (r *ZapRecorder) ProposalAttempt(seq paxos.SequenceNumber) {
	r.Log.Info("proposing leadership", zap.Int64("seq", int64(seq)))
	if r.Metrics != nil {
		r.Metrics.ProposalAttempts.Inc()
	}
}

func (r *ZapRecorder) ProposalFailure(seq paxos.SequenceNumber, cause error) {
	r.Log.Warn("leadership proposal failed", zap.Int64("seq", int64(seq)), zap.Error(cause))
	if r.Metrics != nil {
		r.Metrics.ProposalFailures.Inc()
	}
}

func (r *ZapRecorder) PingTimeout(leaderUUID string) {
	r.Log.Warn("leader ping timed out", zap.String("leader_uuid", leaderUUID))
	if r.Metrics != nil {
		r.Metrics.PingTimeouts.Inc()
	}
}

func (r *ZapRecorder) PingReturnedFalse(leaderUUID string) {
	r.Log.Info("suspected leader denies leadership", zap.String("leader_uuid", leaderUUID))
	if r.Metrics != nil {
		r.Metrics.PingFalse.Inc()
	}
}

func (r *ZapRecorder) PingFailure(leaderUUID string, cause error) {
	r.Log.Warn("leader ping failed", zap.String("leader_uuid", leaderUUID), zap.Error(cause))
	if r.Metrics != nil {
		r.Metrics.PingFailures.Inc()
	}
}

func (r *ZapRecorder) NoQuorum() {
	r.Log.Warn("no quorum for leadership check")
	if r.Metrics != nil {
		r.Metrics.NoQuorumObserved.Inc()
	}
}

func (r *ZapRecorder) NotLeading() {
	r.Log.Debug("not currently leading")
	if r.Metrics != nil {
		r.Metrics.NotLeadingObserved.Inc()
	}
}
