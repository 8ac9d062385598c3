package election

import (
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Config carries the tunables of the election service. Quorum size is
// derived from the peer list, not configured.
type Config struct {
	// ProposerUUID is this node's stable identity. It must be unique
	// across the cluster and persist across restarts.
	ProposerUUID string

	// UpdatePollingRate is how long to sleep after a successful leader
	// ping before re-checking leadership.
	UpdatePollingRate time.Duration

	// RandomWaitBeforeProposingLeadership is the upper bound of the
	// uniform jitter slept before proposing, so simultaneous candidates
	// don't duel indefinitely.
	RandomWaitBeforeProposingLeadership time.Duration

	// LeaderPingResponseWait is the deadline for a single ping to the
	// suspected leader.
	LeaderPingResponseWait time.Duration

	// RPCTimeout bounds each individual quorum wave (prepare, accept,
	// catch-up, UUID probe, latest-round check).
	RPCTimeout time.Duration

	// RoundTimeout bounds one whole proposal round.
	RoundTimeout time.Duration
}

func (c Config) validate() error {
	if c.ProposerUUID == "" {
		return pkgerrors.New("election: ProposerUUID must be set")
	}
	if c.UpdatePollingRate <= 0 || c.LeaderPingResponseWait <= 0 ||
		c.RandomWaitBeforeProposingLeadership <= 0 ||
		c.RPCTimeout <= 0 || c.RoundTimeout <= 0 {
		return pkgerrors.New("election: all durations must be positive")
	}
	return nil
}
