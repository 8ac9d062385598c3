package election

import (
	"errors"
	"fmt"
)

// ErrServiceNotAvailable is returned when an operation that needs a
// quorum, such as StepDown, cannot assemble one.
var ErrServiceNotAvailable = errors.New("election: cannot reach a quorum of peers")

// MisconfigurationError is the fatal error raised when the cluster's
// identity configuration is broken: two distinct peers claim the same
// UUID, or a remote peer claims this node's UUID. The local service
// state stays valid, but the cluster cannot be trusted until an
// operator fixes the configuration, so this is surfaced rather than
// absorbed.
type MisconfigurationError struct {
	UUID   string
	Detail string
}

func (e *MisconfigurationError) Error() string {
	return fmt.Sprintf("election: misconfigured cluster: uuid %s: %s", e.UUID, e.Detail)
}

// IsMisconfiguration reports whether err is a fatal identity
// misconfiguration.
func IsMisconfiguration(err error) bool {
	var m *MisconfigurationError
	return errors.As(err, &m)
}
