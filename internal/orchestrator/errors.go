package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
)

var (
	// ErrInvalidState is returned when a session is not in the status an operation needs.
	// It is the same sentinel the store uses, so errors.Is works across both layers.
	ErrInvalidState = blackboard.ErrInvalidState

	// ErrNoParticipants is returned when a session's roster is empty or too small to discuss
	ErrNoParticipants = errors.New("no participants")

	// ErrInvalidExpertConfig is returned when an expert's provider config does not parse
	ErrInvalidExpertConfig = errors.New("invalid expert config")

	// ErrProviderUnavailable is returned when no client can be built for an expert's provider
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAlreadyRunning is returned when this process already runs the session's discussion
	ErrAlreadyRunning = errors.New("discussion already running")

	// ErrEmptyIntervention is returned for an intervention with no content
	ErrEmptyIntervention = errors.New("intervention content is empty")
)

// ValidationError is returned by Prepare when a session cannot start. Nothing
// has been written when it is returned.
type ValidationError struct {
	SessionID string
	ExpertID  string // Offending expert, if any
	Reason    string
	Err       error // One of the package sentinels
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s", e.SessionID)
	if e.ExpertID != "" {
		fmt.Fprintf(&b, ": expert '%s'", e.ExpertID)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a start-time validation failure.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
