package sessioninit

import (
	"fmt"

	"github.com/Zereker/docstore/internal/session"
)

// Stage is a step of session initialization.
type Stage string

const (
	StageVerifying  Stage = "verifying"
	StageCreating   Stage = "creating"
	StagePersisting Stage = "persisting"
	StageDone       Stage = "done"
)

// PersistenceLayerUnavailableError is returned when the cache or the durable
// store failed its health check. Nothing has been created.
type PersistenceLayerUnavailableError struct {
	Report session.HealthReport
}

func (e *PersistenceLayerUnavailableError) Error() string {
	return fmt.Sprintf("persistence layer unavailable: cache=%s durable=%s",
		describe(e.Report.Cache), describe(e.Report.Durable))
}

// Stage returns StageVerifying.
func (e *PersistenceLayerUnavailableError) Stage() Stage { return StageVerifying }

func describe(h session.LayerHealth) string {
	if h.Error == "" {
		return h.Status
	}
	return fmt.Sprintf("%s (%s)", h.Status, h.Error)
}

// SessionCreationFailedError is returned when no usable conversation id was
// produced.
type SessionCreationFailedError struct {
	Err error
}

func (e *SessionCreationFailedError) Error() string {
	if e.Err == nil {
		return "session creation failed: empty conversation id"
	}
	return fmt.Sprintf("session creation failed: %v", e.Err)
}

func (e *SessionCreationFailedError) Unwrap() error { return e.Err }

// Stage returns StageCreating.
func (e *SessionCreationFailedError) Stage() Stage { return StageCreating }

// SessionPersistenceFailedError is returned when the session metadata could
// not be written.
type SessionPersistenceFailedError struct {
	SessionID string
	Err       error
}

func (e *SessionPersistenceFailedError) Error() string {
	return fmt.Sprintf("session %s persistence failed: %v", e.SessionID, e.Err)
}

func (e *SessionPersistenceFailedError) Unwrap() error { return e.Err }

// Stage returns StagePersisting.
func (e *SessionPersistenceFailedError) Stage() Stage { return StagePersisting }
