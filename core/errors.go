package orchestration

import (
	"errors"
	"fmt"

	"github.com/koscakluka/duet/core/dialogue"
)

var (
	// ErrDormant is returned for human interjections during the dormant
	// window.
	ErrDormant = errors.New("dialogue is dormant")
	// ErrNotActive is returned for human interjections before a session is
	// loaded or after the orchestrator closed.
	ErrNotActive = errors.New("dialogue is not active")

	ErrEmptyInterjection = errors.New("interjection is empty")
	ErrNoStore           = errors.New("no store configured")
)

// LoadError means today's session could not be resolved. The orchestrator
// stays in PhaseLoadFailed until Reload.
type LoadError struct {
	DateKey string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load session %s: %v", e.DateKey, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// GenerationError means the speaker's turn could not be produced. Nothing
// advances; the same speaker is asked again on the next tick.
type GenerationError struct {
	Speaker dialogue.Speaker
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate turn for %s: %v", e.Speaker, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PersistenceError means a visible turn was not stored. The turn is never
// removed from the conversation.
type PersistenceError struct {
	Order int
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist turn %d: %v", e.Order, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SubscriptionError means the broadcast stream of a session ended or could
// not be reopened. Remote turns are caught up once it is restored.
type SubscriptionError struct {
	SessionID string
	Err       error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("broadcast stream of session %s: %v", e.SessionID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
