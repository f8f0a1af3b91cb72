package events

import "github.com/koscakluka/duet/core/dialogue"

const (
	// KindSessionLoaded identifies a successfully resolved session.
	KindSessionLoaded Kind = "session.loaded"
	// KindSessionLoadFailed identifies a failed session resolution.
	KindSessionLoadFailed Kind = "session.load_failed"
)

// SessionLoaded carries the resolved session and how many turns it held.
type SessionLoaded struct {
	Base
	Session dialogue.Session
	Turns   int
}

// NewSessionLoaded creates a session loaded event.
func NewSessionLoaded(session dialogue.Session, turns int) SessionLoaded {
	return SessionLoaded{Base: NewBase(KindSessionLoaded), Session: session, Turns: turns}
}

// SessionLoadFailed carries the load error.
type SessionLoadFailed struct {
	Base
	Err error
}

// NewSessionLoadFailed creates a session load failure event.
func NewSessionLoadFailed(err error) SessionLoadFailed {
	return SessionLoadFailed{Base: NewBase(KindSessionLoadFailed), Err: err}
}
