// Package store declares the durable storage and broadcast contracts the
// orchestrator depends on. Adapters live in subpackages.
package store

import (
	"context"
	"errors"

	"github.com/koscakluka/duet/core/dialogue"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when a turn with the same order already exists
	// in the session.
	ErrConflict = errors.New("turn order already stored")
)

type Store interface {
	// GetOrCreateSession atomically resolves the session for dateKey,
	// creating it with topic when absent, and returns its id.
	GetOrCreateSession(ctx context.Context, dateKey, topic string) (string, error)
	// LoadSession returns the session for dateKey and its turns sorted by
	// order, or ErrNotFound.
	LoadSession(ctx context.Context, dateKey string) (*dialogue.Session, []dialogue.Turn, error)
	AppendTurn(ctx context.Context, sessionID string, turn dialogue.Turn) error
}

// Broadcast delivers turns appended to a session, by any process, to every
// subscriber. Delivery is at least once and a subscriber may see its own
// turns.
//
// When the stream fails, onLost is called once with the cause and no more
// turns are delivered. Turns appended after the failure are only recovered
// by reading the session again. onLost may be nil and is never called after
// unsubscribe or after ctx is cancelled.
type Broadcast interface {
	Subscribe(ctx context.Context, sessionID string, onTurn func(dialogue.Turn), onLost func(error)) (unsubscribe func(), err error)
}

// History gives read-only access to past sessions.
type History interface {
	ListSessions(ctx context.Context) ([]dialogue.Session, error)
	SessionTurns(ctx context.Context, sessionID string) ([]dialogue.Turn, error)
}

// Backend is what a full adapter provides.
type Backend interface {
	Store
	Broadcast
	History
}
