package redispubsub

import (
	"context"

	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/store"
)

// Durable is a store without its own broadcast, such as the in-memory store
// shared by nothing or a database without LISTEN/NOTIFY.
type Durable interface {
	store.Store
	store.History
}

type Publisher interface {
	store.Broadcast
	Publish(ctx context.Context, sessionID string, turn dialogue.Turn) error
}

var _ store.Backend = (*Backend)(nil)

// Backend persists through a durable store and broadcasts through a
// publisher.
type Backend struct {
	Durable
	publisher Publisher
}

func NewBackend(durable Durable, publisher Publisher) *Backend {
	return &Backend{Durable: durable, publisher: publisher}
}

// AppendTurn publishes only after the turn is stored. A failed publish is
// logged and not returned because the turn is already durable.
func (b *Backend) AppendTurn(ctx context.Context, sessionID string, turn dialogue.Turn) error {
	if err := b.Durable.AppendTurn(ctx, sessionID, turn); err != nil {
		return err
	}
	if err := b.publisher.Publish(ctx, sessionID, turn); err != nil {
		logger.ErrorContext(ctx, "failed to publish stored turn", "session", sessionID, "order", turn.Order, "error", err)
	}
	return nil
}

func (b *Backend) Subscribe(ctx context.Context, sessionID string, onTurn func(dialogue.Turn), onLost func(error)) (func(), error) {
	return b.publisher.Subscribe(ctx, sessionID, onTurn, onLost)
}
