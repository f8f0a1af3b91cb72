// Package storetest is a conformance suite every store adapter runs in its
// own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises backend against the store.Backend contract. newBackend must
// return an empty backend for every call.
func Run(t *testing.T, newBackend func(t *testing.T) store.Backend) {
	t.Run("get or create is idempotent per day", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()

		first, err := backend.GetOrCreateSession(ctx, "2025-03-14", "Dreams and Reality")
		require.NoError(t, err)
		second, err := backend.GetOrCreateSession(ctx, "2025-03-14", "Another topic")
		require.NoError(t, err)
		assert.Equal(t, first, second)

		session, turns, err := backend.LoadSession(ctx, "2025-03-14")
		require.NoError(t, err)
		assert.Equal(t, first, session.ID)
		assert.Equal(t, "Dreams and Reality", session.Topic)
		assert.Empty(t, turns)
	})

	t.Run("concurrent get or create yields one session", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()

		ids := make([]string, 8)
		wg := sync.WaitGroup{}
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, err := backend.GetOrCreateSession(ctx, "2025-03-15", "topic")
				assert.NoError(t, err)
				ids[i] = id
			}(i)
		}
		wg.Wait()

		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("load unknown day is not found", func(t *testing.T) {
		backend := newBackend(t)

		_, _, err := backend.LoadSession(context.Background(), "1999-01-01")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("turns load sorted and duplicates conflict", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()

		id, err := backend.GetOrCreateSession(ctx, "2025-03-16", "topic")
		require.NoError(t, err)

		for _, order := range []int{2, 1, 3} {
			require.NoError(t, backend.AppendTurn(ctx, id, newTurn(order)))
		}
		assert.ErrorIs(t, backend.AppendTurn(ctx, id, newTurn(2)), store.ErrConflict)

		_, turns, err := backend.LoadSession(ctx, "2025-03-16")
		require.NoError(t, err)
		require.Len(t, turns, 3)
		for i, turn := range turns {
			assert.Equal(t, i+1, turn.Order)
		}
	})

	t.Run("subscribers receive appended turns in order", func(t *testing.T) {
		backend := newBackend(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		id, err := backend.GetOrCreateSession(ctx, "2025-03-17", "topic")
		require.NoError(t, err)

		received := make(chan dialogue.Turn, 16)
		unsubscribe, err := backend.Subscribe(ctx, id, func(turn dialogue.Turn) { received <- turn }, nil)
		require.NoError(t, err)
		defer unsubscribe()

		// Some adapters connect asynchronously.
		time.Sleep(50 * time.Millisecond)

		for order := 1; order <= 3; order++ {
			require.NoError(t, backend.AppendTurn(ctx, id, newTurn(order)))
		}

		for order := 1; order <= 3; order++ {
			select {
			case turn := <-received:
				assert.Equal(t, order, turn.Order)
				assert.Equal(t, fmt.Sprintf("turn %d", order), turn.Text)
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for turn %d", order)
			}
		}
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()

		id, err := backend.GetOrCreateSession(ctx, "2025-03-18", "topic")
		require.NoError(t, err)

		received := make(chan dialogue.Turn, 16)
		unsubscribe, err := backend.Subscribe(ctx, id, func(turn dialogue.Turn) { received <- turn }, nil)
		require.NoError(t, err)
		unsubscribe()

		require.NoError(t, backend.AppendTurn(ctx, id, newTurn(1)))

		select {
		case turn := <-received:
			t.Fatalf("expected no delivery after unsubscribe, got order %d", turn.Order)
		case <-time.After(200 * time.Millisecond):
		}
	})

	t.Run("history lists most recent day first", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()

		older, err := backend.GetOrCreateSession(ctx, "2025-03-01", "older")
		require.NoError(t, err)
		_, err = backend.GetOrCreateSession(ctx, "2025-03-02", "newer")
		require.NoError(t, err)
		require.NoError(t, backend.AppendTurn(ctx, older, newTurn(1)))

		sessions, err := backend.ListSessions(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(sessions), 2)
		assert.Equal(t, "2025-03-02", sessions[0].DateKey)
		assert.Equal(t, "2025-03-01", sessions[1].DateKey)

		turns, err := backend.SessionTurns(ctx, older)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, dialogue.SpeakerB, turns[0].Speaker)
	})
}

func newTurn(order int) dialogue.Turn {
	speaker := dialogue.SpeakerA
	if order%2 == 1 {
		speaker = dialogue.SpeakerB
	}
	return dialogue.Turn{
		Order:     order,
		Speaker:   speaker,
		Text:      fmt.Sprintf("turn %d", order),
		CreatedAt: time.Date(2025, time.March, 14, 12, order, 0, 0, time.UTC),
	}
}
