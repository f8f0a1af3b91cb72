// Package memory is an in-process store and broadcast. It backs single-process
// runs and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/store"
)

var _ store.Backend = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	sessions    map[string]*session
	byDate      map[string]string
	subscribers map[string]map[uint64]*subscriber
	nextID      uint64

	now func() time.Time
}

type session struct {
	dialogue.Session
	turns []dialogue.Turn
}

type Option func(*Store)

// WithNow overrides the clock used for session creation timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		sessions:    map[string]*session{},
		byDate:      map[string]string{},
		subscribers: map[string]map[uint64]*subscriber{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) GetOrCreateSession(_ context.Context, dateKey, topic string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byDate[dateKey]; ok {
		return id, nil
	}

	id := uuid.NewString()
	s.sessions[id] = &session{Session: dialogue.Session{
		ID:        id,
		DateKey:   dateKey,
		Topic:     topic,
		CreatedAt: s.now(),
	}}
	s.byDate[dateKey] = id
	return id, nil
}

func (s *Store) LoadSession(_ context.Context, dateKey string) (*dialogue.Session, []dialogue.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDate[dateKey]
	if !ok {
		return nil, nil, fmt.Errorf("load session %s: %w", dateKey, store.ErrNotFound)
	}

	sess := s.sessions[id]
	meta := sess.Session
	return &meta, slices.Clone(sess.turns), nil
}

func (s *Store) AppendTurn(_ context.Context, sessionID string, turn dialogue.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("append turn to %s: %w", sessionID, store.ErrNotFound)
	}

	index, found := slices.BinarySearchFunc(sess.turns, turn.Order, func(t dialogue.Turn, order int) int {
		return cmp.Compare(t.Order, order)
	})
	if found {
		return fmt.Errorf("append turn %d: %w", turn.Order, store.ErrConflict)
	}
	sess.turns = slices.Insert(sess.turns, index, turn)

	for _, sub := range s.subscribers[sessionID] {
		sub.push(turn)
	}
	return nil
}

// Subscribe never loses its stream, so onLost is never called.
func (s *Store) Subscribe(ctx context.Context, sessionID string, onTurn func(dialogue.Turn), _ func(error)) (func(), error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	sub := newSubscriber()
	if s.subscribers[sessionID] == nil {
		s.subscribers[sessionID] = map[uint64]*subscriber{}
	}
	s.subscribers[sessionID][id] = sub
	s.mu.Unlock()

	go sub.run(onTurn)

	unsubscribe := func() {
		s.mu.Lock()
		delete(s.subscribers[sessionID], id)
		if len(s.subscribers[sessionID]) == 0 {
			delete(s.subscribers, sessionID)
		}
		s.mu.Unlock()
		sub.close()
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.stop:
		}
	}()

	return unsubscribe, nil
}

// ListSessions returns every session, most recent day first.
func (s *Store) ListSessions(_ context.Context) ([]dialogue.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]dialogue.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess.Session)
	}
	slices.SortFunc(sessions, func(a, b dialogue.Session) int {
		return cmp.Compare(b.DateKey, a.DateKey)
	})
	return sessions, nil
}

func (s *Store) SessionTurns(_ context.Context, sessionID string) ([]dialogue.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return slices.Clone(sess.turns), nil
}

// subscriber delivers turns in append order on its own goroutine so a slow
// callback never blocks AppendTurn.
type subscriber struct {
	mu    sync.Mutex
	queue []dialogue.Turn

	wake      chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

func (sub *subscriber) push(turn dialogue.Turn) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, turn)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscriber) run(onTurn func(dialogue.Turn)) {
	for {
		select {
		case <-sub.stop:
			return
		case <-sub.wake:
		}

		for {
			sub.mu.Lock()
			if len(sub.queue) == 0 {
				sub.mu.Unlock()
				break
			}
			turn := sub.queue[0]
			sub.queue = sub.queue[1:]
			sub.mu.Unlock()

			select {
			case <-sub.stop:
				return
			default:
			}
			onTurn(turn)
		}
	}
}

func (sub *subscriber) close() {
	sub.closeOnce.Do(func() { close(sub.stop) })
}
