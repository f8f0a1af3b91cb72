// Package messages holds the ordered, duplicate-free view of a session's turns
// and reconciles locally produced turns with their broadcast echoes.
package messages

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/koscakluka/duet/core/dialogue"
)

var ErrDuplicateOrder = errors.New("turn order already present")

// PendingSet is the subset of the ledger the store consults when a remote turn
// arrives.
type PendingSet interface {
	IsPending(order int) bool
	Clear(order int)
}

// RemoteOutcome says what InsertRemote did with a turn.
type RemoteOutcome int

const (
	RemoteAccepted RemoteOutcome = iota
	// RemoteEcho is a turn this process produced itself.
	RemoteEcho
	// RemoteDuplicate is a turn whose order is already present.
	RemoteDuplicate
)

func (o RemoteOutcome) String() string {
	switch o {
	case RemoteAccepted:
		return "accepted"
	case RemoteEcho:
		return "echo"
	case RemoteDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("RemoteOutcome(%d)", int(o))
	}
}

type Store struct {
	mu sync.RWMutex

	turns   []dialogue.Turn
	pending PendingSet
}

func New(pending PendingSet) *Store {
	return &Store{pending: pending}
}

// InsertLocal adds a turn produced by this process.
func (s *Store) InsertLocal(turn dialogue.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, found := s.search(turn.Order)
	if found {
		return fmt.Errorf("insert local turn %d: %w", turn.Order, ErrDuplicateOrder)
	}
	s.turns = slices.Insert(s.turns, index, turn)
	return nil
}

// InsertRemote adds a turn received from the broadcast channel and reports
// whether it became visible.
func (s *Store) InsertRemote(turn dialogue.Turn) bool {
	return s.Reconcile(turn) == RemoteAccepted
}

// Reconcile is InsertRemote with the reason a turn was dropped.
func (s *Store) Reconcile(turn dialogue.Turn) RemoteOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil && s.pending.IsPending(turn.Order) {
		s.pending.Clear(turn.Order)
		return RemoteEcho
	}

	index, found := s.search(turn.Order)
	if found {
		return RemoteDuplicate
	}
	s.turns = slices.Insert(s.turns, index, turn)
	return RemoteAccepted
}

// Snapshot returns a copy of the turns sorted by order.
func (s *Store) Snapshot() []dialogue.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.turns)
}

// Replace swaps the whole content, typically after loading a session. Turns
// are sorted and duplicate orders keep their first occurrence.
func (s *Store) Replace(turns []dialogue.Turn) {
	sorted := slices.Clone(turns)
	slices.SortStableFunc(sorted, func(a, b dialogue.Turn) int { return a.Order - b.Order })
	sorted = slices.CompactFunc(sorted, func(a, b dialogue.Turn) bool { return a.Order == b.Order })

	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = sorted
}

// NextOrder is the order the next local turn must take.
func (s *Store) NextOrder() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return dialogue.NextOrder(s.turns)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.turns)
}

func (s *Store) search(order int) (int, bool) {
	return slices.BinarySearchFunc(s.turns, order, func(turn dialogue.Turn, target int) int {
		return turn.Order - target
	})
}
