// Package ledger tracks turn orders that were inserted locally and whose
// broadcast echo has not been observed yet.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru"
)

const (
	DefaultCapacity  = 256
	DefaultRetention = time.Minute
)

type Ledger struct {
	mu sync.Mutex

	pending   *lru.Cache
	capacity  int
	retention time.Duration
	clock     clock.Clock
}

type Option func(*Ledger)

// WithCapacity bounds the number of pending orders. The least recently marked
// order is evicted first.
func WithCapacity(capacity int) Option {
	return func(l *Ledger) { l.capacity = capacity }
}

// WithRetention sets how long an order stays pending without an echo. Zero
// keeps entries until they are cleared or evicted.
func WithRetention(retention time.Duration) Option {
	return func(l *Ledger) { l.retention = retention }
}

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func New(opts ...Option) (*Ledger, error) {
	l := &Ledger{
		capacity:  DefaultCapacity,
		retention: DefaultRetention,
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.retention < 0 {
		return nil, fmt.Errorf("ledger retention must not be negative, got %s", l.retention)
	}

	cache, err := lru.New(l.capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending cache of capacity %d: %w", l.capacity, err)
	}
	l.pending = cache

	return l, nil
}

// MarkPending records that order was produced locally. It must be called
// before the turn becomes visible to the broadcast ingest path.
func (l *Ledger) MarkPending(order int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending.Add(order, l.clock.Now())
}

func (l *Ledger) IsPending(order int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	value, ok := l.pending.Peek(order)
	if !ok {
		return false
	}
	if l.expired(value.(time.Time)) {
		l.pending.Remove(order)
		return false
	}
	return true
}

func (l *Ledger) Clear(order int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending.Remove(order)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.pending.Len()
}

// Sweep drops every entry older than the retention and reports how many were
// removed.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.retention == 0 {
		return 0
	}

	removed := 0
	for _, key := range l.pending.Keys() {
		value, ok := l.pending.Peek(key)
		if !ok {
			continue
		}
		if l.expired(value.(time.Time)) {
			l.pending.Remove(key)
			removed++
		}
	}
	return removed
}

func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending.Purge()
}

func (l *Ledger) expired(markedAt time.Time) bool {
	return l.retention > 0 && l.clock.Since(markedAt) > l.retention
}
