package orchestration

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// slot names a timer that can be pending at most once. Scheduling a slot
// replaces its pending timer.
type slot int

const (
	slotTick slot = iota
	slotPoll
	slotWake
	slotTyping
	slotResubscribe
)

func (s slot) String() string {
	switch s {
	case slotTick:
		return "tick"
	case slotPoll:
		return "poll"
	case slotWake:
		return "wake"
	case slotTyping:
		return "typing"
	case slotResubscribe:
		return "resubscribe"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// scheduler is owned by the actor goroutine and is not safe for concurrent
// use. Fired timers are posted back through fire and must be checked with
// consume, since a timer can fire after it was replaced or cancelled.
type scheduler struct {
	clock  clock.Clock
	fire   func(timerFired)
	timers map[slot]*clock.Timer
	seq    map[slot]uint64
}

func newScheduler(c clock.Clock, fire func(timerFired)) *scheduler {
	return &scheduler{
		clock:  c,
		fire:   fire,
		timers: map[slot]*clock.Timer{},
		seq:    map[slot]uint64{},
	}
}

func (s *scheduler) schedule(sl slot, after time.Duration) {
	s.cancel(sl)
	seq := s.seq[sl]
	s.timers[sl] = s.clock.AfterFunc(after, func() {
		s.fire(timerFired{slot: sl, seq: seq})
	})
}

func (s *scheduler) cancel(sl slot) {
	if timer, ok := s.timers[sl]; ok {
		timer.Stop()
		delete(s.timers, sl)
	}
	s.seq[sl]++
}

func (s *scheduler) cancelAll() {
	for _, sl := range []slot{slotTick, slotPoll, slotWake, slotTyping, slotResubscribe} {
		s.cancel(sl)
	}
}

// consume reports whether fired is the latest timer of its slot and marks the
// slot as no longer pending.
func (s *scheduler) consume(fired timerFired) bool {
	if s.seq[fired.slot] != fired.seq {
		return false
	}
	if _, ok := s.timers[fired.slot]; !ok {
		return false
	}
	delete(s.timers, fired.slot)
	return true
}

// pending reports whether sl has a timer that has not fired yet.
func (s *scheduler) pending(sl slot) bool {
	_, ok := s.timers[sl]
	return ok
}
