package events

import "time"

const (
	// KindDormancyStarted identifies the start of the daily dormant window.
	KindDormancyStarted Kind = "dormancy.started"
	// KindDormancyEnded identifies the end of the daily dormant window.
	KindDormancyEnded Kind = "dormancy.ended"
)

// DormancyStarted carries the instant the wake timer is due.
type DormancyStarted struct {
	Base
	WakeAt time.Time
}

// NewDormancyStarted creates a dormancy started event.
func NewDormancyStarted(wakeAt time.Time) DormancyStarted {
	return DormancyStarted{Base: NewBase(KindDormancyStarted), WakeAt: wakeAt}
}

// DormancyEnded marks the end of the dormant window.
type DormancyEnded struct{ Base }

// NewDormancyEnded creates a dormancy ended event.
func NewDormancyEnded() DormancyEnded {
	return DormancyEnded{Base: NewBase(KindDormancyEnded)}
}
