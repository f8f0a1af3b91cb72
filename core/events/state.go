package events

const (
	// KindStateChanged identifies a lifecycle state transition.
	KindStateChanged Kind = "orchestrator.state_changed"
)

// StateChanged carries the previous and the new lifecycle state names.
type StateChanged struct {
	Base
	From string
	To   string
}

// NewStateChanged creates a state changed event.
func NewStateChanged(from, to string) StateChanged {
	return StateChanged{Base: NewBase(KindStateChanged), From: from, To: to}
}
