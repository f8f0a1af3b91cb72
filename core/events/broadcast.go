package events

const (
	// KindBroadcastLost identifies a broadcast stream that stopped delivering.
	KindBroadcastLost Kind = "broadcast.lost"
	// KindBroadcastRestored identifies a broadcast stream that was reopened
	// and caught up.
	KindBroadcastRestored Kind = "broadcast.restored"
)

// BroadcastLost carries why the stream of remote turns ended.
type BroadcastLost struct {
	Base
	Err error
}

func NewBroadcastLost(err error) BroadcastLost {
	return BroadcastLost{Base: NewBase(KindBroadcastLost), Err: err}
}

// BroadcastRestored carries how many turns missed while the stream was down
// became visible on catching up.
type BroadcastRestored struct {
	Base
	CaughtUp int
}

func NewBroadcastRestored(caughtUp int) BroadcastRestored {
	return BroadcastRestored{Base: NewBase(KindBroadcastRestored), CaughtUp: caughtUp}
}
