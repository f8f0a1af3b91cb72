package events

import "github.com/koscakluka/duet/core/dialogue"

const (
	// KindTurnAppended identifies a turn that became visible.
	KindTurnAppended Kind = "turn.appended"
	// KindTurnEchoSuppressed identifies a broadcast turn that was dropped.
	KindTurnEchoSuppressed Kind = "turn.echo_suppressed"
	// KindTurnGenerationFailed identifies a failed generator call.
	KindTurnGenerationFailed Kind = "turn.generation_failed"
	// KindTurnPersistenceFailed identifies a failed store write.
	KindTurnPersistenceFailed Kind = "turn.persistence_failed"
)

// Origin says where an appended turn came from.
type Origin string

const (
	OriginGenerated    Origin = "generated"
	OriginAnnouncement Origin = "announcement"
	OriginHuman        Origin = "human"
	OriginRemote       Origin = "remote"
)

// IsLocal reports whether the turn was produced by this process.
func (o Origin) IsLocal() bool {
	return o != OriginRemote
}

// TurnAppended carries a newly visible turn.
type TurnAppended struct {
	Base
	Turn   dialogue.Turn
	Origin Origin
}

// NewTurnAppended creates a turn appended event.
func NewTurnAppended(turn dialogue.Turn, origin Origin) TurnAppended {
	return TurnAppended{Base: NewBase(KindTurnAppended), Turn: turn, Origin: origin}
}

// TurnEchoSuppressed carries the order of a dropped broadcast turn.
type TurnEchoSuppressed struct {
	Base
	Order int
	// Reason is "echo" for a locally produced turn and "duplicate" for an
	// order that was already present.
	Reason string
}

// NewTurnEchoSuppressed creates a suppressed echo event.
func NewTurnEchoSuppressed(order int, reason string) TurnEchoSuppressed {
	return TurnEchoSuppressed{Base: NewBase(KindTurnEchoSuppressed), Order: order, Reason: reason}
}

// TurnGenerationFailed carries the speaker whose turn failed and the cause.
type TurnGenerationFailed struct {
	Base
	Speaker dialogue.Speaker
	Err     error
}

// NewTurnGenerationFailed creates a generation failure event.
func NewTurnGenerationFailed(speaker dialogue.Speaker, err error) TurnGenerationFailed {
	return TurnGenerationFailed{Base: NewBase(KindTurnGenerationFailed), Speaker: speaker, Err: err}
}

// TurnPersistenceFailed carries the order that could not be stored.
type TurnPersistenceFailed struct {
	Base
	Order int
	Err   error
}

// NewTurnPersistenceFailed creates a persistence failure event.
func NewTurnPersistenceFailed(order int, err error) TurnPersistenceFailed {
	return TurnPersistenceFailed{Base: NewBase(KindTurnPersistenceFailed), Order: order, Err: err}
}
