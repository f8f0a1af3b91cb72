package events

import "github.com/koscakluka/duet/core/dialogue"

const (
	// KindTypingStarted identifies a speaker shown as composing.
	KindTypingStarted Kind = "typing.started"
	// KindTypingStopped identifies a cleared typing indicator.
	KindTypingStopped Kind = "typing.stopped"
)

// TypingStarted carries the speaker shown as composing.
type TypingStarted struct {
	Base
	Speaker dialogue.Speaker
}

// NewTypingStarted creates a typing started event.
func NewTypingStarted(speaker dialogue.Speaker) TypingStarted {
	return TypingStarted{Base: NewBase(KindTypingStarted), Speaker: speaker}
}

// TypingStopped marks that no speaker is shown as composing.
type TypingStopped struct{ Base }

// NewTypingStopped creates a typing stopped event.
func NewTypingStopped() TypingStopped {
	return TypingStopped{Base: NewBase(KindTypingStopped)}
}
