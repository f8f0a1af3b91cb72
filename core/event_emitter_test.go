package orchestration

import (
	"errors"
	"testing"
	"time"

	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/events"
)

func TestCallbackEventEmitterRoutesTypedCallbacks(t *testing.T) {
	var (
		all      int
		turns    []dialogue.Turn
		typing   []bool
		dormancy []bool
		errs     []error
		changes  []string
	)

	options := OrchestrateOptions{}
	for _, opt := range []OrchestrateOption{
		WithEventCallback(func(events.Event) { all++ }),
		WithTurnCallback(func(turn dialogue.Turn) { turns = append(turns, turn) }),
		WithTypingCallback(func(_ dialogue.Speaker, isTyping bool) { typing = append(typing, isTyping) }),
		WithDormancyCallback(func(dormant bool) { dormancy = append(dormancy, dormant) }),
		WithErrorCallback(func(err error) { errs = append(errs, err) }),
		WithStateChangeCallback(func(from, to string) { changes = append(changes, from+"->"+to) }),
	} {
		opt(&options)
	}
	emit := newCallbackEventEmitter(options)

	errBoom := errors.New("boom")
	emitted := []events.Event{
		events.NewTurnAppended(dialogue.Turn{Order: 1, Speaker: dialogue.SpeakerA}, events.OriginGenerated),
		events.NewTypingStarted(dialogue.SpeakerB),
		events.NewTypingStopped(),
		events.NewDormancyStarted(time.Now()),
		events.NewDormancyEnded(),
		events.NewSessionLoadFailed(errBoom),
		events.NewTurnGenerationFailed(dialogue.SpeakerA, errBoom),
		events.NewTurnPersistenceFailed(1, errBoom),
		events.NewTurnEchoSuppressed(1, "echo"),
		events.NewBroadcastLost(errBoom),
		events.NewBroadcastRestored(1),
		events.NewStateChanged("loading", "active/idle"),
	}
	for _, event := range emitted {
		emit(event)
	}

	if all != len(emitted) {
		t.Fatalf("expected every event on the generic callback, got %d", all)
	}
	if len(turns) != 1 || turns[0].Order != 1 {
		t.Fatalf("unexpected turns %+v", turns)
	}
	if len(typing) != 2 || !typing[0] || typing[1] {
		t.Fatalf("unexpected typing callbacks %v", typing)
	}
	if len(dormancy) != 2 || !dormancy[0] || dormancy[1] {
		t.Fatalf("unexpected dormancy callbacks %v", dormancy)
	}
	if len(errs) != 4 {
		t.Fatalf("expected four error callbacks, got %d", len(errs))
	}
	if len(changes) != 1 || changes[0] != "loading->active/idle" {
		t.Fatalf("unexpected state changes %v", changes)
	}
}

func TestCallbackEventEmitterWithoutCallbacks(t *testing.T) {
	emit := newCallbackEventEmitter(OrchestrateOptions{})
	emit(events.NewTypingStopped())
	noopEventEmitter(events.NewDormancyEnded())
}
