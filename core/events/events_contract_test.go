package events

import (
	"errors"
	"testing"
	"time"

	"github.com/koscakluka/duet/core/dialogue"
)

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	turn := dialogue.Turn{Order: 1, Speaker: dialogue.SpeakerA, Text: "hello"}
	testErr := errors.New("boom")

	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "session loaded", event: NewSessionLoaded(dialogue.Session{ID: "s"}, 3), expected: KindSessionLoaded},
		{name: "session load failed", event: NewSessionLoadFailed(testErr), expected: KindSessionLoadFailed},
		{name: "turn appended", event: NewTurnAppended(turn, OriginGenerated), expected: KindTurnAppended},
		{name: "turn echo suppressed", event: NewTurnEchoSuppressed(1, "echo"), expected: KindTurnEchoSuppressed},
		{name: "turn generation failed", event: NewTurnGenerationFailed(dialogue.SpeakerB, testErr), expected: KindTurnGenerationFailed},
		{name: "turn persistence failed", event: NewTurnPersistenceFailed(1, testErr), expected: KindTurnPersistenceFailed},
		{name: "typing started", event: NewTypingStarted(dialogue.SpeakerA), expected: KindTypingStarted},
		{name: "typing stopped", event: NewTypingStopped(), expected: KindTypingStopped},
		{name: "dormancy started", event: NewDormancyStarted(time.Now()), expected: KindDormancyStarted},
		{name: "dormancy ended", event: NewDormancyEnded(), expected: KindDormancyEnded},
		{name: "broadcast lost", event: NewBroadcastLost(testErr), expected: KindBroadcastLost},
		{name: "broadcast restored", event: NewBroadcastRestored(2), expected: KindBroadcastRestored},
		{name: "state changed", event: NewStateChanged("loading", "active(idle)"), expected: KindStateChanged},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if testCase.event.Timestamp().IsZero() {
				t.Fatalf("expected a timestamp to be set")
			}
		})
	}
}

func TestTypingStartedAndStoppedKindsAreDistinct(t *testing.T) {
	started := NewTypingStarted(dialogue.SpeakerA)
	stopped := NewTypingStopped()

	if started.Kind() == stopped.Kind() {
		t.Fatalf("expected typing started and typing stopped kinds to differ, both were %q", started.Kind())
	}
}

func TestOriginIsLocal(t *testing.T) {
	for _, origin := range []Origin{OriginGenerated, OriginAnnouncement, OriginHuman} {
		if !origin.IsLocal() {
			t.Fatalf("expected %q to be local", origin)
		}
	}
	if OriginRemote.IsLocal() {
		t.Fatalf("expected remote origin not to be local")
	}
}
