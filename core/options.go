package orchestration

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/events"
	"github.com/koscakluka/duet/core/generators"
	"github.com/koscakluka/duet/core/phrases"
	"github.com/koscakluka/duet/core/schedule"
	"github.com/koscakluka/duet/core/store"
)

const (
	DefaultSettleDelay  = time.Second
	DefaultReadingDelay = 5 * time.Second
	DefaultPollInterval = time.Minute
)

type OrchestratorOption func(*Orchestrator)

// WithBackend uses backend both for storage and for the broadcast feed.
func WithBackend(backend store.Backend) OrchestratorOption {
	return func(o *Orchestrator) {
		o.store = backend
		o.broadcast = backend
	}
}

func WithStore(s store.Store) OrchestratorOption {
	return func(o *Orchestrator) { o.store = s }
}

// WithBroadcast overrides the broadcast feed. Without it, a store that also
// implements store.Broadcast is subscribed to.
func WithBroadcast(b store.Broadcast) OrchestratorOption {
	return func(o *Orchestrator) { o.broadcast = b }
}

func WithGenerator(generator generators.Generator) OrchestratorOption {
	return func(o *Orchestrator) { o.generator = generator }
}

type TopicPicker interface {
	ForDate(t time.Time) string
}

func WithTopics(topics TopicPicker) OrchestratorOption {
	return func(o *Orchestrator) { o.topics = topics }
}

func WithPhrasePicker(picker phrases.Picker) OrchestratorOption {
	return func(o *Orchestrator) { o.pickPhrase = picker }
}

func WithSchedule(config schedule.Config) OrchestratorOption {
	return func(o *Orchestrator) { o.schedule = config }
}

func WithClock(c clock.Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = c }
}

// WithSettleDelay sets how long after loading the next speaker is shown as
// typing.
func WithSettleDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.settleDelay = delay }
}

// WithReadingDelay sets how long after a turn the next speaker is shown as
// typing.
func WithReadingDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.readingDelay = delay }
}

// WithPostWakeDelay sets how long after the wake turn the next tick fires.
// Defaults to the tick interval.
func WithPostWakeDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.postWakeDelay = delay }
}

func WithPollInterval(interval time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.pollInterval = interval }
}

// WithHistoryWindow sets how many recent turns the generator sees.
func WithHistoryWindow(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.historyWindow = n }
}

func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithPassive makes the orchestrator a viewer: it loads, ingests broadcasts
// and tracks dormancy, but never generates or announces turns.
func WithPassive() OrchestratorOption {
	return func(o *Orchestrator) { o.passive = true }
}

// OrchestrateOptions holds presentation callbacks. All callbacks run on the
// orchestrator's goroutine; they must return promptly and must not call
// Interject.
type OrchestrateOptions struct {
	onEvent       func(events.Event)
	onTurn        func(turn dialogue.Turn)
	onTyping      func(speaker dialogue.Speaker, typing bool)
	onDormancy    func(dormant bool)
	onError       func(err error)
	onStateChange func(from, to string)
}

type OrchestrateOption func(*OrchestrateOptions)

// WithEventCallback receives every event before the typed callbacks run.
func WithEventCallback(callback func(events.Event)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onEvent = callback
	}
}

// WithTurnCallback registers a callback for every turn that becomes visible,
// local or remote.
func WithTurnCallback(callback func(turn dialogue.Turn)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onTurn = callback
	}
}

func WithTypingCallback(callback func(speaker dialogue.Speaker, typing bool)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onTyping = callback
	}
}

func WithDormancyCallback(callback func(dormant bool)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onDormancy = callback
	}
}

// WithErrorCallback registers a callback for load, generation, persistence
// and broadcast stream errors.
func WithErrorCallback(callback func(err error)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onError = callback
	}
}

func WithStateChangeCallback(callback func(from, to string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onStateChange = callback
	}
}
