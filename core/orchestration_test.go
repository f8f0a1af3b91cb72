package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/events"
	"github.com/koscakluka/duet/core/generators"
	"github.com/koscakluka/duet/core/phrases"
	"github.com/koscakluka/duet/core/schedule"
	"github.com/koscakluka/duet/core/store"
	"github.com/koscakluka/duet/core/store/memory"
	"github.com/koscakluka/duet/core/topics"
)

const testTopic = "Dreams and Reality"

type harness struct {
	t        *testing.T
	o        *Orchestrator
	clock    *clock.Mock
	backend  *memory.Store
	recorder *eventRecorder
}

func newHarness(t *testing.T, start time.Time, opts ...OrchestratorOption) *harness {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(start)
	backend := memory.New(memory.WithNow(mock.Now))

	catalog, err := topics.New(testTopic)
	if err != nil {
		t.Fatalf("failed to create topics: %v", err)
	}

	base := []OrchestratorOption{
		WithBackend(backend),
		WithClock(mock),
		WithTopics(catalog),
		WithPhrasePicker(func(speaker dialogue.Speaker, kind phrases.Kind, seed uint64) string {
			return fmt.Sprintf("%s %s", speaker, kind)
		}),
	}
	o, err := NewOrchestrator(append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	t.Cleanup(o.Close)

	return &harness{t: t, o: o, clock: mock, backend: backend, recorder: &eventRecorder{}}
}

func (h *harness) orchestrate() {
	h.o.Orchestrate(context.Background(), WithEventCallback(h.recorder.record))
}

func (h *harness) waitForStateChanges(to string, count int) {
	h.t.Helper()
	waitForCondition(h.t, 2*time.Second, fmt.Sprintf("%d transitions to %s", count, to), func() bool {
		return h.recorder.stateChanges(to) >= count
	})
}

func (h *harness) waitForTurns(count int) []dialogue.Turn {
	h.t.Helper()
	waitForCondition(h.t, 2*time.Second, fmt.Sprintf("%d turns", count), func() bool {
		return len(h.o.Snapshot()) == count
	})
	return h.o.Snapshot()
}

func (h *harness) seed(dateKey string, speakers ...dialogue.Speaker) {
	h.t.Helper()
	ctx := context.Background()

	id, err := h.backend.GetOrCreateSession(ctx, dateKey, testTopic)
	if err != nil {
		h.t.Fatalf("failed to create session: %v", err)
	}
	for i, speaker := range speakers {
		turn := dialogue.Turn{Order: i + 1, Speaker: speaker, Text: fmt.Sprintf("seed %d", i+1)}
		if err := h.backend.AppendTurn(ctx, id, turn); err != nil {
			h.t.Fatalf("failed to seed turn: %v", err)
		}
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, event := range r.events {
		if event.Kind() == kind {
			count++
		}
	}
	return count
}

func (r *eventRecorder) stateChanges(to string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, event := range r.events {
		if changed, ok := event.(events.StateChanged); ok && changed.To == to {
			count++
		}
	}
	return count
}

func (r *eventRecorder) appended(origin events.Origin) []dialogue.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var turns []dialogue.Turn
	for _, event := range r.events {
		if appended, ok := event.(events.TurnAppended); ok && appended.Origin == origin {
			turns = append(turns, appended.Turn)
		}
	}
	return turns
}

type generatorCall struct {
	speaker dialogue.Speaker
	recent  int
	topic   string
}

type generatorStub struct {
	mu    sync.Mutex
	calls []generatorCall
	reply func(call int, speaker dialogue.Speaker) (string, error)
}

func (g *generatorStub) Generate(_ context.Context, speaker dialogue.Speaker, recent []dialogue.Turn, topic string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, generatorCall{speaker: speaker, recent: len(recent), topic: topic})
	call := len(g.calls)
	g.mu.Unlock()

	if g.reply != nil {
		return g.reply(call, speaker)
	}
	return fmt.Sprintf("%s turn %d", speaker, call), nil
}

func (g *generatorStub) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *generatorStub) call(i int) generatorCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[i]
}

func TestFirstTickOnEmptySessionLetsSpeakerAOpen(t *testing.T) {
	generator := &generatorStub{}
	h := newHarness(t, time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC), WithGenerator(generator))
	h.orchestrate()
	h.waitForStateChanges("active/idle", 1)

	if session := h.o.Session(); session == nil || session.DateKey != "2025-03-14" || session.Topic != testTopic {
		t.Fatalf("expected today's session with the daily topic, got %+v", session)
	}
	if _, typing := h.o.Typing(); typing {
		t.Fatalf("expected no typing indicator before the settle delay")
	}

	h.clock.Add(DefaultSettleDelay)
	waitForCondition(t, time.Second, "speaker A typing", func() bool {
		speaker, typing := h.o.Typing()
		return typing && speaker == dialogue.SpeakerA
	})

	h.clock.Add(schedule.DefaultConfig().TickInterval - DefaultSettleDelay)
	turns := h.waitForTurns(1)
	h.waitForStateChanges("active/idle", 2)

	if turns[0].Order != 1 || turns[0].Speaker != dialogue.SpeakerA || turns[0].Text != "speaker_a turn 1" {
		t.Fatalf("unexpected first turn %+v", turns[0])
	}
	if call := generator.call(0); call.speaker != dialogue.SpeakerA || call.recent != 0 || call.topic != testTopic {
		t.Fatalf("unexpected generator call %+v", call)
	}
	if got := h.o.NextSpeaker(); got != dialogue.SpeakerB {
		t.Fatalf("expected speaker B next, got %s", got)
	}
	if _, typing := h.o.Typing(); typing {
		t.Fatalf("expected typing cleared after the turn")
	}
	if err := h.o.LastError(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	waitForCondition(t, time.Second, "turn persisted", func() bool {
		stored, err := h.backend.SessionTurns(context.Background(), h.o.Session().ID)
		return err == nil && len(stored) == 1
	})
	waitForCondition(t, time.Second, "own echo suppressed", func() bool {
		return h.recorder.count(events.KindTurnEchoSuppressed) == 1
	})
	if got := len(h.o.Snapshot()); got != 1 {
		t.Fatalf("expected the echo not to duplicate the turn, got %d turns", got)
	}

	h.clock.Add(DefaultReadingDelay)
	waitForCondition(t, time.Second, "speaker B typing", func() bool {
		speaker, typing := h.o.Typing()
		return typing && speaker == dialogue.SpeakerB
	})
}

func TestTicksAlternateSpeakers(t *testing.T) {
	generator := &generatorStub{}
	h := newHarness(t, time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC), WithGenerator(generator))
	h.seed("2025-03-14", dialogue.SpeakerA, dialogue.Human)
	h.orchestrate()
	h.waitForStateChanges("active/idle", 1)

	want := []dialogue.Speaker{dialogue.SpeakerB, dialogue.SpeakerA, dialogue.SpeakerB, dialogue.SpeakerA}
	for i := range want {
		h.clock.Add(schedule.DefaultConfig().TickInterval)
		h.waitForTurns(3 + i)
		h.waitForStateChanges("active/idle", 2+i)
	}

	turns := h.o.Snapshot()
	for i, speaker := range want {
		turn := turns[2+i]
		if turn.Order != 3+i || turn.Speaker != speaker {
			t.Fatalf("turn %d: expected order %d by %s, got %+v", i, 3+i, speaker, turn)
		}
	}
	if call := generator.call(0); call.recent != 2 {
		t.Fatalf("expected the generator to see the seeded history, got %d turns", call.recent)
	}
}

func TestDormancyAnnouncementAndWake(t *testing.T) {
	config := schedule.DefaultConfig()
	config.TickInterval = 30 * time.Minute
	generator := &generatorStub{}

	h := newHarness(t, time.Date(2025, time.March, 14, 1, 54, 30, 0, time.UTC),
		WithGenerator(generator),
		WithSchedule(config),
	)
	h.seed("2025-03-14",
		dialogue.SpeakerA, dialogue.SpeakerB, dialogue.SpeakerA, dialogue.SpeakerB, dialogue.SpeakerA)
	h.orchestrate()
	h.waitForStateChanges("active/idle", 1)

	h.clock.Add(time.Minute)
	turns := h.waitForTurns(6)
	h.waitForStateChanges("active/winding_down", 1)

	if got := turns[5]; got.Order != 6 || got.Speaker != dialogue.SpeakerB || got.Text != "speaker_b dormancy" {
		t.Fatalf("unexpected dormancy announcement %+v", got)
	}

	h.clock.Add(4*time.Minute + 30*time.Second)
	h.waitForStateChanges("active/dormant", 1)
	if !h.o.IsDormant() {
		t.Fatalf("expected dormant at 02:00")
	}
	if _, typing := h.o.Typing(); typing {
		t.Fatalf("expected no typing while dormant")
	}
	if err := h.o.Interject(context.Background(), "anyone awake?"); !errors.Is(err, ErrDormant) {
		t.Fatalf("expected ErrDormant, got %v", err)
	}

	h.clock.Add(6 * time.Hour)
	turns = h.waitForTurns(7)
	h.waitForStateChanges("active/idle", 2)

	if got := turns[6]; got.Order != 7 || got.Speaker != dialogue.SpeakerA || got.Text != "speaker_a wake" {
		t.Fatalf("unexpected wake turn %+v", got)
	}
	if got := h.o.NextSpeaker(); got != dialogue.SpeakerB {
		t.Fatalf("expected speaker B after the wake turn, got %s", got)
	}
	if got := generator.callCount(); got != 0 {
		t.Fatalf("expected no generator calls around dormancy, got %d", got)
	}
	if got := h.recorder.count(events.KindDormancyEnded); got != 1 {
		t.Fatalf("expected one dormancy ended event, got %d", got)
	}
	if got := len(h.recorder.appended(events.OriginAnnouncement)); got != 2 {
		t.Fatalf("expected two announcements, got %d", got)
	}
}

func TestLoadingDuringDormancyWaitsForWake(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.March, 14, 3, 0, 0, 0, time.UTC), WithGenerator(&generatorStub{}))
	h.orchestrate()
	h.waitForStateChanges("active/dormant", 1)

	if got := len(h.o.Snapshot()); got != 0 {
		t.Fatalf("expected no announcement when loading while dormant, got %d turns", got)
	}
	waitForCondition(t, time.Second, "dormancy started event", func() bool {
		return h.recorder.count(events.KindDormancyStarted) == 1
	})

	h.clock.Add(5 * time.Hour)
	turns := h.waitForTurns(1)
	if turns[0].Speaker != dialogue.SpeakerA || turns[0].Text != "speaker_a wake" {
		t.Fatalf("unexpected wake turn %+v", turns[0])
	}
}

func TestGenerationFailureKeepsSpeakerAndOrder(t *testing.T) {
	errUnavailable := errors.New("model unavailable")
	generator := &generatorStub{reply: func(call int, speaker dialogue.Speaker) (string, error) {
		if call == 1 {
			return "", errUnavailable
		}
		return "recovered", nil
	}}

	h := newHarness(t, time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC), WithGenerator(generator))
	h.orchestrate()
	h.waitForStateChanges("active/idle", 1)

	h.clock.Add(schedule.DefaultConfig().TickInterval)
	h.waitForStateChanges("active/idle", 2)

	if got := len(h.o.Snapshot()); got != 0 {
		t.Fatalf("expected no turn after a failed generation, got %d", got)
	}
	var generationErr *GenerationError
	if err := h.o.LastError(); !errors.As(err, &generationErr) || generationErr.Speaker != dialogue.SpeakerA || !errors.Is(err, errUnavailable) {
		t.Fatalf("expected a generation error for speaker A, got %v", err)
	}
	if _, typing := h.o.Typing(); typing {
		t.Fatalf("expected typing cleared after a failure")
	}
	if got := h.o.NextSpeaker(); got != dialogue.SpeakerA {
		t.Fatalf("expected speaker A to retry, got %s", got)
	}

	h.clock.Add(schedule.DefaultConfig().TickInterval)
	turns := h.waitForTurns(1)
	if turns[0].Order != 1 || turns[0].Speaker != dialogue.SpeakerA || turns[0].Text != "recovered" {
		t.Fatalf("unexpected retried turn %+v", turns[0])
	}
	h.waitForStateChanges("active/idle", 3)
	if err := h.o.LastError(); err != nil {
		t.Fatalf("expected the error cleared after a success, got %v", err)
	}
}

func TestEmissionInFlightCompletesWhenDormancyBegins(t *testing.T) {
	release := make(chan struct{})
	generator := &generatorStub{reply: func(call int, speaker dialogue.Speaker) (string, error) {
		<-release
		return "late but valid", nil
	}}

	h := newHarness(t, time.Date(2025, time.March, 14, 1, 49, 59, 0, time.UTC), WithGenerator(generator))
	h.orchestrate()
	h.waitForStateChanges("active/idle", 1)

	h.clock.Add(schedule.DefaultConfig().TickInterval)
	h.waitForStateChanges("active/emitting", 1)

	if err := h.o.Interject(context.Background(), "what do you think?"); err != nil {
		t.Fatalf("expected interjection during emission to succeed, got %v", err)
	}

	h.clock.Add(6 * time.Minute)
	time.Sleep(50 * time.Millisecond)
	if got := generator.callCount(); got != 1 {
		t.Fatalf("expected a single generator call while emitting, got %d", got)
	}
	if state := h.o.State(); !state.Is(PhaseActive, ModeEmitting) {
		t.Fatalf("expected to stay emitting across the dormancy boundary, got %s", state)
	}

	close(release)
	turns := h.waitForTurns(2)
	if turns[0].Speaker != dialogue.Human || turns[1].Order != 2 || turns[1].Speaker != dialogue.SpeakerA {
		t.Fatalf("unexpected turns %+v", turns)
	}
	h.waitForStateChanges("active/idle", 2)

	h.clock.Add(DefaultPollInterval)
	h.waitForStateChanges("active/dormant", 1)
	if got := generator.callCount(); got != 1 {
		t.Fatalf("expected dormancy to suppress the next tick, got %d calls", got)
	}
	if got := len(h.recorder.appended(events.OriginAnnouncement)); got != 0 {
		t.Fatalf("expected no announcement once the window was missed, got %d", got)
	}
}

type flakyStore struct {
	*memory.Store
	failures atomic.Int32
	err      error
}

func (s *flakyStore) GetOrCreateSession(ctx context.Context, dateKey, topic string) (string, error) {
	if s.failures.Add(-1) >= 0 {
		return "", s.err
	}
	return s.Store.GetOrCreateSession(ctx, dateKey, topic)
}

func TestLoadFailureBlocksUntilReload(t *testing.T) {
	errDown := errors.New("database down")
	generator := &generatorStub{}

	mock := clock.NewMock()
	mock.Set(time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC))
	backend := &flakyStore{Store: memory.New(), err: errDown}
	backend.failures.Store(1)

	o, err := NewOrchestrator(WithBackend(backend), WithClock(mock), WithGenerator(generator))
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	defer o.Close()

	recorder := &eventRecorder{}
	o.Orchestrate(context.Background(), WithEventCallback(recorder.record))

	waitForCondition(t, 2*time.Second, "load failure", func() bool {
		return recorder.stateChanges("load_failed") == 1
	})
	var loadErr *LoadError
	if err := o.LastError(); !errors.As(err, &loadErr) || !errors.Is(err, errDown) || loadErr.DateKey != "2025-03-14" {
		t.Fatalf("expected a load error, got %v", err)
	}

	mock.Add(time.Hour)
	time.Sleep(50 * time.Millisecond)
	if got := generator.callCount(); got != 0 {
		t.Fatalf("expected no progression after a load failure, got %d generator calls", got)
	}
	if err := o.Interject(context.Background(), "hello?"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}

	o.Reload()
	waitForCondition(t, 2*time.Second, "reload", func() bool {
		return recorder.stateChanges("active/idle") == 1
	})
	if err := o.LastError(); err != nil {
		t.Fatalf("expected the load error cleared, got %v", err)
	}
}

func TestRemoteTurnsAdvanceAlternation(t *testing.T) {
	generator := &generatorStub{}
	h := newHarness(t, time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC), WithGenerator(generator))
	h.orchestrate()
	h.waitForStateChanges("active/idle", 1)

	id := h.o.Session().ID
	if err := h.backend.AppendTurn(context.Background(), id, dialogue.Turn{Order: 1, Speaker: dialogue.SpeakerA, Text: "from elsewhere"}); err != nil {
		t.Fatalf("failed to append remote turn: %v", err)
	}

	waitForCondition(t, time.Second, "remote turn event", func() bool {
		return len(h.recorder.appended(events.OriginRemote)) == 1
	})
	if remote := h.recorder.appended(events.OriginRemote); remote[0].Text != "from elsewhere" {
		t.Fatalf("unexpected remote turn %+v", remote[0])
	}
	if got := h.o.NextSpeaker(); got != dialogue.SpeakerB {
		t.Fatalf("expected speaker B after a remote speaker A turn, got %s", got)
	}

	h.clock.Add(schedule.DefaultConfig().TickInterval)
	turns := h.waitForTurns(2)
	if turns[1].Order != 2 || turns[1].Speaker != dialogue.SpeakerB {
		t.Fatalf("expected speaker B to answer the remote turn with order 2, got %+v", turns[1])
	}
}

func TestInterjectAddsHumanTurnWithoutChangingAlternation(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC), WithGenerator(&generatorStub{}))

	if err := h.o.Interject(context.Background(), "too early"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive before Orchestrate, got %v", err)
	}

	h.seed("2025-03-14", dialogue.SpeakerA)
	h.orchestrate()
	h.waitForStateChanges("active/idle", 1)

	if err := h.o.Interject(context.Background(), "   "); !errors.Is(err, ErrEmptyInterjection) {
		t.Fatalf("expected ErrEmptyInterjection, got %v", err)
	}
	if err := h.o.Interject(context.Background(), "  Is love an algorithm?  "); err != nil {
		t.Fatalf("expected interjection to succeed, got %v", err)
	}

	turns := h.o.Snapshot()
	if len(turns) != 2 || turns[1].Order != 2 || turns[1].Speaker != dialogue.Human || turns[1].Text != "Is love an algorithm?" {
		t.Fatalf("unexpected turns %+v", turns)
	}
	if got := h.o.NextSpeaker(); got != dialogue.SpeakerB {
		t.Fatalf("expected alternation unchanged, got %s", got)
	}
	waitForCondition(t, time.Second, "human turn persisted", func() bool {
		stored, err := h.backend.SessionTurns(context.Background(), h.o.Session().ID)
		return err == nil && len(stored) == 2
	})
}

type failingAppendStore struct {
	*memory.Store
	err error
}

func (s *failingAppendStore) AppendTurn(context.Context, string, dialogue.Turn) error {
	return s.err
}

func TestPersistenceFailureKeepsTurnVisible(t *testing.T) {
	errWrite := errors.New("write refused")
	mock := clock.NewMock()
	mock.Set(time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC))

	o, err := NewOrchestrator(
		WithBackend(&failingAppendStore{Store: memory.New(), err: errWrite}),
		WithClock(mock),
		WithGenerator(&generatorStub{}),
	)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	defer o.Close()

	var (
		mu     sync.Mutex
		failed []error
	)
	recorder := &eventRecorder{}
	o.Orchestrate(context.Background(),
		WithEventCallback(recorder.record),
		WithErrorCallback(func(err error) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, err)
		}),
	)
	waitForCondition(t, 2*time.Second, "loaded", func() bool { return recorder.stateChanges("active/idle") == 1 })

	if err := o.Interject(context.Background(), "hello"); err != nil {
		t.Fatalf("expected interjection to succeed, got %v", err)
	}
	waitForCondition(t, time.Second, "persistence failure", func() bool {
		return recorder.count(events.KindTurnPersistenceFailed) == 1
	})

	mu.Lock()
	var persistenceErr *PersistenceError
	if len(failed) != 1 || !errors.As(failed[0], &persistenceErr) || persistenceErr.Order != 1 || !errors.Is(failed[0], errWrite) {
		t.Fatalf("expected a persistence error for order 1, got %v", failed)
	}
	mu.Unlock()

	if got := len(o.Snapshot()); got != 1 {
		t.Fatalf("expected the turn to stay visible, got %d turns", got)
	}
	if err := o.LastError(); err != nil {
		t.Fatalf("expected persistence failures not to set the last error, got %v", err)
	}
}

func TestPassiveOrchestratorNeverProduces(t *testing.T) {
	generator := &generatorStub{}
	h := newHarness(t, time.Date(2025, time.March, 14, 1, 50, 0, 0, time.UTC), WithGenerator(generator), WithPassive())
	h.orchestrate()
	h.waitForStateChanges("active/idle", 1)

	waitForCondition(t, 2*time.Second, "passive dormancy", func() bool {
		if h.recorder.stateChanges("active/dormant") >= 1 {
			return true
		}
		h.clock.Add(DefaultPollInterval)
		return false
	})

	if got := len(h.o.Snapshot()); got != 0 {
		t.Fatalf("expected no turns from a passive orchestrator, got %d", got)
	}
	if got := generator.callCount(); got != 0 {
		t.Fatalf("expected no generator calls, got %d", got)
	}
	if got := h.recorder.count(events.KindTypingStarted); got != 0 {
		t.Fatalf("expected no typing indicator, got %d", got)
	}
}

func TestPollLoadsTheNewDayAfterMidnight(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.March, 14, 23, 59, 30, 0, time.UTC), WithGenerator(&generatorStub{}))
	h.orchestrate()
	h.waitForStateChanges("active/idle", 1)

	h.clock.Add(DefaultPollInterval)
	h.waitForStateChanges("active/idle", 2)

	if session := h.o.Session(); session == nil || session.DateKey != "2025-03-15" {
		t.Fatalf("expected the next day's session, got %+v", session)
	}
	sessions, err := h.backend.ListSessions(context.Background())
	if err != nil || len(sessions) != 2 {
		t.Fatalf("expected two sessions, got %d (%v)", len(sessions), err)
	}
}

func TestCloseStopsTheDialogue(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC), WithGenerator(&generatorStub{}))
	ctx, cancel := context.WithCancel(context.Background())
	h.o.Orchestrate(ctx, WithEventCallback(h.recorder.record))
	h.waitForStateChanges("active/idle", 1)

	cancel()
	waitForCondition(t, time.Second, "closed", func() bool {
		return h.o.State().Phase == PhaseClosed
	})

	if err := h.o.Interject(context.Background(), "still there?"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive after close, got %v", err)
	}

	h.o.Orchestrate(context.Background())
	if state := h.o.State(); state.Phase != PhaseClosed {
		t.Fatalf("expected orchestrator to stay closed, got %s", state)
	}
}

func TestNewOrchestratorRejectsInvalidSchedule(t *testing.T) {
	_, err := NewOrchestrator(WithSchedule(schedule.Config{DormantStartHour: 25, TickInterval: time.Minute}))
	if err == nil {
		t.Fatalf("expected an invalid schedule to be rejected")
	}
}

func TestNewOrchestratorSubscribesThroughStoreBroadcast(t *testing.T) {
	var s store.Store = memory.New()
	o, err := NewOrchestrator(WithStore(s))
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	if o.broadcast == nil {
		t.Fatalf("expected the store's broadcast to be used")
	}
}

var _ generators.Generator = (*generatorStub)(nil)

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}
