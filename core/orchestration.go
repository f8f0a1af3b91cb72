package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/events"
	"github.com/koscakluka/duet/core/generators"
	"github.com/koscakluka/duet/core/ledger"
	"github.com/koscakluka/duet/core/messages"
	"github.com/koscakluka/duet/core/phrases"
	"github.com/koscakluka/duet/core/schedule"
	"github.com/koscakluka/duet/core/store"
	"github.com/koscakluka/duet/core/topics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	minResubscribeDelay = time.Second
	maxResubscribeDelay = time.Minute
)

// Orchestrator runs one perpetual two-speaker dialogue: it loads the session
// of the day, alternates the speakers on every tick, announces and observes
// the dormant window, and merges turns broadcast by other processes.
type Orchestrator struct {
	store      store.Store
	broadcast  store.Broadcast
	generator  generators.Generator
	topics     TopicPicker
	pickPhrase phrases.Picker
	schedule   schedule.Config
	clock      clock.Clock
	logger     *slog.Logger
	passive    bool

	settleDelay   time.Duration
	readingDelay  time.Duration
	postWakeDelay time.Duration
	pollInterval  time.Duration
	historyWindow int

	runtime     *runtime
	scheduler   *scheduler
	messages    *messages.Store
	ledger      *ledger.Ledger
	view        conversationView
	emit        eventEmitter
	baseContext context.Context

	orchestrated atomic.Bool
	closeOnce    sync.Once
	persisting   sync.WaitGroup

	// Owned by the actor goroutine.
	epoch            uint64
	unsubscribe      func()
	bufferedRemote   []dialogue.Turn
	streamLost       error
	resubscribeDelay time.Duration
	pendingTyping    dialogue.Speaker
	announcedFor     time.Time
}

func NewOrchestrator(opts ...OrchestratorOption) (*Orchestrator, error) {
	o := &Orchestrator{
		schedule:      schedule.DefaultConfig(),
		clock:         clock.New(),
		logger:        logger,
		settleDelay:   DefaultSettleDelay,
		readingDelay:  DefaultReadingDelay,
		pollInterval:  DefaultPollInterval,
		historyWindow: generators.DefaultHistoryWindow,
		runtime:       newRuntime(),
		emit:          noopEventEmitter,
		baseContext:   context.Background(),
		view:          conversationView{state: State{Phase: PhaseLoading}, nextSpeaker: dialogue.DefaultSpeaker},
	}

	for _, opt := range opts {
		opt(o)
	}

	if err := o.schedule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	if o.postWakeDelay <= 0 {
		o.postWakeDelay = o.schedule.TickInterval
	}
	if o.broadcast == nil {
		if broadcast, ok := o.store.(store.Broadcast); ok {
			o.broadcast = broadcast
		}
	}

	if o.topics == nil {
		catalog, err := topics.Load(topics.DefaultLanguage)
		if err != nil {
			return nil, fmt.Errorf("load default topics: %w", err)
		}
		o.topics = catalog
	}
	if o.pickPhrase == nil {
		catalog, err := phrases.Load(topics.DefaultLanguage)
		if err != nil {
			return nil, fmt.Errorf("load default phrases: %w", err)
		}
		o.pickPhrase = catalog.Pick
	}

	pending, err := ledger.New(ledger.WithClock(o.clock))
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	o.ledger = pending
	o.messages = messages.New(pending)
	o.scheduler = newScheduler(o.clock, func(fired timerFired) { o.runtime.enqueue(fired) })

	return o, nil
}

// Orchestrate loads today's session and keeps the dialogue going until ctx
// is cancelled or Close is called.
//
// Contract: call Orchestrate at most once per orchestrator instance; later
// calls are ignored.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) {
	if o.runtime.isClosed() {
		o.logger.Warn("orchestrator already closed, skipping Orchestrate")
		return
	}
	if !o.orchestrated.CompareAndSwap(false, true) {
		o.logger.Warn("orchestrator already running, skipping Orchestrate")
		return
	}

	options := OrchestrateOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	o.emit = newCallbackEventEmitter(options)
	o.baseContext = ctx

	if started := o.runtime.start(o.process); started {
		go func() {
			select {
			case <-ctx.Done():
				o.Close()
			case <-o.runtime.closeCh:
			}
		}()
	}

	o.runtime.enqueue(loadRequested{})
}

// Close stops the dialogue and waits for in-flight writes to finish.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.runtime.end()
		o.runtime.waitUntilEnded()

		o.scheduler.cancelAll()
		if o.unsubscribe != nil {
			o.unsubscribe()
			o.unsubscribe = nil
		}
		o.persisting.Wait()

		prev := o.view.getState()
		next := transition(prev, closeRequested{}, environment{})
		o.view.setState(next)
		if !prev.same(next) {
			o.emit(events.NewStateChanged(prev.String(), next.String()))
		}
	})
}

// Reload drops the current session and resolves today's session again. It
// is the only way out of PhaseLoadFailed.
func (o *Orchestrator) Reload() {
	if !o.orchestrated.Load() {
		return
	}
	o.runtime.enqueue(loadRequested{})
}

// Interject appends a human turn. Human turns do not change whose turn it is.
func (o *Orchestrator) Interject(ctx context.Context, text string) error {
	if !o.orchestrated.Load() {
		return ErrNotActive
	}

	reply := make(chan error, 1)
	if !o.runtime.enqueue(humanTurn{text: text, reply: reply}) {
		return ErrNotActive
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.runtime.closeCh:
		return ErrNotActive
	}
}

// Snapshot returns the visible turns in ascending order.
func (o *Orchestrator) Snapshot() []dialogue.Turn { return o.messages.Snapshot() }

// Conversation returns the presentation state together with the turns.
func (o *Orchestrator) Conversation() ConversationSnapshot {
	snapshot := o.view.snapshot()
	snapshot.Turns = o.messages.Snapshot()
	return snapshot
}

// Typing returns the speaker shown as composing, if any.
func (o *Orchestrator) Typing() (dialogue.Speaker, bool) {
	speaker := o.view.getTyping()
	return speaker, speaker != ""
}

func (o *Orchestrator) IsDormant() bool { return o.view.getState().Is(PhaseActive, ModeDormant) }

func (o *Orchestrator) LastError() error { return o.view.getLastErr() }

func (o *Orchestrator) State() State { return o.view.getState() }

// Session returns the loaded session, or nil before the first load.
func (o *Orchestrator) Session() *dialogue.Session { return o.view.getSession() }

func (o *Orchestrator) NextSpeaker() dialogue.Speaker { return o.view.getNextSpeaker() }

func (o *Orchestrator) process(raw input) {
	now := o.clock.Now()

	in := raw
	switch typed := raw.(type) {
	case timerFired:
		if !o.scheduler.consume(typed) {
			return
		}
		switch typed.slot {
		case slotTyping:
			if o.view.getState().Is(PhaseActive, ModeIdle) {
				o.setTyping(o.pendingTyping)
			}
			return
		case slotResubscribe:
			o.resubscribe()
			return
		case slotPoll:
			o.ledger.Sweep()
			if o.dayChanged(now) {
				o.logger.Info("calendar day changed, loading the new session")
				in = loadRequested{}
			}
		}
	case loadCompleted:
		if typed.epoch != o.epoch {
			if typed.unsubscribe != nil {
				go typed.unsubscribe()
			}
			return
		}
	case generationCompleted:
		if typed.epoch != o.epoch {
			return
		}
	case remoteTurn:
		o.ingestRemote(typed)
		return
	case subscriptionLost:
		o.subscriptionLost(typed)
		return
	case resubscribed:
		o.resubscribed(typed)
		return
	case humanTurn:
		typed.reply <- o.interject(typed.text, now)
		return
	case persistFailed:
		o.reportPersistenceFailure(typed)
		return
	}

	prev := o.view.getState()
	next := transition(prev, in, o.observe(now))
	o.view.setState(next)
	o.applyEdge(prev, next, in, now)

	if fired, ok := in.(timerFired); ok && fired.slot == slotPoll && next.Phase == PhaseActive {
		o.scheduler.schedule(slotPoll, o.pollInterval)
	}

	// Emitted last so that observers see every effect of the transition.
	if !prev.same(next) {
		o.logger.Debug("state changed", "from", prev.String(), "to", next.String())
		o.emit(events.NewStateChanged(prev.String(), next.String()))
	}
}

func (o *Orchestrator) observe(now time.Time) environment {
	env := environment{
		dormant: schedule.IsDormant(o.schedule, now),
		passive: o.passive,
	}
	if schedule.ShouldAnnounceDormancyStart(o.schedule, now) {
		start := o.dormancyStart(now)
		if !o.announcedFor.Equal(start) && o.announcementStored(start) {
			o.announcedFor = start
		}
		env.announce = !o.announcedFor.Equal(start)
	}
	return env
}

// announcementStored reports whether the session already holds the
// announcement of the dormancy starting at start, from this process before a
// restart or from another producer.
func (o *Orchestrator) announcementStored(start time.Time) bool {
	since := start.Add(-schedule.AnnouncementWindow)
	for _, turn := range slices.Backward(o.messages.Snapshot()) {
		if turn.CreatedAt.Before(since) || !turn.Speaker.IsMachine() {
			continue
		}
		phrase := o.pickPhrase(turn.Speaker, phrases.KindDormancy, uint64(turn.Order))
		if phrase != "" && turn.Text == phrase {
			return true
		}
	}
	return false
}

func (o *Orchestrator) dormancyStart(now time.Time) time.Time {
	return now.Add(schedule.UntilDormancyStart(o.schedule, now))
}

func (o *Orchestrator) localDate(now time.Time) time.Time {
	if o.schedule.Location != nil {
		return now.In(o.schedule.Location)
	}
	return now
}

func (o *Orchestrator) dayChanged(now time.Time) bool {
	state := o.view.getState()
	if state.Phase != PhaseActive || state.Mode == ModeEmitting {
		return false
	}
	session := o.view.getSession()
	return session != nil && session.DateKey != dialogue.DateKey(o.localDate(now))
}

func (o *Orchestrator) applyEdge(prev, next State, in input, now time.Time) {
	if _, ok := in.(loadRequested); ok && next.Phase == PhaseLoading {
		o.startLoad(now)
		return
	}

	if prev.Phase == PhaseLoading {
		completed, ok := in.(loadCompleted)
		if !ok {
			return
		}
		switch next.Phase {
		case PhaseLoadFailed:
			o.loadFailed(completed)
		case PhaseActive:
			o.loaded(completed, next.Mode, now)
		}
		return
	}

	if prev.Phase != PhaseActive || next.Phase != PhaseActive {
		return
	}

	switch {
	case prev.Mode != ModeDormant && next.Mode == ModeDormant:
		o.enterDormant(now)
	case prev.Mode == ModeDormant && next.Mode == ModeIdle:
		o.wake(now)
	case prev.Mode == ModeIdle && next.Mode == ModeWindingDown:
		o.announceDormancy(now)
	case prev.Mode == ModeIdle && next.Mode == ModeEmitting:
		o.startGeneration()
	case prev.Mode == ModeEmitting && next.Mode == ModeIdle:
		if completed, ok := in.(generationCompleted); ok {
			o.finishGeneration(completed, now)
		}
	}
}

func (o *Orchestrator) startLoad(now time.Time) {
	o.epoch++
	epoch := o.epoch

	o.scheduler.cancelAll()
	o.setTyping("")
	if o.unsubscribe != nil {
		go o.unsubscribe()
		o.unsubscribe = nil
	}
	o.bufferedRemote = nil
	o.streamLost = nil

	local := o.localDate(now)
	dateKey := dialogue.DateKey(local)
	topic := o.topics.ForDate(local)

	go func() {
		result := loadCompleted{epoch: epoch}
		err := panicSafeNamedWorker("session load", func(ctx context.Context) error {
			session, turns, unsubscribe, err := o.load(ctx, epoch, dateKey, topic)
			if err != nil {
				return err
			}
			result.session, result.turns, result.unsubscribe = session, turns, unsubscribe
			return nil
		})(o.baseContext)
		if err != nil {
			result.err = &LoadError{DateKey: dateKey, Err: err}
		}

		if !o.runtime.enqueue(result) && result.unsubscribe != nil {
			result.unsubscribe()
		}
	}()
}

// load subscribes before reading the turns so that nothing appended in
// between is missed. Turns that arrive before the load completes are
// buffered by the actor.
func (o *Orchestrator) load(ctx context.Context, epoch uint64, dateKey, topic string) (*dialogue.Session, []dialogue.Turn, func(), error) {
	ctx, span := tracer.Start(ctx, "load session", trace.WithAttributes(attribute.String("session.date", dateKey)))
	defer span.End()

	if o.store == nil {
		return nil, nil, nil, recordError(span, ErrNoStore)
	}

	id, err := o.store.GetOrCreateSession(ctx, dateKey, topic)
	if err != nil {
		return nil, nil, nil, recordError(span, fmt.Errorf("get or create session: %w", err))
	}

	unsubscribe := func() {}
	if o.broadcast != nil {
		unsubscribe, err = o.subscribe(epoch, id)
		if err != nil {
			return nil, nil, nil, recordError(span, fmt.Errorf("subscribe to session %s: %w", id, err))
		}
	}

	session, turns, err := o.store.LoadSession(ctx, dateKey)
	if err != nil {
		unsubscribe()
		return nil, nil, nil, recordError(span, fmt.Errorf("load turns: %w", err))
	}
	span.SetAttributes(attribute.String("session.id", session.ID), attribute.Int("session.turns", len(turns)))

	return session, turns, unsubscribe, nil
}

func (o *Orchestrator) subscribe(epoch uint64, sessionID string) (func(), error) {
	return o.broadcast.Subscribe(o.baseContext, sessionID,
		func(turn dialogue.Turn) {
			o.runtime.enqueue(remoteTurn{epoch: epoch, turn: turn})
		},
		func(err error) {
			o.runtime.enqueue(subscriptionLost{epoch: epoch, err: err})
		},
	)
}

func (o *Orchestrator) loaded(in loadCompleted, mode Mode, now time.Time) {
	o.unsubscribe = in.unsubscribe
	o.ledger.Reset()
	o.messages.Replace(in.turns)

	o.view.setSession(in.session)
	o.view.setLastErr(nil)
	o.refreshNextSpeaker()
	o.logger.Info("session loaded", "session", in.session.ID, "date", in.session.DateKey, "topic", in.session.Topic, "turns", len(in.turns))
	o.emit(events.NewSessionLoaded(*in.session, len(in.turns)))

	buffered := o.bufferedRemote
	o.bufferedRemote = nil
	for _, turn := range buffered {
		o.ingestRemote(remoteTurn{epoch: o.epoch, turn: turn})
	}

	o.resubscribeDelay = minResubscribeDelay
	if lost := o.streamLost; lost != nil {
		o.streamLost = nil
		o.loseStream(lost)
	}

	o.scheduler.schedule(slotPoll, o.pollInterval)
	if mode == ModeDormant {
		o.enterDormant(now)
		return
	}
	if !o.passive {
		o.scheduleTyping(o.view.getNextSpeaker(), o.settleDelay)
		o.scheduler.schedule(slotTick, o.schedule.TickInterval)
	}
}

func (o *Orchestrator) loadFailed(in loadCompleted) {
	o.view.setLastErr(in.err)
	o.logger.Error("failed to load session", "error", in.err)
	o.emit(events.NewSessionLoadFailed(in.err))
}

func (o *Orchestrator) enterDormant(now time.Time) {
	o.scheduler.cancel(slotTick)
	o.scheduler.cancel(slotTyping)
	o.setTyping("")

	wakeIn := schedule.UntilDormancyEnd(o.schedule, now)
	if wakeIn <= 0 {
		wakeIn = o.pollInterval
	}
	o.scheduler.schedule(slotWake, wakeIn)

	wakeAt := now.Add(wakeIn)
	o.logger.Info("dialogue is dormant", "wake_at", wakeAt)
	o.emit(events.NewDormancyStarted(wakeAt))
}

func (o *Orchestrator) wake(now time.Time) {
	o.scheduler.cancel(slotWake)
	o.logger.Info("dialogue woke up")
	o.emit(events.NewDormancyEnded())

	if o.passive {
		return
	}

	if err := o.appendPhrase(o.view.getNextSpeaker(), phrases.KindWake, now); err != nil {
		o.logger.Error("failed to append wake turn", "error", err)
	}
	o.scheduleTyping(o.view.getNextSpeaker(), o.readingDelay)
	o.scheduler.schedule(slotTick, o.postWakeDelay)
}

func (o *Orchestrator) announceDormancy(now time.Time) {
	o.scheduler.cancel(slotTyping)
	o.setTyping("")
	o.announcedFor = o.dormancyStart(now)

	if err := o.appendPhrase(o.view.getNextSpeaker(), phrases.KindDormancy, now); err != nil {
		o.logger.Error("failed to append dormancy announcement", "error", err)
	}

	// The tick slot is reused to enter dormancy on the hour.
	o.scheduler.schedule(slotTick, schedule.UntilDormancyStart(o.schedule, now))
}

func (o *Orchestrator) appendPhrase(speaker dialogue.Speaker, kind phrases.Kind, now time.Time) error {
	order := o.messages.NextOrder()
	turn := dialogue.Turn{
		Order:     order,
		Speaker:   speaker,
		Text:      o.pickPhrase(speaker, kind, uint64(order)),
		CreatedAt: now,
	}
	return o.appendLocal(turn, events.OriginAnnouncement)
}

func (o *Orchestrator) startGeneration() {
	speaker := o.view.getNextSpeaker()
	o.scheduler.cancel(slotTyping)
	o.setTyping(speaker)

	epoch := o.epoch
	recent := dialogue.Recent(o.messages.Snapshot(), o.historyWindow)
	var topic string
	if session := o.view.getSession(); session != nil {
		topic = session.Topic
	}

	go func() {
		var text string
		err := panicSafeNamedWorker("generation", func(ctx context.Context) error {
			ctx, span := tracer.Start(ctx, "generate turn", trace.WithAttributes(
				attribute.String("turn.speaker", string(speaker)),
				attribute.Int("turn.history", len(recent)),
			))
			defer span.End()

			if o.generator == nil {
				return recordError(span, generators.ErrNoGenerator)
			}
			reply, err := o.generator.Generate(ctx, speaker, recent, topic)
			if err != nil {
				return recordError(span, err)
			}
			if strings.TrimSpace(reply) == "" {
				return recordError(span, errors.New("generator returned an empty reply"))
			}
			text = strings.TrimSpace(reply)
			return nil
		})(o.baseContext)

		o.runtime.enqueue(generationCompleted{epoch: epoch, speaker: speaker, text: text, err: err})
	}()
}

func (o *Orchestrator) finishGeneration(in generationCompleted, now time.Time) {
	o.setTyping("")
	o.scheduler.schedule(slotTick, o.schedule.TickInterval)

	if in.err != nil {
		err := &GenerationError{Speaker: in.speaker, Err: in.err}
		o.view.setLastErr(err)
		generationFailures.Add(o.baseContext, 1, metric.WithAttributes(attribute.String("speaker", string(in.speaker))))
		o.logger.Warn("failed to generate turn", "speaker", in.speaker, "error", in.err)
		o.emit(events.NewTurnGenerationFailed(in.speaker, err))
		return
	}

	turn := dialogue.Turn{
		Order:     o.messages.NextOrder(),
		Speaker:   in.speaker,
		Text:      in.text,
		CreatedAt: now,
	}
	if err := o.appendLocal(turn, events.OriginGenerated); err != nil {
		return
	}
	o.view.setLastErr(nil)
	o.scheduleTyping(o.view.getNextSpeaker(), o.readingDelay)
}

// appendLocal marks the order pending before the turn becomes visible, so an
// echo processed afterwards is always recognized.
func (o *Orchestrator) appendLocal(turn dialogue.Turn, origin events.Origin) error {
	o.ledger.MarkPending(turn.Order)
	if err := o.messages.InsertLocal(turn); err != nil {
		o.ledger.Clear(turn.Order)
		o.logger.Error("local turn order already present", "order", turn.Order, "error", err)
		return err
	}

	if turn.Speaker.IsMachine() {
		o.view.setNextSpeaker(turn.Speaker.Opposite())
	}
	turnsAppended.Add(o.baseContext, 1, metric.WithAttributes(attribute.String("origin", string(origin))))
	o.emit(events.NewTurnAppended(turn, origin))

	o.persist(turn)
	return nil
}

func (o *Orchestrator) persist(turn dialogue.Turn) {
	session := o.view.getSession()
	if session == nil || o.store == nil {
		return
	}
	sessionID := session.ID

	o.persisting.Add(1)
	go func() {
		defer o.persisting.Done()

		err := panicSafeNamedWorker("persistence", func(ctx context.Context) error {
			ctx, span := tracer.Start(ctx, "persist turn", trace.WithAttributes(
				attribute.String("session.id", sessionID),
				attribute.Int("turn.order", turn.Order),
			))
			defer span.End()

			if err := o.store.AppendTurn(ctx, sessionID, turn); err != nil {
				return recordError(span, err)
			}
			return nil
		})(o.baseContext)
		if err != nil {
			o.runtime.enqueue(persistFailed{turn: turn, err: err})
		}
	}()
}

func (o *Orchestrator) reportPersistenceFailure(in persistFailed) {
	err := &PersistenceError{Order: in.turn.Order, Err: in.err}
	persistenceFailures.Add(o.baseContext, 1)
	o.logger.Error("failed to persist turn", "order", in.turn.Order, "error", in.err)
	o.emit(events.NewTurnPersistenceFailed(in.turn.Order, err))
}

func (o *Orchestrator) ingestRemote(in remoteTurn) {
	if in.epoch != o.epoch {
		return
	}
	if in.turn.Order < 1 || !in.turn.Speaker.Valid() {
		o.logger.Warn("dropping invalid broadcast turn", "order", in.turn.Order, "speaker", in.turn.Speaker)
		return
	}

	state := o.view.getState()
	switch state.Phase {
	case PhaseLoading:
		o.bufferedRemote = append(o.bufferedRemote, in.turn)
		return
	case PhaseActive:
	default:
		return
	}

	_, span := tracer.Start(o.baseContext, "ingest remote turn", trace.WithAttributes(attribute.Int("turn.order", in.turn.Order)))
	defer span.End()

	outcome := o.messages.Reconcile(in.turn)
	span.SetAttributes(attribute.String("turn.outcome", outcome.String()))
	if outcome != messages.RemoteAccepted {
		echoesSuppressed.Add(o.baseContext, 1, metric.WithAttributes(attribute.String("reason", outcome.String())))
		o.emit(events.NewTurnEchoSuppressed(in.turn.Order, outcome.String()))
		return
	}
	o.remoteAccepted(in.turn, state.Mode)
}

func (o *Orchestrator) remoteAccepted(turn dialogue.Turn, mode Mode) {
	o.refreshNextSpeaker()
	turnsAppended.Add(o.baseContext, 1, metric.WithAttributes(attribute.String("origin", string(events.OriginRemote))))
	o.emit(events.NewTurnAppended(turn, events.OriginRemote))

	if mode == ModeIdle && !o.passive && turn.Speaker.IsMachine() {
		o.scheduler.cancel(slotTyping)
		o.setTyping("")
		o.scheduleTyping(o.view.getNextSpeaker(), o.readingDelay)
	}
}

func (o *Orchestrator) subscriptionLost(in subscriptionLost) {
	if in.epoch != o.epoch {
		return
	}
	switch o.view.getState().Phase {
	case PhaseLoading:
		o.streamLost = in.err
	case PhaseActive:
		o.loseStream(in.err)
	}
}

// loseStream keeps the dialogue going on what is already visible and retries
// the subscription until it is restored.
func (o *Orchestrator) loseStream(err error) {
	if o.unsubscribe != nil {
		go o.unsubscribe()
		o.unsubscribe = nil
	}

	var sessionID string
	if session := o.view.getSession(); session != nil {
		sessionID = session.ID
	}
	lost := &SubscriptionError{SessionID: sessionID, Err: err}
	o.view.setLastErr(lost)
	o.scheduler.schedule(slotResubscribe, o.resubscribeDelay)

	subscriptionsLost.Add(o.baseContext, 1)
	o.logger.Warn("broadcast stream lost", "session", sessionID, "error", err, "retry_in", o.resubscribeDelay)
	o.emit(events.NewBroadcastLost(lost))
}

// resubscribe opens a new stream before reading the session again, so every
// turn appended while the old stream was down arrives through one or the
// other.
func (o *Orchestrator) resubscribe() {
	session := o.view.getSession()
	if session == nil || o.store == nil || o.broadcast == nil {
		return
	}
	epoch := o.epoch
	sessionID, dateKey := session.ID, session.DateKey

	go func() {
		result := resubscribed{epoch: epoch}
		err := panicSafeNamedWorker("resubscribe", func(ctx context.Context) error {
			ctx, span := tracer.Start(ctx, "resubscribe", trace.WithAttributes(attribute.String("session.id", sessionID)))
			defer span.End()

			unsubscribe, err := o.subscribe(epoch, sessionID)
			if err != nil {
				return recordError(span, fmt.Errorf("subscribe to session %s: %w", sessionID, err))
			}
			_, turns, err := o.store.LoadSession(ctx, dateKey)
			if err != nil {
				unsubscribe()
				return recordError(span, fmt.Errorf("load turns: %w", err))
			}
			span.SetAttributes(attribute.Int("session.turns", len(turns)))

			result.turns, result.unsubscribe = turns, unsubscribe
			return nil
		})(o.baseContext)
		result.err = err

		if !o.runtime.enqueue(result) && result.unsubscribe != nil {
			result.unsubscribe()
		}
	}()
}

func (o *Orchestrator) resubscribed(in resubscribed) {
	state := o.view.getState()
	if in.epoch != o.epoch || state.Phase != PhaseActive {
		if in.unsubscribe != nil {
			go in.unsubscribe()
		}
		return
	}

	session := o.view.getSession()
	if in.err != nil {
		o.resubscribeDelay = min(o.resubscribeDelay*2, maxResubscribeDelay)
		o.view.setLastErr(&SubscriptionError{SessionID: session.ID, Err: in.err})
		o.logger.Warn("failed to restore broadcast stream", "session", session.ID, "error", in.err, "retry_in", o.resubscribeDelay)
		o.scheduler.schedule(slotResubscribe, o.resubscribeDelay)
		return
	}

	if o.unsubscribe != nil {
		go o.unsubscribe()
	}
	o.unsubscribe = in.unsubscribe

	caughtUp := 0
	for _, turn := range in.turns {
		if o.messages.InsertRemote(turn) {
			caughtUp++
			o.remoteAccepted(turn, state.Mode)
		}
	}

	// The new stream already failed again while the session was read.
	if o.scheduler.pending(slotResubscribe) {
		return
	}

	o.resubscribeDelay = minResubscribeDelay
	var lost *SubscriptionError
	if errors.As(o.view.getLastErr(), &lost) {
		o.view.setLastErr(nil)
	}
	o.logger.Info("broadcast stream restored", "session", session.ID, "caught_up", caughtUp)
	o.emit(events.NewBroadcastRestored(caughtUp))
}

func (o *Orchestrator) interject(text string, now time.Time) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInterjection
	}

	state := o.view.getState()
	if state.Phase != PhaseActive {
		return ErrNotActive
	}
	if state.Mode == ModeDormant {
		return ErrDormant
	}

	turn := dialogue.Turn{
		Order:     o.messages.NextOrder(),
		Speaker:   dialogue.Human,
		Text:      text,
		CreatedAt: now,
	}
	return o.appendLocal(turn, events.OriginHuman)
}

func (o *Orchestrator) refreshNextSpeaker() {
	o.view.setNextSpeaker(dialogue.NextSpeaker(o.messages.Snapshot()))
}

func (o *Orchestrator) scheduleTyping(speaker dialogue.Speaker, after time.Duration) {
	o.pendingTyping = speaker
	o.scheduler.schedule(slotTyping, after)
}

func (o *Orchestrator) setTyping(speaker dialogue.Speaker) {
	if !o.view.swapTyping(speaker) {
		return
	}
	if speaker == "" {
		o.emit(events.NewTypingStopped())
		return
	}
	o.emit(events.NewTypingStarted(speaker))
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
