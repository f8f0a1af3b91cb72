package orchestration

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/events"
	"github.com/koscakluka/duet/core/relay"
	"github.com/koscakluka/duet/core/schedule"
	"github.com/koscakluka/duet/core/store/memory"
)

type streamConns struct {
	mu    sync.Mutex
	conns []net.Conn
}

func (s *streamConns) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	return conn, nil
}

func (s *streamConns) sever() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func TestPassiveViewerCatchesUpAfterRelayStreamDrops(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC))

	backend := memory.New(memory.WithNow(mock.Now))
	server := httptest.NewServer(relay.NewServer(backend).Handler())
	defer server.Close()

	conns := &streamConns{}
	client, err := relay.NewClient(server.URL,
		relay.WithHTTPClient(server.Client()),
		relay.WithDialer(&websocket.Dialer{NetDialContext: conns.dial, HandshakeTimeout: time.Second}),
	)
	if err != nil {
		t.Fatalf("failed to create relay client: %v", err)
	}

	o, err := NewOrchestrator(WithBackend(client), WithClock(mock), WithPassive())
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	defer o.Close()

	recorder := &eventRecorder{}
	o.Orchestrate(ctx, WithEventCallback(recorder.record))
	waitForCondition(t, 2*time.Second, "loaded", func() bool { return recorder.stateChanges("active/idle") == 1 })

	id := o.Session().ID
	appendTurn := func(order int, speaker dialogue.Speaker) {
		t.Helper()
		if err := backend.AppendTurn(ctx, id, dialogue.Turn{Order: order, Speaker: speaker, Text: "remote"}); err != nil {
			t.Fatalf("failed to append turn %d: %v", order, err)
		}
	}

	appendTurn(1, dialogue.SpeakerA)
	waitForCondition(t, 2*time.Second, "first turn streamed", func() bool { return len(o.Snapshot()) == 1 })

	conns.sever()
	waitForCondition(t, 2*time.Second, "stream loss reported", func() bool {
		return recorder.count(events.KindBroadcastLost) == 1
	})
	var subscriptionErr *SubscriptionError
	if err := o.LastError(); !errors.As(err, &subscriptionErr) || subscriptionErr.SessionID != id {
		t.Fatalf("expected a subscription error for session %s, got %v", id, err)
	}
	if state := o.State(); !state.Is(PhaseActive, ModeIdle) {
		t.Fatalf("expected the viewer to stay active, got %s", state)
	}

	appendTurn(2, dialogue.SpeakerB)

	waitForCondition(t, 2*time.Second, "stream restored", func() bool {
		if recorder.count(events.KindBroadcastRestored) == 1 {
			return true
		}
		mock.Add(minResubscribeDelay)
		return false
	})
	turns := o.Snapshot()
	if len(turns) != 2 || turns[1].Order != 2 || turns[1].Speaker != dialogue.SpeakerB {
		t.Fatalf("expected the missed turn to be caught up, got %+v", turns)
	}
	if err := o.LastError(); err != nil {
		t.Fatalf("expected the error cleared once restored, got %v", err)
	}

	appendTurn(3, dialogue.SpeakerA)
	waitForCondition(t, 2*time.Second, "turn on the new stream", func() bool { return len(o.Snapshot()) == 3 })
	if got := o.NextSpeaker(); got != dialogue.SpeakerB {
		t.Fatalf("expected speaker B next, got %s", got)
	}
}

type droppableBackend struct {
	*memory.Store

	failSubscribe atomic.Int32
	attempts      atomic.Int32

	mu     sync.Mutex
	onLost func(error)
}

func (b *droppableBackend) Subscribe(ctx context.Context, sessionID string, onTurn func(dialogue.Turn), onLost func(error)) (func(), error) {
	b.attempts.Add(1)
	if b.failSubscribe.Add(-1) >= 0 {
		return nil, errors.New("broker unavailable")
	}

	unsubscribe, err := b.Store.Subscribe(ctx, sessionID, onTurn, nil)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.onLost = onLost
	b.mu.Unlock()
	return unsubscribe, nil
}

func (b *droppableBackend) drop(err error) {
	b.mu.Lock()
	onLost := b.onLost
	b.onLost = nil
	b.mu.Unlock()

	if onLost != nil {
		onLost(err)
	}
}

func TestResubscribeRetriesUntilTheStreamIsBack(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC), WithGenerator(&generatorStub{}))
	backend := &droppableBackend{Store: h.backend}
	h.o.broadcast = backend

	h.orchestrate()
	h.waitForStateChanges("active/idle", 1)

	backend.failSubscribe.Store(2)
	backend.drop(errors.New("connection reset"))
	waitForCondition(t, 2*time.Second, "stream loss reported", func() bool {
		return h.recorder.count(events.KindBroadcastLost) == 1
	})

	waitForCondition(t, 2*time.Second, "stream restored", func() bool {
		if h.recorder.count(events.KindBroadcastRestored) == 1 {
			return true
		}
		h.clock.Add(minResubscribeDelay)
		return false
	})

	if got := backend.attempts.Load(); got != 4 {
		t.Fatalf("expected the load subscription, two failed retries and one success, got %d attempts", got)
	}
	if err := h.o.LastError(); err != nil {
		t.Fatalf("expected the error cleared once restored, got %v", err)
	}
	if got := h.recorder.count(events.KindBroadcastLost); got != 1 {
		t.Fatalf("expected failed retries not to report a new loss, got %d", got)
	}
}

func TestStreamLostWhileLoadingIsRetriedAfterTheLoad(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC), WithGenerator(&generatorStub{}))
	backend := &droppableBackend{Store: h.backend}
	h.o.broadcast = backend
	gated := &gatedLoadStore{Store: h.backend, release: release, loading: make(chan struct{}, 1)}
	h.o.store = gated

	h.orchestrate()
	<-gated.loading

	// Queued ahead of the load result.
	backend.drop(errors.New("connection reset"))
	close(release)

	h.waitForStateChanges("active/idle", 1)
	waitForCondition(t, 2*time.Second, "stream restored", func() bool {
		if h.recorder.count(events.KindBroadcastRestored) == 1 {
			return true
		}
		h.clock.Add(minResubscribeDelay)
		return false
	})
	if got := h.recorder.count(events.KindBroadcastLost); got != 1 {
		t.Fatalf("expected the loss during loading to be reported once, got %d", got)
	}
}

type gatedLoadStore struct {
	*memory.Store
	release chan struct{}
	loading chan struct{}
}

func (s *gatedLoadStore) LoadSession(ctx context.Context, dateKey string) (*dialogue.Session, []dialogue.Turn, error) {
	select {
	case s.loading <- struct{}{}:
	default:
	}
	<-s.release
	return s.Store.LoadSession(ctx, dateKey)
}

func TestStoredAnnouncementIsNotRepeated(t *testing.T) {
	config := schedule.DefaultConfig()
	config.TickInterval = 30 * time.Minute
	start := time.Date(2025, time.March, 14, 1, 56, 0, 0, time.UTC)

	h := newHarness(t, start, WithGenerator(&generatorStub{}), WithSchedule(config))
	h.seed("2025-03-14", dialogue.SpeakerA, dialogue.SpeakerB)

	id, err := h.backend.GetOrCreateSession(context.Background(), "2025-03-14", testTopic)
	if err != nil {
		t.Fatalf("failed to resolve session: %v", err)
	}
	announcement := dialogue.Turn{Order: 3, Speaker: dialogue.SpeakerA, Text: "speaker_a dormancy", CreatedAt: start.Add(-30 * time.Second)}
	if err := h.backend.AppendTurn(context.Background(), id, announcement); err != nil {
		t.Fatalf("failed to store announcement: %v", err)
	}

	h.orchestrate()
	h.waitForStateChanges("active/idle", 1)

	waitForCondition(t, 2*time.Second, "dormant", func() bool {
		if h.recorder.stateChanges("active/dormant") == 1 {
			return true
		}
		h.clock.Add(DefaultPollInterval)
		return false
	})

	if got := len(h.o.Snapshot()); got != 3 {
		t.Fatalf("expected no second announcement, got %d turns", got)
	}
	if got := h.recorder.stateChanges("active/winding_down"); got != 0 {
		t.Fatalf("expected no winding down after a stored announcement, got %d", got)
	}
	if got := len(h.recorder.appended(events.OriginAnnouncement)); got != 0 {
		t.Fatalf("expected no local announcement, got %d", got)
	}
}
