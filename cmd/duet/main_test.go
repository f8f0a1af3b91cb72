package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/generators"
	"github.com/koscakluka/duet/core/store"
	"github.com/koscakluka/duet/core/store/memory"
	"github.com/koscakluka/duet/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Language:         "en",
		SpeakerA:         "Sage",
		SpeakerB:         "Echo",
		DormantStartHour: 2,
		DormantEndHour:   8,
		TickInterval:     5 * time.Minute,
		TimeZone:         "UTC",
		HistoryWindow:    10,
		SpeakerAProvider: config.ProviderOpenAI,
		SpeakerBProvider: config.ProviderGroq,
		RelayURL:         "http://localhost:8080",
	}
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"run", "serve", "watch", "history", "migrate"}, names)
}

func TestNewGeneratorRequiresProviderKeys(t *testing.T) {
	cfg := testConfig()

	_, err := newGenerator(cfg)
	require.Error(t, err)

	cfg.OpenAIAPIKey = "sk-test"
	_, err = newGenerator(cfg)
	require.ErrorContains(t, err, "GROQ_API_KEY")

	cfg.GroqAPIKey = "gsk-test"
	generator, err := newGenerator(cfg)
	require.NoError(t, err)

	duo, ok := generator.(generators.Duo)
	require.True(t, ok)
	assert.Contains(t, duo, dialogue.SpeakerA)
	assert.Contains(t, duo, dialogue.SpeakerB)
}

func TestNewProviderGeneratorRejectsUnknownProvider(t *testing.T) {
	_, err := newProviderGenerator(testConfig(), "carrier-pigeon", generators.Persona{})
	assert.Error(t, err)
}

func TestOrchestratorOptionsLoadsEmbeddedCatalogs(t *testing.T) {
	opts, err := orchestratorOptions(testConfig())
	require.NoError(t, err)
	assert.Len(t, opts, 4)

	cfg := testConfig()
	cfg.Language = "tlh"
	_, err = orchestratorOptions(cfg)
	assert.Error(t, err)
}

func TestOpenBackendFallsBackToMemory(t *testing.T) {
	a := &app{cfg: testConfig(), log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	backend, closeBackend, err := a.openBackend(context.Background())
	require.NoError(t, err)
	defer closeBackend()

	assert.IsType(t, &memory.Store{}, backend)
}

func TestPrintSessions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSessions(&buf, nil))
	assert.Contains(t, buf.String(), "no sessions yet")

	buf.Reset()
	require.NoError(t, printSessions(&buf, []dialogue.Session{
		{ID: "b", DateKey: "2025-03-15", Topic: "Time and Memory"},
		{ID: "a", DateKey: "2025-03-14", Topic: "Dreams and Reality"},
	}))
	out := buf.String()
	assert.Contains(t, out, "DATE")
	assert.Contains(t, out, "2025-03-15")
	assert.Contains(t, out, "Dreams and Reality")
}

func TestPrintDay(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()

	id, err := backend.GetOrCreateSession(ctx, "2025-03-14", "Dreams and Reality")
	require.NoError(t, err)
	require.NoError(t, backend.AppendTurn(ctx, id, dialogue.Turn{Order: 1, Speaker: dialogue.SpeakerA, Text: "Do dreams mean anything?"}))
	require.NoError(t, backend.AppendTurn(ctx, id, dialogue.Turn{Order: 2, Speaker: dialogue.SpeakerB, Text: "They mean something to us."}))

	names := testApp().names()

	var buf bytes.Buffer
	require.NoError(t, printDay(ctx, &buf, backend, "2025-03-14", names))
	out := buf.String()
	assert.Contains(t, out, "Dreams and Reality")
	assert.Contains(t, out, "Sage")
	assert.Contains(t, out, "They mean something to us.")

	err = printDay(ctx, io.Discard, backend, "2025-03-15", names)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = printDay(ctx, io.Discard, backend, "yesterday", names)
	assert.Error(t, err)
}

func testApp() *app {
	return &app{cfg: testConfig(), log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
