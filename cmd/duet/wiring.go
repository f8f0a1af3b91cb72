package main

import (
	"context"
	"fmt"
	"strings"

	orchestration "github.com/koscakluka/duet/core"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/generators"
	"github.com/koscakluka/duet/core/generators/groq"
	"github.com/koscakluka/duet/core/generators/openai"
	"github.com/koscakluka/duet/core/phrases"
	"github.com/koscakluka/duet/core/store"
	"github.com/koscakluka/duet/core/store/memory"
	"github.com/koscakluka/duet/core/store/postgres"
	"github.com/koscakluka/duet/core/store/redispubsub"
	"github.com/koscakluka/duet/core/topics"
	"github.com/koscakluka/duet/internal/config"
	"github.com/koscakluka/duet/internal/viewer"
)

// openBackend connects the configured store and broadcast. The returned
// close function is always safe to call.
func (a *app) openBackend(ctx context.Context) (store.Backend, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var durable store.Backend
	if a.cfg.UsesPostgres() {
		pg, err := postgres.Connect(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, pg.Close)
		durable = pg
		a.log.Info("using postgres store")
	} else {
		durable = memory.New()
		a.log.Warn("DATABASE_URL is not set, turns are kept in memory only")
	}

	if !a.cfg.UsesRedis() {
		return durable, closeAll, nil
	}

	broadcaster, err := redispubsub.Connect(ctx, a.cfg.RedisURL)
	if err != nil {
		closeAll()
		return nil, func() {}, err
	}
	closers = append(closers, func() {
		if err := broadcaster.Close(); err != nil {
			a.log.Warn("failed to close redis client", "error", err)
		}
	})
	a.log.Info("broadcasting turns over redis")

	return redispubsub.NewBackend(durable, broadcaster), closeAll, nil
}

func (a *app) names() viewer.Names {
	return viewer.NewNames(a.cfg.SpeakerA, a.cfg.SpeakerB)
}

// orchestratorOptions holds everything but the backend and the generator.
func orchestratorOptions(cfg *config.Config) ([]orchestration.OrchestratorOption, error) {
	sched, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}

	var catalog *topics.Catalog
	if cfg.TopicsFile != "" {
		catalog, err = topics.LoadFile(cfg.TopicsFile, cfg.Language)
	} else {
		catalog, err = topics.Load(cfg.Language)
	}
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}

	names := phrases.WithNames(map[dialogue.Speaker]string{
		dialogue.SpeakerA: cfg.SpeakerA,
		dialogue.SpeakerB: cfg.SpeakerB,
	})
	var announcements *phrases.Catalog
	if cfg.PhrasesFile != "" {
		announcements, err = phrases.LoadFile(cfg.PhrasesFile, cfg.Language, names)
	} else {
		announcements, err = phrases.Load(cfg.Language, names)
	}
	if err != nil {
		return nil, fmt.Errorf("load phrases: %w", err)
	}

	return []orchestration.OrchestratorOption{
		orchestration.WithSchedule(sched),
		orchestration.WithTopics(catalog),
		orchestration.WithPhrasePicker(announcements.Pick),
		orchestration.WithHistoryWindow(cfg.HistoryWindow),
	}, nil
}

// newGenerator builds one provider client per speaker.
func newGenerator(cfg *config.Config) (generators.Generator, error) {
	personas := generators.Personas(cfg.SpeakerA, cfg.SpeakerB)
	providers := map[dialogue.Speaker]string{
		dialogue.SpeakerA: cfg.SpeakerAProvider,
		dialogue.SpeakerB: cfg.SpeakerBProvider,
	}

	duo := generators.Duo{}
	for speaker, provider := range providers {
		generator, err := newProviderGenerator(cfg, provider, personas[speaker])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", speaker, err)
		}
		duo[speaker] = generator
	}
	return duo, nil
}

func newProviderGenerator(cfg *config.Config, provider string, persona generators.Persona) (generators.Generator, error) {
	switch strings.ToLower(provider) {
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the %s provider", provider)
		}
		return openai.NewClient(cfg.OpenAIAPIKey, persona,
			openai.WithModel(cfg.OpenAIModel),
			openai.WithBaseURL(cfg.OpenAIBaseURL),
		), nil
	case config.ProviderGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY is required for the %s provider", provider)
		}
		return groq.NewClient(cfg.GroqAPIKey, persona,
			groq.WithModel(cfg.GroqModel),
			groq.WithBaseURL(cfg.GroqBaseURL),
		), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", provider)
	}
}
