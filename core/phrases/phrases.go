// Package phrases holds the canned announcements a speaker makes when the
// dialogue goes dormant and when it wakes up again.
package phrases

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/koscakluka/duet/core/dialogue"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

type Kind string

const (
	KindDormancy Kind = "dormancy"
	KindWake     Kind = "wake"
)

// Picker returns the announcement text for speaker. The same seed always
// yields the same phrase.
type Picker func(speaker dialogue.Speaker, kind Kind, seed uint64) string

type Catalog struct {
	language string
	phrases  map[Kind]map[dialogue.Speaker][]string
	names    map[dialogue.Speaker]string
}

type CatalogOption func(*Catalog)

// WithNames sets the display names substituted for {partner}.
func WithNames(names map[dialogue.Speaker]string) CatalogOption {
	return func(c *Catalog) {
		for speaker, name := range names {
			c.names[speaker] = name
		}
	}
}

func Load(language string, opts ...CatalogOption) (*Catalog, error) {
	return parse(embeddedCatalog, language, opts...)
}

func LoadFile(path, language string, opts ...CatalogOption) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read phrase catalog: %w", err)
	}
	return parse(raw, language, opts...)
}

func parse(raw []byte, language string, opts ...CatalogOption) (*Catalog, error) {
	var byLanguage map[string]map[Kind]map[dialogue.Speaker][]string
	if err := yaml.Unmarshal(raw, &byLanguage); err != nil {
		return nil, fmt.Errorf("failed to parse phrase catalog: %w", err)
	}

	phrases, ok := byLanguage[language]
	if !ok {
		return nil, fmt.Errorf("phrase catalog has no language %q", language)
	}
	for _, kind := range []Kind{KindDormancy, KindWake} {
		for _, speaker := range []dialogue.Speaker{dialogue.SpeakerA, dialogue.SpeakerB} {
			if len(phrases[kind][speaker]) == 0 {
				return nil, fmt.Errorf("phrase catalog %q has no %s phrases for %s", language, kind, speaker)
			}
		}
	}

	c := &Catalog{
		language: language,
		phrases:  phrases,
		names: map[dialogue.Speaker]string{
			dialogue.SpeakerA: string(dialogue.SpeakerA),
			dialogue.SpeakerB: string(dialogue.SpeakerB),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Catalog) Language() string { return c.language }

// Pick implements Picker.
func (c *Catalog) Pick(speaker dialogue.Speaker, kind Kind, seed uint64) string {
	options := c.phrases[kind][speaker]
	if len(options) == 0 {
		return ""
	}

	rng := rand.New(rand.NewPCG(seed, uint64(len(kind))))
	phrase := options[rng.IntN(len(options))]
	return strings.ReplaceAll(phrase, "{partner}", c.names[speaker.Opposite()])
}
