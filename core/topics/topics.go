// Package topics picks the subject of the day.
package topics

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/koscakluka/duet/core/dialogue"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

const DefaultLanguage = "en"

type Catalog struct {
	language string
	subjects []string
}

// Load reads the embedded catalog for language.
func Load(language string) (*Catalog, error) {
	return parse(embeddedCatalog, language)
}

// LoadFile reads a catalog with the same layout as the embedded one.
func LoadFile(path, language string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topic catalog: %w", err)
	}
	return parse(raw, language)
}

// New builds a catalog from an explicit subject list.
func New(subjects ...string) (*Catalog, error) {
	if len(subjects) == 0 {
		return nil, fmt.Errorf("topic catalog must not be empty")
	}
	return &Catalog{language: DefaultLanguage, subjects: subjects}, nil
}

func parse(raw []byte, language string) (*Catalog, error) {
	var byLanguage map[string][]string
	if err := yaml.Unmarshal(raw, &byLanguage); err != nil {
		return nil, fmt.Errorf("failed to parse topic catalog: %w", err)
	}

	subjects, ok := byLanguage[language]
	if !ok {
		return nil, fmt.Errorf("topic catalog has no language %q", language)
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("topic catalog for %q is empty", language)
	}

	return &Catalog{language: language, subjects: subjects}, nil
}

func (c *Catalog) Language() string { return c.language }

func (c *Catalog) Subjects() []string {
	subjects := make([]string, len(c.subjects))
	copy(subjects, c.subjects)
	return subjects
}

// ForDate returns the subject for t's calendar day. The same day always maps
// to the same subject.
func (c *Catalog) ForDate(t time.Time) string {
	return c.subjects[Index(dialogue.DateKey(t), len(c.subjects))]
}

// Index maps a date key onto [0, n) with a 31-multiplier rolling hash over
// 32-bit integers.
func Index(dateKey string, n int) int {
	var hash int32
	for _, char := range dateKey {
		hash = hash*31 + int32(char)
	}

	magnitude := int64(hash)
	if magnitude < 0 {
		magnitude = -magnitude
	}
	return int(magnitude % int64(n))
}
