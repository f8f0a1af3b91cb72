// Package generators turns a dialogue history into the next line for a
// speaker. Providers live in subpackages; this package holds the persona
// prompts and the history mapping they share.
package generators

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/koscakluka/duet/core/dialogue"
)

const (
	DefaultHistoryWindow = 10
	DefaultMaxTokens     = 150
)

var ErrNoGenerator = errors.New("no generator configured for speaker")

type Generator interface {
	Generate(ctx context.Context, speaker dialogue.Speaker, recent []dialogue.Turn, topic string) (string, error)
}

type GeneratorFunc func(ctx context.Context, speaker dialogue.Speaker, recent []dialogue.Turn, topic string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, speaker dialogue.Speaker, recent []dialogue.Turn, topic string) (string, error) {
	return f(ctx, speaker, recent, topic)
}

// Duo dispatches to the generator registered for each speaker.
type Duo map[dialogue.Speaker]Generator

func (d Duo) Generate(ctx context.Context, speaker dialogue.Speaker, recent []dialogue.Turn, topic string) (string, error) {
	generator, ok := d[speaker]
	if !ok || generator == nil {
		return "", fmt.Errorf("%w: %s", ErrNoGenerator, speaker)
	}

	text, err := generator.Generate(ctx, speaker, recent, topic)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("generator for %s returned an empty reply", speaker)
	}
	return text, nil
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Persona describes how one speaker is prompted.
type Persona struct {
	Speaker dialogue.Speaker
	Name    string
	Partner string
	// Instructions is the system prompt. %[1]s is replaced with the topic,
	// %[2]s with the partner's name.
	Instructions string
	Temperature  float64
}

// Personas returns the rationalist and humanist personas for the two speakers.
func Personas(nameA, nameB string) map[dialogue.Speaker]Persona {
	return map[dialogue.Speaker]Persona{
		dialogue.SpeakerA: {
			Speaker: dialogue.SpeakerA,
			Name:    nameA,
			Partner: nameB,
			Instructions: "You are " + nameA + `, engaging in a philosophical debate about "%[1]s". ` +
				"You are the rationalist perspective. Keep your responses concise (1-2 sentences max), " +
				"conversational, and thought-provoking. You're having a dialogue with %[2]s and " +
				"occasionally humans join the conversation.",
			Temperature: 0.8,
		},
		dialogue.SpeakerB: {
			Speaker: dialogue.SpeakerB,
			Name:    nameB,
			Partner: nameA,
			Instructions: "You are " + nameB + `, engaging in a philosophical debate about "%[1]s". ` +
				"You are the humanist perspective - empathetic, thoughtful, and focused on human " +
				"experience and emotions. Keep your responses concise (1-2 sentences max), " +
				"conversational, and warm. You're having a dialogue with %[2]s (the rationalist) and " +
				"occasionally humans join the conversation. Respond in a distinct voice from %[2]s - " +
				"more reflective and emotionally aware.",
			Temperature: 0.9,
		},
	}
}

func (p Persona) SystemPrompt(topic string) string {
	return fmt.Sprintf(p.Instructions, topic, p.Partner)
}

// Transcript maps the recent history into chat messages from the persona's
// point of view: its own turns are assistant messages, everything else is a
// user message prefixed with who said it.
func Transcript(persona Persona, recent []dialogue.Turn, topic string) []Message {
	messages := []Message{{Role: RoleSystem, Content: persona.SystemPrompt(topic)}}

	for _, turn := range recent {
		switch {
		case turn.Speaker == persona.Speaker:
			messages = append(messages, Message{Role: RoleAssistant, Content: turn.Text})
		case turn.Speaker == dialogue.Human:
			messages = append(messages, Message{Role: RoleUser, Content: "A human asks: " + turn.Text})
		default:
			messages = append(messages, Message{Role: RoleUser, Content: persona.Partner + " says: " + turn.Text})
		}
	}

	return messages
}
