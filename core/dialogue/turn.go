package dialogue

import (
	"fmt"
	"time"
)

// Speaker identifies who authored a turn.
type Speaker string

const (
	SpeakerA Speaker = "speaker_a"
	SpeakerB Speaker = "speaker_b"
	Human    Speaker = "human"
)

// DefaultSpeaker opens every empty session.
const DefaultSpeaker = SpeakerA

// IsMachine reports whether the speaker is one of the two generated personas.
func (s Speaker) IsMachine() bool {
	return s == SpeakerA || s == SpeakerB
}

// Opposite returns the other machine speaker. Human has no opposite and is
// returned unchanged.
func (s Speaker) Opposite() Speaker {
	switch s {
	case SpeakerA:
		return SpeakerB
	case SpeakerB:
		return SpeakerA
	default:
		return s
	}
}

func (s Speaker) Valid() bool {
	return s.IsMachine() || s == Human
}

func ParseSpeaker(raw string) (Speaker, error) {
	speaker := Speaker(raw)
	if !speaker.Valid() {
		return "", fmt.Errorf("unknown speaker %q", raw)
	}
	return speaker, nil
}

// Turn is a single authored message. Order is the only identity and ordering
// key; CreatedAt is for display.
type Turn struct {
	Order     int       `json:"order"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

func (t Turn) String() string {
	return fmt.Sprintf("#%d %s: %s", t.Order, t.Speaker, t.Text)
}

// Session is one calendar day of dialogue.
type Session struct {
	ID        string    `json:"id"`
	DateKey   string    `json:"dateKey"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"createdAt"`
}

// DateKeyLayout formats the calendar day that keys a session.
const DateKeyLayout = "2006-01-02"

// DateKey returns the session key for the calendar day of t in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}
