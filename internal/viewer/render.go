package viewer

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
)

const (
	minWrapWidth = 20
	bodyIndent   = 2
)

type theme struct {
	header  lipgloss.Style
	muted   lipgloss.Style
	status  lipgloss.Style
	err     lipgloss.Style
	speaker map[dialogue.Speaker]lipgloss.Style
}

func newTheme() theme {
	return theme{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f3f3ff")).
			BorderStyle(lipgloss.RoundedBorder()).BorderBottom(true).
			BorderForeground(lipgloss.Color("#01cdfe")),
		muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3d8")),
		status: lipgloss.NewStyle().Foreground(lipgloss.Color("#01cdfe")).Bold(true),
		err:    lipgloss.NewStyle().Foreground(lipgloss.Color("#ff71ce")).Bold(true),
		speaker: map[dialogue.Speaker]lipgloss.Style{
			dialogue.SpeakerA: lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")).Bold(true),
			dialogue.SpeakerB: lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd166")).Bold(true),
			dialogue.Human:    lipgloss.NewStyle().Foreground(lipgloss.Color("#ff71ce")).Bold(true),
		},
	}
}

// Names maps speakers to display names.
type Names map[dialogue.Speaker]string

func NewNames(nameA, nameB string) Names {
	return Names{
		dialogue.SpeakerA: nameA,
		dialogue.SpeakerB: nameB,
		dialogue.Human:    "Human",
	}
}

func (n Names) For(speaker dialogue.Speaker) string {
	if name, ok := n[speaker]; ok && name != "" {
		return name
	}
	return string(speaker)
}

// RenderTurns formats turns as a transcript wrapped to width.
func RenderTurns(turns []dialogue.Turn, names Names, width int) string {
	return renderTurns(newTheme(), turns, names, width)
}

func renderTurns(t theme, turns []dialogue.Turn, names Names, width int) string {
	if width < minWrapWidth {
		width = minWrapWidth
	}

	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}

		name := names.For(turn.Speaker)
		if style, ok := t.speaker[turn.Speaker]; ok {
			name = style.Render(name)
		}
		stamp := ""
		if !turn.CreatedAt.IsZero() {
			stamp = t.muted.Render(" " + turn.CreatedAt.Local().Format("15:04"))
		}
		fmt.Fprintf(&b, "%s%s\n", name, stamp)

		body := wordwrap.String(turn.Text, width-bodyIndent)
		b.WriteString(indent.String(body, bodyIndent))
	}
	return b.String()
}
