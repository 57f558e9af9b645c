// Package report renders session state for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/chaz8081/gostt-stream/internal/chunk"
	"github.com/chaz8081/gostt-stream/internal/transport"
)

// maxTranscriptWidth bounds the transcript column of the chunk table.
const maxTranscriptWidth = 48

// Theme defines the colors used by the report.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
	Good    lipgloss.Color
	Warn    lipgloss.Color
	Bad     lipgloss.Color
}

// DefaultTheme matches the status colors of the web client: green when
// connected, yellow while connecting, red when disconnected.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Good:    lipgloss.Color("#22c55e"),
	Warn:    lipgloss.Color("#eab308"),
	Bad:     lipgloss.Color("#ef4444"),
}

// Styles holds the styles derived from a theme.
type Styles struct {
	Header     lipgloss.Style
	Cell       lipgloss.Style
	Border     lipgloss.Style
	Dim        lipgloss.Style
	Title      lipgloss.Style
	Connected  lipgloss.Style
	Connecting lipgloss.Style
	Offline    lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	badge := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	return Styles{
		Header:     lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Cell:       lipgloss.NewStyle().Padding(0, 1),
		Border:     lipgloss.NewStyle().Foreground(t.Dim),
		Dim:        lipgloss.NewStyle().Foreground(t.Dim).Padding(0, 1),
		Title:      lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Connected:  badge.Foreground(t.Good),
		Connecting: badge.Foreground(t.Warn),
		Offline:    badge.Foreground(t.Bad),
	}
}

// Renderer formats chunks, connection status and transcripts.
type Renderer struct {
	styles Styles
}

// New returns a Renderer using s.
func New(s Styles) *Renderer {
	return &Renderer{styles: s}
}

// Plain returns a Renderer without colors, for logs and tests.
func Plain() *Renderer {
	plain := lipgloss.NewStyle()
	padded := plain.Padding(0, 1)
	return &Renderer{styles: Styles{
		Header:     padded,
		Cell:       padded,
		Border:     plain,
		Dim:        padded,
		Title:      plain,
		Connected:  padded,
		Connecting: padded,
		Offline:    padded,
	}}
}

// Status renders a connection status badge.
func (r *Renderer) Status(s transport.Status) string {
	label := "● " + s.String()
	switch s {
	case transport.StatusConnected:
		return r.styles.Connected.Render(label)
	case transport.StatusConnecting:
		return r.styles.Connecting.Render(label)
	default:
		return r.styles.Offline.Render(label)
	}
}

// Chunks renders chunks as a table ordered as given.
func (r *Renderer) Chunks(chunks []chunk.Chunk) string {
	rows := make([][]string, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, []string{
			fmt.Sprintf("%d", c.Index),
			fmt.Sprintf("%.2fs", c.SourceOffset),
			fmt.Sprintf("%.2fs", c.Duration()),
			c.State.String(),
			roundTrip(c),
			truncate(c.Transcript, maxTranscriptWidth),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.styles.Border).
		Headers("#", "OFFSET", "LENGTH", "STATE", "ROUND TRIP", "TRANSCRIPT").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.styles.Header
			}
			if rows[row][3] == chunk.Created.String() {
				return r.styles.Dim
			}
			return r.styles.Cell
		})
	return t.String()
}

// Summary renders a one-line count of chunk states.
func (r *Renderer) Summary(c chunk.Counts) string {
	return fmt.Sprintf("%d chunks: %d created, %d sent, %d received",
		c.Total(), c.Created, c.Sent, c.Received)
}

// Transcript renders a titled transcript block.
func (r *Renderer) Transcript(text string) string {
	if text == "" {
		text = r.styles.Dim.Render("(no transcript yet)")
	}
	return r.styles.Title.Render("Transcript") + "\n" + text
}

func roundTrip(c chunk.Chunk) string {
	if c.State != chunk.Received || c.SentAt.IsZero() {
		return "-"
	}
	return c.RoundTrip().Round(time.Millisecond).String()
}

// truncate shortens s to width cells, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	var b strings.Builder
	w := 0
	for _, r := range s {
		rw := lipgloss.Width(string(r))
		if w+rw > width-1 {
			break
		}
		b.WriteRune(r)
		w += rw
	}
	return b.String() + "…"
}
