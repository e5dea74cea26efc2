// Package tui renders a live view of a script run: an event log, a progress
// bar fed by the run's monitor, and a key to cancel the run.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/msgrun/pkg/kernel/result"
)

// Event glyphs convey meaning without relying on color alone.
const (
	GlyphStart     = "▸"
	GlyphSuccess   = "✓"
	GlyphFail      = "✗"
	GlyphCancelled = "⊘"
	GlyphMax       = "◆"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorCyan).
	Padding(0, 1)

var simBadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("0")).
	Background(colorYellow).
	Padding(0, 1)

var (
	eventNormal  = lipgloss.NewStyle().Foreground(colorWhite)
	eventStart   = lipgloss.NewStyle().Foreground(colorDim)
	eventSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	eventFail    = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	eventWarn    = lipgloss.NewStyle().Foreground(colorYellow)
)

var (
	keyStyle     = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	keyDescStyle = lipgloss.NewStyle().Foreground(colorDim)
	taskStyle    = lipgloss.NewStyle().Foreground(colorDim).Padding(0, 1)
)

var spinnerStyle = lipgloss.NewStyle().
	Foreground(colorYellow)

var bannerStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	Bold(true).
	Padding(0, 2)

// eventGlyph picks the glyph and style for an event line.
func eventGlyph(r result.ScriptStepResult) (string, lipgloss.Style) {
	switch r.Kind {
	case result.KindStart:
		return GlyphStart, eventStart
	case result.KindSuccess:
		return GlyphSuccess, eventSuccess
	case result.KindFail:
		return GlyphFail, eventFail
	case result.KindCancelled:
		return GlyphCancelled, eventWarn
	case result.KindMaxReached:
		return GlyphMax, eventWarn
	}
	return " ", eventNormal
}
