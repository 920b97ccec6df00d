// Package ui provides styled terminal output for the satchel CLI.
//
// Rendering degrades to plain text when stdout is not a terminal, when
// NO_COLOR is set, or when the caller forces it with Init(true).
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "26", Dark: "39"})
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "196"})
	faintStyle  = lipgloss.NewStyle().Faint(true)
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// Init configures the color profile for all subsequent rendering.
// plain forces unstyled output regardless of terminal capabilities.
func Init(plain bool) {
	if plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders s in the success color.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s in the warning color.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s in the error color.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderFaint renders s dimmed.
func RenderFaint(s string) string { return faintStyle.Render(s) }

// RenderBold renders s bold.
func RenderBold(s string) string { return boldStyle.Render(s) }

// IsInteractive reports whether both stdin and stdout are terminals,
// i.e. whether prompting the user makes sense.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Bar renders a fixed-width usage bar. The filled portion is colored by
// how full it is: green below 70%, yellow below 90%, red above.
func Bar(fraction float64, width int) string {
	if width <= 0 {
		width = 20
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	filled := int(fraction*float64(width) + 0.5)
	fill := strings.Repeat("█", filled)
	switch {
	case fraction >= 0.9:
		fill = failStyle.Render(fill)
	case fraction >= 0.7:
		fill = warnStyle.Render(fill)
	default:
		fill = passStyle.Render(fill)
	}

	return "[" + fill + faintStyle.Render(strings.Repeat("░", width-filled)) + "]"
}

// FormatBytes renders a byte count in human units.
func FormatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
