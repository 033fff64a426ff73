// Package ui holds the terminal presentation helpers for pulsectl.
package ui

import "fmt"

// ANSI256 color codes for pulsectl output.
const (
	colorAccent = 74  // blue: identifiers, success markers
	colorMuted  = 245 // medium gray: timestamps, hints
)

var noColor bool

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorAccent, s)
}

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", colorMuted, s)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
