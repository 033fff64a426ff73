package ui

import (
	"os"

	"golang.org/x/term"
)

// ShouldUseColor reports whether pulsectl should emit ANSI colors on
// stdout: never when NO_COLOR is set (https://no-color.org), otherwise
// only when stdout is a terminal.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
