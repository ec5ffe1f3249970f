package ui

import (
	"os"

	"golang.org/x/term"
)

// IsTTY reports whether stdout is attached to a terminal. Styled output
// is disabled when piping to files or other programs.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Width returns the terminal width, or the fallback when stdout is not
// a terminal or the size cannot be determined.
func Width(fallback int) int {
	if !IsTTY() {
		return fallback
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}
