package tmux

import "strings"

// SessionPrefix is prepended to every sanitized label to namespace our
// sessions within the shared tmux server.
const SessionPrefix = "ciab_"

// reservedChars are the characters tmux target syntax and shell quoting
// cannot carry in a session name.
const reservedChars = `/\:;|&()<>"'`

// Sanitize maps an arbitrary label to a safe tmux session name fragment.
// Every reserved character becomes an underscore; everything else, including
// existing underscores and whitespace, passes through unchanged. No case
// folding, no trimming. Deterministic and idempotent.
//
// Every component that derives a session name must go through this function;
// a second, divergent sanitizer would attach to the wrong session.
func Sanitize(label string) string {
	var b strings.Builder
	b.Grow(len(label))
	for _, r := range label {
		if strings.ContainsRune(reservedChars, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SessionName returns the canonical tmux session name for a label.
func SessionName(label string) string {
	return SessionPrefix + Sanitize(label)
}
