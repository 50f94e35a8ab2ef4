// Package activity classifies captured terminal text into an agent liveness
// state. Classification is a pure function over the tail of the capture; the
// marker sets are configuration so the underlying agent's wording can change
// without a recompile.
package activity

import (
	"regexp"
	"strings"

	"github.com/twistedxcom/ciab/internal/logging"
)

var activityLog = logging.ForComponent(logging.CompActivity)

// State is the detected liveness of the process behind a capture.
type State string

const (
	StateIdle            State = "idle"
	StateRunning         State = "running"
	StateWaitingForInput State = "waiting"
	StateUnknown         State = "unknown"
)

// Markers holds the raw marker strings for one detector instance.
// Entries prefixed with "re:" compile as regular expressions; all other
// entries match with strings.Contains.
type Markers struct {
	Busy    []string `toml:"busy"`
	Waiting []string `toml:"waiting"`
	Idle    []string `toml:"idle"`
}

// DefaultMarkers returns the built-in marker set for the agents we ship
// detection for.
func DefaultMarkers() Markers {
	return Markers{
		Busy: []string{
			`re:(?m)^[✳✽✶✻·]\s*\S+…`, // spinner + ellipsis on its own line
			"ctrl+c to interrupt",
			"esc to interrupt",
			"thinking...",
			"generating...",
		},
		Waiting: []string{
			"waiting for input",
			"Continue?",
			"[y/n]",
			"press enter to send",
			"Ask anything",
		},
		Idle: []string{
			"$ ",
			"% ",
			"> ",
		},
	}
}

// matcher is one compiled marker.
type matcher struct {
	literal string
	re      *regexp.Regexp
}

func (m matcher) match(text string) bool {
	if m.re != nil {
		return m.re.MatchString(text)
	}
	return strings.Contains(text, m.literal)
}

// Detector classifies captures against a compiled marker set.
// Safe for concurrent use after construction.
type Detector struct {
	busy    []matcher
	waiting []matcher
	idle    []matcher

	// tailLines bounds the scanned portion of a capture so classification
	// cost is independent of capture size.
	tailLines int
}

// NewDetector compiles a marker set. Invalid regex entries are logged and
// skipped rather than failing construction. tailLines <= 0 selects 20.
func NewDetector(m Markers, tailLines int) *Detector {
	if tailLines <= 0 {
		tailLines = 20
	}
	return &Detector{
		busy:      compile(m.Busy),
		waiting:   compile(m.Waiting),
		idle:      compile(m.Idle),
		tailLines: tailLines,
	}
}

func compile(raw []string) []matcher {
	out := make([]matcher, 0, len(raw))
	for _, entry := range raw {
		if rest, ok := strings.CutPrefix(entry, "re:"); ok {
			re, err := regexp.Compile(rest)
			if err != nil {
				activityLog.Warn("invalid_marker_regex", "pattern", rest, "error", err.Error())
				continue
			}
			out = append(out, matcher{re: re})
			continue
		}
		out = append(out, matcher{literal: entry})
	}
	return out
}

// Classify maps captured text to a State. Busy markers win over waiting
// markers, which win over idle markers; an empty capture or no match at all
// is Unknown.
func (d *Detector) Classify(captured string) State {
	if strings.TrimSpace(captured) == "" {
		return StateUnknown
	}

	tail := lastNLines(captured, d.tailLines)

	for _, m := range d.busy {
		if m.match(tail) {
			return StateRunning
		}
	}
	for _, m := range d.waiting {
		if m.match(tail) {
			return StateWaitingForInput
		}
	}
	for _, m := range d.idle {
		if m.match(tail) {
			return StateIdle
		}
	}
	return StateUnknown
}

// lastNLines returns the final n lines of content joined back together.
func lastNLines(content string, n int) string {
	lines := strings.Split(content, "\n")
	if len(lines) <= n {
		return content
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
