package activity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyEmptyIsUnknown(t *testing.T) {
	d := NewDetector(DefaultMarkers(), 0)
	assert.Equal(t, StateUnknown, d.Classify(""))
	assert.Equal(t, StateUnknown, d.Classify("   \n  \n"))
}

func TestClassifyWaitingMarker(t *testing.T) {
	d := NewDetector(DefaultMarkers(), 0)
	got := d.Classify("some output\nwaiting for input\n")
	assert.Equal(t, StateWaitingForInput, got)
}

func TestClassifyBusyWinsOverWaiting(t *testing.T) {
	d := NewDetector(DefaultMarkers(), 0)
	got := d.Classify("Continue?\nesc to interrupt\n")
	assert.Equal(t, StateRunning, got)
}

func TestClassifyRegexMarker(t *testing.T) {
	d := NewDetector(DefaultMarkers(), 0)
	got := d.Classify("✳ Pondering…\n")
	assert.Equal(t, StateRunning, got)
}

func TestClassifyIdlePrompt(t *testing.T) {
	d := NewDetector(Markers{Idle: []string{"$ "}}, 0)
	assert.Equal(t, StateIdle, d.Classify("done\nuser@host:~$ "))
}

func TestClassifyNoMatchIsUnknown(t *testing.T) {
	d := NewDetector(Markers{Busy: []string{"never-appears"}}, 0)
	assert.Equal(t, StateUnknown, d.Classify("plain output with no markers"))
}

func TestClassifyOnlyScansTail(t *testing.T) {
	d := NewDetector(Markers{Waiting: []string{"needle"}}, 5)

	// Marker far above the tail window is not seen.
	capture := "needle\n" + strings.Repeat("filler\n", 50)
	assert.Equal(t, StateUnknown, d.Classify(capture))

	// Marker inside the tail window is seen.
	capture = strings.Repeat("filler\n", 50) + "needle"
	assert.Equal(t, StateWaitingForInput, d.Classify(capture))
}

func TestInvalidRegexSkipped(t *testing.T) {
	d := NewDetector(Markers{Busy: []string{"re:[invalid"}}, 0)
	// Construction survives and the broken pattern simply never matches.
	assert.Equal(t, StateUnknown, d.Classify("anything"))
}

func TestCustomMarkersOverrideWording(t *testing.T) {
	d := NewDetector(Markers{
		Busy:    []string{"brewing"},
		Waiting: []string{"your move"},
	}, 0)
	assert.Equal(t, StateRunning, d.Classify("* brewing ideas"))
	assert.Equal(t, StateWaitingForInput, d.Classify("your move, human"))
}
