package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestInitWritesRingBuffer(t *testing.T) {
	Init(Config{LogDir: t.TempDir(), Level: "debug", Debug: true})
	defer Shutdown()

	Logger().Info("test message", "key", "value")

	tail := RingBufferBytes()
	if !bytes.Contains(tail, []byte("test message")) {
		t.Errorf("ring buffer missing log line, got %q", string(tail))
	}
	if !bytes.Contains(tail, []byte(`"key":"value"`)) {
		t.Errorf("ring buffer missing attribute, got %q", string(tail))
	}
}

func TestForComponentTagsRecords(t *testing.T) {
	Init(Config{LogDir: t.TempDir(), Level: "debug", Debug: true})
	defer Shutdown()

	log := ForComponent(CompTerm)
	log.Info("component message")

	tail := string(RingBufferBytes())
	if !strings.Contains(tail, `"component":"term"`) {
		t.Errorf("expected component attribute, got %q", tail)
	}
}

func TestForComponentBeforeInitIsSafe(t *testing.T) {
	Shutdown()

	// Created before Init; must bind the handler at log time.
	log := ForComponent(CompSession)
	log.Info("dropped silently")

	Init(Config{LogDir: t.TempDir(), Level: "debug", Debug: true})
	defer Shutdown()

	log.Info("after init")
	if !strings.Contains(string(RingBufferBytes()), "after init") {
		t.Error("pre-Init component logger did not pick up live handler")
	}
}

func TestLoggerBeforeInitDiscards(t *testing.T) {
	Shutdown()
	// Must not panic.
	Logger().Info("nowhere to go")
}

func TestAggregatorBatchesCounts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	agg := NewAggregator(logger, 3600)
	agg.Start()
	for i := 0; i < 5; i++ {
		agg.Record(CompTerm, "unknown_sequence", slog.String("seq", "CSI?h"))
	}
	agg.Record(CompRemote, "heartbeat")
	agg.Stop()

	out := buf.String()
	if !strings.Contains(out, `"count":5`) {
		t.Errorf("expected batched count of 5, got %q", out)
	}
	if !strings.Contains(out, "unknown_sequence") {
		t.Errorf("expected event name in summary, got %q", out)
	}
	if !strings.Contains(out, "heartbeat") {
		t.Errorf("expected second event in summary, got %q", out)
	}
}

func TestAggregatorNilLoggerDrops(t *testing.T) {
	agg := NewAggregator(nil, 1)
	agg.Start()
	agg.Record(CompUI, "keypress")
	agg.Stop()
}
