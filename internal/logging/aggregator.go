package logging

import (
	"log/slog"
	"sync"
	"time"
)

// eventKey identifies one tallied event stream.
type eventKey struct {
	component string
	event     string
}

// tally is a running count plus the attributes of the latest occurrence.
type tally struct {
	count int64
	last  []slog.Attr
}

// Aggregator turns high-frequency events into periodic summary lines. The
// terminal parser records one event per unrecognized escape sequence; during
// a burst of binary output that is thousands of events per second, so they
// are counted here and logged once per flush window.
type Aggregator struct {
	logger *slog.Logger
	window time.Duration

	mu      sync.Mutex
	tallies map[eventKey]*tally

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAggregator creates an aggregator flushing every intervalSecs seconds.
// A nil logger drops everything recorded.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:  logger,
		window:  time.Duration(intervalSecs) * time.Second,
		tallies: make(map[eventKey]*tally),
		done:    make(chan struct{}),
	}
}

// Start launches the flush goroutine.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.flush()
			case <-a.done:
				return
			}
		}
	}()
}

// Stop ends the flush goroutine and emits whatever is still pending.
func (a *Aggregator) Stop() {
	close(a.done)
	a.wg.Wait()
	a.flush()
}

// Record counts one occurrence of an event. Attributes from the most recent
// occurrence ride along on the next summary line.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	key := eventKey{component: component, event: event}

	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.tallies[key]
	if t == nil {
		t = &tally{}
		a.tallies[key] = t
	}
	t.count++
	if len(fields) > 0 {
		t.last = fields
	}
}

// flush emits one summary line per tallied event and resets the counts.
func (a *Aggregator) flush() {
	pending := a.drain()
	if a.logger == nil {
		return
	}
	for key, t := range pending {
		attrs := []any{
			slog.String("component", key.component),
			slog.String("event", key.event),
			slog.Int64("count", t.count),
			slog.Int("window_seconds", int(a.window.Seconds())),
		}
		for _, f := range t.last {
			attrs = append(attrs, f)
		}
		a.logger.Info("event_summary", attrs...)
	}
}

func (a *Aggregator) drain() map[eventKey]*tally {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.tallies) == 0 {
		return nil
	}
	out := a.tallies
	a.tallies = make(map[eventKey]*tally)
	return out
}
