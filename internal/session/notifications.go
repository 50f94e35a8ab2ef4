package session

import (
	"sync"
	"time"
)

// Severity classifies a toast for rendering.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

// Notification is one toast shown in the console's notification bar.
type Notification struct {
	Message   string
	Severity  Severity
	CreatedAt time.Time
	Duration  time.Duration
}

// Expired reports whether the toast has outlived its duration at time now.
// A toast is still visible at exactly its deadline; it expires strictly
// after it.
func (n Notification) Expired(now time.Time) bool {
	return now.Sub(n.CreatedAt) > n.Duration
}

// Notifier collects toasts for the notification bar. Newest first, capped
// at maxShown; expired entries are pruned on read.
type Notifier struct {
	mu       sync.Mutex
	toasts   []Notification
	maxShown int
	duration time.Duration
}

// NewNotifier creates a notifier from the notification settings.
func NewNotifier(settings NotificationSettings) *Notifier {
	maxShown := settings.MaxShown
	if maxShown <= 0 {
		maxShown = 6
	}
	d := time.Duration(settings.Duration)
	if d <= 0 {
		d = 5 * time.Second
	}
	return &Notifier{maxShown: maxShown, duration: d}
}

// Push adds a toast with the configured duration.
func (n *Notifier) Push(message string, severity Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()

	toast := Notification{
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now(),
		Duration:  n.duration,
	}
	n.toasts = append([]Notification{toast}, n.toasts...)
	if len(n.toasts) > n.maxShown {
		n.toasts = n.toasts[:n.maxShown]
	}
}

// Active returns the unexpired toasts, newest first, pruning expired ones.
func (n *Notifier) Active() []Notification {
	return n.activeAt(time.Now())
}

func (n *Notifier) activeAt(now time.Time) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	live := n.toasts[:0]
	for _, t := range n.toasts {
		if !t.Expired(now) {
			live = append(live, t)
		}
	}
	n.toasts = live

	out := make([]Notification, len(live))
	copy(out, live)
	return out
}

// Clear drops all toasts.
func (n *Notifier) Clear() {
	n.mu.Lock()
	n.toasts = nil
	n.mu.Unlock()
}
