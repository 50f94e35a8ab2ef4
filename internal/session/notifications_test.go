package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotificationExpiryBoundary(t *testing.T) {
	created := time.Now()
	n := Notification{
		Message:   "session ready",
		CreatedAt: created,
		Duration:  5 * time.Second,
	}

	require.False(t, n.Expired(created))
	require.False(t, n.Expired(created.Add(4999*time.Millisecond)))
	require.False(t, n.Expired(created.Add(5*time.Second)))
	require.True(t, n.Expired(created.Add(5001*time.Millisecond)))
}

func TestNotifierNewestFirstAndCap(t *testing.T) {
	nf := NewNotifier(NotificationSettings{
		Duration: duration(time.Minute),
		MaxShown: 3,
	})

	for _, msg := range []string{"one", "two", "three", "four"} {
		nf.Push(msg, SeverityInfo)
	}

	active := nf.Active()
	require.Len(t, active, 3)
	require.Equal(t, "four", active[0].Message)
	require.Equal(t, "three", active[1].Message)
	require.Equal(t, "two", active[2].Message)
}

func TestNotifierPrunesExpired(t *testing.T) {
	nf := NewNotifier(NotificationSettings{
		Duration: duration(time.Second),
		MaxShown: 6,
	})
	nf.Push("fleeting", SeverityWarn)

	require.Len(t, nf.activeAt(time.Now()), 1)
	require.Empty(t, nf.activeAt(time.Now().Add(2*time.Second)))
	// Pruned for good, not just filtered from the view.
	require.Empty(t, nf.activeAt(time.Now()))
}

func TestNotifierClear(t *testing.T) {
	nf := NewNotifier(NotificationSettings{})
	nf.Push("gone", SeverityError)
	nf.Clear()
	require.Empty(t, nf.Active())
}
