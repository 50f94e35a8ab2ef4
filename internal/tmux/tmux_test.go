package tmux

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireTmux(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
}

func TestIsAvailable(t *testing.T) {
	requireTmux(t)
	require.NoError(t, IsAvailable())
}

func TestListSessionsOnlyReturnsManagedNames(t *testing.T) {
	requireTmux(t)
	names, err := ListSessions()
	require.NoError(t, err)
	for _, name := range names {
		assert.True(t, strings.HasPrefix(name, SessionPrefix),
			"unmanaged session leaked through: %q", name)
	}
}
