package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadUserConfigMissingFile(t *testing.T) {
	cfg, err := LoadUserConfig(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultUserConfig(), cfg)
}

func TestLoadUserConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[capture]
history_lines = 500
poll_interval = "10s"

[remote]
host = "10.0.0.5:8423"

[markers]
busy = ["re:^compiling", "linking"]
`), 0644))

	cfg, err := LoadUserConfig(path)
	require.NoError(t, err)

	require.Equal(t, 500, cfg.Capture.HistoryLines)
	require.Equal(t, 10*time.Second, time.Duration(cfg.Capture.PollInterval))
	// Unset fields fall back to defaults.
	require.Equal(t, DefaultUserConfig().Capture.TailLines, cfg.Capture.TailLines)
	require.Equal(t, "10.0.0.5:8423", cfg.Remote.Host)
	require.Equal(t, "127.0.0.1:8423", cfg.Remote.Listen)
	require.Equal(t, []string{"re:^compiling", "linking"}, cfg.Markers.Busy)
}

func TestLoadUserConfigMalformedFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[capture\nnope"), 0644))

	cfg, err := LoadUserConfig(path)
	require.Error(t, err)
	require.Equal(t, DefaultUserConfig(), cfg)
}

func TestSaveLoadUserConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg := DefaultUserConfig()
	cfg.Capture.HistoryLines = 1234
	cfg.Remote.Host = "worker:8423"
	require.NoError(t, SaveUserConfig(path, cfg))

	got, err := LoadUserConfig(path)
	require.NoError(t, err)
	require.Equal(t, 1234, got.Capture.HistoryLines)
	require.Equal(t, "worker:8423", got.Remote.Host)
}

func TestConfigWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveUserConfig(path, DefaultUserConfig()))

	reloaded := make(chan *UserConfig, 1)
	cw, err := NewConfigWatcher(path, func(cfg *UserConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer cw.Close()
	cw.Start()

	cfg := DefaultUserConfig()
	cfg.Capture.HistoryLines = 777
	require.NoError(t, SaveUserConfig(path, cfg))

	select {
	case got := <-reloaded:
		require.Equal(t, 777, got.Capture.HistoryLines)
	case <-time.After(3 * time.Second):
		t.Fatal("config reload not observed")
	}
}

func TestConfigWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveUserConfig(path, DefaultUserConfig()))

	reloaded := make(chan *UserConfig, 1)
	cw, err := NewConfigWatcher(path, func(cfg *UserConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer cw.Close()
	cw.Start()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))

	select {
	case <-reloaded:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(500 * time.Millisecond):
	}
}
