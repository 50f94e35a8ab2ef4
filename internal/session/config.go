package session

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/twistedxcom/ciab/internal/activity"
)

// UserConfigFileName is the TOML config file for user preferences.
const UserConfigFileName = "config.toml"

// UserConfig is the user-facing configuration loaded from ~/.ciab/config.toml.
// Missing sections and fields fall back to defaults, so a partial file is fine.
type UserConfig struct {
	// Capture tunes how session output is sampled for activity detection
	// and how much history attached screens retain.
	Capture CaptureOptions `toml:"capture"`

	// Markers override the built-in activity marker set. An empty section
	// keeps the defaults.
	Markers activity.Markers `toml:"markers"`

	// Remote configures the streaming endpoint for remote sessions.
	Remote RemoteSettings `toml:"remote"`

	// Notifications tunes the toast bar.
	Notifications NotificationSettings `toml:"notifications"`
}

// CaptureOptions tunes output sampling and screen history.
type CaptureOptions struct {
	// HistoryLines is the tmux capture depth for detached sessions and the
	// scrollback budget for attached screens.
	HistoryLines int `toml:"history_lines"`

	// TailLines bounds how much captured text the activity detector scans.
	TailLines int `toml:"tail_lines"`

	// PollInterval is how often detached sessions are sampled for activity.
	PollInterval duration `toml:"poll_interval"`
}

// RemoteSettings configures the remote streaming transport.
type RemoteSettings struct {
	// Host is the default endpoint for remote sessions, e.g. "10.0.0.5:8423".
	Host string `toml:"host"`

	// Listen is the bind address when serving sessions to remote consoles.
	Listen string `toml:"listen"`

	HeartbeatInterval duration `toml:"heartbeat_interval"`
	HeartbeatTimeout  duration `toml:"heartbeat_timeout"`

	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	BackoffBase          duration `toml:"backoff_base"`
	BackoffMax           duration `toml:"backoff_max"`
}

// NotificationSettings tunes the toast notification bar.
type NotificationSettings struct {
	// Duration is how long a toast stays visible.
	Duration duration `toml:"duration"`

	// MaxShown caps how many toasts render at once.
	MaxShown int `toml:"max_shown"`
}

// duration decodes TOML strings like "5s" or "500ms".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// DefaultUserConfig returns the configuration used when no file exists.
func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Capture: CaptureOptions{
			HistoryLines: 2000,
			TailLines:    40,
			PollInterval: duration(2 * time.Second),
		},
		Markers: activity.DefaultMarkers(),
		Remote: RemoteSettings{
			Listen:               "127.0.0.1:8423",
			HeartbeatInterval:    duration(5 * time.Second),
			HeartbeatTimeout:     duration(15 * time.Second),
			MaxReconnectAttempts: 5,
			BackoffBase:          duration(500 * time.Millisecond),
			BackoffMax:           duration(16 * time.Second),
		},
		Notifications: NotificationSettings{
			Duration: duration(5 * time.Second),
			MaxShown: 6,
		},
	}
}

// GetCiabDir returns the base config directory (~/.ciab).
func GetCiabDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".ciab"), nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() (string, error) {
	dir, err := GetCiabDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, UserConfigFileName), nil
}

// GetStateDBPath returns the path to the session metadata database.
func GetStateDBPath() (string, error) {
	dir, err := GetCiabDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}

// LoadUserConfig reads the config file at path. A missing file returns the
// defaults without error; a malformed file returns the defaults plus the
// parse error so callers can keep running and surface the problem.
func LoadUserConfig(path string) (*UserConfig, error) {
	cfg := DefaultUserConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return DefaultUserConfig(), fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// SaveUserConfig writes cfg to path, creating parent directories.
func SaveUserConfig(path string, cfg *UserConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func (c *UserConfig) normalize() {
	def := DefaultUserConfig()
	if c.Capture.HistoryLines <= 0 {
		c.Capture.HistoryLines = def.Capture.HistoryLines
	}
	if c.Capture.TailLines <= 0 {
		c.Capture.TailLines = def.Capture.TailLines
	}
	if c.Capture.PollInterval <= 0 {
		c.Capture.PollInterval = def.Capture.PollInterval
	}
	if len(c.Markers.Busy) == 0 && len(c.Markers.Waiting) == 0 && len(c.Markers.Idle) == 0 {
		c.Markers = def.Markers
	}
	if c.Remote.Listen == "" {
		c.Remote.Listen = def.Remote.Listen
	}
	if c.Notifications.Duration <= 0 {
		c.Notifications.Duration = def.Notifications.Duration
	}
	if c.Notifications.MaxShown <= 0 {
		c.Notifications.MaxShown = def.Notifications.MaxShown
	}
}
