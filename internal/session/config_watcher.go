package session

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/twistedxcom/ciab/internal/logging"
)

var configLog = logging.ForComponent(logging.CompSession)

// ConfigWatcher watches the user config file and invokes onReload with the
// freshly parsed config when it changes. Editors write configs with
// rename-and-replace, so the parent directory is watched rather than the
// file itself.
type ConfigWatcher struct {
	path    string
	watcher *fsnotify.Watcher

	onReload func(*UserConfig)

	closeOnce sync.Once
	done      chan struct{}
}

// debounceWindow coalesces the burst of events an editor save produces.
const debounceWindow = 200 * time.Millisecond

// NewConfigWatcher creates a watcher for the config file at path.
// Call Start to begin watching.
func NewConfigWatcher(path string, onReload func(*UserConfig)) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	return &ConfigWatcher{
		path:     path,
		watcher:  w,
		onReload: onReload,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching (non-blocking).
func (cw *ConfigWatcher) Start() {
	go cw.loop()
}

func (cw *ConfigWatcher) loop() {
	var pending *time.Timer
	var pendingCh <-chan time.Time

	for {
		select {
		case <-cw.done:
			return
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(cw.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(debounceWindow)
				pendingCh = pending.C
			} else {
				pending.Reset(debounceWindow)
			}
		case <-pendingCh:
			pending = nil
			pendingCh = nil
			cw.reload()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			configLog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadUserConfig(cw.path)
	if err != nil {
		configLog.Warn("config_reload_failed",
			slog.String("path", cw.path),
			slog.String("error", err.Error()))
		return
	}
	configLog.Info("config_reloaded", slog.String("path", cw.path))
	if cw.onReload != nil {
		cw.onReload(cfg)
	}
}

// Close stops the watcher.
func (cw *ConfigWatcher) Close() error {
	var err error
	cw.closeOnce.Do(func() {
		close(cw.done)
		err = cw.watcher.Close()
	})
	return err
}
