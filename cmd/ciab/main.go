package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/twistedxcom/ciab/internal/logging"
	"github.com/twistedxcom/ciab/internal/session"
	"github.com/twistedxcom/ciab/internal/statedb"
	"github.com/twistedxcom/ciab/internal/tmux"
	"github.com/twistedxcom/ciab/internal/ui"
)

const Version = "0.3.0"

func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss color output. CIAB_COLOR overrides
// detection: truecolor, 256, 16, none.
func initColorProfile() {
	if colorEnv := os.Getenv("CIAB_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	if colorTerm := os.Getenv("COLORTERM"); colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}
	lipgloss.SetColorProfile(termenv.ANSI256)
}

func initLogging() {
	dir, err := session.GetCiabDir()
	if err != nil {
		dir = ""
	}
	level := "info"
	debug := os.Getenv("CIAB_DEBUG") != ""
	if debug {
		level = "debug"
	}
	logging.Init(logging.Config{
		LogDir: dir,
		Level:  level,
		Debug:  debug,
	})
}

func main() {
	initLogging()

	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("ciab v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "add":
			handleAdd(args[1:])
			return
		case "list", "ls":
			handleList(args[1:])
			return
		case "remove", "rm":
			handleRemove(args[1:])
			return
		case "attach":
			handleAttach(args[1:])
			return
		case "send":
			handleSend(args[1:])
			return
		case "resize":
			handleResize(args[1:])
			return
		case "serve":
			handleServe(args[1:])
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			printHelp()
			os.Exit(1)
		}
	}

	runConsole()
}

// runConsole launches the interactive TUI.
func runConsole() {
	if err := tmux.IsAvailable(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "\nciab requires tmux. Install with your package manager, e.g.:")
		fmt.Fprintln(os.Stderr, "  apt install tmux    or    brew install tmux")
		os.Exit(1)
	}

	// SIGUSR1 dumps the ring buffer for post-mortem debugging.
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	go func() {
		for range usr1 {
			dir, err := session.GetCiabDir()
			if err != nil {
				continue
			}
			dumpPath := filepath.Join(dir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				logging.ForComponent(logging.CompUI).Error("crash_dump_failed",
					slog.String("error", err.Error()))
			} else {
				logging.ForComponent(logging.CompUI).Info("crash_dump_written",
					slog.String("path", dumpPath))
			}
		}
	}()

	cfg, mgr, db, err := buildManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}
	defer mgr.Close()

	// Hot-reload markers and capture options while the console runs.
	if path, err := session.GetUserConfigPath(); err == nil {
		if watcher, err := session.NewConfigWatcher(path, mgr.ApplyConfig); err == nil {
			watcher.Start()
			defer watcher.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.StartSampler(ctx)

	notifier := session.NewNotifier(cfg.Notifications)
	ui.Version = Version
	if err := ui.Run(mgr, notifier); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildManager loads config, opens the database and restores persisted
// sessions. A broken database degrades to an in-memory manager.
func buildManager() (*session.UserConfig, *session.Manager, *statedb.StateDB, error) {
	cfgPath, err := session.GetUserConfigPath()
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := session.LoadUserConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}

	var db *statedb.StateDB
	if dbPath, err := session.GetStateDBPath(); err == nil {
		db, err = statedb.Open(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: state database unavailable: %v\n", err)
			db = nil
		} else if err := db.Migrate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: state database migration failed: %v\n", err)
			db.Close()
			db = nil
		}
	}
	if db != nil {
		migrateLegacyState(db)
	}

	mgr := session.NewManager(cfg, db)
	if err := mgr.Restore(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not restore sessions: %v\n", err)
	}
	return cfg, mgr, db, nil
}

// migrateLegacyState imports the pre-SQLite state.json once, then renames it
// so the import never runs twice.
func migrateLegacyState(db *statedb.StateDB) {
	dir, err := session.GetCiabDir()
	if err != nil {
		return
	}
	jsonPath := filepath.Join(dir, "state.json")
	if _, err := os.Stat(jsonPath); err != nil {
		return
	}
	if done, _ := db.GetMeta("json_migrated"); done == "1" {
		return
	}
	n, err := db.MigrateFromJSON(jsonPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not migrate %s: %v\n", jsonPath, err)
		return
	}
	_ = db.SetMeta("json_migrated", "1")
	_ = os.Rename(jsonPath, jsonPath+".migrated")
	if n > 0 {
		fmt.Fprintf(os.Stderr, "Migrated %d sessions from state.json\n", n)
	}
}

func printHelp() {
	fmt.Print(`ciab - terminal session console for coding agents

Usage:
  ciab                      Launch the interactive console
  ciab add <label>          Create a session (flags: -dir, -cmd, -remote)
  ciab list                 List sessions (alias: ls; flag: -json)
  ciab remove <label>       Remove a session and kill its tmux session (alias: rm)
  ciab attach <label>       Attach this terminal directly to a session
  ciab send <label> <text>  Send text to a session (flag: -enter)
  ciab resize <label> <cols> <rows>
                            Resize a detached session's window
  ciab serve                Serve local sessions to remote consoles (flag: -listen)
  ciab version              Print the version

Environment:
  CIAB_DEBUG=1              Verbose logging to ~/.ciab/ciab.log
  CIAB_COLOR=<mode>         truecolor | 256 | 16 | none
`)
}
