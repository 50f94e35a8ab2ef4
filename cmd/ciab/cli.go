package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/twistedxcom/ciab/internal/git"
	"github.com/twistedxcom/ciab/internal/remote"
	"github.com/twistedxcom/ciab/internal/session"
	"github.com/twistedxcom/ciab/internal/tmux"
)

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func handleAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	dir := fs.String("dir", "", "working directory for the session (default: cwd)")
	cmd := fs.String("cmd", "", "command to run inside the session (default: your shell)")
	remoteURL := fs.String("remote", "", "remote host endpoint, e.g. ws://10.0.0.5:8423")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fatalf("usage: ciab add <label> [-dir path] [-cmd command] [-remote url]")
	}
	label := fs.Arg(0)

	workDir := *dir
	if *remoteURL == "" {
		if err := tmux.IsAvailable(); err != nil {
			fatalf("%v", err)
		}
		if workDir == "" {
			cwd, err := os.Getwd()
			if err != nil {
				fatalf("cannot determine working directory: %v", err)
			}
			workDir = cwd
		}
	}

	_, mgr, db, err := buildManager()
	if err != nil {
		fatalf("%v", err)
	}
	if db != nil {
		defer db.Close()
	}

	s, err := mgr.Create(session.CreateOptions{
		Label:     label,
		WorkDir:   workDir,
		Command:   *cmd,
		RemoteURL: *remoteURL,
	})
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Created %s (%s)\n", s.Label, s.Name)
	if workDir != "" && git.IsGitRepo(workDir) {
		branch, berr := git.GetCurrentBranch(workDir)
		root, rerr := git.GetRepoRoot(workDir)
		if berr == nil && rerr == nil {
			fmt.Printf("Repo %s, branch %s\n", root, branch)
		}
	}
}

func handleList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "machine-readable output")
	_ = fs.Parse(args)

	_, mgr, db, err := buildManager()
	if err != nil {
		fatalf("%v", err)
	}
	if db != nil {
		defer db.Close()
	}

	sessions := mgr.List()
	if *asJSON {
		type row struct {
			ID          string `json:"id"`
			Label       string `json:"label"`
			Name        string `json:"name"`
			WorkDir     string `json:"work_dir,omitempty"`
			RemoteURL   string `json:"remote_url,omitempty"`
			Activity    string `json:"activity"`
			State       string `json:"state"`
			UnknownSeqs uint64 `json:"unknown_seqs,omitempty"`
		}
		rows := make([]row, 0, len(sessions))
		for _, s := range sessions {
			r := row{
				ID:        s.ID,
				Label:     s.Label,
				Name:      s.Name,
				WorkDir:   s.WorkDir,
				RemoteURL: s.RemoteURL,
				Activity:  string(s.Activity()),
				State:     s.State().String(),
			}
			if snap := s.Snapshot(); snap != nil {
				r.UnknownSeqs = snap.UnknownSeqs
			}
			rows = append(rows, r)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rows)
		return
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions. Create one with: ciab add <label>")
		return
	}
	fmt.Printf("%-24s %-30s %-10s %s\n", "LABEL", "NAME", "KIND", "DIRECTORY")
	for _, s := range sessions {
		kind := "local"
		location := s.WorkDir
		if s.RemoteURL != "" {
			kind = "remote"
			location = s.RemoteURL
		}
		fmt.Printf("%-24s %-30s %-10s %s\n", s.Label, s.Name, kind, location)
	}
}

func handleRemove(args []string) {
	if len(args) < 1 {
		fatalf("usage: ciab remove <label>")
	}

	_, mgr, db, err := buildManager()
	if err != nil {
		fatalf("%v", err)
	}
	if db != nil {
		defer db.Close()
	}

	name := tmux.SessionName(args[0])
	if err := mgr.Remove(name); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Removed %s\n", args[0])
}

func handleSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	withEnter := fs.Bool("enter", false, "press Enter after the text")
	_ = fs.Parse(args)

	if fs.NArg() < 2 {
		fatalf("usage: ciab send <label> <text> [-enter]")
	}

	ts := tmux.NewSession(fs.Arg(0), "")
	ok, err := ts.Exists()
	if err != nil {
		fatalf("%v", err)
	}
	if !ok {
		fatalf("no tmux session %s", ts.Name)
	}
	if err := ts.SendKeys(fs.Arg(1)); err != nil {
		fatalf("%v", err)
	}
	if *withEnter {
		if err := ts.SendEnter(); err != nil {
			fatalf("%v", err)
		}
	}
}

func handleResize(args []string) {
	if len(args) < 3 {
		fatalf("usage: ciab resize <label> <cols> <rows>")
	}
	var cols, rows int
	if _, err := fmt.Sscanf(args[1]+" "+args[2], "%d %d", &cols, &rows); err != nil || cols < 1 || rows < 1 {
		fatalf("cols and rows must be positive integers")
	}

	ts := tmux.NewSession(args[0], "")
	if err := ts.ResizeWindow(cols, rows); err != nil {
		fatalf("%v", err)
	}
}

// handleAttach wires this terminal directly to the session PTY: raw mode on
// stdin, transport output to stdout, Ctrl+Q to detach.
func handleAttach(args []string) {
	if len(args) < 1 {
		fatalf("usage: ciab attach <label>")
	}

	ts := tmux.NewSession(args[0], "")
	ok, err := ts.Exists()
	if err != nil {
		fatalf("%v", err)
	}
	if !ok {
		fatalf("no tmux session %s", ts.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport, err := tmux.NewPtyTransport(ctx, ts)
	if err != nil {
		fatalf("%v", err)
	}
	defer transport.Close()

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fatalf("cannot enter raw mode: %v", err)
	}
	defer term.Restore(fd, oldState)

	resize := func() {
		if cols, rows, err := term.GetSize(fd); err == nil {
			_ = transport.Resize(cols, rows)
		}
	}
	resize()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	// stdin pump: forward keystrokes, detach on Ctrl+Q.
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				cancel()
				return
			}
			for _, b := range buf[:n] {
				if b == 0x11 { // Ctrl+Q
					cancel()
					return
				}
			}
			if err := transport.Write(buf[:n]); err != nil {
				cancel()
				return
			}
		}
	}()

	fmt.Fprintf(os.Stderr, "Attached to %s. Detach with Ctrl+Q.\r\n", ts.Name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-winch:
			resize()
		case chunk, ok := <-transport.Output():
			if !ok {
				return
			}
			if _, err := os.Stdout.Write(chunk); err != nil {
				return
			}
		}
	}
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", "", "listen address (default: remote.listen from config)")
	readOnly := fs.Bool("read-only", false, "reject input and resize from clients")
	_ = fs.Parse(args)

	cfgPath, err := session.GetUserConfigPath()
	if err != nil {
		fatalf("%v", err)
	}
	cfg, err := session.LoadUserConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}

	addr := *listen
	if addr == "" {
		addr = cfg.Remote.Listen
	}

	host := remote.NewHost(remote.HostConfig{
		ListenAddr:       addr,
		ReadOnly:         *readOnly,
		HeartbeatTimeout: time.Duration(cfg.Remote.HeartbeatTimeout) * 2,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = host.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Serving sessions on %s\n", addr)
	if err := host.ListenAndServe(); err != nil {
		fatalf("%v", err)
	}
}
