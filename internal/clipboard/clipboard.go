// Package clipboard copies captured session text to the system clipboard.
// It tries the platform's native tool first and falls back to the OSC 52
// escape sequence, which works over SSH and inside tmux.
package clipboard

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/twistedxcom/ciab/internal/platform"
)

// Result describes a successful copy.
type Result struct {
	Method    string // "pbcopy", "xclip", "wl-copy", "clip.exe", "osc52"
	ByteSize  int
	LineCount int
}

// Copy places text on the clipboard.
func Copy(text string) (*Result, error) {
	if text == "" {
		return nil, fmt.Errorf("no content to copy")
	}

	res := &Result{ByteSize: len(text), LineCount: countLines(text)}

	method, err := copyNative(text)
	if err == nil {
		res.Method = method
		return res, nil
	}

	if err := copyOSC52(text); err != nil {
		return nil, fmt.Errorf("no native clipboard tool and OSC 52 failed: %w", err)
	}
	res.Method = "osc52"
	return res, nil
}

// copyNative attempts the platform's clipboard command, returning the
// method name on success.
func copyNative(text string) (string, error) {
	switch platform.Detect() {
	case platform.PlatformMacOS:
		return "pbcopy", runClipCmd("pbcopy", nil, text)

	case platform.PlatformWSL:
		return "clip.exe", runClipCmd("clip.exe", nil, text)

	case platform.PlatformLinux:
		// Wayland takes priority over X11.
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			if path, err := exec.LookPath("wl-copy"); err == nil {
				return "wl-copy", runClipCmd(path, nil, text)
			}
		}
		if path, err := exec.LookPath("xclip"); err == nil {
			return "xclip", runClipCmd(path, []string{"-selection", "clipboard"}, text)
		}
		if path, err := exec.LookPath("xsel"); err == nil {
			return "xsel", runClipCmd(path, []string{"--clipboard", "--input"}, text)
		}
		return "", fmt.Errorf("no clipboard command found on Linux")

	default:
		return "", fmt.Errorf("unsupported platform: %s", platform.Detect())
	}
}

func runClipCmd(name string, args []string, text string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

// copyOSC52 writes the OSC 52 sequence to the controlling terminal. Inside
// tmux the sequence needs a DCS passthrough wrapper.
func copyOSC52(text string) error {
	seq := osc52Sequence(base64.StdEncoding.EncodeToString([]byte(text)), os.Getenv("TMUX") != "")

	// /dev/tty bypasses any stdout redirection
	tty, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open /dev/tty: %w", err)
	}
	defer tty.Close()

	_, err = tty.WriteString(seq)
	return err
}

func osc52Sequence(base64Content string, inTmux bool) string {
	osc := "\x1b]52;c;" + base64Content + "\x07"
	if inTmux {
		return "\x1bPtmux;\x1b" + osc + "\x1b\\"
	}
	return osc
}

// countLines counts lines; a trailing newline does not add an extra line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
