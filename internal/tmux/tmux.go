// Package tmux implements the Multiplexer Adapter: a narrow interface over
// an externally-running tmux server, reached via subprocess invocation.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/fleetwatch/backend/internal/session"
)

// CaptureTimeout bounds how long a single capture-pane invocation may block.
const CaptureTimeout = 1 * time.Second

// literalSendMaxLen is the length below which send_keys uses tmux's direct
// literal-argument path instead of the paste-buffer path.
const literalSendMaxLen = 100

// WindowPane is one pane within a tmux window, as reported by Snapshot.
type WindowPane struct {
	ID         string
	Target     string
	Kind       session.ProcessKind
	WorkingDir string
	PID        int
}

// Window groups panes that share a tmux window.
type Window struct {
	SessionName string
	Index       int
	Name        string
	Panes       []WindowPane
}

// Adapter drives a tmux server via its CLI. The zero value is unusable;
// construct with New.
type Adapter struct {
	binPath string
}

// New locates the tmux binary on PATH. Returns an error if tmux is not
// installed, so callers can fail loudly at startup rather than silently
// every poll cycle.
func New() (*Adapter, error) {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return nil, fmt.Errorf("tmux: locating binary: %w", err)
	}
	return &Adapter{binPath: path}, nil
}

func (a *Adapter) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, a.binPath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}

// Snapshot lists every window and its panes across all tmux sessions.
func (a *Adapter) Snapshot(ctx context.Context) ([]Window, error) {
	out, err := a.run(ctx, "list-panes", "-a", "-F",
		"#{session_name}\t#{window_index}\t#{window_name}\t#{pane_index}\t#{pane_pid}\t#{pane_current_path}")
	if err != nil {
		return nil, err
	}

	byWindow := map[string]*Window{}
	var order []string

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 6 {
			continue
		}
		sessionName, windowName, workDir := fields[0], fields[2], fields[5]
		windowIdx, err1 := strconv.Atoi(fields[1])
		paneIdx, err2 := strconv.Atoi(fields[3])
		pid, err3 := strconv.Atoi(fields[4])
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		key := fmt.Sprintf("%s:%d", sessionName, windowIdx)
		w, ok := byWindow[key]
		if !ok {
			w = &Window{SessionName: sessionName, Index: windowIdx, Name: windowName}
			byWindow[key] = w
			order = append(order, key)
		}

		target := fmt.Sprintf("%s:%d.%d", sessionName, windowIdx, paneIdx)
		w.Panes = append(w.Panes, WindowPane{
			ID:         target,
			Target:     target,
			Kind:       classifyProcess(ctx, pid),
			WorkingDir: workDir,
			PID:        pid,
		})
	}

	windows := make([]Window, 0, len(order))
	for _, key := range order {
		windows = append(windows, *byWindow[key])
	}
	return windows, nil
}

// Capture returns the trailing lastN lines of a pane's scroll-back. On
// failure or timeout it returns an empty string and the error; the Poller
// logs it and skips that pane for the cycle.
func (a *Adapter) Capture(ctx context.Context, paneTarget string, lastN int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, CaptureTimeout)
	defer cancel()

	out, err := a.run(ctx, "capture-pane", "-p", "-t", paneTarget, "-S", fmt.Sprintf("-%d", lastN))
	if err != nil {
		return "", err
	}
	return out, nil
}

// SendKeys transmits a key sequence to a pane. Short, ASCII-safe sequences
// use tmux's literal send-keys path; anything else is written to a temp
// file and pasted through tmux's paste buffer, which preserves exact
// whitespace and multi-byte content that literal send-keys would mangle.
func (a *Adapter) SendKeys(ctx context.Context, paneTarget, keys string, pressEnter bool) error {
	if isLiteralSafe(keys) {
		args := []string{"send-keys", "-t", paneTarget, "-l", keys}
		if _, err := a.run(ctx, args...); err != nil {
			return err
		}
	} else {
		if err := a.sendViaPasteBuffer(ctx, paneTarget, keys); err != nil {
			return err
		}
	}
	if pressEnter {
		if _, err := a.run(ctx, "send-keys", "-t", paneTarget, "Enter"); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) sendViaPasteBuffer(ctx context.Context, paneTarget, keys string) error {
	f, err := os.CreateTemp("", "fleetwatch-paste-*")
	if err != nil {
		return fmt.Errorf("tmux: creating paste buffer temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(keys); err != nil {
		f.Close()
		return fmt.Errorf("tmux: writing paste buffer: %w", err)
	}
	f.Close()

	bufName := fmt.Sprintf("fleetwatch-%d", time.Now().UnixNano())
	if _, err := a.run(ctx, "load-buffer", "-b", bufName, f.Name()); err != nil {
		return err
	}
	defer a.run(context.Background(), "delete-buffer", "-b", bufName)

	if _, err := a.run(ctx, "paste-buffer", "-b", bufName, "-t", paneTarget); err != nil {
		return err
	}
	return nil
}

// isLiteralSafe reports whether keys is short enough and restricted enough
// in alphabet to use tmux's direct literal send path.
func isLiteralSafe(keys string) bool {
	if len(keys) >= literalSendMaxLen {
		return false
	}
	for _, r := range keys {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}

// ClosePane kills a single pane.
func (a *Adapter) ClosePane(ctx context.Context, paneTarget string) error {
	_, err := a.run(ctx, "kill-pane", "-t", paneTarget)
	return err
}

// CloseWindow kills an entire window.
func (a *Adapter) CloseWindow(ctx context.Context, target string) error {
	_, err := a.run(ctx, "kill-window", "-t", target)
	return err
}

// CreatePane splits the given window target, returning the new pane's
// target string.
func (a *Adapter) CreatePane(ctx context.Context, windowTarget string) (string, error) {
	out, err := a.run(ctx, "split-window", "-t", windowTarget, "-P", "-F", "#{pane_id}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CreateWindow creates a new window in the given session, returning its
// target string.
func (a *Adapter) CreateWindow(ctx context.Context, sessionName string) (string, error) {
	out, err := a.run(ctx, "new-window", "-t", sessionName, "-P", "-F", "#{session_name}:#{window_index}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RenameWindow sets a window's display name.
func (a *Adapter) RenameWindow(ctx context.Context, windowTarget, name string) error {
	_, err := a.run(ctx, "rename-window", "-t", windowTarget, name)
	return err
}

// pidAlive reports whether pid is still a live process, via a zero-signal
// kill probe (no permission to actually signal required on the same user).
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// knownAgentBinaries are foreground process names classified as
// interactive-AI, the set of binaries this fleet is built to watch.
var knownAgentBinaries = map[string]bool{
	"claude":      true,
	"claude-code": true,
	"codex":       true,
	"gemini":      true,
}

// classifyProcess inspects a pane's foreground process via gopsutil and
// classifies it into one of the four process kinds.
func classifyProcess(ctx context.Context, pid int) session.ProcessKind {
	if pid <= 0 || !pidAlive(pid) {
		return session.KindIdle
	}

	proc, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return session.KindIdle
	}

	name, err := proc.NameWithContext(ctx)
	if err != nil || name == "" {
		return session.KindOtherProcess
	}
	name = strings.ToLower(name)

	if knownAgentBinaries[name] {
		return session.KindInteractiveAI
	}

	// node-wrapped CLIs (claude-code ships an npm shim) present as "node";
	// disambiguate via the command line, mirroring the teacher's
	// isAgentProcess heuristic.
	if name == "node" || name == "node.exe" {
		cmdline, err := proc.CmdlineWithContext(ctx)
		if err == nil {
			lower := strings.ToLower(cmdline)
			for bin := range knownAgentBinaries {
				if strings.Contains(lower, bin) {
					return session.KindInteractiveAI
				}
			}
		}
	}

	if isShellName(name) {
		return session.KindShell
	}

	return session.KindOtherProcess
}

func isShellName(name string) bool {
	switch name {
	case "bash", "zsh", "sh", "fish", "dash", "ksh":
		return true
	default:
		return false
	}
}
