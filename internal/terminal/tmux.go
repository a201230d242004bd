package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

func tmuxActive() bool {
	return os.Getenv("TMUX") != ""
}

// TmuxBackend drives tmux panes via the tmux(1) binary, the same
// exec-and-parse-output shape as the session-management helpers it is
// grounded on (display-message for liveness, pipe-pane for raw capture,
// send-keys for injection).
type TmuxBackend struct {
	binPath string
	fifoDir string
	fifos   map[string]string
}

// NewTmuxBackend builds a backend using the given tmux binary, or "tmux"
// on PATH if binPath is empty.
func NewTmuxBackend(binPath string) *TmuxBackend {
	if binPath == "" {
		binPath = "tmux"
	}
	return &TmuxBackend{binPath: binPath, fifoDir: filepath.Join(os.TempDir(), "ccb"), fifos: map[string]string{}}
}

func (b *TmuxBackend) Name() string { return "tmux" }

func (b *TmuxBackend) cmd(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, b.binPath, args...)
}

// SendText injects text into paneID via tmux send-keys, using -l (literal)
// to preserve arbitrary Unicode and avoid tmux's key-name parsing, then a
// separate Enter keystroke so embedded newlines inside text are not
// themselves treated as submission.
func (b *TmuxBackend) SendText(ctx context.Context, paneID, text string) error {
	// send-keys -l passes the argument through literally; splitting on
	// embedded newlines and sending each as its own literal send avoids
	// tmux's own newline-handling quirks inside a single -l argument.
	for _, line := range strings.Split(text, "\n") {
		if line != "" {
			if err := b.cmd(ctx, "send-keys", "-t", paneID, "-l", line).Run(); err != nil {
				return fmt.Errorf("tmux send-keys literal: %w", err)
			}
		}
		if err := b.cmd(ctx, "send-keys", "-t", paneID, "Enter").Run(); err != nil {
			return fmt.Errorf("tmux send-keys Enter: %w", err)
		}
	}
	return nil
}

// IsAlive reports pane liveness via tmux display-message's pane_dead flag.
func (b *TmuxBackend) IsAlive(ctx context.Context, paneID string) (bool, error) {
	out, err := b.cmd(ctx, "display-message", "-t", paneID, "-p", "#{pane_dead}").Output()
	if err != nil {
		return false, fmt.Errorf("tmux display-message: %w", err)
	}
	return strings.TrimSpace(string(out)) != "1", nil
}

// PaneLogPath returns the FIFO path already established for paneID by
// EnsurePaneLog, or "" if none has been started.
func (b *TmuxBackend) PaneLogPath(ctx context.Context, paneID string) (string, error) {
	if p, ok := b.fifos[paneID]; ok {
		return p, nil
	}
	return "", nil
}

// EnsurePaneLog starts tmux pipe-pane into a named FIFO so the pane's raw
// scrollback can be tailed by the pane-log Transcript Reader, tolerating the
// FIFO-open race the way the grounding session manager does (open the
// reader fd O_RDWR|O_NONBLOCK before starting pipe-pane, then clear
// O_NONBLOCK so subsequent reads block normally).
func (b *TmuxBackend) EnsurePaneLog(ctx context.Context, paneID string) (string, error) {
	if p, ok := b.fifos[paneID]; ok {
		return p, nil
	}
	if err := os.MkdirAll(b.fifoDir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir fifo dir: %w", err)
	}
	safeName := strings.NewReplacer("%", "pane", "/", "_", ":", "_").Replace(paneID)
	fifoPath := filepath.Join(b.fifoDir, safeName+".pipe")
	os.Remove(fifoPath)
	if err := syscall.Mkfifo(fifoPath, 0o600); err != nil {
		return "", fmt.Errorf("mkfifo: %w", err)
	}
	fd, err := syscall.Open(fifoPath, syscall.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		os.Remove(fifoPath)
		return "", fmt.Errorf("open fifo: %w", err)
	}
	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		os.Remove(fifoPath)
		return "", fmt.Errorf("set blocking: %w", err)
	}
	syscall.Close(fd) // the reader side belongs to the Transcript Reader, which reopens the path

	if err := b.cmd(ctx, "pipe-pane", "-t", paneID, "-o", fmt.Sprintf("exec cat > %s", shellQuote(fifoPath))).Run(); err != nil {
		os.Remove(fifoPath)
		return "", fmt.Errorf("tmux pipe-pane: %w", err)
	}
	b.fifos[paneID] = fifoPath
	return fifoPath, nil
}

func (b *TmuxBackend) RefreshPaneLogs(ctx context.Context) error {
	for paneID, path := range b.fifos {
		if alive, err := b.IsAlive(ctx, paneID); err != nil || !alive {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			delete(b.fifos, paneID)
			if _, err := b.EnsurePaneLog(ctx, paneID); err != nil {
				return err
			}
		}
	}
	return nil
}

// RespawnPane restarts cmd in paneID via tmux respawn-pane, used by the
// Session Resolver when a pane is found dead but its id is shaped like a
// tmux pane (%N) and a start_cmd is known.
func (b *TmuxBackend) RespawnPane(ctx context.Context, paneID, cmdline, cwd string, remainOnExit bool) error {
	args := []string{"respawn-pane", "-t", paneID, "-k"}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	args = append(args, cmdline)
	if err := b.cmd(ctx, args...).Run(); err != nil {
		return fmt.Errorf("tmux respawn-pane: %w", err)
	}
	if remainOnExit {
		_ = b.cmd(ctx, "set-option", "-t", paneID, "remain-on-exit", "on").Run()
	}
	return nil
}

// SaveCrashLog captures the pane's current screen content to path before a
// respawn destroys it.
func (b *TmuxBackend) SaveCrashLog(ctx context.Context, paneID, path string, lines int) error {
	text, err := b.GetText(ctx, paneID, lines)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

// GetText returns the last `lines` of the pane's visible screen via
// tmux capture-pane.
func (b *TmuxBackend) GetText(ctx context.Context, paneID string, lines int) (string, error) {
	args := []string{"capture-pane", "-t", paneID, "-p", "-e"}
	if lines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(lines))
	}
	out, err := b.cmd(ctx, args...).Output()
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane: %w", err)
	}
	return string(out), nil
}

// FindPaneByTitleMarker scans all panes across all sessions for one whose
// title contains marker, used when the bound pane id has gone dead.
func (b *TmuxBackend) FindPaneByTitleMarker(ctx context.Context, marker string) (string, bool, error) {
	out, err := b.cmd(ctx, "list-panes", "-a", "-F", "#{pane_id}\t#{pane_title}").Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return "", false, nil // no server running
		}
		return "", false, fmt.Errorf("tmux list-panes: %w", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) == 2 && strings.Contains(parts[1], marker) {
			return parts[0], true, nil
		}
	}
	return "", false, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
