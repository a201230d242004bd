package terminal

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// WezTermBackend is a minimal exec-based driver, implementing enough
// (send_text, is_alive) to exercise the Backend interface against a real
// second multiplexer alongside tmux.
type WezTermBackend struct {
	binPath string
}

func NewWezTermBackend(binPath string) *WezTermBackend {
	return &WezTermBackend{binPath: binPath}
}

func wezTermAvailable(override string) (string, bool) {
	bin := override
	if bin == "" {
		bin = "wezterm"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", false
	}
	return path, true
}

func (b *WezTermBackend) Name() string { return "wezterm" }

func (b *WezTermBackend) SendText(ctx context.Context, paneID, text string) error {
	if err := exec.CommandContext(ctx, b.binPath, "cli", "send-text", "--pane-id", paneID, "--no-paste", text).Run(); err != nil {
		return fmt.Errorf("wezterm cli send-text: %w", err)
	}
	return exec.CommandContext(ctx, b.binPath, "cli", "send-text", "--pane-id", paneID, "\n").Run()
}

func (b *WezTermBackend) IsAlive(ctx context.Context, paneID string) (bool, error) {
	out, err := exec.CommandContext(ctx, b.binPath, "cli", "list", "--format", "json").Output()
	if err != nil {
		return false, fmt.Errorf("wezterm cli list: %w", err)
	}
	return strings.Contains(string(out), paneID), nil
}

func (b *WezTermBackend) PaneLogPath(ctx context.Context, paneID string) (string, error) {
	return "", nil // wezterm has no built-in pipe-pane equivalent wired here
}

func (b *WezTermBackend) EnsurePaneLog(ctx context.Context, paneID string) (string, error) {
	return "", nil
}
