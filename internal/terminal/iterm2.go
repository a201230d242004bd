package terminal

import (
	"context"
	"fmt"
	"os/exec"
)

// ITerm2Backend is a minimal exec-based driver delegating to the it2api
// shims iTerm2 ships.
type ITerm2Backend struct {
	binPath string
}

func NewITerm2Backend(binPath string) *ITerm2Backend {
	return &ITerm2Backend{binPath: binPath}
}

func iTerm2Available(override string) (string, bool) {
	bin := override
	if bin == "" {
		bin = "it2send"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", false
	}
	return path, true
}

func (b *ITerm2Backend) Name() string { return "iterm2" }

func (b *ITerm2Backend) SendText(ctx context.Context, paneID, text string) error {
	if err := exec.CommandContext(ctx, b.binPath, text+"\n").Run(); err != nil {
		return fmt.Errorf("it2send: %w", err)
	}
	return nil
}

func (b *ITerm2Backend) IsAlive(ctx context.Context, paneID string) (bool, error) {
	return true, nil // iTerm2 session liveness isn't queryable via the CLI shims alone
}

func (b *ITerm2Backend) PaneLogPath(ctx context.Context, paneID string) (string, error) {
	return "", nil
}

func (b *ITerm2Backend) EnsurePaneLog(ctx context.Context, paneID string) (string, error) {
	return "", nil
}
