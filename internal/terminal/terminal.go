// Package terminal abstracts pane operations across terminal multiplexers:
// inject text, check liveness, locate the pane's scrollback log. It is a
// capability interface, not a class hierarchy — each backend implements
// only the subset of optional operations it can support.
package terminal

import "context"

// Backend is the capability set every terminal driver must implement.
type Backend interface {
	// Name identifies the backend, e.g. "tmux", "wezterm", "iterm2".
	Name() string

	// SendText atomically injects text followed by a submit keystroke into
	// the pane, preserving newlines and tolerating arbitrary Unicode.
	SendText(ctx context.Context, paneID, text string) error

	// IsAlive reports whether the pane still exists and is running.
	IsAlive(ctx context.Context, paneID string) (bool, error)

	// PaneLogPath returns the path to a raw scrollback log if this backend
	// captures one, or "" if none is available.
	PaneLogPath(ctx context.Context, paneID string) (string, error)

	// EnsurePaneLog starts capturing (if not already) and returns the log path.
	EnsurePaneLog(ctx context.Context, paneID string) (string, error)
}

// OptionalBackend groups capabilities not every backend supports.
// Callers should type-assert before use.
type OptionalBackend interface {
	RefreshPaneLogs(ctx context.Context) error
	RespawnPane(ctx context.Context, paneID, cmd, cwd string, remainOnExit bool) error
	SaveCrashLog(ctx context.Context, paneID, path string, lines int) error
	GetText(ctx context.Context, paneID string, lines int) (string, error)
	FindPaneByTitleMarker(ctx context.Context, marker string) (string, bool, error)
}

// Detect picks the live terminal backend in priority order: current tmux
// session (env TMUX set) -> WezTerm binary available -> iTerm2 (binary
// override honored) -> none. It never assumes tmux outside TMUX.
func Detect(wezTermBinOverride, iTerm2BinOverride string) (Backend, bool) {
	if tmuxActive() {
		return NewTmuxBackend(""), true
	}
	if path, ok := wezTermAvailable(wezTermBinOverride); ok {
		return NewWezTermBackend(path), true
	}
	if path, ok := iTerm2Available(iTerm2BinOverride); ok {
		return NewITerm2Backend(path), true
	}
	return nil, false
}
