// Package notify builds the broker's completion side-channel notifier from
// an optional YAML config file, the same layered-override style the rest of
// the daemon's config reads a project-local file with. The side-channel
// itself (file write, hook script) sits outside the broker's core request
// lifecycle, but its config format is real and parsed so a project can opt
// into one without the daemon carrying any email/SMTP stack of its own.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ccb-dev/ccb/internal/adapter"
)

// Config is the on-disk shape of .ccb_config/notify.yaml.
type Config struct {
	Mode    string `yaml:"mode"`               // "file", "hook", or "log" (default)
	Path    string `yaml:"path,omitempty"`     // mode "file": where to append completion lines
	HookCmd string `yaml:"hook_cmd,omitempty"` // mode "hook": command run with req id/exit code/reply as args
	EmailTo string `yaml:"email_to,omitempty"` // carried through for a future email notifier; unused today
}

// ConfigPath returns the notify config path for a project root.
func ConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".ccb_config", "notify.yaml")
}

// Load reads and parses the notify config at path. A missing file is not an
// error: it returns a nil Config, and callers should fall back to a no-op
// or logging notifier.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read notify config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse notify config %s: %w", path, err)
	}
	return &cfg, nil
}

// Build constructs the Notifier a Config describes, falling back to a
// LoggingNotifier for an unrecognized mode or a nil Config.
func Build(cfg *Config, log *slog.Logger) adapter.Notifier {
	if cfg == nil {
		return adapter.LoggingNotifier{Log: log}
	}
	switch cfg.Mode {
	case "file":
		if cfg.Path == "" {
			return adapter.LoggingNotifier{Log: log}
		}
		return FileNotifier{Path: cfg.Path, Log: log}
	case "hook":
		if cfg.HookCmd == "" {
			return adapter.LoggingNotifier{Log: log}
		}
		return HookNotifier{Cmd: cfg.HookCmd, Log: log}
	default:
		return adapter.LoggingNotifier{Log: log}
	}
}

// notifyLine is the JSON record FileNotifier appends, one per completed
// request, mirroring the debug log's one-line-per-event shape.
type notifyLine struct {
	Time     time.Time `json:"time"`
	ReqID    string    `json:"req_id"`
	ExitCode int       `json:"exit_code"`
	Reply    string    `json:"reply"`
	EmailTo  string    `json:"email_to,omitempty"`
}

// FileNotifier appends one JSON line per completed request to Path.
type FileNotifier struct {
	Path string
	Log  *slog.Logger
}

func (n FileNotifier) Notify(_ context.Context, note adapter.Notification) {
	line := notifyLine{
		Time: time.Now(), ReqID: note.ReqID, ExitCode: note.ExitCode,
		Reply: note.Reply, EmailTo: note.EmailTo,
	}
	data, err := json.Marshal(line)
	if err != nil {
		n.warn("marshal", err)
		return
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(n.Path), 0o755); err != nil {
		n.warn("mkdir", err)
		return
	}
	f, err := os.OpenFile(n.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		n.warn("open", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		n.warn("write", err)
	}
}

func (n FileNotifier) warn(step string, err error) {
	if n.Log != nil {
		n.Log.Warn("file notifier failed", "step", step, "err", err)
	}
}

// HookNotifier runs Cmd with the request outcome passed as arguments:
// <req_id> <exit_code> <reply>. Fire-and-forget: it starts the command and
// does not wait for it to exit; a failure to start is only logged.
type HookNotifier struct {
	Cmd string
	Log *slog.Logger
}

func (n HookNotifier) Notify(ctx context.Context, note adapter.Notification) {
	c := exec.Command(n.Cmd, note.ReqID, fmt.Sprint(note.ExitCode), note.Reply)
	if err := c.Start(); err != nil {
		if n.Log != nil {
			n.Log.Warn("hook notifier failed to start", "cmd", n.Cmd, "err", err)
		}
		return
	}
	go func() {
		_ = c.Wait()
	}()
}
