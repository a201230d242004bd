package adapter

import (
	"context"
	"log/slog"
)

// Notification carries the outcome of one request to the completion
// side-channel collaborator. Fire-and-forget: failures here never fail
// the request itself.
type Notification struct {
	ReqID     string
	Reply     string
	ExitCode  int
	EmailTo   string
	EmailOnly bool
}

// Notifier is the completion side-channel: a file write, an email, or a
// hook script. It's an external collaborator; this package only defines
// the interface the adapter calls into.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NoopNotifier discards every notification, for daemons not configured
// with a completion side-channel.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Notification) {}

// LoggingNotifier records completion as a structured log line, useful as a
// fallback before a real notifier (email/hook) is configured.
type LoggingNotifier struct {
	Log *slog.Logger
}

func (n LoggingNotifier) Notify(_ context.Context, note Notification) {
	if n.Log == nil {
		return
	}
	n.Log.Info("request completed",
		"req_id", note.ReqID, "exit_code", note.ExitCode, "email_to", note.EmailTo)
}
