package adapter

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ccb-dev/ccb/internal/ccberr"
	"github.com/ccb-dev/ccb/internal/debuglog"
	"github.com/ccb-dev/ccb/internal/descriptor"
	"github.com/ccb-dev/ccb/internal/postprocess"
	"github.com/ccb-dev/ccb/internal/resolver"
	"github.com/ccb-dev/ccb/internal/terminal"
	"github.com/ccb-dev/ccb/internal/transcript"
	"github.com/ccb-dev/ccb/internal/worker"
)

const (
	defaultPaneCheckInterval = 2 * time.Second
	defaultRebindTailBytes   = 2 << 20 // 2 MiB
	defaultPollInterval      = 50 * time.Millisecond
	anchorFallbackAfter      = 1500 * time.Millisecond
	pollChunk                = 200 * time.Millisecond
	interruptMarker          = "Conversation interrupted"
	interruptScanLines       = 15
)

// Adapter runs the request lifecycle end to end: resolve the session, wrap
// and inject the prompt, drive the BEGIN/DONE state machine over transcript
// events, extract and post-process the reply. Its collaborators (resolver,
// terminal backend, transcript reader) are plain struct fields rather than
// a single fat interface, since each is independently swappable.
type Adapter struct {
	Provider          string
	Backend           terminal.Backend
	Resolver          *resolver.Resolver
	Registry          *descriptor.Registry
	Notifier          Notifier
	Log               *slog.Logger
	DebugLog          *debuglog.Writer
	PaneCheckInterval time.Duration
	RebindTailBytes   int64
	PollInterval      time.Duration

	// EmptyLineRunLimit and NoiseLineRunLimit tune ExtractPaneReply's
	// tolerance for blank lines and UI chrome encountered mid-reply while
	// walking a noisy pane log backward. Zero uses the package default.
	EmptyLineRunLimit int
	NoiseLineRunLimit int
}

// refreshRegistry records or refreshes this binding's entry in the global
// PaneRegistry so it stays current on every successful request. Best-effort:
// a registry write failure never fails the request itself, only gets logged.
func (a *Adapter) refreshRegistry(binding resolver.Binding) {
	if a.Registry == nil {
		return
	}
	err := a.Registry.Put(descriptor.RegistrySummary{
		CCBSessionID: binding.CCBSessionID,
		PaneID:       binding.PaneID,
		Provider:     binding.Provider,
		DescPath:     binding.DescriptorPath,
		WorkDir:      binding.WorkDir,
	})
	if err != nil && a.Log != nil {
		a.Log.Warn("pane registry update failed", "err", err)
	}
}

// logEvent appends one audit-trail entry if a debug log writer is
// configured; a write error here is transient and never fails the request.
func (a *Adapter) logEvent(event, reqID, sessionKey string, exitCode int, detail string) {
	if a.DebugLog == nil {
		return
	}
	_ = a.DebugLog.Append(debuglog.Entry{
		Event: event, ReqID: reqID, SessionKey: sessionKey,
		Provider: a.Provider, ExitCode: exitCode, Detail: detail,
	})
}

func (a *Adapter) paneCheckInterval() time.Duration {
	if a.PaneCheckInterval > 0 {
		return a.PaneCheckInterval
	}
	return defaultPaneCheckInterval
}

func (a *Adapter) rebindTailBytes() int64 {
	if a.RebindTailBytes > 0 {
		return a.RebindTailBytes
	}
	return defaultRebindTailBytes
}

func (a *Adapter) pollInterval() time.Duration {
	if a.PollInterval > 0 {
		return a.PollInterval
	}
	return defaultPollInterval
}

// Handle implements worker.HandleFunc: run req to completion and return its
// Result. Every internal failure is converted to a Result with a
// meaningful exit code; Handle itself never returns an error.
func (a *Adapter) Handle(ctx context.Context, req worker.Request) worker.Result {
	reqID := uuid.NewString()
	a.logEvent("request", reqID, "", 0, req.Message)

	binding, err := a.Resolver.Resolve(ctx, a.Provider, req.WorkDir)
	if err != nil {
		return a.fail(ctx, req, reqID, "", ccberr.KindOf(err), err.Error())
	}
	a.refreshRegistry(binding)

	reader, usingPaneLog, err := a.buildReader(ctx, binding)
	if err != nil {
		return a.fail(ctx, req, reqID, binding.SessionKey, ccberr.ConfigError, err.Error())
	}
	if closer, ok := reader.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	cursor, err := reader.CaptureState(ctx)
	if err != nil {
		return a.fail(ctx, req, reqID, binding.SessionKey, ccberr.BindingError, "could not capture transcript state")
	}

	message := req.Message
	if !req.NoWrap {
		message = WrapPrompt(reqID, req.Message)
	}
	if err := a.Backend.SendText(ctx, binding.PaneID, message); err != nil {
		return a.fail(ctx, req, reqID, binding.SessionKey, ccberr.PaneError, "send_text failed: "+err.Error())
	}

	m := NewMachine(reqID)
	started := time.Now()
	var deadline time.Time
	if req.TimeoutS >= 0 {
		deadline = started.Add(time.Duration(req.TimeoutS * float64(time.Second)))
	}
	lastLiveness := started

	for {
		chunk := pollChunk
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			if remaining < chunk {
				chunk = remaining
			}
		}

		events, next, _ := reader.WaitForEvents(ctx, cursor, chunk)
		cursor = next
		for _, ev := range events {
			if usingPaneLog {
				m.FeedPaneLine(ev.Text)
			} else {
				m.FeedStructuredEvent(ev)
			}
			if m.DoneSeen() {
				break
			}
		}
		if m.DoneSeen() {
			break
		}

		if !m.AnchorSeen() && !m.FallbackScan() && time.Since(started) >= anchorFallbackAfter {
			if rc, err := reader.Rebind(ctx, true, a.rebindTailBytes()); err == nil {
				cursor = rc
				m.SetFallbackScan(true)
			}
		}

		if time.Since(lastLiveness) >= a.paneCheckInterval() {
			lastLiveness = time.Now()
			if alive, err := a.Backend.IsAlive(ctx, binding.PaneID); err == nil && !alive {
				return a.fail(ctx, req, reqID, binding.SessionKey, ccberr.PaneError, "pane died")
			}
			if usingPaneLog && m.AnchorSeen() {
				if opt, ok := a.Backend.(terminal.OptionalBackend); ok {
					if text, err := opt.GetText(ctx, binding.PaneID, interruptScanLines); err == nil &&
						strings.Contains(text, interruptMarker) {
						return a.fail(ctx, req, reqID, binding.SessionKey, ccberr.ProtocolError, "assistant interrupted")
					}
				}
			}
		}

		if ctx.Err() != nil {
			return a.fail(ctx, req, reqID, binding.SessionKey, ccberr.TransientIOError, "context cancelled")
		}
	}

	result := worker.Result{
		ReqID: reqID, SessionKey: binding.SessionKey,
		DoneSeen: m.DoneSeen(), AnchorSeen: m.AnchorSeen(),
		AnchorMs: m.AnchorMs(), DoneMs: m.DoneMs(), FallbackScan: m.FallbackScan(),
	}
	if !m.DoneSeen() {
		result.ExitCode = ccberr.TimeoutError.ExitCode()
		a.logEvent("timeout", reqID, binding.SessionKey, result.ExitCode, "")
		a.notify(ctx, req, result)
		return result
	}

	var reply string
	if usingPaneLog {
		reply = ExtractPaneReply(m.Lines(), reqID, a.EmptyLineRunLimit, a.NoiseLineRunLimit)
	} else {
		reply = m.StructuredReply()
	}
	if !req.NoWrap {
		reply = postprocess.Apply(req.Message, reply)
	}
	result.ExitCode = 0
	result.Reply = reply
	a.logEvent("done", reqID, binding.SessionKey, result.ExitCode, "")
	a.notify(ctx, req, result)
	return result
}

func (a *Adapter) fail(ctx context.Context, req worker.Request, reqID, sessionKey string, kind ccberr.Kind, msg string) worker.Result {
	if a.Log != nil {
		a.Log.Error("request failed", "req_id", reqID, "kind", kind.String(), "msg", msg)
	}
	a.logEvent("error", reqID, sessionKey, kind.ExitCode(), msg)
	res := worker.Result{ReqID: reqID, ExitCode: kind.ExitCode(), Reply: msg, SessionKey: sessionKey}
	a.notify(ctx, req, res)
	return res
}

func (a *Adapter) notify(ctx context.Context, req worker.Request, res worker.Result) {
	n := a.Notifier
	if n == nil {
		n = NoopNotifier{}
	}
	n.Notify(ctx, Notification{
		ReqID: res.ReqID, Reply: res.Reply, ExitCode: res.ExitCode,
		EmailTo: req.EmailTo, EmailOnly: req.EmailOnly,
	})
}

// buildReader picks the structured reader for a JSONL transcript path, the
// SQLite-backed reader for an OpenCode binding, or falls back to the
// pane-log reader when the binding has no structured transcript at all.
func (a *Adapter) buildReader(ctx context.Context, binding resolver.Binding) (transcript.Reader, bool, error) {
	if binding.Provider == "opencode" {
		storageRoot := filepath.Dir(binding.TranscriptPath)
		sideFileRoot := filepath.Join(storageRoot, "storage")
		sessionID := binding.OpenCodeSessionID
		if sessionID == "" {
			sessionID = binding.CCBSessionID
		}
		return transcript.NewOpenCodeReader(binding.TranscriptPath, sessionID, sideFileRoot, a.pollInterval()), false, nil
	}

	if strings.HasSuffix(binding.TranscriptPath, ".jsonl") {
		path := binding.TranscriptPath
		findTarget := func(context.Context) (string, error) { return path, nil }
		return transcript.NewStructuredReader(findTarget, a.pollInterval()), false, nil
	}

	path, err := a.Backend.EnsurePaneLog(ctx, binding.PaneID)
	if err != nil || path == "" {
		return nil, false, ccberr.New(ccberr.ConfigError, "no transcript reader available for this session")
	}
	return transcript.NewPaneLogReader(path, a.pollInterval()), true, nil
}
