package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/ccb-dev/ccb/internal/descriptor"
	"github.com/ccb-dev/ccb/internal/resolver"
	"github.com/ccb-dev/ccb/internal/worker"
)

var testBeginRe = regexp.MustCompile(`CCB_BEGIN:\s*(\S+)`)

// fakeBackend simulates a terminal pane by appending transcript lines to a
// JSONL file whenever text is sent to it, so the adapter's full resolve ->
// inject -> tail -> extract pipeline can be exercised without a real tmux.
type fakeBackend struct {
	mu             sync.Mutex
	transcriptPath string
	alive          bool
	sent           []string
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) SendText(ctx context.Context, paneID, text string) error {
	b.mu.Lock()
	b.sent = append(b.sent, text)
	b.mu.Unlock()

	appendJSONLine(b.transcriptPath, fmt.Sprintf(`{"type":"user","message":{"role":"user","content":%q}}`, text))

	reqID := ""
	if m := testBeginRe.FindStringSubmatch(text); m != nil {
		reqID = m[1]
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		appendJSONLine(b.transcriptPath, fmt.Sprintf(`{"type":"assistant","message":{"role":"assistant","content":"CCB_BEGIN: %s\n"}}`, reqID))
		appendJSONLine(b.transcriptPath, `{"type":"assistant","message":{"role":"assistant","content":"hello\n"}}`)
		time.Sleep(10 * time.Millisecond)
		appendJSONLine(b.transcriptPath, fmt.Sprintf(`{"type":"assistant","message":{"role":"assistant","content":"CCB_DONE: %s\n"}}`, reqID))
	}()
	return nil
}

func (b *fakeBackend) IsAlive(ctx context.Context, paneID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive, nil
}

func (b *fakeBackend) PaneLogPath(ctx context.Context, paneID string) (string, error) { return "", nil }
func (b *fakeBackend) EnsurePaneLog(ctx context.Context, paneID string) (string, error) {
	return "", nil
}

func appendJSONLine(path, line string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(line + "\n")
}

func TestAdapterHandleHappyPathEndToEnd(t *testing.T) {
	projectRoot := t.TempDir()
	transcriptRoot := t.TempDir()
	transcriptPath := filepath.Join(transcriptRoot, "session.jsonl")

	// Seed with a discoverable cwd so the bounded scan in resolver.Bind finds it.
	appendJSONLine(transcriptPath, fmt.Sprintf(`{"type":"system","cwd":%q}`, projectRoot))

	descPath := descriptor.Path(projectRoot, "claude")
	d := &descriptor.Descriptor{Header: descriptor.Header{
		CCBSessionID: "sess1", TerminalType: "tmux", PaneID: "p1",
		WorkDir: projectRoot, Active: true,
	}}
	if err := descriptor.SafeWrite(descPath, d); err != nil {
		t.Fatal(err)
	}

	backend := &fakeBackend{transcriptPath: transcriptPath, alive: true}
	res := resolver.New(backend, resolver.BindOptions{TranscriptRoot: transcriptRoot})
	defer res.Close()

	adapter := &Adapter{Provider: "claude", Backend: backend, Resolver: res, PollInterval: 5 * time.Millisecond}

	result := adapter.Handle(context.Background(), worker.Request{ID: "r1", WorkDir: projectRoot, Message: "say hi", TimeoutS: 2})

	if result.ExitCode != 0 {
		t.Fatalf("expected exit_code 0, got %d (reply=%q)", result.ExitCode, result.Reply)
	}
	if result.Reply != "hello" {
		t.Fatalf("expected reply %q, got %q", "hello", result.Reply)
	}
	if !result.DoneSeen || !result.AnchorSeen {
		t.Fatalf("expected done_seen and anchor_seen, got %+v", result)
	}
}

func TestAdapterHandleTimeoutWhenPaneNeverReplies(t *testing.T) {
	projectRoot := t.TempDir()
	transcriptRoot := t.TempDir()
	transcriptPath := filepath.Join(transcriptRoot, "session.jsonl")
	appendJSONLine(transcriptPath, fmt.Sprintf(`{"type":"system","cwd":%q}`, projectRoot))

	descPath := descriptor.Path(projectRoot, "claude")
	d := &descriptor.Descriptor{Header: descriptor.Header{
		PaneID: "p1", WorkDir: projectRoot, Active: true,
	}}
	if err := descriptor.SafeWrite(descPath, d); err != nil {
		t.Fatal(err)
	}

	backend := &silentBackend{transcriptPath: transcriptPath, alive: true}
	res := resolver.New(backend, resolver.BindOptions{TranscriptRoot: transcriptRoot})
	defer res.Close()

	adapter := &Adapter{Provider: "claude", Backend: backend, Resolver: res, PollInterval: 5 * time.Millisecond}
	result := adapter.Handle(context.Background(), worker.Request{ID: "r2", WorkDir: projectRoot, Message: "say hi", TimeoutS: 0.2})

	if result.ExitCode != 2 {
		t.Fatalf("expected exit_code 2 on timeout, got %d", result.ExitCode)
	}
	if result.Reply != "" {
		t.Fatalf("expected empty reply on timeout, got %q", result.Reply)
	}
}

// silentBackend records the prompt's own echo (so the anchor is seen) but
// never produces an assistant reply, to exercise the timeout path.
type silentBackend struct {
	transcriptPath string
	alive          bool
}

func (b *silentBackend) Name() string { return "fake" }
func (b *silentBackend) SendText(ctx context.Context, paneID, text string) error {
	appendJSONLine(b.transcriptPath, fmt.Sprintf(`{"type":"user","message":{"role":"user","content":%q}}`, text))
	return nil
}
func (b *silentBackend) IsAlive(ctx context.Context, paneID string) (bool, error) { return b.alive, nil }
func (b *silentBackend) PaneLogPath(ctx context.Context, paneID string) (string, error) {
	return "", nil
}
func (b *silentBackend) EnsurePaneLog(ctx context.Context, paneID string) (string, error) {
	return "", nil
}
