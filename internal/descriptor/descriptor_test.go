package descriptor

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
)

func TestSafeWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".claude-session")

	d := &Descriptor{Header: Header{
		CCBSessionID: "sess-1",
		TerminalType: "tmux",
		PaneID:       "%3",
		WorkDir:      dir,
		Active:       true,
	}}
	d.SetStringExtra("claude_session_path", "/tmp/x.jsonl")

	if err := SafeWrite(path, d); err != nil {
		t.Fatalf("SafeWrite: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.CCBSessionID != "sess-1" || got.PaneID != "%3" {
		t.Fatalf("round-trip mismatch: %+v", got.Header)
	}
	if got.StringExtra("claude_session_path") != "/tmp/x.jsonl" {
		t.Fatalf("extra field lost: %+v", got.Extra)
	}
}

func TestUnmarshalPreservesUnknownKeys(t *testing.T) {
	raw := []byte(`{
		"ccb_session_id": "sess-2",
		"terminal_type": "tmux",
		"pane_id": "%1",
		"work_dir": "/proj",
		"active": true,
		"updated_at": 100,
		"codex_session_path": "/x/y.jsonl",
		"future_field_from_launcher": 42
	}`)
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(&d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var roundTripped map[string]json.RawMessage
	if err := json.Unmarshal(out, &roundTripped); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	if _, ok := roundTripped["future_field_from_launcher"]; !ok {
		t.Fatalf("unknown key dropped on round trip: %s", out)
	}
	if _, ok := roundTripped["codex_session_path"]; !ok {
		t.Fatalf("provider-specific key dropped: %s", out)
	}
}

func TestSessionKeyPriority(t *testing.T) {
	cases := []struct {
		name string
		d    Descriptor
		want string
	}{
		{"marker wins", Descriptor{Header: Header{PaneTitleMarker: "m", PaneID: "%1", CCBSessionID: "s"}}, "m"},
		{"pane id fallback", Descriptor{Header: Header{PaneID: "%1", CCBSessionID: "s"}}, "%1"},
		{"session id fallback", Descriptor{Header: Header{CCBSessionID: "s"}}, "s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.d.SessionKey(); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestSafeWriteRepeatedWritesLeaveCompleteContents(t *testing.T) {
	// Models the "R observes pre-W or post-W, never a prefix" invariant by
	// writing twice in sequence (SafeWrite has no internal concurrency
	// primitive of its own to race against — atomicity comes from rename).
	dir := t.TempDir()
	path := filepath.Join(dir, ".claude-session")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		d := &Descriptor{Header: Header{CCBSessionID: "sess", PaneID: "%1", WorkDir: dir, Active: true}}
		if err := SafeWrite(path, d); err != nil {
			t.Fatalf("SafeWrite: %v", err)
		}
	}
	wg.Wait()

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load after writes: %v", err)
	}
	if got.CCBSessionID != "sess" {
		t.Fatalf("corrupted read: %+v", got.Header)
	}
}
