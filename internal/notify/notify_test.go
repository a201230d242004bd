package notify

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ccb-dev/ccb/internal/adapter"
)

func TestLoadMissingFileReturnsNil(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config for missing file, got %+v", cfg)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notify.yaml")
	if err := os.WriteFile(path, []byte("mode: file\npath: /tmp/out.jsonl\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil || cfg.Mode != "file" || cfg.Path != "/tmp/out.jsonl" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestBuildFallsBackToLoggingNotifier(t *testing.T) {
	n := Build(nil, nil)
	if _, ok := n.(adapter.LoggingNotifier); !ok {
		t.Fatalf("expected LoggingNotifier fallback, got %T", n)
	}

	n = Build(&Config{Mode: "unknown"}, nil)
	if _, ok := n.(adapter.LoggingNotifier); !ok {
		t.Fatalf("expected LoggingNotifier fallback for unknown mode, got %T", n)
	}
}

func TestFileNotifierAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "completions.jsonl")
	n := FileNotifier{Path: path}

	n.Notify(context.Background(), adapter.Notification{ReqID: "r1", Reply: "hi", ExitCode: 0})
	n.Notify(context.Background(), adapter.Notification{ReqID: "r2", Reply: "bye", ExitCode: 2})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read notify file: %v", err)
	}
	lines := splitLines(data)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
	var first notifyLine
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first.ReqID != "r1" || first.Reply != "hi" {
		t.Fatalf("unexpected first line: %+v", first)
	}
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				out = append(out, data[start:i])
			}
			start = i + 1
		}
	}
	return out
}
