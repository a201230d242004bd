package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ccb-dev/ccb/internal/descriptor"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/mnt/c/Users/dev/project": "C:/Users/dev/project",
		"/c/Users/dev/project":     "C:/Users/dev/project",
		"/home/dev/project/":       "/home/dev/project",
		"/home/dev/./project/..":   "/home/dev",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Fatalf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPathWithin(t *testing.T) {
	if !PathWithin("/home/dev/project/sub", "/home/dev/project") {
		t.Fatal("expected sub directory to be within root")
	}
	if PathWithin("/home/dev/projectother", "/home/dev/project") {
		t.Fatal("must not treat a sibling with a shared prefix as within root")
	}
}

func TestExtractUUID(t *testing.T) {
	uuid, ok := ExtractUUID("claude resume 5b9a2e2e-6f8a-4e2e-9a2e-6f8a4e2e9a2e")
	if !ok || uuid != "5b9a2e2e-6f8a-4e2e-9a2e-6f8a4e2e9a2e" {
		t.Fatalf("got %q, %v", uuid, ok)
	}
	if _, ok := ExtractUUID("claude resume"); ok {
		t.Fatal("expected no UUID found")
	}
}

func TestFindByUUIDPrefersExactMatch(t *testing.T) {
	root := t.TempDir()
	uuid := "5b9a2e2e-6f8a-4e2e-9a2e-6f8a4e2e9a2e"
	writeFile(t, filepath.Join(root, "other-"+uuid+"-suffix.jsonl"), "{}")
	exact := filepath.Join(root, uuid+".jsonl")
	writeFile(t, exact, "{}")

	path, ok := findByUUID(root, uuid)
	if !ok || path != exact {
		t.Fatalf("got %q, %v; want %q", path, ok, exact)
	}
}

func TestBindViaScanSkipsSidechainAndOutOfProject(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jsonl"), `{"cwd":"/home/dev/other","isSidechain":false}`+"\n")
	writeFile(t, filepath.Join(root, "b.jsonl"), `{"cwd":"/home/dev/project","isSidechain":true}`+"\n")
	match := filepath.Join(root, "c.jsonl")
	writeFile(t, match, `{"cwd":"/home/dev/project","isSidechain":false}`+"\n")

	path, ok := findViaScan(context.Background(), root, "/home/dev/project", 400, 30)
	if !ok || path != match {
		t.Fatalf("got %q, %v; want %q", path, ok, match)
	}
}

func TestBindPrefersUUIDOverScan(t *testing.T) {
	root := t.TempDir()
	uuid := "5b9a2e2e-6f8a-4e2e-9a2e-6f8a4e2e9a2e"
	wanted := filepath.Join(root, uuid+".jsonl")
	writeFile(t, wanted, `{"cwd":"/home/dev/project"}`+"\n")
	writeFile(t, filepath.Join(root, "decoy.jsonl"), `{"cwd":"/home/dev/project"}`+"\n")

	d := &descriptor.Descriptor{Header: descriptor.Header{StartCmd: "claude resume " + uuid, WorkDir: "/home/dev/project"}}
	path, err := Bind(context.Background(), d, BindOptions{TranscriptRoot: root, ProjectPath: "/home/dev/project"}, "claude")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != wanted {
		t.Fatalf("got %q, want %q", path, wanted)
	}
}

func TestBindReturnsBindingErrorWhenNothingMatches(t *testing.T) {
	root := t.TempDir()
	d := &descriptor.Descriptor{Header: descriptor.Header{WorkDir: "/nowhere"}}
	_, err := Bind(context.Background(), d, BindOptions{TranscriptRoot: root, ProjectPath: "/nowhere"}, "claude")
	if err == nil {
		t.Fatal("expected a BindingError")
	}
}

func TestBindOpenCodeReturnsStorageRootDatabaseWithoutScanning(t *testing.T) {
	root := t.TempDir()
	d := &descriptor.Descriptor{Header: descriptor.Header{WorkDir: "/home/dev/project"}}
	path, err := Bind(context.Background(), d, BindOptions{TranscriptRoot: root}, "opencode")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(root, "opencode.db")
	if path != want {
		t.Fatalf("got %q, want %q", path, want)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}
