// Package resolver implements the Session Resolver: locating a project's
// session descriptor, validating pane liveness, and binding to the
// provider's current transcript file.
package resolver

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ccb-dev/ccb/internal/ccberr"
	"github.com/ccb-dev/ccb/internal/descriptor"
)

var uuidRe = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// ExtractUUID pulls the first UUID-shaped substring out of a start command
// like "claude resume <uuid>" or "codex resume <uuid>".
func ExtractUUID(startCmd string) (string, bool) {
	m := uuidRe.FindString(startCmd)
	return m, m != ""
}

// indexEntry is one row of a provider-written sessions-index.json, kept
// permissive since provider formats vary field-by-field.
type indexEntry struct {
	SessionID   string `json:"session_id"`
	Path        string `json:"path"`
	ProjectPath string `json:"project_path"`
	Cwd         string `json:"cwd"`
	IsSidechain bool   `json:"isSidechain"`
	ModifiedAt  string `json:"modified_at"`
}

// BindOptions carries the tunables §4.3/§6 make environment-configurable.
type BindOptions struct {
	TranscriptRoot string // provider's transcript tree root, e.g. CLAUDE_PROJECTS_ROOT
	ProjectPath    string // normalized project root to match cwd/projectPath against
	ScanLimit      int    // bounded most-recently-modified scan size, default 400
	FirstWindow    int    // JSONL lines read per candidate when scanning, default 30
}

// Bind resolves the transcript path for a descriptor. OpenCode keeps a
// single SQLite database per storage root rather than one JSONL file per
// session, so its transcript path is just that database — no scanning is
// needed to find it. Every other provider is found in priority order:
// (a) a UUID extracted from start_cmd, (b) the provider's
// sessions-index.json, (c) a bounded most-recently-modified scan.
func Bind(ctx context.Context, d *descriptor.Descriptor, opts BindOptions, provider string) (string, error) {
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = 400
	}
	if opts.FirstWindow <= 0 {
		opts.FirstWindow = 30
	}

	if provider == "opencode" {
		if opts.TranscriptRoot == "" {
			return "", ccberr.New(ccberr.ConfigError, "no opencode storage root configured")
		}
		return filepath.Join(opts.TranscriptRoot, "opencode.db"), nil
	}

	if uuid, ok := ExtractUUID(d.StartCmd); ok {
		if path, ok := findByUUID(opts.TranscriptRoot, uuid); ok {
			return path, nil
		}
	}

	if path, ok := findViaIndex(opts.TranscriptRoot, opts.ProjectPath); ok {
		return path, nil
	}

	if path, ok := findViaScan(ctx, opts.TranscriptRoot, opts.ProjectPath, opts.ScanLimit, opts.FirstWindow); ok {
		return path, nil
	}

	return "", ccberr.New(ccberr.BindingError, "no transcript could be found within the deadline")
}

// findByUUID looks for "**/<uuid>.jsonl" first, then "**/*<uuid>*.jsonl".
func findByUUID(root, uuid string) (string, bool) {
	if root == "" {
		return "", false
	}
	var exact, loose string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			return nil
		}
		if name == uuid+".jsonl" {
			exact = path
			return fs.SkipAll
		}
		if strings.Contains(name, uuid) {
			loose = path
		}
		return nil
	})
	if exact != "" {
		return exact, true
	}
	if loose != "" {
		return loose, true
	}
	return "", false
}

// findViaIndex consults the provider's sessions-index.json: entries are
// filtered to ones whose cwd/project_path lies within projectPath and that
// are not sidechains, then the most recently modified wins.
func findViaIndex(root, projectPath string) (string, bool) {
	if root == "" {
		return "", false
	}
	indexPath := filepath.Join(root, "sessions-index.json")
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return "", false
	}
	var entries []indexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return "", false
	}

	var best indexEntry
	var bestTime time.Time
	found := false
	for _, e := range entries {
		if e.IsSidechain {
			continue
		}
		cwd := e.Cwd
		if cwd == "" {
			cwd = e.ProjectPath
		}
		if cwd == "" || projectPath == "" || !PathWithin(cwd, projectPath) {
			continue
		}
		t, err := time.Parse(time.RFC3339, e.ModifiedAt)
		if err != nil {
			t = time.Time{}
		}
		if !found || t.After(bestTime) {
			best = e
			bestTime = t
			found = true
		}
	}
	if !found || best.Path == "" {
		return "", false
	}
	return best.Path, true
}

type scanCandidate struct {
	path    string
	modTime time.Time
}

// findViaScan performs the bounded most-recently-modified scan: the newest
// scanLimit JSONL files under root, reading only their first firstWindow
// lines looking for cwd/projectPath, skipping isSidechain entries, and
// picking the newest whose cwd lies within projectPath.
func findViaScan(ctx context.Context, root, projectPath string, scanLimit, firstWindow int) (string, bool) {
	if root == "" {
		return "", false
	}
	var candidates []scanCandidate
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		candidates = append(candidates, scanCandidate{path: path, modTime: info.ModTime()})
		return nil
	})
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.After(candidates[j].modTime) })
	if len(candidates) > scanLimit {
		candidates = candidates[:scanLimit]
	}

	for _, c := range candidates {
		select {
		case <-ctx.Done():
			return "", false
		default:
		}
		cwd, sidechain, ok := readFirstWindowCwd(c.path, firstWindow)
		if !ok || sidechain {
			continue
		}
		if projectPath == "" || PathWithin(cwd, projectPath) {
			return c.path, true
		}
	}
	return "", false
}

func readFirstWindowCwd(path string, firstWindow int) (cwd string, sidechain bool, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	count := 0
	var rec struct {
		Cwd         string `json:"cwd"`
		ProjectPath string `json:"projectPath"`
		IsSidechain bool   `json:"isSidechain"`
	}
	for scanner.Scan() && count < firstWindow {
		count++
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.IsSidechain {
			sidechain = true
		}
		c := rec.Cwd
		if c == "" {
			c = rec.ProjectPath
		}
		if c != "" {
			cwd = c
			ok = true
		}
	}
	return cwd, sidechain, ok
}
