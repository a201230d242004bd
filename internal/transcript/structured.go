package transcript

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// BindTargetFunc resolves the path to the currently-correct transcript file
// for a session (e.g. via the UUID/index/scan priority order of the Session
// Resolver). It is supplied by the caller so this package stays independent
// of resolver internals.
type BindTargetFunc func(ctx context.Context) (string, error)

// StructuredReader tails an append-only JSONL file written by a provider
// CLI (Claude, Codex), adapting the familiar one-shot bufio.Scanner-over-JSONL
// idiom into a resumable, cursor-driven tail.
type StructuredReader struct {
	findBindTarget BindTargetFunc
	pollInterval   time.Duration
	boundPath      string

	// watcher is a best-effort fsnotify wakeup: when it fires, WaitForEvents
	// polls immediately instead of sleeping out the rest of pollInterval.
	// A nil watcher (fsnotify unavailable on this platform, or Add failed)
	// just leaves the reader on its plain poll-interval cadence.
	watcher    *fsnotify.Watcher
	watchedDir string
}

// NewStructuredReader builds a reader that resolves its bind target lazily
// via findBindTarget, polling on the given interval (environment-tunable,
// default 50ms).
func NewStructuredReader(findBindTarget BindTargetFunc, pollInterval time.Duration) *StructuredReader {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &StructuredReader{findBindTarget: findBindTarget, pollInterval: pollInterval}
}

func (r *StructuredReader) CaptureState(ctx context.Context) (Cursor, error) {
	path, err := r.findBindTarget(ctx)
	if err != nil {
		return Cursor{}, err
	}
	r.boundPath = path
	size, err := fileSize(path)
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{LogPath: path, ByteOffset: size}, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

func (r *StructuredReader) WaitForEvents(ctx context.Context, cursor Cursor, timeout time.Duration) ([]Event, Cursor, error) {
	deadline := time.Now().Add(timeout)
	if timeout < 0 {
		deadline = time.Time{} // zero value: no deadline, wait indefinitely
	}
	for {
		events, next, err := r.pollOnce(ctx, cursor)
		if err != nil {
			return nil, cursor, err
		}
		if len(events) > 0 {
			return events, next, nil
		}
		cursor = next
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, cursor, nil
		}
		r.ensureWatch(cursor.LogPath)
		select {
		case <-ctx.Done():
			return nil, cursor, ctx.Err()
		case <-time.After(r.pollInterval):
		case <-r.watchEvents():
		}
	}
}

// ensureWatch starts (or migrates) a directory watch for path's parent, so a
// write to the bound file wakes WaitForEvents without waiting for the next
// poll tick. Best-effort: any fsnotify failure just leaves watcher nil and
// the reader falls back to plain polling.
func (r *StructuredReader) ensureWatch(path string) {
	if path == "" {
		return
	}
	dir := filepath.Dir(path)
	if r.watcher != nil && r.watchedDir == dir {
		return
	}
	if r.watcher != nil {
		r.watcher.Close()
		r.watcher = nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return
	}
	r.watcher = w
	r.watchedDir = dir
}

// watchEvents returns the underlying fsnotify event channel, or nil (which
// blocks forever in a select) when no watcher is active.
func (r *StructuredReader) watchEvents() <-chan fsnotify.Event {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Events
}

// Close releases the reader's directory watch, if one was started.
func (r *StructuredReader) Close() error {
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	r.watcher = nil
	return err
}

// pollOnce performs exactly one stateless open+seek+read+close cycle,
// avoiding a long-lived file handle so log rotation is tolerated.
func (r *StructuredReader) pollOnce(ctx context.Context, cursor Cursor) ([]Event, Cursor, error) {
	// Auto-rebind: if the resolver's current bind target differs from the
	// cursor's bound file, switch and tail forward from "now" rather than
	// replaying the new file's history.
	target, err := r.findBindTarget(ctx)
	if err != nil {
		return nil, cursor, nil // TransientIOError policy: retry next tick, never bubble
	}
	if target != "" && target != cursor.LogPath {
		size, err := fileSize(target)
		if err != nil {
			return nil, cursor, nil
		}
		r.boundPath = target
		return nil, Cursor{LogPath: target, ByteOffset: size}, nil
	}

	if cursor.LogPath == "" {
		return nil, cursor, nil
	}

	f, err := os.Open(cursor.LogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cursor, nil
		}
		return nil, cursor, nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, cursor, nil
	}
	size := info.Size()
	if size < cursor.ByteOffset {
		// Bound file truncated behind the offset: reset and tail from start.
		cursor.ByteOffset = 0
		cursor.CarryBytes = nil
	}
	if size == cursor.ByteOffset {
		return nil, cursor, nil
	}

	if _, err := f.Seek(cursor.ByteOffset, io.SeekStart); err != nil {
		return nil, cursor, nil
	}

	// Re-seeking from cursor.ByteOffset on every poll means any previously
	// incomplete trailing line is naturally re-read from disk here — the
	// offset is only ever advanced past a line once it ends in '\n', so
	// there is nothing to prepend from the prior CarryBytes.
	reader := bufio.NewReaderSize(f, 64*1024)
	var events []Event
	var consumed int64
	var carry []byte

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) == 0 && readErr != nil {
			break
		}
		if !bytes.HasSuffix(line, []byte("\n")) {
			// Incomplete final line: note it, don't advance past it.
			carry = line
			break
		}
		consumed += int64(len(line))
		if ev, ok := parseStructuredLine(bytes.TrimRight(line, "\n")); ok {
			events = append(events, ev)
		}
		if readErr != nil {
			break
		}
	}

	next := Cursor{
		LogPath:    cursor.LogPath,
		ByteOffset: cursor.ByteOffset + consumed,
		CarryBytes: carry,
	}
	return events, next, nil
}

func (r *StructuredReader) Rebind(ctx context.Context, fallbackScan bool, fallbackTailBytes int64) (Cursor, error) {
	path, err := r.findBindTarget(ctx)
	if err != nil {
		return Cursor{}, err
	}
	r.boundPath = path
	if !fallbackScan {
		size, err := fileSize(path)
		if err != nil {
			return Cursor{}, err
		}
		return Cursor{LogPath: path, ByteOffset: size}, nil
	}
	size, err := fileSize(path)
	if err != nil {
		return Cursor{}, err
	}
	offset := size - fallbackTailBytes
	if offset < 0 {
		offset = 0
	}
	return Cursor{LogPath: path, ByteOffset: offset}, nil
}

// transcriptLine is the generic shape of a Claude/Codex JSONL transcript
// record: a type discriminator plus a nested message whose content is
// either a plain string or an array of typed content blocks.
type transcriptLine struct {
	Type        string          `json:"type"`
	IsSidechain bool            `json:"isSidechain"`
	Message     *transcriptMsg  `json:"message"`
	Content     json.RawMessage `json:"content"`
}

type transcriptMsg struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Content string `json:"content"`
}

func parseStructuredLine(line []byte) (Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, false
	}
	var rec transcriptLine
	if err := json.Unmarshal(line, &rec); err != nil {
		return Event{}, false
	}
	if rec.IsSidechain {
		return Event{}, false
	}

	role := rec.Type
	var rawContent json.RawMessage
	if rec.Message != nil {
		if rec.Message.Role != "" {
			role = rec.Message.Role
		}
		rawContent = rec.Message.Content
	} else if len(rec.Content) > 0 {
		rawContent = rec.Content
	}

	text := extractText(rawContent)
	switch role {
	case "user":
		return Event{Role: RoleUser, Text: text}, true
	case "assistant":
		return Event{Role: RoleAssistant, Text: text}, true
	case "tool_use", "tool_call":
		return Event{Role: RoleToolUse, Text: text}, true
	case "tool_result":
		return Event{Role: RoleToolResult, Text: text}, true
	default:
		return Event{}, false
	}
}

func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		buf := bytes.Buffer{}
		for _, b := range blocks {
			switch b.Type {
			case "text":
				buf.WriteString(b.Text)
			case "tool_result":
				buf.WriteString(b.Content)
			}
		}
		return buf.String()
	}
	return ""
}
