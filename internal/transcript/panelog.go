package transcript

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

// ansiRe matches SGR/cursor escape sequences so they can be stripped from
// captured terminal output.
var ansiRe = regexp.MustCompile("\x1b\\[[0-9;?]*[a-zA-Z]")

// StripANSI removes ANSI escape sequences and normalizes carriage returns
// to newlines.
func StripANSI(s string) string {
	s = ansiRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// PaneLogReader tails a raw terminal scrollback log (e.g. a tmux pipe-pane
// FIFO capture), stripping ANSI and emitting one Event per physical line.
// Every line is tagged RoleAssistant, since a pane log can't structurally
// distinguish roles; classifying reply content versus UI noise is left to
// the caller driving the BEGIN/DONE state machine over these events.
type PaneLogReader struct {
	path         string
	pollInterval time.Duration
}

func NewPaneLogReader(path string, pollInterval time.Duration) *PaneLogReader {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &PaneLogReader{path: path, pollInterval: pollInterval}
}

func (r *PaneLogReader) CaptureState(ctx context.Context) (Cursor, error) {
	size, err := fileSize(r.path)
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{LogPath: r.path, ByteOffset: size}, nil
}

func (r *PaneLogReader) WaitForEvents(ctx context.Context, cursor Cursor, timeout time.Duration) ([]Event, Cursor, error) {
	deadline := time.Now().Add(timeout)
	if timeout < 0 {
		deadline = time.Time{}
	}
	for {
		events, next, err := r.pollOnce(cursor)
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
		select {
		case <-ctx.Done():
			return nil, cursor, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}

func (r *PaneLogReader) pollOnce(cursor Cursor) ([]Event, Cursor, error) {
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
	if info.Size() < cursor.ByteOffset {
		cursor.ByteOffset = 0
	}
	if info.Size() == cursor.ByteOffset {
		return nil, cursor, nil
	}
	if _, err := f.Seek(cursor.ByteOffset, io.SeekStart); err != nil {
		return nil, cursor, nil
	}

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
			carry = line
			break
		}
		consumed += int64(len(line))
		text := StripANSI(string(bytes.TrimRight(line, "\n")))
		events = append(events, Event{Role: RoleAssistant, Text: text})
		if readErr != nil {
			break
		}
	}

	return events, Cursor{LogPath: cursor.LogPath, ByteOffset: cursor.ByteOffset + consumed, CarryBytes: carry}, nil
}

func (r *PaneLogReader) Rebind(ctx context.Context, fallbackScan bool, fallbackTailBytes int64) (Cursor, error) {
	size, err := fileSize(r.path)
	if err != nil {
		return Cursor{}, err
	}
	if !fallbackScan {
		return Cursor{LogPath: r.path, ByteOffset: size}, nil
	}
	offset := size - fallbackTailBytes
	if offset < 0 {
		offset = 0
	}
	return Cursor{LogPath: r.path, ByteOffset: offset}, nil
}

// Noise-line classification, used by the reply extractor.

var noiseSubstrings = []string{
	"Bootstrapping", "Claude Code", "bypass permissions", "Press Ctrl-C",
}

var boxDrawingRe = regexp.MustCompile(`^[\s┌┬┐├┼┤└┴┘│─═╔╦╗╠╬╣╚╩╝]+$`)
var spinnerGlyphRe = regexp.MustCompile(`^[\s⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏.]+$`)

// IsNoiseLine reports whether line is UI chrome rather than reply content:
// spinner glyphs, known UI prefixes, blocklisted substrings, or pure
// box-drawing rules.
func IsNoiseLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "❯") || strings.HasPrefix(trimmed, "🤖") {
		return true
	}
	if boxDrawingRe.MatchString(trimmed) || spinnerGlyphRe.MatchString(trimmed) {
		return true
	}
	for _, s := range noiseSubstrings {
		if strings.Contains(trimmed, s) {
			return true
		}
	}
	return false
}
