// Package transcript tails provider transcripts — either a structured
// JSONL file written by the assistant CLI, or the terminal's raw pane
// log — and emits a resumable, ordered sequence of role/text events.
package transcript

import (
	"context"
	"time"
)

// Role classifies who emitted a transcript event.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolUse    Role = "tool_use"
	RoleToolResult Role = "tool_result"
)

// Event is one emitted (role, text) pair in file order.
type Event struct {
	Role Role
	Text string
}

// Cursor records a resumable read position: which file, how far into it,
// and any trailing bytes from an incomplete line carried to the next read.
// Re-reading from a Cursor at any later time yields exactly the events not
// yet emitted, provided the bound file hasn't truncated behind the offset.
type Cursor struct {
	LogPath    string
	ByteOffset int64
	CarryBytes []byte
}

// Reader is the shared contract both transcript flavors implement.
type Reader interface {
	// CaptureState records the current file identity and end-of-file offset,
	// used to establish a forward-tailing starting point after a (re)bind.
	CaptureState(ctx context.Context) (Cursor, error)

	// WaitForEvents blocks up to timeout, returning any new events found
	// after cursor and the cursor to resume from next. An incomplete final
	// line is not consumed: the returned offset stays before it (its bytes
	// are noted in CarryBytes), so a later call reads it once complete. A
	// complete line that fails to parse is skipped.
	WaitForEvents(ctx context.Context, cursor Cursor, timeout time.Duration) ([]Event, Cursor, error)

	// Rebind switches the reader to whatever file currently best matches
	// its binding target (log rotation, new session), tailing forward from
	// "now" (its current size) rather than replaying history — except in
	// fallback-scan mode, which tails the last fallbackTailBytes instead.
	Rebind(ctx context.Context, fallbackScan bool, fallbackTailBytes int64) (Cursor, error)
}
