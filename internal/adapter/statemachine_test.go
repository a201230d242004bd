package adapter

import (
	"testing"

	"github.com/ccb-dev/ccb/internal/transcript"
)

// Seed scenario 1: happy path, structured.
func TestMachineHappyPathStructured(t *testing.T) {
	m := NewMachine("r1")
	m.FeedStructuredEvent(transcript.Event{Role: transcript.RoleUser, Text: "CCB_REQ_ID: r1"})
	if !m.AnchorSeen() {
		t.Fatal("expected anchor seen")
	}
	m.FeedStructuredEvent(transcript.Event{Role: transcript.RoleAssistant, Text: "CCB_BEGIN: r1"})
	if m.State() != StateCollecting {
		t.Fatalf("expected COLLECTING, got %s", m.State())
	}
	m.FeedStructuredEvent(transcript.Event{Role: transcript.RoleAssistant, Text: "hello\n"})
	m.FeedStructuredEvent(transcript.Event{Role: transcript.RoleAssistant, Text: "CCB_DONE: r1\n"})

	if !m.DoneSeen() {
		t.Fatal("expected done seen")
	}
	if got := m.StructuredReply(); got != "hello" {
		t.Fatalf("expected reply %q, got %q", "hello", got)
	}
}

// Seed scenario 2: timeout — only the user (anchor) event arrives.
func TestMachineTimeoutStructured(t *testing.T) {
	m := NewMachine("r1")
	m.FeedStructuredEvent(transcript.Event{Role: transcript.RoleUser, Text: "CCB_REQ_ID: r1"})
	if !m.AnchorSeen() {
		t.Fatal("expected anchor seen")
	}
	if m.DoneSeen() {
		t.Fatal("must not be done")
	}
	if got := m.StructuredReply(); got != "" {
		t.Fatalf("expected empty reply on timeout, got %q", got)
	}
}

// Seed scenario 3: prompt echo in pane — an echoed DONE must be skipped.
func TestMachinePromptEchoInPane(t *testing.T) {
	m := NewMachine("r2")
	lines := []string{
		"CCB_REQ_ID: r2",
		"CCB_BEGIN: r2",
		"some prompt body",
		"",
		"IMPORTANT: End your reply with this exact final line and nothing after it:",
		"CCB_DONE: r2", // prompt echo's own DONE — must be consumed, not terminal
		"hello",
		"CCB_DONE: r2", // the real terminator
	}
	for _, l := range lines {
		m.FeedPaneLine(l)
	}
	if !m.DoneSeen() {
		t.Fatalf("expected done, ended in state %s", m.State())
	}
	reply := ExtractPaneReply(lines, "r2", 0, 0)
	if reply != "hello" {
		t.Fatalf("expected reply %q, got %q", "hello", reply)
	}
}

// DONE immediately after BEGIN with no content -> done_seen=true, reply empty.
func TestMachineDoneImmediatelyAfterBegin(t *testing.T) {
	m := NewMachine("r3")
	lines := []string{
		"CCB_REQ_ID: r3",
		"CCB_BEGIN: r3",
		"CCB_DONE: r3",
	}
	for _, l := range lines {
		m.FeedPaneLine(l)
	}
	if !m.DoneSeen() {
		t.Fatalf("expected done_seen=true, ended in state %s", m.State())
	}
	if reply := ExtractPaneReply(lines, "r3", 0, 0); reply != "" {
		t.Fatalf("expected empty reply, got %q", reply)
	}
}

// Reply text containing a DONE-looking line for a *different* id is ignored.
func TestMachineIgnoresDoneForOtherID(t *testing.T) {
	m := NewMachine("r4")
	lines := []string{
		"CCB_REQ_ID: r4",
		"CCB_BEGIN: r4",
		"some content",
		"CCB_DONE: other-id",
		"CCB_DONE: r4",
	}
	for _, l := range lines {
		m.FeedPaneLine(l)
	}
	if !m.DoneSeen() {
		t.Fatal("expected done on the matching id's DONE line")
	}
}
