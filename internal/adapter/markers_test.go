package adapter

import (
	"strings"
	"testing"
)

// extractBody reverses WrapPrompt: given the exact wrapped text, recover
// the original message body. This exercises the round-trip property:
// wrapping then extracting yields the original message body.
func extractBody(wrapped, reqID string) string {
	lines := strings.Split(wrapped, "\n")
	start, end := -1, -1
	for i, l := range lines {
		if start == -1 && matchesReqID(beginLineRe, l, reqID) {
			start = i + 1
			continue
		}
		if start != -1 && strings.HasPrefix(strings.TrimSpace(l), "IMPORTANT:") {
			end = i
			break
		}
	}
	if start == -1 || end == -1 || end < start {
		return ""
	}
	body := strings.Join(lines[start:end], "\n")
	return strings.TrimRight(body, "\n")
}

func TestWrapExtractRoundTrip(t *testing.T) {
	cases := []string{
		"say hi",
		"multi\nline\nmessage",
		"message with trailing punctuation!",
		"",
	}
	for _, m := range cases {
		wrapped := WrapPrompt("r1", m)
		got := extractBody(wrapped, "r1")
		if got != m {
			t.Fatalf("round trip mismatch: wrap(%q) then extract = %q", m, got)
		}
	}
}

func TestMarkerRegexesExactForm(t *testing.T) {
	if !ContainsAnchor("CCB_REQ_ID: r1", "r1") {
		t.Fatal("expected anchor match")
	}
	if ContainsAnchor("CCB_REQ_ID: r2", "r1") {
		t.Fatal("must not match a different id")
	}
	if !ContainsAnchor("   CCB_REQ_ID: r1   ", "r1") {
		t.Fatal("expected anchor match with surrounding whitespace")
	}
	if ContainsAnchor("the text CCB_REQ_ID: r1 is embedded", "r1") {
		t.Fatal("whole-line anchor regex must not match embedded text")
	}
	if !ContainsDone("CCB_DONE: r1", "r1") {
		t.Fatal("expected done match")
	}
}

func TestStripDoneLine(t *testing.T) {
	text := "hello\nCCB_DONE: r1"
	got := StripDoneLine(text, "r1")
	if got != "hello" {
		t.Fatalf("got %q", got)
	}

	// A DONE line for a different id must be left alone.
	text2 := "hello\nCCB_DONE: other"
	if got := StripDoneLine(text2, "r1"); got != text2 {
		t.Fatalf("must not strip DONE line for a different id, got %q", got)
	}
}
