package postprocess

import "testing"

// Seed scenario 4: box-drawing table shaping.
func TestBoxDrawingToMarkdownTable(t *testing.T) {
	box := "┌──────┬───────┐\n" +
		"│ Name │ Value │\n" +
		"├──────┼───────┤\n" +
		"│ foo  │ 1     │\n" +
		"│ bar  │ 2     │\n" +
		"└──────┴───────┘"

	out := BoxDrawingToMarkdownTable(box)
	want := "| Name | Value |\n| --- | --- |\n| foo | 1 |\n| bar | 2 |"
	if out != want {
		t.Fatalf("got:\n%s\nwant:\n%s", out, want)
	}
}

// Box-drawing-to-markdown conversion is idempotent: applying it to its own
// output yields the same output.
func TestBoxDrawingToMarkdownTableIdempotent(t *testing.T) {
	box := "┌──────┬───────┐\n" +
		"│ Name │ Value │\n" +
		"├──────┼───────┤\n" +
		"│ foo  │ 1     │\n" +
		"└──────┴───────┘"

	once := BoxDrawingToMarkdownTable(box)
	twice := BoxDrawingToMarkdownTable(once)
	if once != twice {
		t.Fatalf("not idempotent:\nonce:\n%s\ntwice:\n%s", once, twice)
	}
}

func TestApplyMarkdownTableHint(t *testing.T) {
	box := "┌──────┬───────┐\n│ Name │ Value │\n├──────┼───────┤\n│ foo  │ 1     │\n└──────┴───────┘"
	out := Apply("render this as a markdown table", box)
	want := BoxDrawingToMarkdownTable(box)
	if out != want {
		t.Fatalf("got:\n%s\nwant:\n%s", out, want)
	}
}

func TestApplyNoHintIsIdentity(t *testing.T) {
	reply := "just a plain reply with no shaping hints"
	if got := Apply("say hi", reply); got != reply {
		t.Fatalf("expected identity, got %q", got)
	}
}

// Seed scenario 5: release-notes restructuring.
func TestBuildReleaseNotes(t *testing.T) {
	reply := "Summary: This release adds a new login flow and fixes several bugs found in production last week across many teams.\n" +
		"- Added OAuth login\n" +
		"- Fixed crash on startup\n" +
		"- Improved logging\n" +
		"Item: Login flow\nRisk: Medium\nAction: Monitor auth error rate\n"

	out, ok := buildReleaseNotes(reply)
	if !ok {
		t.Fatal("expected release notes restructuring to apply")
	}
	if !contains(out, "### Release Notes") {
		t.Fatalf("missing heading: %q", out)
	}
	if !contains(out, "Summary:") {
		t.Fatalf("missing summary: %q", out)
	}
	if !contains(out, "| Item | Risk | Action |") {
		t.Fatalf("missing table header: %q", out)
	}
	if !contains(out, "| Login flow | Medium | Monitor auth error rate |") {
		t.Fatalf("missing table row: %q", out)
	}
}

func TestApplyReleaseNotesHint(t *testing.T) {
	reply := "Summary: Adds login.\nItem: Login\nRisk: Low\nAction: Watch logs\n"
	out := Apply("give me release notes with a summary, item, risk and action table", reply)
	if !contains(out, "### Release Notes") {
		t.Fatalf("expected release notes shaping, got %q", out)
	}
}

func TestPromoteSectionHeaders(t *testing.T) {
	reply := "A\n- one\n- two\n- three\nB\n- four\n- five\n"
	out, ok := promoteSectionHeaders(reply)
	if !ok {
		t.Fatal("expected promotion to apply")
	}
	if !contains(out, "## A") || !contains(out, "## B") {
		t.Fatalf("missing promoted headers: %q", out)
	}
	if contains(out, "three") {
		t.Fatalf("expected only first two bullets kept under A: %q", out)
	}
}

func TestNormalizeNumberedSections(t *testing.T) {
	reply := "### section 1: intro\nThis explains the background. It also covers motivation.\n" +
		"### Section: details\nOne line only here with two ideas. Second idea stated here.\n"
	out, ok := normalizeNumberedSections(reply)
	if !ok {
		t.Fatal("expected normalization to apply")
	}
	if !contains(out, "### Section 1") || !contains(out, "### Section 2") {
		t.Fatalf("expected sequential numbering, got %q", out)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
