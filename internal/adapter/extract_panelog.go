package adapter

import (
	"strings"

	"github.com/ccb-dev/ccb/internal/transcript"
)

// Default tolerances for ExtractPaneReply's backward walk, overridable by
// callers that want a stricter or looser tolerance for a noisy terminal.
const (
	DefaultEmptyLineRunLimit = 5
	DefaultNoiseLineRunLimit = 3
)

// ExtractPaneReply walks pane-log lines backward from the last DONE line for
// reqID and returns the text between it and the BEGIN marker. The walk stops
// at an earlier DONE or CCB_REQ_ID for this id, at BEGIN, at an IMPORTANT:
// line, or once more than emptyLineRunLimit consecutive blank lines or more
// than noiseLineRunLimit consecutive UI-chrome lines are seen; a value <= 0
// for either limit uses the package default. An earlier DONE that closes
// the echoed prompt (BEGIN, then IMPORTANT:, then that DONE) counts as the
// start of the reply. Markers are matched per line: an entry holding a
// marker together with other text (e.g. joined by a carriage return) is
// treated as the marker's line, and its other text is not collected. If no
// BEGIN is reached, the result is empty.
func ExtractPaneReply(lines []string, reqID string, emptyLineRunLimit, noiseLineRunLimit int) string {
	if emptyLineRunLimit <= 0 {
		emptyLineRunLimit = DefaultEmptyLineRunLimit
	}
	if noiseLineRunLimit <= 0 {
		noiseLineRunLimit = DefaultNoiseLineRunLimit
	}

	doneIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if ContainsDone(lines[i], reqID) {
			doneIdx = i
			break
		}
	}
	if doneIdx == -1 {
		return ""
	}

	var collected []string
	emptyRun, noiseRun := 0, 0
	sawBegin := false

	for i := doneIdx - 1; i >= 0; i-- {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if ContainsDone(line, reqID) {
			// An earlier DONE for this id. If it closes the echoed prompt
			// (BEGIN, then IMPORTANT:, then this DONE), the reply starts after it.
			sawInstruction := false
			for j := i - 1; j >= 0; j-- {
				if strings.Contains(lines[j], "IMPORTANT:") {
					sawInstruction = true
				} else if ContainsBegin(lines[j], reqID) {
					sawBegin = sawInstruction
					break
				} else if ContainsDone(lines[j], reqID) || ContainsAnchor(lines[j], reqID) {
					break
				}
			}
			break
		}
		if ContainsAnchor(line, reqID) {
			break // an earlier CCB_REQ_ID for this id
		}
		if ContainsBegin(line, reqID) {
			sawBegin = true
			break // BEGIN marks the start of the reply
		}
		if strings.Contains(trimmed, "IMPORTANT:") {
			break
		}

		if trimmed == "" {
			emptyRun++
			noiseRun = 0
			if emptyRun > emptyLineRunLimit {
				break
			}
			collected = append(collected, line)
			continue
		}
		emptyRun = 0

		if transcript.IsNoiseLine(line) {
			noiseRun++
			if noiseRun > noiseLineRunLimit {
				break
			}
			continue
		}
		noiseRun = 0

		collected = append(collected, stripLeadingBullet(line))
	}

	if !sawBegin {
		return ""
	}

	// collected was built walking backward; reverse to restore file order.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return strings.TrimSpace(strings.Join(collected, "\n"))
}

func stripLeadingBullet(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	indent := line[:len(line)-len(trimmed)]
	trimmed = strings.TrimPrefix(trimmed, "●")
	trimmed = strings.TrimPrefix(trimmed, "•")
	trimmed = strings.TrimPrefix(trimmed, " ")
	return indent + trimmed
}
