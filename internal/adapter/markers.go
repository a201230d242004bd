package adapter

import (
	"fmt"
	"regexp"
	"strings"
)

// Marker regexes match the protocol's exact anchor forms as whole lines;
// (?m) lets them find such a line inside a multi-line string.
var (
	reqIDLineRe = regexp.MustCompile(`(?m)^\s*CCB_REQ_ID:\s*(\S+)\s*$`)
	beginLineRe = regexp.MustCompile(`(?m)^\s*CCB_BEGIN:\s*(\S+)\s*$`)
	doneLineRe  = regexp.MustCompile(`(?m)^\s*CCB_DONE:\s*(\S+)\s*$`)
)

// WrapPrompt frames message with the protocol anchors unless the caller set
// no_wrap.
func WrapPrompt(reqID, message string) string {
	return fmt.Sprintf(
		"CCB_REQ_ID: %s\nCCB_BEGIN: %s\n%s\n\nIMPORTANT: End your reply with this exact final line and nothing after it:\nCCB_DONE: %s\n",
		reqID, reqID, message, reqID,
	)
}

// matchesReqID returns true if re matches text with the captured id equal
// to reqID.
func matchesReqID(re *regexp.Regexp, text, reqID string) bool {
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if len(m) > 1 && m[1] == reqID {
			return true
		}
	}
	return false
}

// ContainsAnchor reports whether text contains a CCB_REQ_ID line for reqID.
func ContainsAnchor(text, reqID string) bool { return matchesReqID(reqIDLineRe, text, reqID) }

// ContainsBegin reports whether text contains a CCB_BEGIN line for reqID.
func ContainsBegin(text, reqID string) bool { return matchesReqID(beginLineRe, text, reqID) }

// ContainsDone reports whether text contains a CCB_DONE line for reqID.
func ContainsDone(text, reqID string) bool { return matchesReqID(doneLineRe, text, reqID) }

// StripDoneLine removes the trailing "CCB_DONE: <id>" line (and any
// whitespace after it) from text, for the structured reply extractor.
func StripDoneLine(text, reqID string) string {
	loc := doneLineFinalLoc(text, reqID)
	if loc == nil {
		return text
	}
	return strings.TrimSuffix(text[:loc[0]], "\n")
}

func doneLineFinalLoc(text, reqID string) []int {
	var last []int
	for _, loc := range doneLineRe.FindAllStringSubmatchIndex(text, -1) {
		id := text[loc[2]:loc[3]]
		if id == reqID {
			last = loc
		}
	}
	return last
}
