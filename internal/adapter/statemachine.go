// Package adapter implements the request lifecycle: prompt framing, the
// anchor/BEGIN/DONE state machine run over transcript events, reply
// extraction, and the instruction-triggered post-processing reshapers.
//
// The adapter's poll loop feeds the Machine one event or pane line at a
// time, and each Feed call updates the accumulated state in place. There is
// no channel and no grace period: the loop stops on the first DONE the
// Machine accepts.
package adapter

import (
	"strings"
	"time"

	"github.com/ccb-dev/ccb/internal/transcript"
)

// State is a step in the AWAIT_ANCHOR -> ANCHOR_SEEN -> AWAIT_BEGIN ->
// COLLECTING -> DONE machine. AWAIT_BEGIN is folded into ANCHOR_SEEN here:
// it's handled as one state with a "recent_instruction"/prompt-echo gate,
// not a fifth distinct bucket.
type State int

const (
	StateAwaitAnchor State = iota
	StateAnchorSeen
	StateCollecting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitAnchor:
		return "AWAIT_ANCHOR"
	case StateAnchorSeen:
		return "ANCHOR_SEEN"
	case StateCollecting:
		return "COLLECTING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Machine runs the request lifecycle's state transitions over a sequence of
// transcript events (structured reader) or raw pane lines (pane-log
// reader), tracking exactly the fields needed to produce a Result.
type Machine struct {
	ReqID string

	state             State
	recentInstruction bool
	promptEchoDone    bool
	sawBegin          bool
	responseSeen      bool
	fallbackScan      bool

	anchorMs int64
	doneMs   int64
	startedAt time.Time

	// accumulated holds assistant text seen while COLLECTING (structured
	// mode); lines holds raw pane-log lines for backward-walk extraction
	// (pane-log mode). Only one is used per Machine instance.
	accumulated strings.Builder
	lines       []string
}

// NewMachine starts a fresh state machine for one request.
func NewMachine(reqID string) *Machine {
	return &Machine{ReqID: reqID, state: StateAwaitAnchor, startedAt: time.Now()}
}

func (m *Machine) State() State   { return m.state }
func (m *Machine) Lines() []string { return m.lines }
func (m *Machine) FallbackScan() bool { return m.fallbackScan }
func (m *Machine) SetFallbackScan(v bool) { m.fallbackScan = v }
func (m *Machine) AnchorMs() int64 { return m.anchorMs }
func (m *Machine) DoneMs() int64   { return m.doneMs }
func (m *Machine) AnchorSeen() bool { return m.state != StateAwaitAnchor }
func (m *Machine) DoneSeen() bool   { return m.state == StateDone }

func (m *Machine) elapsedMs() int64 { return time.Since(m.startedAt).Milliseconds() }

// FeedStructuredEvent advances the machine on one structured-reader event.
// User events drive the anchor; assistant text accumulates while
// COLLECTING; DONE is detected on the running concatenation via a
// whole-string match, gated on having seen genuine reply content first (see
// responseSeen below) so a DONE line glued directly onto BEGIN with nothing
// in between doesn't terminate the request on empty content.
func (m *Machine) FeedStructuredEvent(ev transcript.Event) {
	switch m.state {
	case StateAwaitAnchor:
		if ev.Role == transcript.RoleUser && ContainsAnchor(ev.Text, m.ReqID) {
			m.anchorMs = m.elapsedMs()
			m.state = StateAnchorSeen
		}
	case StateAnchorSeen:
		if ev.Role != transcript.RoleAssistant {
			return
		}
		if ContainsBegin(ev.Text, m.ReqID) {
			m.state = StateCollecting
		}
	case StateCollecting:
		if ev.Role != transcript.RoleAssistant {
			return
		}
		m.accumulated.WriteString(ev.Text)
		if hasReplyContent(ev.Text) {
			m.responseSeen = true
		}
		if m.responseSeen && ContainsDone(m.accumulated.String(), m.ReqID) {
			m.doneMs = m.elapsedMs()
			m.state = StateDone
		}
	}
}

// StructuredReply returns the extracted reply once StateDone is reached:
// the accumulated assistant text with the trailing CCB_DONE line stripped.
func (m *Machine) StructuredReply() string {
	return strings.TrimRight(StripDoneLine(m.accumulated.String(), m.ReqID), "\n \t")
}

// FeedPaneLine advances the machine on one raw (ANSI-stripped) pane-log
// line. The BEGIN marker is first observed as part of the terminal's own
// echo of the wrapped prompt (the whole prompt, including its BEGIN line,
// is typed or pasted into the pane and so appears in the pane log before
// the assistant produces anything); COLLECTING begins once that echo's own
// DONE line (the literal instruction text, not a real reply) has been
// consumed and a BEGIN was already observed.
//
// A DONE seen in ANCHOR_SEEN with no preceding echoed instruction text is
// treated as a genuine terminator even with zero content collected — the
// one narrow case where immediate termination on empty content is correct,
// because the pane never entered COLLECTING at all and so never had a
// chance to accumulate anything. Once COLLECTING is reached, responseSeen
// keeps that immediate-termination behavior from applying generally: DONE
// only closes the request once at least one line of genuine reply content
// has been observed, so a raced DONE arriving before any real content has
// a chance to appear doesn't truncate the reply to nothing.
func (m *Machine) FeedPaneLine(line string) {
	m.lines = append(m.lines, line)

	switch m.state {
	case StateAwaitAnchor:
		if ContainsAnchor(line, m.ReqID) {
			m.anchorMs = m.elapsedMs()
			m.state = StateAnchorSeen
		}

	case StateAnchorSeen:
		trimmed := strings.TrimSpace(line)
		if strings.Contains(trimmed, "IMPORTANT:") {
			m.recentInstruction = true
			return
		}
		if ContainsBegin(line, m.ReqID) {
			m.sawBegin = true
			return
		}
		if ContainsDone(line, m.ReqID) {
			if m.recentInstruction {
				// DONE immediately following the echoed IMPORTANT
				// instruction text is the prompt's own echo, not a real
				// reply terminator.
				m.promptEchoDone = true
				m.recentInstruction = false
				if m.sawBegin {
					m.state = StateCollecting
				}
				return
			}
			// A DONE with no preceding echoed instruction text is a
			// genuine terminator, even with no content collected yet.
			if m.sawBegin {
				m.doneMs = m.elapsedMs()
				m.state = StateDone
			}
			return
		}

	case StateCollecting:
		if hasReplyContent(line) {
			m.responseSeen = true
		}
		if m.responseSeen && ContainsDone(line, m.ReqID) {
			m.doneMs = m.elapsedMs()
			m.state = StateDone
		}
	}
}

// hasReplyContent reports whether line looks like genuine reply content:
// contains an alphanumeric character, is not a protocol marker line, and
// is not classified as UI noise.
func hasReplyContent(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if beginLineRe.MatchString(line) || doneLineRe.MatchString(line) || reqIDLineRe.MatchString(line) {
		return false
	}
	if transcript.IsNoiseLine(line) {
		return false
	}
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}
