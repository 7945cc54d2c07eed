// Package output renders parsed model responses as provider-ready markdown.
// All formatters emit GitHub Flavored Markdown, which both supported
// platforms accept.
package output

import (
	"fmt"
	"strings"
)

// markerPrefix opens every tool marker. StripGeneratedContent cuts at the
// first occurrence, whichever tool wrote it.
const markerPrefix = "<!-- patchpilot:"

// Marker returns the hidden HTML comment identifying a comment as generated
// by the named tool. Persistent-comment updates locate the old comment by
// this marker.
func Marker(tool string) string {
	return markerPrefix + tool + " -->"
}

// CollapsibleSection wraps body in a <details> block with the given summary.
func CollapsibleSection(summary, body string) string {
	return fmt.Sprintf("<details><summary>%s</summary>\n\n%s\n\n</details>\n", summary, body)
}

const (
	emojiEffort   = "⏱️" // ⏱️
	emojiScore    = "\U0001F3C5"   // 🏅
	emojiTests    = "\U0001F9EA"   // 🧪
	emojiSecurity = "\U0001F512"   // 🔒
	emojiIssues   = "⚡"       // ⚡
)

// effortKeycap maps a 1-5 effort score to its keycap emoji.
func effortKeycap(effort int) string {
	switch effort {
	case 1:
		return "1️⃣"
	case 2:
		return "2️⃣"
	case 3:
		return "3️⃣"
	case 4:
		return "4️⃣"
	case 5:
		return "5️⃣"
	}
	return "\U0001F522"
}

// effortBar renders the keycap emoji plus a five-slot filled-circle gauge,
// clamping the score to 1..5.
func effortBar(effort int) string {
	if effort < 1 {
		effort = 1
	}
	if effort > 5 {
		effort = 5
	}
	gauge := strings.Repeat("\U0001F535", effort) + strings.Repeat("⚪", 5-effort)
	return effortKeycap(effort) + " (" + gauge + ")"
}

// isValueNo reports whether a model answer means "no": empty, "no", "none",
// or "false" after trimming, case-insensitively.
func isValueNo(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "", "no", "none", "false":
		return true
	}
	return false
}

// sanitizeTableCell makes text safe inside a markdown table cell: newlines
// become <br>, carriage returns vanish, pipes are escaped.
func sanitizeTableCell(text string) string {
	text = strings.ReplaceAll(text, "\n", "<br>")
	text = strings.ReplaceAll(text, "\r", "")
	return strings.ReplaceAll(text, "|", "\\|")
}
