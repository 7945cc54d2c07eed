package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/patchpilot/pkg/models"
)

// FormatSuggestionsTable renders scored suggestions as a summary comment.
// Suggestions without resolved line numbers become a separate
// "Architecture & Design" bullet list of PR-wide observations; the rest go
// into a table sorted by the caller. thHigh and thMedium are the minimum
// scores for the Critical and Important importance labels.
func FormatSuggestionsTable(suggestions []models.CodeSuggestion, thHigh, thMedium int) string {
	var out strings.Builder
	out.Grow(4_000)

	out.WriteString(Marker("improve") + "\n")
	out.WriteString("## PR Code Suggestions ✨\n\n")

	if len(suggestions) == 0 {
		out.WriteString("No code suggestions found for this PR.\n")
		return out.String()
	}

	var codeLevel, highLevel []models.CodeSuggestion
	for _, s := range suggestions {
		if s.RelevantLinesStart > 0 && s.RelevantLinesEnd > 0 {
			codeLevel = append(codeLevel, s)
		} else {
			highLevel = append(highLevel, s)
		}
	}

	if len(highLevel) > 0 {
		out.WriteString("### Architecture & Design\n\n")
		for _, s := range highLevel {
			summary := sanitizeTableCell(suggestionSummary(s, 0))
			importance := importanceLabel(int(s.Score), thHigh, thMedium)
			file := sanitizeTableCell(s.RelevantFile)
			fmt.Fprintf(&out, "- **[%s] %s** (`%s`)\n", importance, summary, file)
		}
		out.WriteByte('\n')
	}

	if len(codeLevel) > 0 {
		if len(highLevel) > 0 {
			out.WriteString("### Code Suggestions\n\n")
		}
		out.WriteString("| Category | Suggestion | Score |\n")
		out.WriteString("| --- | --- | --- |\n")

		for _, s := range codeLevel {
			importance := importanceLabel(int(s.Score), thHigh, thMedium)
			summary := sanitizeTableCell(suggestionSummary(s, 200))
			label := sanitizeTableCell(s.Label)
			file := sanitizeTableCell(s.RelevantFile)

			lines := fmt.Sprintf(" [%d]", s.RelevantLinesStart)
			if s.RelevantLinesStart != s.RelevantLinesEnd {
				lines = fmt.Sprintf(" [%d-%d]", s.RelevantLinesStart, s.RelevantLinesEnd)
			}

			fmt.Fprintf(&out, "| %s | **%s**<br>`%s`%s | %s |\n", label, summary, file, lines, importance)
		}
	}

	return out.String()
}

// suggestionSummary picks the one-sentence summary, falling back to the
// full content, truncated at a rune boundary when maxLen is positive.
func suggestionSummary(s models.CodeSuggestion, maxLen int) string {
	summary := s.OneSentenceSummary
	if summary == "" {
		summary = s.SuggestionContent
	}
	if maxLen <= 0 || len(summary) <= maxLen {
		return summary
	}
	end := maxLen
	for end > 0 && !isRuneStart(summary[end]) {
		end--
	}
	return summary[:end] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// importanceLabel maps a score to a display tier.
func importanceLabel(score, thHigh, thMedium int) string {
	switch {
	case score >= thHigh:
		return "Critical"
	case score >= thMedium:
		return "Important"
	}
	return "Minor"
}

// ToInlineSuggestions converts suggestions with resolved line numbers into
// committable inline comments. Unplaced suggestions are dropped; the table
// formatter is the only place they can appear.
func ToInlineSuggestions(suggestions []models.CodeSuggestion) []models.InlineSuggestion {
	var out []models.InlineSuggestion
	for _, s := range suggestions {
		if s.RelevantLinesStart <= 0 || s.RelevantLinesEnd <= 0 {
			continue
		}
		out = append(out, models.InlineSuggestion{
			Body: fmt.Sprintf("**Suggestion:** %s [%s, importance: %d]",
				s.SuggestionContent, s.Label, s.Score),
			Path:         s.RelevantFile,
			StartLine:    int(s.RelevantLinesStart),
			EndLine:      int(s.RelevantLinesEnd),
			ImprovedCode: s.ImprovedCode,
		})
	}
	return out
}

// SortSuggestionsByScore orders suggestions best-first, keeping the
// original order within equal scores.
func SortSuggestionsByScore(suggestions []models.CodeSuggestion) {
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
}

// AppendSelfReviewCheckbox adds the author self-review checkbox to a
// suggestions comment. The trailing HTML comment tells the webhook handler
// which actions the checkbox triggers.
func AppendSelfReviewCheckbox(body, text string, approve, fold bool) string {
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\n- [ ]  ")
	b.WriteString(text)
	switch {
	case approve && !fold:
		b.WriteString(" <!-- approve pr self-review -->")
	case fold && !approve:
		b.WriteString(" <!-- fold suggestions self-review -->")
	default:
		b.WriteString(" <!-- approve and fold suggestions self-review -->")
	}
	b.WriteByte('\n')
	return b.String()
}
