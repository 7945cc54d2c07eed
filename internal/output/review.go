package output

import (
	"fmt"
	"strings"

	"github.com/patchpilot/pkg/models"
)

// LinkGenerator builds a permalink to a file region in the merge request
// diff. end is 0 for a single-line reference.
type LinkGenerator func(file string, start, end int) string

// FormatReview renders a parsed review as a GFM table comment. link may be
// nil, in which case issue headers are plain bold text instead of anchors.
func FormatReview(review models.Review, link LinkGenerator) string {
	var out strings.Builder
	out.Grow(8_000)

	out.WriteString(Marker("review") + "\n")
	out.WriteString("## PR Reviewer Guide 🔍\n\n")
	out.WriteString("<table>\n")

	if effort := string(review.EstimatedEffort); strings.TrimSpace(effort) != "" {
		bar := effortBar(effortScore(effort))
		fmt.Fprintf(&out, "<tr><td>%s&nbsp;<strong>Estimated effort to review</strong>: %s</td></tr>\n", emojiEffort, bar)
	}

	if score := strings.TrimSpace(string(review.Score)); score != "" {
		fmt.Fprintf(&out, "<tr><td>%s&nbsp;<strong>Score</strong>: %s</td></tr>\n", emojiScore, score)
	}

	if tests := strings.TrimSpace(string(review.RelevantTests)); tests != "" {
		if isValueNo(tests) {
			fmt.Fprintf(&out, "<tr><td>%s&nbsp;<strong>No relevant tests</strong></td></tr>\n", emojiTests)
		} else {
			fmt.Fprintf(&out, "<tr><td>%s&nbsp;<strong>PR contains tests</strong></td></tr>\n", emojiTests)
		}
	}

	writeKeyIssues(&out, review.KeyIssues, link)

	if security := strings.TrimSpace(string(review.SecurityConcerns)); security != "" {
		if isValueNo(security) {
			fmt.Fprintf(&out, "<tr><td>%s&nbsp;<strong>No security concerns identified</strong></td></tr>\n", emojiSecurity)
		} else {
			details := CollapsibleSection("Security concerns", security)
			fmt.Fprintf(&out, "<tr><td>%s&nbsp;%s</td></tr>\n", emojiSecurity, details)
		}
	}

	out.WriteString("</table>\n")
	return out.String()
}

// FormatReviewFallback wraps an unparseable model response so reviewers
// still see something instead of a silent failure. It carries no marker, so
// a later successful run starts a fresh persistent comment rather than
// updating the garbled one.
func FormatReviewFallback(raw string) string {
	return "## PR Reviewer Guide 🔍\n\n" + raw + "\n"
}

// writeKeyIssues renders all findings inside one table cell, each as a
// linked header plus file reference plus body.
func writeKeyIssues(out *strings.Builder, issues []models.KeyIssue, link LinkGenerator) {
	if len(issues) == 0 {
		fmt.Fprintf(out, "<tr><td>%s&nbsp;<strong>No major issues detected</strong></td></tr>\n", emojiIssues)
		return
	}

	fmt.Fprintf(out, "<tr><td>%s&nbsp;<strong>Recommended focus areas for review</strong><br><br>\n\n", emojiIssues)

	for _, issue := range issues {
		header := strings.TrimSpace(issue.IssueHeader)
		if header == "" {
			header = "Issue"
		}
		if strings.EqualFold(header, "possible bug") {
			header = "Possible Issue"
		}

		body := strings.TrimSpace(issue.IssueContent)
		file := strings.TrimSpace(issue.RelevantFile)
		start, end := int(issue.StartLine), int(issue.EndLine)

		lineDisplay := ""
		switch {
		case start > 0 && end > 0 && end != start:
			lineDisplay = fmt.Sprintf("%d-%d", start, end)
		case start > 0:
			lineDisplay = fmt.Sprintf("%d", start)
		}

		headerHTML := fmt.Sprintf("<strong>%s</strong>", header)
		if file != "" && link != nil {
			linkEnd := 0
			if end > 0 && end != start {
				linkEnd = end
			}
			if ref := link(file, start, linkEnd); ref != "" {
				headerHTML = fmt.Sprintf("<a href='%s'><strong>%s</strong></a>", ref, header)
			}
		}

		fileInfo := ""
		if file != "" {
			if lineDisplay != "" {
				fileInfo = fmt.Sprintf("<br><code>%s</code> (line %s)", file, lineDisplay)
			} else {
				fileInfo = fmt.Sprintf("<br><code>%s</code>", file)
			}
		}

		bodyHTML := ""
		if body != "" {
			bodyHTML = "<br>" + body
		}

		fmt.Fprintf(out, "%s%s%s\n\n", headerHTML, fileInfo, bodyHTML)
	}

	out.WriteString("</td></tr>\n")
}

// effortScore pulls the effort number out of answers like "3", "3/5", or
// "4, because the change spans two subsystems". Defaults to 3 when no digit
// appears.
func effortScore(text string) int {
	for _, r := range text {
		if r >= '0' && r <= '9' {
			return int(r - '0')
		}
	}
	return 3
}

// EffortLabel returns the label published alongside review comments so PRs
// can be triaged by effort from the label list alone.
func EffortLabel(effort string) string {
	return fmt.Sprintf("Review effort [1-5]: %d", effortScore(effort))
}

// SecurityLabel is applied when the review reports any security concern.
const SecurityLabel = "Security concern"
