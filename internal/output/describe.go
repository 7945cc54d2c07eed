package output

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/patchpilot/pkg/models"
)

// FileStats carries one file's diff counters plus the provider's link to it
// in the diff view, keyed for the walkthrough table.
type FileStats struct {
	Plus  int
	Minus int
	Link  string
}

// DescribeOutput is a formatted describe result ready for publishing.
type DescribeOutput struct {
	Title  string
	Body   string
	Labels []string
}

// DescribeOptions mirror the [describe] config section fields the formatter
// consumes. CollapsibleFileList is "true", "false", or "adaptive"; adaptive
// collapses per-label groups only when the file count exceeds the threshold.
type DescribeOptions struct {
	GenerateAITitle        bool
	AddOriginalDescription bool
	TypeSection            bool
	FileTable              bool
	CollapsibleFileList    string
	CollapsibleThreshold   int
}

// FormatDescribe converts a parsed describe response into a PR title, body,
// and label set. stats keys are lowercased paths without a leading slash.
func FormatDescribe(resp models.DescribeResponse, originalTitle, originalBody string, opts DescribeOptions, stats map[string]FileStats) DescribeOutput {
	aiTitle := resp.Title
	if aiTitle == "" {
		aiTitle = originalTitle
	}
	title := strings.TrimSpace(originalTitle)
	if opts.GenerateAITitle {
		title = strings.TrimSpace(aiTitle)
	}

	prType := strings.Join(resp.Type, ", ")

	var body strings.Builder
	body.Grow(4_000)

	// The user's original description must come before the marker so that
	// StripGeneratedContent can recover it on the next run. It returns
	// everything before the first marker.
	if opts.AddOriginalDescription && originalBody != "" {
		body.WriteString(originalBody + "\n")
		body.WriteString("\n---\n\n")
	}

	body.WriteString(Marker("describe") + "\n")

	if opts.TypeSection {
		body.WriteString("### **PR Type**\n")
		if prType != "" {
			body.WriteString(prType + "\n\n")
		}
	}

	body.WriteString("\n___\n\n")

	body.WriteString("### **Description**\n")
	if resp.Description != "" {
		for _, line := range strings.Split(resp.Description, "\n") {
			trimmed := strings.TrimSpace(line)
			switch {
			case trimmed == "":
				body.WriteByte('\n')
			case strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*"):
				body.WriteString(trimmed + "\n")
			default:
				body.WriteString("- " + trimmed + "\n")
			}
		}
		body.WriteByte('\n')
	}

	body.WriteString("\n___\n\n")

	if diagram := strings.TrimSpace(resp.Diagram); diagram != "" {
		body.WriteString("### Diagram Walkthrough\n\n")
		if strings.HasPrefix(diagram, "```") {
			// The model sometimes returns its own fences; keep them and only
			// add a missing closer.
			if !strings.HasSuffix(diagram, "```") {
				diagram += "\n```"
			}
			body.WriteString(diagram + "\n\n")
		} else {
			body.WriteString("```mermaid\n" + diagram + "\n```\n\n")
		}
	}

	if opts.FileTable {
		walkthrough := formatFileTable(resp.Files, opts.CollapsibleFileList, opts.CollapsibleThreshold, stats)
		if walkthrough != "" {
			body.WriteString("<details> <summary><h3> File Walkthrough</h3></summary>\n\n")
			body.WriteString(walkthrough)
			body.WriteString("\n</details>\n\n")
		}
	}

	return DescribeOutput{
		Title:  title,
		Body:   body.String(),
		Labels: describeLabels(resp, prType),
	}
}

// describeLabels prefers the explicit labels field and falls back to the
// comma-separated PR type.
func describeLabels(resp models.DescribeResponse, prType string) []string {
	if len(resp.Labels) > 0 {
		return append([]string(nil), resp.Labels...)
	}
	var labels []string
	for _, part := range strings.Split(prType, ",") {
		if p := strings.TrimSpace(part); p != "" {
			labels = append(labels, p)
		}
	}
	return labels
}

// fileEntry is one normalized walkthrough row.
type fileEntry struct {
	filename string
	title    string
	summary  string
	label    string
}

// formatFileTable renders the walkthrough as a nested HTML table grouped by
// label, preserving the order labels first appear in. The collapsible
// setting controls only the per-label <details> nesting; the outer wrapper
// belongs to the caller.
func formatFileTable(files []models.FileDescription, collapsible string, threshold int, stats map[string]FileStats) string {
	type labelGroup struct {
		label   string
		entries []fileEntry
	}
	var groups []labelGroup
	index := make(map[string]int)
	numFiles := 0

	for _, f := range files {
		e := fileEntry{
			filename: strings.ReplaceAll(strings.TrimSpace(f.Filename), "'", "`"),
			title:    strings.TrimSpace(f.ChangesTitle),
			summary:  strings.TrimSpace(f.ChangesSummary),
			label:    strings.ToLower(strings.TrimSpace(f.Label)),
		}
		if e.summary == "" {
			e.summary = strings.TrimSpace(f.ChangesContent)
		}
		if e.filename == "" {
			continue
		}
		if i, ok := index[e.label]; ok {
			groups[i].entries = append(groups[i].entries, e)
		} else {
			index[e.label] = len(groups)
			groups = append(groups, labelGroup{label: e.label, entries: []fileEntry{e}})
		}
		numFiles++
	}

	if len(groups) == 0 {
		return ""
	}

	useCollapsible := true
	if collapsible == "adaptive" {
		useCollapsible = numFiles > threshold
	} else if b, err := strconv.ParseBool(collapsible); err == nil {
		useCollapsible = b
	}

	var out strings.Builder
	out.WriteString("<table>")
	out.WriteString(`<thead><tr><th></th><th align="left">Relevant files</th></tr></thead>`)
	out.WriteString("<tbody>")

	for _, g := range groups {
		fmt.Fprintf(&out, "<tr><td><strong>%s</strong></td>", capitalizeFirst(g.label))
		if useCollapsible {
			fmt.Fprintf(&out, "<td><details><summary>%d files</summary><table>", len(g.entries))
		} else {
			out.WriteString("<td><table>")
		}
		for _, e := range g.entries {
			writeFileRow(&out, e, stats)
		}
		if useCollapsible {
			out.WriteString("</table></details></td></tr>")
		} else {
			out.WriteString("</table></td></tr>")
		}
	}

	out.WriteString("</tr></tbody></table>")
	return out.String()
}

// writeFileRow writes one file's <tr>, collapsible when a summary exists.
func writeFileRow(out *strings.Builder, e fileEntry, stats map[string]FileStats) {
	shortName := e.filename
	if i := strings.LastIndex(e.filename, "/"); i >= 0 {
		shortName = e.filename[i+1:]
	}

	filenamePublish := fmt.Sprintf("<strong>%s</strong>", shortName)
	if e.title != "" && e.title != "..." {
		filenamePublish = fmt.Sprintf("<strong>%s</strong><dd><code>%s</code></dd>", shortName, e.title)
	}

	linkCell := ""
	if s, ok := stats[strings.ToLower(strings.TrimLeft(e.filename, "/"))]; ok {
		pm := fmt.Sprintf("+%d/-%d", s.Plus, s.Minus)
		if len(pm) > 12 || pm == "+0/-0" {
			pm = "[link]"
		}
		pad := ""
		if n := 8 - len(pm); n > 0 {
			pad = strings.Repeat("&nbsp; ", n)
		}
		if s.Link != "" {
			linkCell = fmt.Sprintf(`<a href="%s">%s</a>%s`, s.Link, pm, pad)
		}
	}

	if e.summary == "" {
		fmt.Fprintf(out, "\n<tr>\n  <td>%s</td>\n  <td>%s</td>\n\n</tr>\n", filenamePublish, linkCell)
		return
	}

	descBr := insertLineBreaks(e.summary, 70)
	fmt.Fprintf(out,
		"\n<tr>\n  <td>\n    <details>\n      <summary>%s</summary>\n<hr>\n\n%s\n\n%s\n\n\n</details>\n\n\n  </td>\n  <td>%s</td>\n\n</tr>\n",
		filenamePublish, e.filename, descBr, linkCell)
}

// insertLineBreaks inserts <br> at word boundaries so no visual line runs
// past maxChars.
func insertLineBreaks(text string, maxChars int) string {
	text = strings.ReplaceAll(text, "\n", "<br>")
	if len(text) <= maxChars {
		return text
	}
	var result strings.Builder
	result.Grow(len(text) + 64)
	lineLen := 0
	for i, word := range strings.Split(text, " ") {
		if i > 0 {
			if lineLen+len(word)+1 > maxChars {
				result.WriteString("<br>")
				lineLen = 0
			} else {
				result.WriteByte(' ')
				lineLen++
			}
		}
		result.WriteString(word)
		lineLen += len(word)
	}
	return result.String()
}

func capitalizeFirst(s string) string {
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return strings.ToUpper(string(r)) + s[size:]
}

// generatedHeaders are section headers older review bots wrote directly
// into PR bodies, before marker comments existed. Recognizing them lets
// StripGeneratedContent recover user text from those bodies too.
var generatedHeaders = []string{
	"### **user description**",
	"### **pr type**",
	"### **pr description**",
	"### **pr labels**",
	"### **type**",
	"### **description**",
	"### **labels**",
}

// IsGeneratedBody reports whether a PR body was written by a describe run,
// either by marker or by a known legacy header.
func IsGeneratedBody(body string) bool {
	lower := strings.ToLower(strings.TrimLeft(body, " \t\r\n"))
	if strings.HasPrefix(lower, markerPrefix) {
		return true
	}
	for _, header := range generatedHeaders {
		if strings.HasPrefix(lower, header) {
			return true
		}
	}
	return false
}

// StripGeneratedContent returns only the user-written part of a PR body:
// everything before the first marker, or for legacy bodies the
// "User description" section. Bodies we never touched come back unchanged.
func StripGeneratedContent(body string) string {
	if pos := strings.Index(body, markerPrefix); pos >= 0 {
		before := strings.TrimSpace(body[:pos])
		// Drop the "---" separator FormatDescribe places between the user
		// description and the marker.
		before = strings.TrimSuffix(before, "---")
		return strings.TrimSpace(before)
	}

	if !IsGeneratedBody(body) {
		return body
	}

	lower := strings.ToLower(body)
	const userDescHeader = "### **user description**"
	start := strings.Index(lower, userDescHeader)
	if start < 0 {
		// Generated body with no user section: nothing to recover.
		return ""
	}
	contentStart := start + len(userDescHeader)

	end := len(body)
	for _, header := range generatedHeaders {
		if header == userDescHeader {
			continue
		}
		if pos := strings.Index(lower[contentStart:], header); pos >= 0 && contentStart+pos < end {
			end = contentStart + pos
		}
	}

	userContent := strings.TrimSpace(body[contentStart:end])
	userContent = strings.TrimSuffix(userContent, "___")
	return strings.TrimSpace(userContent)
}
