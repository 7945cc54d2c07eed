package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/patchpilot/pkg/models"
)

// hunkHeaderRe matches `@@ -start1[,size1] +start2[,size2] @@ [section]`.
// Omitted sizes default to 1.
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@[ ]?(.*)`)

// ParseError reports a malformed diff for a single file. Files are
// independent units of failure: the caller drops the offending file and
// continues with the rest.
type ParseError struct {
	Path   string
	Line   int // 1-based position within the raw diff text
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: line %d: %s", e.Path, e.Line, e.Reason)
}

// Parse turns one file's raw unified-diff text into a structured FilePatch.
// Standard file-level header lines (diff --git, index, ---, +++) before the
// first hunk are skipped; a "\ No newline at end of file" marker is
// recognized and does not perturb numbering. Counts omitted from a hunk
// header default to 1; the stored counts always reflect the lines actually
// present.
func Parse(raw, oldPath, newPath string, mode models.NumberingMode) (models.FilePatch, error) {
	path := newPath
	if path == "" {
		path = oldPath
	}

	fp := models.FilePatch{
		Path:      path,
		EditType:  editTypeFor(oldPath, newPath),
		Numbering: mode,
	}
	if fp.EditType == models.EditRenamed {
		fp.OldPath = oldPath
	}

	lines := strings.Split(raw, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	var cur *models.Hunk
	oldNo, newNo := 0, 0

	flush := func() {
		if cur != nil && len(cur.Lines) > 0 {
			normalizeCounts(cur)
			fp.Hunks = append(fp.Hunks, *cur)
		}
		cur = nil
	}

	for i, text := range lines {
		lineNo := i + 1

		if strings.HasPrefix(text, "@@") {
			m := hunkHeaderRe.FindStringSubmatch(text)
			if m == nil {
				return models.FilePatch{}, &ParseError{Path: path, Line: lineNo, Reason: "malformed hunk header"}
			}
			flush()
			cur = &models.Hunk{
				OldStart: atoi(m[1], 0),
				OldCount: atoi(m[2], 1),
				NewStart: atoi(m[3], 0),
				NewCount: atoi(m[4], 1),
				Section:  m[5],
			}
			oldNo, newNo = cur.OldStart, cur.NewStart
			continue
		}

		if cur == nil {
			if text == "" || isFileHeader(text) {
				continue
			}
			if strings.HasPrefix(text, "Binary files") {
				fp.IsBinary = true
				continue
			}
			return models.FilePatch{}, &ParseError{Path: path, Line: lineNo, Reason: "expected hunk header"}
		}

		switch {
		case strings.HasPrefix(text, "+"):
			cur.Lines = append(cur.Lines, models.Line{Kind: models.LineAdded, NewNumber: newNo, Text: text[1:]})
			newNo++
			fp.NumPlus++
		case strings.HasPrefix(text, "-"):
			cur.Lines = append(cur.Lines, models.Line{Kind: models.LineRemoved, OldNumber: oldNo, Text: text[1:]})
			oldNo++
			fp.NumMinus++
		case strings.HasPrefix(text, `\`):
			// "\ No newline at end of file" does not consume a counter.
		case text == "":
			// Some providers strip the single space from blank context lines.
			cur.Lines = append(cur.Lines, models.Line{Kind: models.LineContext, OldNumber: oldNo, NewNumber: newNo})
			oldNo++
			newNo++
		case strings.HasPrefix(text, " "):
			cur.Lines = append(cur.Lines, models.Line{Kind: models.LineContext, OldNumber: oldNo, NewNumber: newNo, Text: text[1:]})
			oldNo++
			newNo++
		default:
			return models.FilePatch{}, &ParseError{Path: path, Line: lineNo, Reason: fmt.Sprintf("unrecognized line marker %q", text[:1])}
		}
	}
	flush()

	return fp, nil
}

// normalizeCounts makes the header counts match the lines actually present,
// so downstream range math never trusts a lying header.
func normalizeCounts(h *models.Hunk) {
	oldCount, newCount := 0, 0
	for _, ln := range h.Lines {
		switch ln.Kind {
		case models.LineContext:
			oldCount++
			newCount++
		case models.LineAdded:
			newCount++
		case models.LineRemoved:
			oldCount++
		}
	}
	h.OldCount = oldCount
	h.NewCount = newCount
}

func editTypeFor(oldPath, newPath string) models.EditType {
	switch {
	case oldPath == "" || oldPath == "/dev/null":
		return models.EditAdded
	case newPath == "" || newPath == "/dev/null":
		return models.EditDeleted
	case oldPath != newPath:
		return models.EditRenamed
	default:
		return models.EditModified
	}
}

var fileHeaderPrefixes = []string{
	"diff --git",
	"index ",
	"--- ",
	"+++ ",
	"new file mode",
	"deleted file mode",
	"old mode",
	"new mode",
	"similarity index",
	"rename from",
	"rename to",
	"copy from",
	"copy to",
}

func isFileHeader(text string) bool {
	for _, p := range fileHeaderPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	// "--- a/x" and "+++ b/x" without trailing content
	return text == "---" || text == "+++"
}

func atoi(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
