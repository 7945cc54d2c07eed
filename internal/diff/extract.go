package diff

import (
	"fmt"
	"strings"

	"github.com/patchpilot/pkg/models"
)

// ExtractHunkLines pulls the hunks of a raw patch that cover a selected line
// range, rendered for a line-scoped question, together with the selected
// lines themselves. side chooses the numbering: "LEFT" addresses the old
// file, anything else the new file. Both results are empty when no hunk
// covers lineStart.
func ExtractHunkLines(patch, fileName string, lineStart, lineEnd int, side string) (string, string) {
	fp, err := Parse(patch, fileName, fileName, models.NumberingNone)
	if err != nil || len(fp.Hunks) == 0 {
		return "", ""
	}
	if lineEnd < lineStart {
		lineEnd = lineStart
	}
	left := strings.EqualFold(side, "left")

	var full, selected strings.Builder
	matched := false

	for _, h := range fp.Hunks {
		if left {
			if lineStart < h.OldStart || lineStart >= h.OldEnd() {
				continue
			}
		} else {
			if lineStart < h.NewStart || lineStart >= h.NewEnd() {
				continue
			}
		}

		if !matched {
			fmt.Fprintf(&full, "## File: '%s'\n", strings.TrimSpace(fileName))
			matched = true
		}
		if h.Section != "" {
			fmt.Fprintf(&full, "\n@@ -%d,%d +%d,%d @@ %s\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount, h.Section)
		} else {
			fmt.Fprintf(&full, "\n@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		}

		for _, ln := range h.Lines {
			fmt.Fprintf(&full, "%c%s\n", ln.Kind.Marker(), ln.Text)

			number := ln.NewNumber
			if left {
				number = ln.OldNumber
			}
			if number >= lineStart && number <= lineEnd && number > 0 {
				fmt.Fprintf(&selected, "%c%s\n", ln.Kind.Marker(), ln.Text)
			}
		}
	}

	return strings.TrimRight(full.String(), "\n"), strings.TrimRight(selected.String(), "\n")
}
