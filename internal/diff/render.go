package diff

import (
	"fmt"
	"strings"

	"github.com/patchpilot/pkg/models"
)

// Render serializes a patch for prompt assembly. With NumberingNew each hunk
// is split into a "__new hunk__" section whose lines carry new-file line
// numbers (so the model can cite exact lines) and, when the hunk removes
// anything, an unnumbered "__old hunk__" section. With NumberingNone the
// patch is emitted as a plain diff block.
func Render(fp models.FilePatch) string {
	if fp.Numbering == models.NumberingNew {
		return renderNumbered(fp)
	}
	return renderPlain(fp)
}

func renderNumbered(fp models.FilePatch) string {
	name := strings.TrimSpace(fp.Path)
	if len(fp.Hunks) == 0 {
		if fp.EditType == models.EditDeleted {
			return fmt.Sprintf("## File '%s' was deleted\n", name)
		}
		return fmt.Sprintf("## File: '%s'\n\n(empty patch)\n", name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## File: '%s'\n", name)

	for _, h := range fp.Hunks {
		hasPlus, hasMinus := false, false
		for _, ln := range h.Lines {
			switch ln.Kind {
			case models.LineAdded:
				hasPlus = true
			case models.LineRemoved:
				hasMinus = true
			}
		}

		if hasPlus || !hasMinus {
			sb.WriteString("\n__new hunk__\n")
			for _, ln := range h.Lines {
				if ln.Kind == models.LineRemoved {
					continue
				}
				fmt.Fprintf(&sb, "%d %c%s\n", ln.NewNumber, ln.Kind.Marker(), ln.Text)
			}
		}
		if hasMinus {
			sb.WriteString("\n__old hunk__\n")
			for _, ln := range h.Lines {
				if ln.Kind == models.LineAdded {
					continue
				}
				fmt.Fprintf(&sb, "%c%s\n", ln.Kind.Marker(), ln.Text)
			}
		}
	}

	return sb.String()
}

func renderPlain(fp models.FilePatch) string {
	name := strings.TrimSpace(fp.Path)
	if fp.EditType == models.EditDeleted {
		return fmt.Sprintf("## File '%s' was deleted\n", name)
	}
	return fmt.Sprintf("\n\n## File: '%s'\n\n%s\n", name, strings.TrimSpace(RenderUnified(fp)))
}

// RenderUnified rebuilds the bare unified-diff text for a patch: hunk
// headers followed by marker-prefixed lines.
func RenderUnified(fp models.FilePatch) string {
	var sb strings.Builder
	for _, h := range fp.Hunks {
		if h.Section != "" {
			fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@ %s\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount, h.Section)
		} else {
			fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		}
		for _, ln := range h.Lines {
			fmt.Fprintf(&sb, "%c%s\n", ln.Kind.Marker(), ln.Text)
		}
	}
	return sb.String()
}
