package pipeline

import (
	"fmt"
	"strings"

	"github.com/patchpilot/internal/diff"
	"github.com/patchpilot/pkg/models"
)

// deltaTokens is the smallest leftover budget worth spending on an appended
// file list.
const deltaTokens = 10

// Assemble joins the surviving patches into the single diff string handed to
// the model. When the planner dropped whole files, their names are appended
// as per-edit-type lists, clipped to whatever room remains below the hard
// token ceiling, so the model knows the diff it sees is partial.
func Assemble(pctx Context, res Result) string {
	parts := make([]string, 0, len(res.Compression.Patches))
	for _, fp := range res.Compression.Patches {
		parts = append(parts, strings.TrimSpace(diff.Render(fp)))
	}
	out := strings.Join(parts, "\n\n")

	if len(res.Compression.Dropped) == 0 {
		return out
	}

	remaining := pctx.HardLimit - pctx.Counter.Count(out)
	if remaining <= deltaTokens {
		return out
	}

	added, modified, deleted := groupDropped(res.Compression.Dropped)
	for _, group := range []struct {
		label string
		files []string
	}{
		{"added", added},
		{"modified", modified},
		{"deleted", deleted},
	} {
		if len(group.files) == 0 || remaining < deltaTokens {
			continue
		}
		list := fmt.Sprintf("\n\n### Additional %s files (not included in diff):\n- %s",
			group.label, strings.Join(group.files, "\n- "))
		clipped := pctx.Counter.Clip(list, remaining, true)
		if clipped == "" {
			continue
		}
		out += clipped
		remaining -= pctx.Counter.Count(clipped) + 2
	}
	return out
}

func groupDropped(dropped []models.FilePatch) (added, modified, deleted []string) {
	for _, fp := range dropped {
		switch fp.EditType {
		case models.EditAdded:
			added = append(added, fp.Path)
		case models.EditDeleted:
			deleted = append(deleted, fp.Path)
		default:
			modified = append(modified, fp.Path)
		}
	}
	return added, modified, deleted
}
