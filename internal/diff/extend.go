package diff

import (
	"strings"

	"github.com/patchpilot/pkg/models"
)

// Extend widens each hunk with up to before/after context lines pulled from
// the full new-file text, clamped so the extension never crosses the file
// boundaries. Hunks whose widened windows overlap or touch are merged into
// one, with shared lines emitted once. Extension is best-effort: an empty
// file text returns the hunks unchanged.
func Extend(hunks []models.Hunk, newFileText string, before, after int) []models.Hunk {
	return extend(hunks, newFileText, before, after, 0)
}

// ExtendDynamic behaves like Extend but, for hunks carrying a section
// header, searches up to maxDynamic lines above the hunk start for the
// enclosing declaration named by that header and begins the extension there.
// Hunks without a match fall back to the fixed before value.
func ExtendDynamic(hunks []models.Hunk, newFileText string, before, after, maxDynamic int) []models.Hunk {
	return extend(hunks, newFileText, before, after, maxDynamic)
}

func extend(hunks []models.Hunk, newFileText string, before, after, maxDynamic int) []models.Hunk {
	if len(hunks) == 0 || newFileText == "" {
		return hunks
	}
	if before == 0 && after == 0 && maxDynamic == 0 {
		return hunks
	}
	for _, h := range hunks {
		// A zero new-side start means the file has no new content to pull
		// context from (deletions).
		if h.NewStart == 0 {
			return hunks
		}
	}

	fileLines := strings.Split(strings.TrimSuffix(newFileText, "\n"), "\n")

	windows := make([]window, len(hunks))
	for i, h := range hunks {
		windows[i] = widen(h, fileLines, before, after, maxDynamic)
	}

	// Group consecutive hunks whose widened windows overlap or touch, then
	// emit one merged hunk per group.
	var out []models.Hunk
	for start := 0; start < len(windows); {
		end := start + 1
		for end < len(windows) && windows[end].extStart <= windows[end-1].extEnd {
			end++
		}
		out = append(out, mergeGroup(windows[start:end], fileLines))
		start = end
	}
	return out
}

// window is a hunk plus its widened range on the new-file side.
// extEnd is exclusive.
type window struct {
	h        models.Hunk
	extStart int
	extEnd   int
}

func widen(h models.Hunk, fileLines []string, before, after, maxDynamic int) window {
	effBefore := before
	if maxDynamic > 0 && h.Section != "" {
		if dist, ok := sectionDistance(h, fileLines, maxDynamic); ok {
			effBefore = dist
		}
	}

	extStart := h.NewStart - effBefore
	if extStart < 1 {
		extStart = 1
	}
	// Keep the matching old-side start at or above line 1.
	if delta := h.OldStart - h.NewStart; h.OldStart >= 1 && extStart+delta < 1 {
		extStart = 1 - delta
	}

	extEnd := h.NewEnd() + after
	if limit := len(fileLines) + 1; extEnd > limit {
		extEnd = limit
	}
	if extEnd < h.NewEnd() {
		extEnd = h.NewEnd()
	}

	return window{h: h, extStart: extStart, extEnd: extEnd}
}

// sectionDistance scans up to maxDynamic lines above the hunk for the first
// line containing the hunk's section header, returning how far above the
// hunk start it sits.
func sectionDistance(h models.Hunk, fileLines []string, maxDynamic int) (int, bool) {
	winStart := h.NewStart - maxDynamic
	if winStart < 1 {
		winStart = 1
	}
	for n := winStart; n < h.NewStart && n <= len(fileLines); n++ {
		if strings.Contains(fileLines[n-1], h.Section) {
			return h.NewStart - n, true
		}
	}
	return 0, false
}

// mergeGroup emits one hunk covering every window in the group: leading
// pulled context, then each hunk body with the unchanged gap between bodies
// rendered once as context.
func mergeGroup(group []window, fileLines []string) models.Hunk {
	first, last := group[0], group[len(group)-1]

	merged := models.Hunk{
		OldStart: first.extStart + (first.h.OldStart - first.h.NewStart),
		NewStart: first.extStart,
		Section:  first.h.Section,
	}

	appendContext := func(fromNew, toNew, delta int) {
		for n := fromNew; n < toNew; n++ {
			merged.Lines = append(merged.Lines, models.Line{
				Kind:      models.LineContext,
				OldNumber: n + delta,
				NewNumber: n,
				Text:      fileLines[n-1],
			})
		}
	}

	appendContext(first.extStart, first.h.NewStart, first.h.OldStart-first.h.NewStart)
	merged.Lines = append(merged.Lines, first.h.Lines...)

	for i := 1; i < len(group); i++ {
		cur := group[i]
		appendContext(group[i-1].h.NewEnd(), cur.h.NewStart, cur.h.OldStart-cur.h.NewStart)
		merged.Lines = append(merged.Lines, cur.h.Lines...)
	}

	appendContext(last.h.NewEnd(), last.extEnd, last.h.OldEnd()-last.h.NewEnd())

	normalizeCounts(&merged)
	return merged
}
