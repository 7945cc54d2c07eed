package compress

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/patchpilot/internal/diff"
	"github.com/patchpilot/pkg/models"
)

// TokenCounter estimates the token cost of serialized patch text.
type TokenCounter interface {
	Count(text string) int
}

// Plan decides what survives the token budget. When everything fits the
// input is returned unchanged. Otherwise files are visited from most to
// least expensive (ties broken by ascending path) and shrunk by dropping
// their last hunks first; a file only disappears entirely once it has no
// hunks left. Survivors keep their input order. Given identical inputs the
// result is always identical.
func Plan(patches []models.FilePatch, budget models.TokenBudget, counter TokenCounter) models.CompressionResult {
	costs := make([]int, len(patches))
	total := 0
	for i, fp := range patches {
		costs[i] = counter.Count(diff.Render(fp))
		total += costs[i]
	}

	if total <= budget.Limit {
		return models.CompressionResult{Patches: patches}
	}

	log.Info().
		Int("total_tokens", total).
		Int("budget", budget.Limit).
		Str("model", budget.ModelID).
		Msg("diff exceeds token budget, compressing")

	order := make([]int, len(patches))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if costs[i] != costs[j] {
			return costs[i] > costs[j]
		}
		return patches[i].Path < patches[j].Path
	})

	shrunk := make([]models.FilePatch, len(patches))
	copy(shrunk, patches)
	dropped := make([]bool, len(patches))

	running := total
	omittedFiles, omittedHunks := 0, 0

	for _, idx := range order {
		if running <= budget.Limit {
			break
		}

		fp := shrunk[idx]
		cost := costs[idx]

		for running > budget.Limit && len(fp.Hunks) > 0 {
			fp = dropLastHunk(fp)
			omittedHunks++

			newCost := 0
			if len(fp.Hunks) > 0 {
				newCost = counter.Count(diff.Render(fp))
			}
			running += newCost - cost
			cost = newCost
		}

		if len(fp.Hunks) == 0 {
			running -= cost
			dropped[idx] = true
			omittedFiles++
			log.Debug().Str("file", fp.Path).Msg("omitted: no hunk fits the budget")
		} else {
			shrunk[idx] = fp
			costs[idx] = cost
			if omitted := patches[idx].TotalHunks() - fp.TotalHunks(); omitted > 0 {
				log.Debug().Str("file", fp.Path).Int("omitted_hunks", omitted).Msg("truncated to fit budget")
			}
		}
	}

	result := models.CompressionResult{
		WasCompressed: true,
		OmittedFiles:  omittedFiles,
		OmittedHunks:  omittedHunks,
	}
	for i, fp := range shrunk {
		if dropped[i] {
			result.Dropped = append(result.Dropped, fp)
		} else {
			result.Patches = append(result.Patches, fp)
		}
	}
	return result
}

// dropLastHunk returns a copy of fp without its final hunk. The input is
// never mutated.
func dropLastHunk(fp models.FilePatch) models.FilePatch {
	last := fp.Hunks[len(fp.Hunks)-1]
	out := fp
	out.Hunks = fp.Hunks[:len(fp.Hunks)-1]
	for _, ln := range last.Lines {
		switch ln.Kind {
		case models.LineAdded:
			out.NumPlus--
		case models.LineRemoved:
			out.NumMinus--
		}
	}
	return out
}
