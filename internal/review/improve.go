package review

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/patchpilot/internal/llm"
	"github.com/patchpilot/internal/output"
	"github.com/patchpilot/internal/pipeline"
	"github.com/patchpilot/internal/prompts"
	"github.com/patchpilot/pkg/models"
)

// reflectFailedNote is appended to the suggestions table when the scoring
// pass could not run and every suggestion fell back to the default score.
const reflectFailedNote = "\n> **Note:** Suggestion scoring may be less accurate (self-review pass was unavailable).\n"

// Improve proposes code suggestions for the new code in the merge request.
// It runs two model passes: the first generates suggestions over the plain
// diff, the second scores each one and locates it in the numbered diff.
// Suggestions that score below the threshold or cannot be placed are
// dropped before publishing.
func (r *Runner) Improve(ctx context.Context) (*models.ReviewRun, error) {
	started := time.Now()
	logger := r.logger.Logger()
	logger.Info().Str("url", r.url).Msg("starting improve")

	var run *models.ReviewRun
	err := r.withProgress(ctx, "Preparing code suggestions...", func() error {
		st, err := r.fetchState(ctx, models.NumberingNone)
		if err != nil {
			return err
		}
		if st.result.Empty() {
			logger.Info().Msg("no diff content, skipping improve")
			run = r.report("improve", "", st, 0, "no diff content, skipped", started)
			return nil
		}

		vars := r.commonVars(st)
		vars.ExtraInstructions = r.cfg.Improve.ExtraInstructions
		vars.NumCodeSuggestions = r.cfg.Improve.NumCodeSuggestions

		response, model, err := r.complete(ctx, prompts.Improve(vars))
		if err != nil {
			return err
		}

		var parsed models.ImproveResponse
		if err := llm.LoadYAMLInto(response, nil, "code_suggestions", "improved_code", &parsed); err != nil {
			logger.Warn().Err(err).Msg("could not parse YAML from model response")
		}
		suggestions := normalizeSuggestions(parsed.CodeSuggestions)

		reflectFailed := false
		if len(suggestions) > 0 {
			feedback, err := r.reflectOnSuggestions(ctx, st, suggestions)
			if err != nil {
				logger.Warn().Err(err).Msg("reflect pass failed, using default scores")
				reflectFailed = true
			} else {
				applyReflectFeedback(suggestions, feedback, logger)
			}
		}

		threshold := r.cfg.Improve.ScoreThreshold
		if threshold < 1 {
			threshold = 1
		}
		kept := suggestions[:0]
		for _, s := range suggestions {
			if int(s.Score) >= threshold {
				kept = append(kept, s)
			}
		}
		output.SortSuggestionsByScore(kept)

		if len(kept) == 0 {
			logger.Info().Msg("no code suggestions to publish")
			run = r.report("improve", model, st, 0, "0 suggestions published", started)
			return nil
		}
		logger.Info().Int("count", len(kept)).Msg("publishing code suggestions")

		comments, err := r.publishSuggestions(ctx, kept, reflectFailed)
		if err != nil {
			return err
		}

		run = r.report("improve", model, st, comments, fmt.Sprintf("%d suggestions published", len(kept)), started)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Dur("elapsed", time.Since(started)).Msg("improve complete")
	return run, nil
}

// normalizeSuggestions cleans up freshly decoded suggestions. Block scalar
// values keep their trailing newline, so every text field is trimmed.
// Suggestions with no target file or no improved code are dropped. A missing
// label defaults to enhancement and a missing score to a middling 5, which
// stands until the scoring pass overwrites it.
func normalizeSuggestions(raw []models.CodeSuggestion) []models.CodeSuggestion {
	kept := raw[:0]
	for _, s := range raw {
		s.RelevantFile = strings.TrimSpace(s.RelevantFile)
		s.Language = strings.TrimSpace(s.Language)
		s.SuggestionContent = strings.TrimSpace(s.SuggestionContent)
		s.ExistingCode = strings.TrimSpace(s.ExistingCode)
		s.ImprovedCode = strings.TrimSpace(s.ImprovedCode)
		s.OneSentenceSummary = strings.TrimSpace(s.OneSentenceSummary)
		s.Label = strings.TrimSpace(s.Label)
		if s.RelevantFile == "" || s.ImprovedCode == "" {
			continue
		}
		if s.Label == "" {
			s.Label = "enhancement"
		}
		if s.Score <= 0 {
			s.Score = 5
		}
		kept = append(kept, s)
	}
	return kept
}

// reflectOnSuggestions runs the second model pass: each suggestion is
// scored 0-10 and anchored to new-file line numbers in the numbered diff.
func (r *Runner) reflectOnSuggestions(ctx context.Context, st *prState, suggestions []models.CodeSuggestion) ([]reflectFeedback, error) {
	pctx := pipeline.FromConfig(r.cfg, models.NumberingNew)
	res := pipeline.Process(pctx, st.files)

	vars := prompts.Vars{
		Diff:           r.mask(pipeline.Assemble(pctx, res)),
		Suggestions:    reflectInput(suggestions),
		NumSuggestions: len(suggestions),
	}

	response, _, err := r.complete(ctx, prompts.Reflect(vars))
	if err != nil {
		return nil, err
	}

	doc, err := llm.LoadYAML(response, nil, "code_suggestions", "suggestion_score")
	if err != nil {
		r.logger.Logger().Warn().Err(err).Msg("could not parse reflect YAML response")
		return nil, nil
	}
	return parseReflectFeedback(doc), nil
}

// reflectInput serializes suggestions for the reflect prompt, one per line,
// with single quotes escaped inside the free-text fields.
func reflectInput(suggestions []models.CodeSuggestion) string {
	var b strings.Builder
	for i, s := range suggestions {
		fmt.Fprintf(&b,
			"suggestion %d: {'relevant_file': '%s', 'suggestion_content': '%s', 'existing_code': '%s', 'improved_code': '%s', 'one_sentence_summary': '%s', 'label': '%s'}\n",
			i+1,
			s.RelevantFile,
			escapeQuotes(s.SuggestionContent),
			escapeQuotes(s.ExistingCode),
			escapeQuotes(s.ImprovedCode),
			escapeQuotes(s.OneSentenceSummary),
			s.Label,
		)
	}
	return b.String()
}

func escapeQuotes(s string) string { return strings.ReplaceAll(s, "'", `\'`) }

// reflectFeedback is one suggestion's scoring-pass result. Missing line
// numbers decode as -1 so they can be told apart from line 0; a missing
// score falls back to a middling 7.
type reflectFeedback struct {
	linesStart int
	linesEnd   int
	score      int
}

func parseReflectFeedback(doc map[string]any) []reflectFeedback {
	items, ok := doc["code_suggestions"].([]any)
	if !ok {
		return nil
	}
	out := make([]reflectFeedback, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fb := reflectFeedback{
			linesStart: intField(m, "relevant_lines_start", -1),
			linesEnd:   intField(m, "relevant_lines_end", -1),
			score:      intField(m, "suggestion_score", -1),
		}
		if fb.score < 0 {
			fb.score = intField(m, "score", 7)
		}
		out = append(out, fb)
	}
	return out
}

func intField(m map[string]any, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	}
	return def
}

// applyReflectFeedback merges scores and corrected line numbers into the
// suggestions. Line numbers are taken from feedback only when the first
// pass produced none; suggestions that still have no valid placement are
// zeroed out so the filter drops them.
func applyReflectFeedback(suggestions []models.CodeSuggestion, feedback []reflectFeedback, logger *zerolog.Logger) {
	if len(feedback) != len(suggestions) {
		logger.Warn().
			Int("suggestions", len(suggestions)).
			Int("feedback", len(feedback)).
			Msg("reflect feedback count mismatch, applying partial")
	}

	for i := range suggestions {
		if i >= len(feedback) {
			break
		}
		fb := feedback[i]
		s := &suggestions[i]

		s.Score = models.FlexInt(fb.score)
		if s.RelevantLinesStart <= 0 || s.RelevantLinesEnd <= 0 {
			s.RelevantLinesStart = models.FlexInt(fb.linesStart)
			s.RelevantLinesEnd = models.FlexInt(fb.linesEnd)
		}
		if s.RelevantLinesStart < 0 || s.RelevantLinesEnd < 0 {
			s.Score = 0
		}
	}
}

// publishSuggestions publishes the filtered suggestions in one of three
// modes and returns how many comments went out. With a dual publishing
// threshold set, high scorers go out as inline committable suggestions and
// the full table is posted regardless; inline failures there only warn.
// In commitable mode the table is the fallback when nothing can be placed
// inline or the platform rejects the batch. Otherwise only the table is
// posted.
func (r *Runner) publishSuggestions(ctx context.Context, suggestions []models.CodeSuggestion, reflectFailed bool) (int, error) {
	logger := r.logger.Logger()
	comments := 0

	// Inline suggestions cannot be printed; with publishing disabled only
	// the table goes out, through the stdout path.
	if !r.cfg.General.PublishOutput {
		if err := r.publishSuggestionsTable(ctx, suggestions, reflectFailed); err != nil {
			return 0, err
		}
		return 1, nil
	}

	if dual := r.cfg.Improve.DualPublishingThreshold; dual > -1 {
		var highScoring []models.CodeSuggestion
		for _, s := range suggestions {
			if int(s.Score) >= dual {
				highScoring = append(highScoring, s)
			}
		}
		if inline := output.ToInlineSuggestions(highScoring); len(inline) > 0 {
			if err := r.provider.PublishCodeSuggestions(ctx, inline); err != nil {
				logger.Warn().Err(err).Msg("failed to publish inline suggestions in dual mode")
			} else {
				logger.Info().Int("count", len(inline)).Int("threshold", dual).Msg("published inline suggestions (dual mode)")
				comments += len(inline)
			}
		}
		if err := r.publishSuggestionsTable(ctx, suggestions, reflectFailed); err != nil {
			return comments, err
		}
		return comments + 1, nil
	}

	if r.cfg.Improve.CommitableCode {
		inline := output.ToInlineSuggestions(suggestions)
		if len(inline) == 0 {
			logger.Warn().Int("total", len(suggestions)).Msg("all suggestions filtered out (missing line numbers), falling back to table mode")
			if err := r.publishSuggestionsTable(ctx, suggestions, reflectFailed); err != nil {
				return 0, err
			}
			return 1, nil
		}
		if err := r.provider.PublishCodeSuggestions(ctx, inline); err != nil {
			logger.Warn().Err(err).Msg("failed to publish inline suggestions, falling back to table mode")
			if err := r.publishSuggestionsTable(ctx, suggestions, reflectFailed); err != nil {
				return 0, err
			}
			return 1, nil
		}
		return len(inline), nil
	}

	if err := r.publishSuggestionsTable(ctx, suggestions, reflectFailed); err != nil {
		return 0, err
	}
	return 1, nil
}

// publishSuggestionsTable posts the summary table comment, with the
// self-review checkbox appended when the author is asked to acknowledge
// the suggestions.
func (r *Runner) publishSuggestionsTable(ctx context.Context, suggestions []models.CodeSuggestion, reflectFailed bool) error {
	table := output.FormatSuggestionsTable(suggestions, r.cfg.Improve.ScoreHighThreshold, r.cfg.Improve.ScoreMediumThreshold)
	if reflectFailed {
		table += reflectFailedNote
	}
	if r.cfg.Improve.SelfReview {
		table = output.AppendSelfReviewCheckbox(table, r.cfg.Improve.SelfReviewText, r.cfg.Improve.ApproveOnSelfReview, r.cfg.Improve.FoldOnSelfReview)
	}
	return r.publishAsComment(ctx, table, "improve", r.cfg.Improve.PersistentComment)
}
