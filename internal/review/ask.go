package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patchpilot/internal/diff"
	"github.com/patchpilot/internal/prompts"
	"github.com/patchpilot/pkg/models"
)

// Ask answers a free-form question about the merge request using the full
// diff as context. An empty question is a no-op.
func (r *Runner) Ask(ctx context.Context, question string) (*models.ReviewRun, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		r.logger.Logger().Info().Msg("empty question, skipping ask")
		return nil, nil
	}

	started := time.Now()
	logger := r.logger.Logger()
	logger.Info().Str("url", r.url).Msg("starting ask")

	var run *models.ReviewRun
	err := r.withProgress(ctx, "Preparing answer...", func() error {
		st, err := r.fetchState(ctx, models.NumberingNew)
		if err != nil {
			return err
		}

		vars := r.commonVars(st)
		vars.Question = question

		response, model, err := r.complete(ctx, prompts.Ask(vars))
		if err != nil {
			return err
		}

		answer := sanitizeAnswer(response)
		body := fmt.Sprintf("### **Ask**\n%s\n\n### **Answer:**\n%s\n\n", question, answer)
		if !r.cfg.General.PublishOutput {
			fmt.Println(body)
		} else if _, err := r.provider.PublishComment(ctx, body); err != nil {
			return err
		}

		run = r.report("ask", model, st, 1, clipSummary(question, 120), started)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Dur("elapsed", time.Since(started)).Msg("ask complete")
	return run, nil
}

// AskLine answers a question about specific lines of one changed file. The
// hunk covering the lines is cut from the webhook-provided patch when
// present, otherwise from the fetched diff. When the question arrived as a
// reply on a review comment, the answer goes to the same thread.
func (r *Runner) AskLine(ctx context.Context, q LineQuestion) (*models.ReviewRun, error) {
	question := strings.TrimSpace(q.Question)
	if question == "" {
		r.logger.Logger().Info().Msg("empty question, skipping ask_line")
		return nil, nil
	}

	started := time.Now()
	logger := r.logger.Logger()
	logger.Info().Str("url", r.url).Str("file", q.FileName).Msg("starting ask_line")

	fullHunk, selectedLines, err := r.locateHunk(ctx, q)
	if err != nil {
		return nil, err
	}
	if fullHunk == "" {
		logger.Warn().
			Str("file_name", q.FileName).
			Int("line_start", q.LineStart).
			Int("line_end", q.LineEnd).
			Msg("no hunk found for ask_line")
		return nil, nil
	}

	details, err := r.provider.GetMergeRequestDetails(ctx, r.url)
	if err != nil {
		return nil, err
	}

	vars := prompts.Vars{
		Title:         details.Title,
		Branch:        details.SourceBranch,
		FileName:      q.FileName,
		FullHunk:      r.mask(fullHunk),
		SelectedLines: r.mask(selectedLines),
		Question:      question,
	}

	response, model, err := r.complete(ctx, prompts.AskLine(vars))
	if err != nil {
		return nil, err
	}

	answer := sanitizeAnswer(response)
	switch {
	case !r.cfg.General.PublishOutput:
		fmt.Println(answer)
	case q.CommentID > 0:
		if err := r.provider.ReplyToComment(ctx, q.CommentID, answer); err != nil {
			return nil, err
		}
	default:
		if _, err := r.provider.PublishComment(ctx, answer); err != nil {
			return nil, err
		}
	}

	run := r.report("ask_line", model, nil, 1, clipSummary(question, 120), started)
	logger.Info().Dur("elapsed", time.Since(started)).Msg("ask_line complete")
	return run, nil
}

// locateHunk cuts the hunk covering the questioned lines out of the
// webhook-provided patch, or out of the matching file in the fetched diff
// when the webhook did not carry one.
func (r *Runner) locateHunk(ctx context.Context, q LineQuestion) (string, string, error) {
	if q.DiffHunk != "" {
		fullHunk, selectedLines := diff.ExtractHunkLines(q.DiffHunk, q.FileName, q.LineStart, q.LineEnd, q.Side)
		return fullHunk, selectedLines, nil
	}

	changes, err := r.provider.GetMergeRequestChanges(ctx, r.url)
	if err != nil {
		return "", "", err
	}
	for _, f := range changes {
		if f.Path == q.FileName {
			fullHunk, selectedLines := diff.ExtractHunkLines(f.Diff, q.FileName, q.LineStart, q.LineEnd, q.Side)
			return fullHunk, selectedLines, nil
		}
	}
	return "", "", nil
}

// sanitizeAnswer keeps a model answer from being mistaken for a command:
// any line starting with "/" gets a leading space.
func sanitizeAnswer(answer string) string {
	sanitized := strings.ReplaceAll(strings.TrimSpace(answer), "\n/", "\n /")
	if strings.HasPrefix(sanitized, "/") {
		sanitized = " " + sanitized
	}
	return sanitized
}
