package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patchpilot/internal/llm"
	"github.com/patchpilot/internal/output"
	"github.com/patchpilot/internal/prompts"
	"github.com/patchpilot/pkg/models"
)

// reviewFixKeys are the schema keys most often mangled in model YAML
// output; the loader re-indents stray lines starting with them before
// parsing.
var reviewFixKeys = []string{
	"estimated_effort_to_review_[1-5]:",
	"security_concerns:",
	"key_issues_to_review:",
	"relevant_file:",
	"issue_header:",
	"issue_content:",
}

// Review generates the reviewer guide comment for the merge request: an
// effort estimate, a security assessment, and the key issues worth human
// attention. When the model answer cannot be parsed the raw text is
// published instead so the invocation still produces feedback.
func (r *Runner) Review(ctx context.Context) (*models.ReviewRun, error) {
	started := time.Now()
	logger := r.logger.Logger()
	logger.Info().Str("url", r.url).Msg("starting review")

	var run *models.ReviewRun
	err := r.withProgress(ctx, "Preparing review...", func() error {
		st, err := r.fetchState(ctx, models.NumberingNew)
		if err != nil {
			return err
		}

		vars := r.commonVars(st)
		vars.ExtraInstructions = r.cfg.Review.ExtraInstructions
		vars.NumMaxFindings = r.cfg.Review.NumMaxFindings
		vars.RequireScore = r.cfg.Review.RequireScoreReview
		vars.RequireTests = r.cfg.Review.RequireTestsReview
		vars.RequireSecurity = r.cfg.Review.RequireSecurityReview

		response, model, err := r.complete(ctx, prompts.Review(vars))
		if err != nil {
			return err
		}

		var parsed models.ReviewResponse
		if err := llm.LoadYAMLInto(response, reviewFixKeys, "review", "security_concerns", &parsed); err != nil {
			logger.Warn().Err(err).Msg("could not parse YAML from model response, publishing raw")
			if err := r.publishAsComment(ctx, output.FormatReviewFallback(response), "review", r.cfg.Review.PersistentComment); err != nil {
				return err
			}
			run = r.report("review", model, st, 1, "raw response published (unparseable)", started)
			return nil
		}

		markdown := output.FormatReview(parsed.Review, r.provider.GetLineLink)
		if err := r.publishAsComment(ctx, markdown, "review", r.cfg.Review.PersistentComment); err != nil {
			return err
		}
		if err := r.publishReviewLabels(ctx, parsed.Review); err != nil {
			return err
		}

		run = r.report("review", model, st, 1, fmt.Sprintf("%d findings", len(parsed.Review.KeyIssues)), started)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Dur("elapsed", time.Since(started)).Msg("review complete")
	return run, nil
}

// publishReviewLabels applies the effort and security labels derived from a
// parsed review.
func (r *Runner) publishReviewLabels(ctx context.Context, review models.Review) error {
	if !r.cfg.General.PublishOutput {
		return nil
	}
	var labels []string

	if r.cfg.Review.EnableEffortLabels {
		if effort := strings.TrimSpace(string(review.EstimatedEffort)); effort != "" {
			labels = append(labels, output.EffortLabel(effort))
		}
	}
	if r.cfg.Review.EnableSecurityLabels && securityFlagged(string(review.SecurityConcerns)) {
		labels = append(labels, output.SecurityLabel)
	}

	if len(labels) == 0 {
		return nil
	}
	r.logger.Logger().Info().Strs("labels", labels).Msg("publishing review labels")
	return r.provider.PublishLabels(ctx, labels)
}

// securityFlagged reports whether the security_concerns answer names an
// actual concern rather than some variant of "no".
func securityFlagged(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "", "no", "none", "false":
		return false
	}
	return true
}
