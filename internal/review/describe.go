package review

import (
	"context"
	"strings"
	"time"

	"github.com/patchpilot/internal/llm"
	"github.com/patchpilot/internal/output"
	"github.com/patchpilot/internal/prompts"
	"github.com/patchpilot/pkg/models"
)

// describeFileLimit bounds the per-file walkthrough: beyond this many
// changed files the schema drops pr_files and the description covers the
// PR as a whole.
const describeFileLimit = 20

// Describe rewrites the merge request title and description from the diff.
// Depending on configuration the result replaces the PR body directly or is
// posted as a persistent comment, leaving the body untouched.
func (r *Runner) Describe(ctx context.Context) (*models.ReviewRun, error) {
	started := time.Now()
	logger := r.logger.Logger()
	logger.Info().Str("url", r.url).Msg("starting describe")

	var run *models.ReviewRun
	err := r.withProgress(ctx, "Preparing PR description...", func() error {
		st, err := r.fetchState(ctx, models.NumberingNew)
		if err != nil {
			return err
		}

		vars := r.commonVars(st)
		vars.ExtraInstructions = r.cfg.Describe.ExtraInstructions
		vars.IncludeFileSummaries = st.numFiles <= describeFileLimit

		response, model, err := r.complete(ctx, prompts.Describe(vars))
		if err != nil {
			return err
		}

		var parsed models.DescribeResponse
		if err := llm.LoadYAMLInto(response, nil, "type", "pr_files", &parsed); err != nil {
			logger.Warn().Err(err).Msg("could not parse YAML from model response, skipping publish")
			run = r.report("describe", model, st, 0, "description not published (unparseable)", started)
			return nil
		}

		userBody := output.StripGeneratedContent(st.details.Description)
		out := output.FormatDescribe(parsed, st.details.Title, userBody, r.describeOptions(), r.fileStats(st))

		comments := 0
		if r.cfg.Describe.PublishDescription && r.cfg.General.PublishOutput {
			if err := r.provider.PublishDescription(ctx, out.Title, out.Body); err != nil {
				return err
			}
		} else {
			if err := r.publishAsComment(ctx, out.Body, "describe", true); err != nil {
				return err
			}
			comments = 1
		}

		if r.cfg.Describe.PublishLabels && r.cfg.General.PublishOutput && len(out.Labels) > 0 {
			if err := r.provider.PublishLabels(ctx, out.Labels); err != nil {
				return err
			}
		}

		run = r.report("describe", model, st, comments, out.Title, started)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Dur("elapsed", time.Since(started)).Msg("describe complete")
	return run, nil
}

// describeOptions maps the [describe] config section onto formatter options.
func (r *Runner) describeOptions() output.DescribeOptions {
	return output.DescribeOptions{
		GenerateAITitle:        r.cfg.Describe.GenerateAITitle,
		AddOriginalDescription: r.cfg.Describe.AddOriginalDescription,
		TypeSection:            r.cfg.Describe.TypeSection,
		FileTable:              r.cfg.Describe.FileTable,
		CollapsibleFileList:    r.cfg.Describe.CollapsibleFileList,
		CollapsibleThreshold:   r.cfg.Describe.CollapsibleThreshold,
	}
}

// fileStats indexes diff counters and line links for the walkthrough table,
// covering compressed-out files as well as included ones.
func (r *Runner) fileStats(st *prState) map[string]output.FileStats {
	stats := make(map[string]output.FileStats, len(st.result.Compression.Patches)+len(st.result.Compression.Dropped))
	add := func(fp models.FilePatch) {
		key := strings.ToLower(strings.TrimLeft(fp.Path, "/"))
		stats[key] = output.FileStats{
			Plus:  fp.NumPlus,
			Minus: fp.NumMinus,
			Link:  r.provider.GetLineLink(fp.Path, -1, 0),
		}
	}
	for _, fp := range st.result.Compression.Patches {
		add(fp)
	}
	for _, fp := range st.result.Compression.Dropped {
		add(fp)
	}
	return stats
}
