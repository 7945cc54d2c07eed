// Package review orchestrates the merge request tools. Each tool fetches
// MR state through a platform provider, runs the changed files through the
// diff pipeline, calls the model chain, and publishes formatted output back
// to the platform.
package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/patchpilot/internal/ai"
	"github.com/patchpilot/internal/config"
	"github.com/patchpilot/internal/logging"
	"github.com/patchpilot/internal/output"
	"github.com/patchpilot/internal/pipeline"
	"github.com/patchpilot/internal/prompts"
	"github.com/patchpilot/internal/providers"
	"github.com/patchpilot/internal/redact"
	"github.com/patchpilot/pkg/models"
)

// Completions is the model-call surface the tools depend on. *ai.Client
// implements it; tests substitute scripted fakes.
type Completions interface {
	CompleteWithFallback(ctx context.Context, prompt string, maxTokens int) (string, string, error)
}

// Runner executes tools against a single merge request. Build one per
// invocation with NewRunner and Close it when done.
type Runner struct {
	cfg      *config.Config
	provider providers.Provider
	ai       Completions
	masker   *redact.Masker
	logger   *logging.RunLogger
	runID    string
	url      string
}

// NewRunner binds a runner to one merge request URL: the matching platform
// provider, the configured model chain, and a per-run log file.
func NewRunner(ctx context.Context, cfg *config.Config, prURL string) (*Runner, error) {
	provider, err := NewProvider(ctx, cfg, prURL)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger, err := logging.NewRunLogger(runID)
	if err != nil {
		log.Warn().Err(err).Msg("run log file unavailable, logging to console only")
	}

	var masker *redact.Masker
	if cfg.General.SecretMasking {
		if masker, err = redact.New(); err != nil {
			log.Warn().Err(err).Msg("secret masking unavailable")
		}
	}

	return &Runner{
		cfg:      cfg,
		provider: provider,
		ai:       ai.NewClient(cfg),
		masker:   masker,
		logger:   logger,
		runID:    runID,
		url:      prURL,
	}, nil
}

// RunID returns this runner's unique invocation ID.
func (r *Runner) RunID() string { return r.runID }

// Provider exposes the bound platform provider.
func (r *Runner) Provider() providers.Provider { return r.provider }

// Close finalizes the run log.
func (r *Runner) Close() { r.logger.Close() }

// prState is the merge request snapshot every tool starts from: metadata,
// commit messages, and the processed diff. The raw file changes are kept so
// a tool can re-render the diff under a different numbering mode without a
// second provider round trip.
type prState struct {
	details  *models.MergeRequestDetails
	commits  string
	files    []models.FileChange
	numFiles int
	result   pipeline.Result
	diff     string
}

// fetchState pulls the MR metadata and changed files and runs them through
// the pipeline with the given numbering mode. Missing commit messages are
// not fatal; the prompt section is simply dropped.
func (r *Runner) fetchState(ctx context.Context, numbering models.NumberingMode) (*prState, error) {
	details, err := r.provider.GetMergeRequestDetails(ctx, r.url)
	if err != nil {
		return nil, err
	}

	commits, err := r.provider.GetCommitMessages(ctx)
	if err != nil {
		r.logger.Logger().Warn().Err(err).Msg("commit messages unavailable")
	}

	changes, err := r.provider.GetMergeRequestChanges(ctx, r.url)
	if err != nil {
		return nil, err
	}
	files := make([]models.FileChange, 0, len(changes))
	for _, c := range changes {
		files = append(files, *c)
	}

	pctx := pipeline.FromConfig(r.cfg, numbering)
	res := pipeline.Process(pctx, files)
	r.logger.Logger().Info().
		Int("files", len(files)).
		Int("included", len(res.Compression.Patches)).
		Int("omitted_files", res.Compression.OmittedFiles).
		Int("omitted_hunks", res.Compression.OmittedHunks).
		Msg("diff processed")

	return &prState{
		details:  details,
		commits:  commits,
		files:    files,
		numFiles: len(files),
		result:   res,
		diff:     r.mask(pipeline.Assemble(pctx, res)),
	}, nil
}

// mask scrubs detected secrets from prompt-bound text when enabled.
func (r *Runner) mask(text string) string {
	if r.masker == nil {
		return text
	}
	return r.masker.Mask(text)
}

// commonVars fills the prompt variables shared by every tool. Language
// stays empty: the platforms report repository-wide language statistics,
// not per-PR ones, so the prompts drop the section instead.
func (r *Runner) commonVars(st *prState) prompts.Vars {
	return prompts.Vars{
		Date:           time.Now().Format("2006-01-02"),
		Title:          st.details.Title,
		Branch:         st.details.SourceBranch,
		Description:    st.details.Description,
		CommitMessages: st.commits,
		Diff:           st.diff,
	}
}

// complete sends one prompt through the model chain, recording the prompt
// and response bodies in the run log. Returns the response text and the
// model that produced it.
func (r *Runner) complete(ctx context.Context, prompt prompts.Prompt) (string, string, error) {
	combined := prompt.Combined()
	r.logger.LogPrompt(r.cfg.General.Model, combined)

	response, model, err := r.ai.CompleteWithFallback(ctx, combined, 0)
	if err != nil {
		return "", "", err
	}
	r.logger.LogResponse(model, response)
	return response, model, nil
}

// withProgress posts a short placeholder comment for the duration of fn and
// removes it afterward. Progress failures never fail the run. With output
// publishing disabled no placeholder is posted.
func (r *Runner) withProgress(ctx context.Context, message string, fn func() error) error {
	if !r.cfg.General.PublishOutput {
		return fn()
	}
	id, err := r.provider.PublishComment(ctx, message)
	if err != nil {
		r.logger.Logger().Debug().Err(err).Msg("progress comment not published")
		id = ""
	}

	runErr := fn()

	if id != "" {
		if err := r.provider.RemoveComment(ctx, id); err != nil {
			r.logger.Logger().Warn().Err(err).Str("comment_id", id).Msg("progress comment not removed")
		}
	}
	return runErr
}

// publishAsComment publishes tool output either as the tool's persistent
// comment, located by marker and edited in place, or as a fresh one. With
// output publishing disabled the content goes to stdout instead.
func (r *Runner) publishAsComment(ctx context.Context, content, tool string, persistent bool) error {
	if !r.cfg.General.PublishOutput {
		fmt.Println(content)
		return nil
	}
	if persistent {
		return providers.PublishPersistentComment(ctx, r.provider, content, output.Marker(tool), tool, false)
	}
	_, err := r.provider.PublishComment(ctx, content)
	return err
}

// report assembles the persisted record of a finished tool invocation.
func (r *Runner) report(tool, model string, st *prState, comments int, summary string, started time.Time) *models.ReviewRun {
	run := &models.ReviewRun{
		ID:           r.runID,
		URL:          r.url,
		Tool:         tool,
		Model:        model,
		CommentCount: comments,
		DurationMS:   time.Since(started).Milliseconds(),
		Summary:      summary,
		CreatedAt:    time.Now().UTC(),
	}
	if st != nil {
		run.WasCompressed = st.result.Compression.WasCompressed
		run.OmittedFiles = st.result.Compression.OmittedFiles
		run.OmittedHunks = st.result.Compression.OmittedHunks
	}
	return run
}

// clipSummary bounds free text for the run record's summary column.
func clipSummary(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && text[cut]&0xC0 == 0x80 {
		cut--
	}
	return text[:cut] + "..."
}
