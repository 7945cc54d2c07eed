package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/patchpilot/internal/compress"
	"github.com/patchpilot/internal/config"
	"github.com/patchpilot/internal/diff"
	"github.com/patchpilot/internal/filter"
	"github.com/patchpilot/internal/tokens"
	"github.com/patchpilot/pkg/models"
)

// Tokenizer counts and clips prompt text. *tokens.Estimator satisfies it.
type Tokenizer interface {
	Count(text string) int
	Clip(text string, maxTokens int, addDots bool) string
}

// Context carries one invocation's immutable settings: precompiled ignore
// patterns, context-extension knobs, the resolved model capability and the
// derived token budgets. Build it once per request with FromConfig; it is
// safe to share between concurrent invocations.
type Context struct {
	Ignore              *filter.Matcher
	ExtraLinesBefore    int
	ExtraLinesAfter     int
	ExtensionSkipTypes  []string
	AllowDynamicContext bool
	MaxDynamicLines     int
	Model               tokens.ModelSpec
	Budget              models.TokenBudget
	// HardLimit is the absolute token ceiling for the assembled diff,
	// reserving only the hard output buffer. Appended file lists may spend
	// the span between Budget.Limit and HardLimit.
	HardLimit int
	Numbering models.NumberingMode
	Counter   Tokenizer
}

// FromConfig resolves configuration into a pipeline context: patterns are
// compiled, the model's context window is looked up and the budgets derived
// by reserving the configured output buffers.
func FromConfig(cfg *config.Config, numbering models.NumberingMode) Context {
	spec := tokens.Resolve(cfg.General.Model, cfg.General.MaxModelTokens)

	limit := spec.MaxTokens - cfg.General.OutputBufferTokensSoft
	if limit < 0 {
		limit = 0
	}
	hard := spec.MaxTokens - cfg.General.OutputBufferTokensHard
	if hard < limit {
		hard = limit
	}

	return Context{
		Ignore:              filter.NewMatcher(cfg.Ignore.Glob, cfg.Ignore.Regex, cfg.Extensions.Allow),
		ExtraLinesBefore:    cfg.General.PatchExtraLinesBefore,
		ExtraLinesAfter:     cfg.General.PatchExtraLinesAfter,
		ExtensionSkipTypes:  cfg.General.PatchExtensionSkipTypes,
		AllowDynamicContext: cfg.General.AllowDynamicContext,
		MaxDynamicLines:     cfg.General.MaxExtraLinesDynamicContext,
		Model:               spec,
		Budget:              models.TokenBudget{Limit: limit, ModelID: spec.ID},
		HardLimit:           hard,
		Numbering:           numbering,
		Counter:             tokens.NewEstimator(cfg.General.TokenEstimateFactor),
	}
}

// Exclusion records one file that never reached the model, and why.
type Exclusion struct {
	Path   string
	Reason string
	Err    error
}

// Result is one pipeline invocation's output: the budget-planned patches
// plus the files excluded along the way.
type Result struct {
	Compression models.CompressionResult
	Excluded    []Exclusion
	TotalFiles  int
}

// Patches returns the surviving per-file patches in their original order.
func (r Result) Patches() []models.FilePatch { return r.Compression.Patches }

// Empty reports whether nothing survived filtering and planning. The caller
// decides whether that is a user-visible message or a silent stop.
func (r Result) Empty() bool { return len(r.Compression.Patches) == 0 }

// Process runs one snapshot of changed files through filter, parse, context
// extension and budget planning. Files are independent units of failure: a
// malformed diff excludes that file and the rest continue.
func Process(pctx Context, changes []models.FileChange) Result {
	res := Result{TotalFiles: len(changes)}

	var patches []models.FilePatch
	for _, change := range changes {
		decision := pctx.Ignore.Decide(change.Path, []byte(change.Diff))
		if !decision.Included {
			log.Debug().Str("file", change.Path).Str("reason", decision.Reason.String()).Msg("file filtered out")
			res.Excluded = append(res.Excluded, Exclusion{Path: change.Path, Reason: decision.Reason.String()})
			continue
		}

		fp, err := parseChange(change, pctx.Numbering)
		if err != nil {
			log.Warn().Str("file", change.Path).Err(err).Msg("dropping file with malformed diff")
			res.Excluded = append(res.Excluded, Exclusion{Path: change.Path, Reason: "parse_error", Err: err})
			continue
		}
		if fp.IsBinary {
			res.Excluded = append(res.Excluded, Exclusion{Path: change.Path, Reason: models.FilterBinary.String()})
			continue
		}

		fp.Hunks = extendChange(pctx, change, fp)
		patches = append(patches, fp)
	}

	res.Compression = compress.Plan(patches, pctx.Budget, pctx.Counter)
	return res
}

func parseChange(change models.FileChange, mode models.NumberingMode) (models.FilePatch, error) {
	oldPath := change.OldPath
	if oldPath == "" && change.EditType != models.EditAdded {
		oldPath = change.Path
	}

	fp, err := diff.Parse(change.Diff, oldPath, change.Path, mode)
	if err != nil {
		return models.FilePatch{}, err
	}
	// The provider knows the edit type authoritatively; the diff text is a
	// fallback.
	if change.EditType != "" && change.EditType != models.EditUnknown {
		fp.EditType = change.EditType
	}
	return fp, nil
}

func extendChange(pctx Context, change models.FileChange, fp models.FilePatch) []models.Hunk {
	if change.NewContent == "" || fp.EditType == models.EditDeleted {
		return fp.Hunks
	}
	ext := strings.ToLower(filepath.Ext(change.Path))
	for _, skip := range pctx.ExtensionSkipTypes {
		if ext == strings.ToLower(skip) {
			return fp.Hunks
		}
	}

	if pctx.AllowDynamicContext {
		return diff.ExtendDynamic(fp.Hunks, change.NewContent, pctx.ExtraLinesBefore, pctx.ExtraLinesAfter, pctx.MaxDynamicLines)
	}
	return diff.Extend(fp.Hunks, change.NewContent, pctx.ExtraLinesBefore, pctx.ExtraLinesAfter)
}
