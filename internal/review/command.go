package review

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/patchpilot/internal/ai"
	"github.com/patchpilot/internal/config"
	"github.com/patchpilot/pkg/models"
)

// Args carries the parsed arguments of a comment command: the --key=value
// config overrides plus the remaining free text.
type Args struct {
	Overrides map[string]string
	Text      string
}

// Keys that comment commands may never override. A key is rejected when the
// whole key or any dot-separated segment matches an entry.
var forbiddenOverrideKeys = []string{
	"api_key",
	"base_url",
	"url",
	"token",
	"user_token",
	"app_id",
	"private_key_path",
	"webhook_secret",
	"admin_token_hash",
	"deployment_type",
}

func forbiddenOverride(key string) bool {
	for _, segment := range strings.Split(key, ".") {
		for _, forbidden := range forbiddenOverrideKeys {
			if segment == forbidden {
				return true
			}
		}
	}
	return false
}

// ParseCommand splits a comment command like
//
//	/review --config.model=o4-mini please be thorough
//
// into the command name and its arguments. Parts shaped like "--key=value"
// become config overrides, with "__" accepted in place of "."; everything
// else is collected into Args.Text, which /ask and /ask_line use as the
// question. Security-sensitive keys are dropped with a warning.
func ParseCommand(input string) (string, Args) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return "", Args{}
	}
	command := strings.ToLower(strings.TrimLeft(fields[0], "/"))

	args := Args{Overrides: map[string]string{}}
	var text []string
	for _, part := range fields[1:] {
		if !strings.HasPrefix(part, "-") || !strings.Contains(part, "=") {
			text = append(text, part)
			continue
		}
		stripped := strings.ReplaceAll(strings.TrimLeft(part, "-"), "__", ".")
		key, value, _ := strings.Cut(stripped, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if forbiddenOverride(key) {
			log.Warn().Str("key", key).Msg("dropping forbidden override from comment command")
			continue
		}
		args.Overrides[key] = value
	}
	args.Text = strings.Join(text, " ")
	return command, args
}

func resolveCommand(name string) string {
	switch name {
	case "review", "auto_review", "review_pr":
		return "review"
	case "describe", "describe_pr":
		return "describe"
	case "improve", "improve_code":
		return "improve"
	case "ask":
		return "ask"
	case "ask_line":
		return "ask_line"
	}
	return ""
}

// KnownCommand reports whether name resolves to a tool, aliases included.
// Webhook handlers use it to reject unknown commands before any provider
// work happens.
func KnownCommand(name string) bool {
	return resolveCommand(name) != ""
}

// Dispatch runs a parsed command against the runner. Config overrides are
// layered onto the base configuration for this invocation only; if the
// overlay fails to load the base configuration is used instead.
func Dispatch(ctx context.Context, r *Runner, command string, args Args) (*models.ReviewRun, error) {
	resolved := resolveCommand(command)
	if resolved == "" {
		return nil, fmt.Errorf("unknown command: '%s'", command)
	}

	if overlay := args.OverlayTOML(); overlay != "" {
		layered, err := r.cfg.Layer(overlay)
		if err != nil {
			r.logger.Logger().Warn().Err(err).Msg("command overrides rejected, using base configuration")
		} else {
			r = r.withConfig(layered)
		}
	}

	switch resolved {
	case "review":
		return r.Review(ctx)
	case "describe":
		return r.Describe(ctx)
	case "improve":
		return r.Improve(ctx)
	case "ask":
		return r.Ask(ctx, args.Text)
	case "ask_line":
		return r.AskLine(ctx, lineQuestionFrom(args))
	}
	return nil, fmt.Errorf("unknown command: '%s'", command)
}

// withConfig returns a copy of the runner bound to cfg. The model chain is
// rebuilt only when it is the real client, so injected test doubles stay in
// place.
func (r *Runner) withConfig(cfg *config.Config) *Runner {
	clone := *r
	clone.cfg = cfg
	if _, ok := clone.ai.(*ai.Client); ok {
		clone.ai = ai.NewClient(cfg)
	}
	return &clone
}

// OverlayTOML renders the dotted overrides ("section.key=value") as a TOML
// document for config.Layer. Values that parse as booleans or numbers are
// written bare, everything else quoted. Keys without a section are tool
// arguments rather than config and are skipped.
func (a Args) OverlayTOML() string {
	sections := map[string][]string{}
	for key, value := range a.Overrides {
		section, name, ok := strings.Cut(key, ".")
		if !ok {
			continue
		}
		sections[section] = append(sections[section], fmt.Sprintf("%s = %s", name, tomlValue(value)))
	}
	if len(sections) == 0 {
		return ""
	}

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		lines := sections[name]
		sort.Strings(lines)
		fmt.Fprintf(&b, "[%s]\n", name)
		for _, line := range lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func tomlValue(v string) string {
	switch strings.ToLower(v) {
	case "true", "false":
		return strings.ToLower(v)
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	return strconv.Quote(v)
}

// LineQuestion is the input to AskLine: a free-text question anchored to a
// line range in one file of the diff.
type LineQuestion struct {
	Question  string
	FileName  string
	LineStart int
	LineEnd   int
	Side      string
	CommentID int64
	DiffHunk  string
}

// lineQuestionFrom maps command arguments onto a LineQuestion, applying the
// review-comment defaults for missing values.
func lineQuestionFrom(args Args) LineQuestion {
	q := LineQuestion{
		Question: args.Text,
		FileName: args.Overrides["file_name"],
		Side:     args.Overrides["side"],
		DiffHunk: args.Overrides["diff_hunk"],
	}
	q.LineStart, _ = strconv.Atoi(args.Overrides["line_start"])
	q.LineEnd, _ = strconv.Atoi(args.Overrides["line_end"])
	q.CommentID, _ = strconv.ParseInt(args.Overrides["comment_id"], 10, 64)
	if q.LineEnd == 0 {
		q.LineEnd = q.LineStart
	}
	if q.Side == "" {
		q.Side = "RIGHT"
	}
	return q
}
