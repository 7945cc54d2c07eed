// Package cmd holds one CLI command per file. Every tool command delegates
// to the same runner path the webhook server uses.
package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/patchpilot/internal/config"
	"github.com/patchpilot/internal/review"
)

// toolTimeout bounds one command-line tool invocation, model calls
// included.
const toolTimeout = 15 * time.Minute

// toolFlags are shared by the review, describe, improve and ask commands.
func toolFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "dry-run",
			Aliases: []string{"d"},
			Usage:   "Print output to stdout instead of posting to the platform",
		},
		&cli.StringSliceFlag{
			Name:    "set",
			Aliases: []string{"s"},
			Usage:   "Override a configuration `KEY=VALUE` for this run (repeatable)",
		},
	}
}

// loadToolConfig loads and validates the configuration, applying the
// dry-run flag.
func loadToolConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Bool("dry-run") {
		cfg.General.PublishOutput = false
	}
	return cfg, nil
}

// parseOverrides turns repeated --set KEY=VALUE flags into command
// overrides, layered the same way comment-command overrides are.
func parseOverrides(pairs []string) (map[string]string, error) {
	overrides := map[string]string{}
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set value %q, expected KEY=VALUE", kv)
		}
		overrides[strings.ToLower(strings.TrimSpace(key))] = value
	}
	return overrides, nil
}

// runTool executes one tool against the merge request URL in the first
// positional argument.
func runTool(c *cli.Context, command, text string) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: merge request URL")
	}
	prURL := c.Args().Get(0)

	cfg, err := loadToolConfig(c)
	if err != nil {
		return err
	}
	overrides, err := parseOverrides(c.StringSlice("set"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()

	runner, err := review.NewRunner(ctx, cfg, prURL)
	if err != nil {
		return err
	}
	defer runner.Close()

	run, err := review.Dispatch(ctx, runner, command, review.Args{
		Overrides: overrides,
		Text:      text,
	})
	if err != nil {
		return err
	}

	fmt.Printf("/%s completed for %s (model: %s, comments: %d, %.1fs)\n",
		run.Tool, prURL, run.Model, run.CommentCount, float64(run.DurationMS)/1000)
	return nil
}
