package review

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/patchpilot/internal/config"
	"github.com/patchpilot/pkg/models"
)

// ExecuteCommands runs each command in order against the merge request at
// prURL, building a fresh Runner per command so one command's overrides never
// leak into the next. A failing command is logged and skipped rather than
// aborting the batch; the returned slice holds only the runs that completed.
//
// When reactTo is a nonzero comment ID, an eyes reaction acknowledges that
// comment before the first command runs. The reaction is best effort and is
// left on the comment.
func ExecuteCommands(ctx context.Context, cfg *config.Config, prURL string, commands []string, reactTo int64) []*models.ReviewRun {
	var runs []*models.ReviewRun
	reacted := false

	for _, input := range commands {
		command, args := ParseCommand(input)
		if !KnownCommand(command) {
			log.Warn().Str("command", command).Str("url", prURL).Msg("skipping unknown command")
			continue
		}

		runner, err := NewRunner(ctx, cfg, prURL)
		if err != nil {
			log.Error().Err(err).Str("url", prURL).Str("command", command).Msg("runner setup failed")
			continue
		}

		if reactTo != 0 && !reacted {
			reacted = true
			if _, err := runner.Provider().AddReaction(ctx, reactTo, "eyes"); err != nil {
				log.Debug().Err(err).Int64("comment_id", reactTo).Msg("eyes reaction not added")
			}
		}

		run, err := Dispatch(ctx, runner, command, args)
		runner.Close()
		if err != nil {
			log.Error().Err(err).Str("command", command).Str("url", prURL).Msg("command failed")
			continue
		}
		if run != nil {
			runs = append(runs, run)
		}
	}
	return runs
}
