package cmd

import (
	"github.com/urfave/cli/v2"
)

// ReviewCommand returns the review command.
func ReviewCommand() *cli.Command {
	return &cli.Command{
		Name:      "review",
		Usage:     "Review a merge/pull request and post structured feedback",
		Flags:     toolFlags(),
		ArgsUsage: "MR_URL",
		Action:    runReview,
	}
}

func runReview(c *cli.Context) error {
	return runTool(c, "review", "")
}
