package cmd

import (
	"github.com/urfave/cli/v2"
)

// ImproveCommand returns the improve command.
func ImproveCommand() *cli.Command {
	return &cli.Command{
		Name:      "improve",
		Usage:     "Suggest code improvements for a merge/pull request",
		Flags:     toolFlags(),
		ArgsUsage: "MR_URL",
		Action:    runImprove,
	}
}

func runImprove(c *cli.Context) error {
	return runTool(c, "improve", "")
}
