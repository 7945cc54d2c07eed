package cmd

import (
	"github.com/urfave/cli/v2"
)

// DescribeCommand returns the describe command.
func DescribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Generate a title, type and summary for a merge/pull request",
		Flags:     toolFlags(),
		ArgsUsage: "MR_URL",
		Action:    runDescribe,
	}
}

func runDescribe(c *cli.Context) error {
	return runTool(c, "describe", "")
}
