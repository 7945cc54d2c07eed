package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
)

// AskCommand returns the ask command.
func AskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a free-form question about a merge/pull request",
		Flags:     toolFlags(),
		ArgsUsage: "MR_URL QUESTION...",
		Action:    runAsk,
	}
}

func runAsk(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: ask MR_URL QUESTION")
	}
	question := strings.Join(c.Args().Slice()[1:], " ")
	return runTool(c, "ask", question)
}
