package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/patchpilot/cmd"
	"github.com/patchpilot/internal/logging"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "patchpilot",
		Usage:   "AI code review assistant for GitHub and GitLab merge requests",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "patchpilot.toml",
				EnvVars: []string{"PATCHPILOT_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
				EnvVars: []string{"PATCHPILOT_VERBOSE"},
			},
		},
		Before: func(c *cli.Context) error {
			logging.Setup(c.Bool("verbose"))
			return nil
		},
		Commands: []*cli.Command{
			cmd.ReviewCommand(),
			cmd.DescribeCommand(),
			cmd.ImproveCommand(),
			cmd.AskCommand(),
			cmd.ServeCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
