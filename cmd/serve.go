package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/patchpilot/internal/config"
	"github.com/patchpilot/internal/jobqueue"
	"github.com/patchpilot/internal/server"
	"github.com/patchpilot/internal/store"
)

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the webhook server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "Bind address override",
				EnvVars: []string{"PATCHPILOT_SERVER_HOST"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port override",
				EnvVars: []string{"PATCHPILOT_SERVER_PORT"},
			},
			&cli.BoolFlag{
				Name:    "queue",
				Usage:   "Process webhook work through the database-backed job queue",
				EnvVars: []string{"PATCHPILOT_QUEUE"},
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if host := c.String("host"); host != "" {
		cfg.Server.Host = host
	}
	if port := c.Int("port"); port != 0 {
		cfg.Server.Port = port
	}

	var st server.Store
	var q server.Queue

	// Persistence and the queue are optional: without a reachable database
	// the server reviews inline and keeps no history.
	dsn, dsnErr := store.ResolveDSN(cfg.Database.URL)
	if dsnErr != nil {
		log.Info().Msg("no database configured, review runs will not be persisted")
		if c.Bool("queue") {
			return fmt.Errorf("--queue requires a database: %w", dsnErr)
		}
	} else {
		db, err := store.Open(dsn)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		st = db

		if c.Bool("queue") {
			jq, err := jobqueue.New(c.Context, dsn, cfg, db)
			if err != nil {
				return fmt.Errorf("job queue setup failed: %w", err)
			}
			if err := jq.Start(c.Context); err != nil {
				return fmt.Errorf("job queue start failed: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := jq.Stop(ctx); err != nil {
					log.Warn().Err(err).Msg("job queue did not stop cleanly")
				}
			}()
			q = jq
		}
	}

	srv, err := server.New(cfg, st, q)
	if err != nil {
		return err
	}
	return srv.Start()
}
