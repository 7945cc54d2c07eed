/*
Package jobqueue runs webhook-triggered review work through a River job
queue backed by PostgreSQL.

Inline processing is fine for a single busy repository, but a burst of
merge request activity across many projects piles model calls onto one
process with no memory of what was in flight when it crashed. Queued jobs
survive restarts and are retried with backoff.

For configuration options, retry policies, and tuning parameters, see
queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/patchpilot/internal/config"
	"github.com/patchpilot/internal/review"
	"github.com/patchpilot/pkg/models"
)

// RunStore persists completed runs. Satisfied by *store.Store.
type RunStore interface {
	Save(ctx context.Context, run *models.ReviewRun) error
}

// ReviewJobArgs is one webhook-triggered command batch for a merge request.
type ReviewJobArgs struct {
	URL      string   `json:"url"`
	Commands []string `json:"commands"`
	Provider string   `json:"provider"`
	ReactTo  int64    `json:"react_to,omitempty"`
}

// Kind returns the job kind for River.
func (ReviewJobArgs) Kind() string {
	return "review_run"
}

// ReviewWorker executes queued command batches.
type ReviewWorker struct {
	river.WorkerDefaults[ReviewJobArgs]
	cfg    *config.Config
	store  RunStore
	config *QueueConfig
}

// Timeout bounds a single job, model calls included.
func (w *ReviewWorker) Timeout(*river.Job[ReviewJobArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work runs every command in the batch. A batch where no command completes
// returns an error so River retries it; partial success is final, since
// completed commands have already posted their comments.
func (w *ReviewWorker) Work(ctx context.Context, job *river.Job[ReviewJobArgs]) error {
	args := job.Args
	log.Info().
		Str("url", args.URL).
		Strs("commands", args.Commands).
		Str("provider", args.Provider).
		Int("attempt", job.Attempt).
		Msg("running queued review job")

	runs := review.ExecuteCommands(ctx, w.cfg, args.URL, args.Commands, args.ReactTo)

	if w.store != nil {
		for _, run := range runs {
			if err := w.store.Save(ctx, run); err != nil {
				log.Warn().Err(err).Str("run_id", run.ID).Msg("queued run not persisted")
			}
		}
	}

	if len(runs) == 0 {
		return fmt.Errorf("no command completed for %s", args.URL)
	}
	return nil
}

// JobQueue manages the River client and its connection pool.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// New connects to PostgreSQL, applies River's schema migrations, and builds
// the client with the review worker registered. store may be nil, in which
// case queued runs are executed but not recorded.
func New(ctx context.Context, databaseURL string, cfg *config.Config, store RunStore) (*JobQueue, error) {
	qc := QueueConfigFrom(cfg)

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: connection pool: %w", err)
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("jobqueue: migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("jobqueue: schema migration: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &ReviewWorker{cfg: cfg, store: store, config: qc})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:      qc.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: qc.MaxRetries,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("jobqueue: river client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: qc,
	}, nil
}

// Start begins processing queued jobs.
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop drains running jobs and closes the connection pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// EnqueueReview queues a command batch for a merge request. This is the
// server's Queue implementation.
func (jq *JobQueue) EnqueueReview(ctx context.Context, url string, commands []string, provider string, reactTo int64) error {
	args := ReviewJobArgs{
		URL:      url,
		Commands: commands,
		Provider: provider,
		ReactTo:  reactTo,
	}
	if _, err := jq.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("jobqueue: insert review job: %w", err)
	}
	log.Debug().Str("url", url).Str("provider", provider).Msg("review job inserted")
	return nil
}
