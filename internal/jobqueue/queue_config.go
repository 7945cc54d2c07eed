/*
Package jobqueue configuration. All tunable parameters for the review job
queue live in this file, read from the [queue] section.

## Quick Configuration Reference:

### Performance Tuning:
- Increase MaxWorkers for higher throughput (more concurrent reviews). Each
  worker holds one model conversation and one provider session, so the API
  rate limits of both are the real ceiling.
- Lower MaxWorkers to reduce database connection usage.

### Reliability Tuning:
- MaxRetries bounds attempts per batch. Completed commands post their
  comments before the batch is marked done, so retried batches can repeat
  already-posted persistent comments at most once per tool.
- JobTimeout must cover the slowest expected review, including model calls
  on a compressed multi-file diff.

## Monitoring and Debugging:
- Failed jobs retain error information in the river_job table.
- Completed runs are stored in the review_runs table when a store is wired.
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"

	"github.com/patchpilot/internal/config"
)

// QueueConfig holds the tunable parameters for the review queue.
type QueueConfig struct {
	// MaxWorkers is the number of concurrent review jobs (default: 4).
	MaxWorkers int

	// MaxRetries is the maximum attempts per job before River discards it
	// (default: 3).
	MaxRetries int

	// JobTimeout is the maximum time a single command batch can run
	// (default: 10 minutes).
	JobTimeout time.Duration
}

// QueueConfigFrom reads the [queue] section. Unset or out-of-range values
// fall back to the defaults above.
func QueueConfigFrom(cfg *config.Config) *QueueConfig {
	qc := &QueueConfig{
		MaxWorkers: cfg.Queue.MaxWorkers,
		MaxRetries: cfg.Queue.MaxRetries,
		JobTimeout: time.Duration(cfg.Queue.JobTimeoutSeconds) * time.Second,
	}
	if qc.MaxWorkers < 1 {
		qc.MaxWorkers = 4
	}
	if qc.MaxRetries < 1 {
		qc.MaxRetries = 3
	}
	if qc.JobTimeout <= 0 {
		qc.JobTimeout = 10 * time.Minute
	}
	return qc
}

// RiverQueueConfig converts our config to River's queue configuration
// format.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
