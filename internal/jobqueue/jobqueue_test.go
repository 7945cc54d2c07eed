package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchpilot/internal/config"
	"github.com/patchpilot/pkg/models"
)

type recordingStore struct {
	saved []*models.ReviewRun
}

func (r *recordingStore) Save(_ context.Context, run *models.ReviewRun) error {
	r.saved = append(r.saved, run)
	return nil
}

func TestReviewJobArgsKind(t *testing.T) {
	assert.Equal(t, "review_run", ReviewJobArgs{}.Kind())
}

func TestQueueConfigDefaults(t *testing.T) {
	qc := QueueConfigFrom(&config.Config{})
	assert.Equal(t, 4, qc.MaxWorkers)
	assert.Equal(t, 3, qc.MaxRetries)
	assert.Equal(t, 10*time.Minute, qc.JobTimeout)
}

func TestQueueConfigFromSettings(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Queue.MaxWorkers = 8
	cfg.Queue.MaxRetries = 5
	cfg.Queue.JobTimeoutSeconds = 120

	qc := QueueConfigFrom(cfg)
	assert.Equal(t, 8, qc.MaxWorkers)
	assert.Equal(t, 5, qc.MaxRetries)
	assert.Equal(t, 2*time.Minute, qc.JobTimeout)
}

func TestRiverQueueConfig(t *testing.T) {
	qc := &QueueConfig{MaxWorkers: 7}
	rc := qc.RiverQueueConfig()
	require.Contains(t, rc, river.QueueDefault)
	assert.Equal(t, 7, rc[river.QueueDefault].MaxWorkers)
}

func TestReviewWorkerTimeout(t *testing.T) {
	w := &ReviewWorker{config: &QueueConfig{JobTimeout: 3 * time.Minute}}
	assert.Equal(t, 3*time.Minute, w.Timeout(nil))
}

func TestReviewWorkerFailsWhenNoCommandCompletes(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	store := &recordingStore{}
	w := &ReviewWorker{cfg: cfg, store: store, config: QueueConfigFrom(cfg)}

	job := &river.Job[ReviewJobArgs]{
		JobRow: &rivertype.JobRow{Attempt: 1},
		Args: ReviewJobArgs{
			URL:      "https://bitbucket.org/acme/widgets/pull-requests/1",
			Commands: []string{"/review"},
			Provider: "bitbucket",
		},
	}

	err = w.Work(context.Background(), job)
	assert.Error(t, err, "a batch with no completed command must be retried")
	assert.Empty(t, store.saved)
}
