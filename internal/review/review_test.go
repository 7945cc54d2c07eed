package review

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewYAML = `review:
  estimated_effort_to_review_[1-5]: |
    3, because the change is small but touches retry logic
  relevant_tests: |
    No
  key_issues_to_review:
    - relevant_file: |
        uploader.go
      issue_header: |
        Possible Bug
      issue_content: |
        The retry loop has no upper bound and can spin forever.
      start_line: 2
      end_line: 2
  security_concerns: |
    No
`

func TestReviewPublishesGuideAndLabels(t *testing.T) {
	fp := newFakeProvider()
	ai := &fakeAI{responses: []string{reviewYAML}}
	r := newTestRunner(t, fp, ai)

	run, err := r.Review(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)

	body := fp.lastPublished(t)
	assert.Contains(t, body, "PR Reviewer Guide")
	assert.Contains(t, body, "Recommended focus areas for review")
	assert.Contains(t, body, "Possible Issue")
	assert.Contains(t, body, "uploader.go")

	// Progress comment went out first and was removed again.
	assert.Equal(t, "Preparing review...", fp.published[0])
	assert.Equal(t, []string{"101"}, fp.removed)

	require.Len(t, fp.labels, 1)
	assert.Equal(t, []string{"Review effort [1-5]: 3"}, fp.labels[0])

	assert.Equal(t, "review", run.Tool)
	assert.Equal(t, "test-model", run.Model)
	assert.Equal(t, 1, run.CommentCount)
	assert.Equal(t, "1 findings", run.Summary)
}

func TestReviewSecurityConcernAddsLabel(t *testing.T) {
	fp := newFakeProvider()
	ai := &fakeAI{responses: []string{
		"review:\n" +
			"  estimated_effort_to_review_[1-5]: |\n    2\n" +
			"  key_issues_to_review: []\n" +
			"  security_concerns: |\n    SQL injection: the query builder concatenates user input.\n",
	}}
	r := newTestRunner(t, fp, ai)

	_, err := r.Review(context.Background())
	require.NoError(t, err)

	require.Len(t, fp.labels, 1)
	assert.Contains(t, fp.labels[0], "Security concern")
}

func TestReviewLabelsDisabled(t *testing.T) {
	fp := newFakeProvider()
	ai := &fakeAI{responses: []string{reviewYAML}}
	r := newTestRunner(t, fp, ai)
	r.cfg.Review.EnableEffortLabels = false
	r.cfg.Review.EnableSecurityLabels = false

	_, err := r.Review(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fp.labels)
}

func TestReviewMalformedResponsePublishesRaw(t *testing.T) {
	fp := newFakeProvider()
	ai := &fakeAI{responses: []string{"Sorry, I cannot analyze this diff."}}
	r := newTestRunner(t, fp, ai)

	run, err := r.Review(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)

	body := fp.lastPublished(t)
	assert.Contains(t, body, "PR Reviewer Guide")
	assert.Contains(t, body, "Sorry, I cannot analyze this diff.")
	assert.Empty(t, fp.labels)
	assert.Equal(t, "raw response published (unparseable)", run.Summary)
}

func TestReviewEmptyDiffStillCallsModel(t *testing.T) {
	fp := newFakeProvider()
	fp.changes = nil
	ai := &fakeAI{responses: []string{reviewYAML}}
	r := newTestRunner(t, fp, ai)

	run, err := r.Review(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Len(t, ai.prompts, 1)
	assert.Contains(t, fp.lastPublished(t), "PR Reviewer Guide")
}

func TestReviewModelFailureRemovesProgressComment(t *testing.T) {
	fp := newFakeProvider()
	ai := &fakeAI{errs: []error{errors.New("all models failed")}}
	r := newTestRunner(t, fp, ai)

	run, err := r.Review(context.Background())
	require.Error(t, err)
	assert.Nil(t, run)

	// Only the progress comment went out, and it was cleaned up.
	require.Len(t, fp.published, 1)
	assert.Equal(t, "Preparing review...", fp.published[0])
	assert.Equal(t, []string{"101"}, fp.removed)
}

func TestSecurityFlagged(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"No", false},
		{" none ", false},
		{"FALSE", false},
		{"Possible SQL injection", true},
		{"No known CVEs, but risky.", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, securityFlagged(tc.value), "value %q", tc.value)
	}
}
