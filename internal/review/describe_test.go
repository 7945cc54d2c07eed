package review

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchpilot/internal/output"
	"github.com/patchpilot/pkg/models"
)

const describeYAML = `type:
  - Enhancement
title: |
  Add bounded retry to uploader
description: |
  Adds a retry wrapper with an upper bound to the uploader.
pr_files:
  - filename: |
      uploader.go
    changes_title: |
      Add retry wrapper
    changes_summary: |
      Wraps send in a bounded retry loop.
    label: |
      enhancement
`

func TestDescribePublishesPersistentComment(t *testing.T) {
	fp := newFakeProvider()
	ai := &fakeAI{responses: []string{describeYAML}}
	r := newTestRunner(t, fp, ai)

	run, err := r.Describe(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)

	// Default mode leaves the PR body alone and posts a comment instead.
	assert.Zero(t, fp.descCalls)
	body := fp.lastPublished(t)
	assert.Contains(t, body, output.Marker("describe"))
	assert.Contains(t, body, "### **Description**")
	assert.Contains(t, body, "File Walkthrough")
	assert.Contains(t, body, "+1/-0")

	assert.Equal(t, "describe", run.Tool)
	assert.Equal(t, 1, run.CommentCount)
	assert.Equal(t, "Add retry to uploader", run.Summary)
}

func TestDescribeEditsBodyWhenConfigured(t *testing.T) {
	fp := newFakeProvider()
	ai := &fakeAI{responses: []string{describeYAML}}
	r := newTestRunner(t, fp, ai)
	r.cfg.Describe.PublishDescription = true

	run, err := r.Describe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, fp.descCalls)
	assert.Equal(t, "Add retry to uploader", fp.descTitle)
	assert.Contains(t, fp.descBody, output.Marker("describe"))
	// Only the progress comment went out.
	require.Len(t, fp.published, 1)
	assert.Equal(t, "Preparing PR description...", fp.published[0])
	assert.Zero(t, run.CommentCount)
}

func TestDescribeAITitleWhenEnabled(t *testing.T) {
	fp := newFakeProvider()
	ai := &fakeAI{responses: []string{describeYAML}}
	r := newTestRunner(t, fp, ai)
	r.cfg.Describe.PublishDescription = true
	r.cfg.Describe.GenerateAITitle = true

	_, err := r.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Add bounded retry to uploader", fp.descTitle)
}

func TestDescribeRoundTripPreservesUserDescription(t *testing.T) {
	fp := newFakeProvider()
	fp.details.Description = "User wrote this.\n\n---\n\n" + output.Marker("describe") + "\n### **PR Type**\nEnhancement\n"
	ai := &fakeAI{responses: []string{describeYAML}}
	r := newTestRunner(t, fp, ai)

	_, err := r.Describe(context.Background())
	require.NoError(t, err)

	body := fp.lastPublished(t)
	userPos := strings.Index(body, "User wrote this.")
	markerPos := strings.Index(body, output.Marker("describe"))
	require.GreaterOrEqual(t, userPos, 0)
	require.GreaterOrEqual(t, markerPos, 0)
	assert.Less(t, userPos, markerPos, "user text must come before the marker")
	assert.Equal(t, 1, strings.Count(body, output.Marker("describe")), "previous generated content must not accumulate")
}

func TestDescribeMalformedResponseSkipsPublish(t *testing.T) {
	fp := newFakeProvider()
	ai := &fakeAI{responses: []string{"I could not structure the description."}}
	r := newTestRunner(t, fp, ai)

	run, err := r.Describe(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)

	// Only the progress comment went out, and it was removed again.
	require.Len(t, fp.published, 1)
	assert.Equal(t, []string{"101"}, fp.removed)
	assert.Zero(t, fp.descCalls)
	assert.Equal(t, "description not published (unparseable)", run.Summary)
}

func TestDescribeLabelsFromTypeWhenEnabled(t *testing.T) {
	fp := newFakeProvider()
	ai := &fakeAI{responses: []string{describeYAML}}
	r := newTestRunner(t, fp, ai)
	r.cfg.Describe.PublishLabels = true

	_, err := r.Describe(context.Background())
	require.NoError(t, err)

	require.Len(t, fp.labels, 1)
	assert.Equal(t, []string{"Enhancement"}, fp.labels[0])
}

func TestDescribeLargePRDropsFileSummaries(t *testing.T) {
	fp := newFakeProvider()
	fp.changes = nil
	for i := 0; i < 21; i++ {
		fp.changes = append(fp.changes, &models.FileChange{
			Path:     fmt.Sprintf("pkg/f%02d.go", i),
			Diff:     "@@ -1,1 +1,2 @@\n old\n+new\n",
			EditType: models.EditModified,
		})
	}
	ai := &fakeAI{responses: []string{
		"type:\n  - Enhancement\ntitle: |\n  Wide refactor\ndescription: |\n  Touches many files.\n",
	}}
	r := newTestRunner(t, fp, ai)

	_, err := r.Describe(context.Background())
	require.NoError(t, err)

	require.Len(t, ai.prompts, 1)
	assert.NotContains(t, ai.prompts[0], "pr_files:")
}
