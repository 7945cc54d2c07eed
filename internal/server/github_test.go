package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchpilot/internal/config"
	"github.com/patchpilot/internal/output"
	"github.com/patchpilot/pkg/models"
)

type runCall struct {
	url      string
	commands []string
	reactTo  int64
}

// runRecorder stands in for ExecuteCommands and records every batch.
type runRecorder struct {
	mu    sync.Mutex
	calls []runCall
}

func (r *runRecorder) run(_ context.Context, _ *config.Config, prURL string, commands []string, reactTo int64) []*models.ReviewRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, runCall{url: prURL, commands: commands, reactTo: reactTo})
	return []*models.ReviewRun{{ID: fmt.Sprintf("run-%d", len(r.calls)), URL: prURL, Tool: "review"}}
}

func (r *runRecorder) snapshot() []runCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runCall(nil), r.calls...)
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) (*Server, *runRecorder) {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.GitHub.WebhookSecret = "test-secret"
	cfg.GitLab.WebhookSecret = "gitlab-secret"
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(cfg, nil, nil)
	require.NoError(t, err)

	rec := &runRecorder{}
	s.run = rec.run
	return s, rec
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyGitHubSignatureValid(t *testing.T) {
	body := []byte("test payload")
	assert.True(t, verifyGitHubSignature(body, "mysecret", signBody("mysecret", body)))
}

func TestVerifyGitHubSignatureInvalid(t *testing.T) {
	body := []byte("test payload")
	bad := "sha256=0000000000000000000000000000000000000000000000000000000000000000"
	assert.False(t, verifyGitHubSignature(body, "mysecret", bad))
}

func TestVerifyGitHubSignatureMissingPrefix(t *testing.T) {
	assert.False(t, verifyGitHubSignature([]byte("test payload"), "mysecret", "invalid"))
}

func TestVerifyGitHubSignatureWrongSecret(t *testing.T) {
	body := []byte("test payload")
	assert.False(t, verifyGitHubSignature(body, "mysecret", signBody("othersecret", body)))
}

// prPayload builds an actionable pull_request event.
func prPayload(action string) *githubPayload {
	return &githubPayload{
		Action:     action,
		Sender:     githubUser{Login: "dev", Type: "User"},
		Repository: githubRepository{FullName: "acme/widgets"},
		PullRequest: &githubPullRequest{
			HTMLURL:   "https://github.com/acme/widgets/pull/7",
			Title:     "Add retry to uploader",
			State:     "open",
			CreatedAt: "2025-08-01T10:00:00Z",
			UpdatedAt: "2025-08-02T11:00:00Z",
			User:      githubUser{Login: "dev"},
			Head:      githubRef{Ref: "feat/retry"},
			Base:      githubRef{Ref: "main"},
		},
	}
}

func TestPullRequestOpenedRunsPRCommands(t *testing.T) {
	s, rec := newTestServer(t, nil)

	s.handlePullRequestEvent(prPayload("opened"))

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", calls[0].url)
	assert.Equal(t, []string{"/describe", "/review"}, calls[0].commands)
	assert.Zero(t, calls[0].reactTo)
}

func TestPullRequestUnhandledActionIgnored(t *testing.T) {
	s, rec := newTestServer(t, nil)

	s.handlePullRequestEvent(prPayload("labeled"))
	assert.Empty(t, rec.snapshot())
}

func TestPullRequestBotSenderIgnored(t *testing.T) {
	s, rec := newTestServer(t, nil)

	p := prPayload("opened")
	p.Sender = githubUser{Login: "dependabot[bot]", Type: "Bot"}
	s.handlePullRequestEvent(p)
	assert.Empty(t, rec.snapshot())
}

func TestPullRequestBotSenderHandledWhenAllowed(t *testing.T) {
	s, rec := newTestServer(t, func(cfg *config.Config) {
		cfg.GitHub.IgnoreBotPRs = false
	})

	p := prPayload("opened")
	p.Sender = githubUser{Login: "dependabot[bot]", Type: "Bot"}
	s.handlePullRequestEvent(p)
	assert.Len(t, rec.snapshot(), 1)
}

func TestPullRequestDraftSkipped(t *testing.T) {
	s, rec := newTestServer(t, nil)

	p := prPayload("opened")
	p.PullRequest.Draft = true
	s.handlePullRequestEvent(p)
	assert.Empty(t, rec.snapshot())
}

func TestPullRequestNonOpenSkipped(t *testing.T) {
	s, rec := newTestServer(t, nil)

	p := prPayload("reopened")
	p.PullRequest.State = "closed"
	s.handlePullRequestEvent(p)
	assert.Empty(t, rec.snapshot())
}

func TestPullRequestClosedDoesNotRunCommands(t *testing.T) {
	s, rec := newTestServer(t, nil)

	p := prPayload("closed")
	p.PullRequest.State = "closed"
	p.PullRequest.Merged = true
	p.PullRequest.MergedAt = "2025-08-03T09:00:00Z"
	s.handlePullRequestEvent(p)
	assert.Empty(t, rec.snapshot())
}

func TestPullRequestDuplicateCreationEventSkipped(t *testing.T) {
	s, rec := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.HandlePushTrigger = true
	})

	// review_requested and synchronize fire alongside the opened event
	// with identical timestamps; only the opened event should run.
	for _, action := range []string{"review_requested", "synchronize"} {
		p := prPayload(action)
		p.PullRequest.UpdatedAt = p.PullRequest.CreatedAt
		s.handlePullRequestEvent(p)
	}
	assert.Empty(t, rec.snapshot())
}

func TestPullRequestAutoFeedbackDisabled(t *testing.T) {
	s, rec := newTestServer(t, func(cfg *config.Config) {
		cfg.General.DisableAutoFeedback = true
	})

	s.handlePullRequestEvent(prPayload("opened"))
	assert.Empty(t, rec.snapshot())
}

func TestPullRequestIgnoreFilters(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *config.Config)
		adjust func(p *githubPayload)
	}{
		{
			name:   "title pattern",
			mutate: func(cfg *config.Config) { cfg.Filters.IgnoreTitles = []string{"^WIP"} },
			adjust: func(p *githubPayload) { p.PullRequest.Title = "WIP: not ready" },
		},
		{
			name:   "author list",
			mutate: func(cfg *config.Config) { cfg.Filters.IgnoreAuthors = []string{"dev"} },
			adjust: func(p *githubPayload) {},
		},
		{
			name:   "repository pattern",
			mutate: func(cfg *config.Config) { cfg.Filters.IgnoreRepositories = []string{"acme/.*"} },
			adjust: func(p *githubPayload) {},
		},
		{
			name:   "label list",
			mutate: func(cfg *config.Config) { cfg.Filters.IgnoreLabels = []string{"no-review"} },
			adjust: func(p *githubPayload) {
				p.PullRequest.Labels = []githubLabel{{Name: "no-review"}}
			},
		},
		{
			name:   "source branch pattern",
			mutate: func(cfg *config.Config) { cfg.Filters.IgnoreSourceBranches = []string{"^feat/"} },
			adjust: func(p *githubPayload) {},
		},
		{
			name:   "target branch pattern",
			mutate: func(cfg *config.Config) { cfg.Filters.IgnoreTargetBranches = []string{"^main$"} },
			adjust: func(p *githubPayload) {},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, rec := newTestServer(t, tc.mutate)
			p := prPayload("opened")
			tc.adjust(p)
			s.handlePullRequestEvent(p)
			assert.Empty(t, rec.snapshot())
		})
	}
}

func TestPullRequestInvalidIgnorePatternSkipped(t *testing.T) {
	s, rec := newTestServer(t, func(cfg *config.Config) {
		cfg.Filters.IgnoreTitles = []string{"(unclosed"}
	})

	s.handlePullRequestEvent(prPayload("opened"))
	assert.Len(t, rec.snapshot(), 1, "invalid pattern must not block processing")
}

func TestPushTriggerRunsPushCommands(t *testing.T) {
	s, rec := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.HandlePushTrigger = true
	})

	p := prPayload("synchronize")
	p.Before = "aaa111"
	p.After = "bbb222"
	s.handlePullRequestEvent(p)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"/review"}, calls[0].commands)
}

func TestPushTriggerDisabledByDefault(t *testing.T) {
	s, rec := newTestServer(t, nil)

	p := prPayload("synchronize")
	p.Before = "aaa111"
	p.After = "bbb222"
	s.handlePullRequestEvent(p)
	assert.Empty(t, rec.snapshot())
}

func TestPushTriggerSkipsNoOpPush(t *testing.T) {
	s, rec := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.HandlePushTrigger = true
	})

	p := prPayload("synchronize")
	p.Before = "aaa111"
	p.After = "aaa111"
	s.handlePullRequestEvent(p)
	assert.Empty(t, rec.snapshot())
}

func TestPushTriggerSkipsMergeCommit(t *testing.T) {
	s, rec := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.HandlePushTrigger = true
	})

	p := prPayload("synchronize")
	p.Before = "aaa111"
	p.After = "merge999"
	p.PullRequest.MergeCommitSHA = "merge999"
	s.handlePullRequestEvent(p)
	assert.Empty(t, rec.snapshot())
}

func TestPushTriggerReleasesSlotAfterRun(t *testing.T) {
	s, rec := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.HandlePushTrigger = true
	})

	for _, after := range []string{"bbb222", "ccc333"} {
		p := prPayload("synchronize")
		p.Before = "aaa111"
		p.After = after
		s.handlePullRequestEvent(p)
	}
	assert.Len(t, rec.snapshot(), 2)
}

// commentPayload builds an issue_comment created event carrying body.
func commentPayload(body string) *githubPayload {
	return &githubPayload{
		Action: "created",
		Sender: githubUser{Login: "dev", Type: "User"},
		Issue: &githubIssue{
			HTMLURL:     "https://github.com/acme/widgets/issues/7",
			User:        githubUser{Login: "dev"},
			PullRequest: &githubIssuePR{HTMLURL: "https://github.com/acme/widgets/pull/7"},
		},
		Comment: &githubComment{ID: 4242, Body: body},
	}
}

func TestCommentCommandDispatched(t *testing.T) {
	s, rec := newTestServer(t, nil)

	s.handleIssueCommentEvent(commentPayload("/review"))

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", calls[0].url)
	assert.Equal(t, []string{"/review"}, calls[0].commands)
	assert.Equal(t, int64(4242), calls[0].reactTo)
}

func TestCommentUnknownCommandIgnored(t *testing.T) {
	s, rec := newTestServer(t, nil)

	s.handleIssueCommentEvent(commentPayload("/deploy production"))
	assert.Empty(t, rec.snapshot())
}

func TestCommentNonCommandIgnored(t *testing.T) {
	s, rec := newTestServer(t, nil)

	s.handleIssueCommentEvent(commentPayload("thanks, looks good!"))
	assert.Empty(t, rec.snapshot())
}

func TestCommentOnNonPRIssueIgnored(t *testing.T) {
	s, rec := newTestServer(t, nil)

	p := commentPayload("/review")
	p.Issue.PullRequest = nil
	s.handleIssueCommentEvent(p)
	assert.Empty(t, rec.snapshot())
}

func TestCommentDeletedActionIgnored(t *testing.T) {
	s, rec := newTestServer(t, nil)

	p := commentPayload("/review")
	p.Action = "deleted"
	s.handleIssueCommentEvent(p)
	assert.Empty(t, rec.snapshot())
}

func TestCommentLineLevelAskTransformed(t *testing.T) {
	s, rec := newTestServer(t, nil)

	p := commentPayload("/ask why this cast?")
	p.Comment.SubjectType = "line"
	p.Comment.PullRequestURL = "https://api.github.com/repos/acme/widgets/pulls/7"
	p.Comment.Path = "uploader.go"
	p.Comment.Side = "RIGHT"
	p.Comment.Line = 42
	p.Comment.StartLine = 40
	s.handleIssueCommentEvent(p)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].commands, 1)
	assert.Equal(t,
		"/ask_line --line_start=40 --line_end=42 --side=RIGHT --file_name=uploader.go --comment_id=4242 why this cast?",
		calls[0].commands[0])
	assert.Equal(t, "https://api.github.com/repos/acme/widgets/pulls/7", calls[0].url)
	assert.Zero(t, calls[0].reactTo, "line comments do not get an eyes reaction")
}

func TestReviewCommentAskDispatched(t *testing.T) {
	s, rec := newTestServer(t, nil)

	p := &githubPayload{
		Action: "created",
		Comment: &githubComment{
			ID:             99,
			Body:           "/ask is this retry safe?",
			PullRequestURL: "https://api.github.com/repos/acme/widgets/pulls/7",
			Path:           "uploader.go",
			Line:           12,
		},
	}
	s.handleReviewCommentEvent(p)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t,
		"/ask_line --line_start=12 --line_end=12 --side=RIGHT --file_name=uploader.go --comment_id=99 is this retry safe?",
		calls[0].commands[0])
}

func TestReviewCommentWithoutAskIgnored(t *testing.T) {
	s, rec := newTestServer(t, nil)

	p := &githubPayload{
		Action:  "created",
		Comment: &githubComment{ID: 99, Body: "nice catch", PullRequestURL: "https://api.github.com/repos/acme/widgets/pulls/7"},
	}
	s.handleReviewCommentEvent(p)
	assert.Empty(t, rec.snapshot())
}

func TestDispatchGitHubUnknownEventIgnored(t *testing.T) {
	s, rec := newTestServer(t, nil)

	s.dispatchGitHub("workflow_run", &githubPayload{Action: "completed"})
	assert.Empty(t, rec.snapshot())
}

func TestLineCommentCommandDefaultsStartToEnd(t *testing.T) {
	c := &githubComment{ID: 7, Body: "/ask what?", Path: "a.go", Line: 10}
	got := lineCommentCommand(c, "/ask what?")
	assert.Equal(t, "/ask_line --line_start=10 --line_end=10 --side=RIGHT --file_name=a.go --comment_id=7 what?", got)
}

func TestSelfReviewAction(t *testing.T) {
	approve, fold, found := selfReviewAction("- [ ]  I reviewed <!-- approve pr self-review -->")
	assert.True(t, found)
	assert.True(t, approve)
	assert.False(t, fold)

	approve, fold, found = selfReviewAction("- [ ]  I reviewed <!-- fold suggestions self-review -->")
	assert.True(t, found)
	assert.False(t, approve)
	assert.True(t, fold)

	approve, fold, found = selfReviewAction("- [ ]  I reviewed <!-- approve and fold suggestions self-review -->")
	assert.True(t, found)
	assert.True(t, approve)
	assert.True(t, fold)

	_, _, found = selfReviewAction("just a normal comment")
	assert.False(t, found)
}

func TestSelfReviewChecked(t *testing.T) {
	assert.True(t, selfReviewChecked("- [x]  I reviewed <!-- approve pr self-review -->"))
	assert.True(t, selfReviewChecked("- [X]  I reviewed <!-- fold suggestions self-review -->"))
	assert.False(t, selfReviewChecked("- [ ]  I reviewed <!-- approve pr self-review -->"))
	assert.False(t, selfReviewChecked("- [x] unrelated checkbox"))
}

func TestFoldCommentBody(t *testing.T) {
	body := output.Marker("improve") + "\n## Code suggestions\n\n| table |"

	folded, ok := foldCommentBody(body)
	require.True(t, ok)
	assert.Contains(t, folded, "<details><summary>Code suggestions</summary>")
	assert.Contains(t, folded, body)

	_, ok = foldCommentBody(folded)
	assert.False(t, ok, "already folded comment must not be double-wrapped")

	_, ok = foldCommentBody("plain comment")
	assert.False(t, ok)
}

// fakeEditor implements commentEditor over canned comments.
type fakeEditor struct {
	comments []models.IssueComment
	edits    map[string]string
	err      error
}

func (f *fakeEditor) GetIssueComments(context.Context) ([]models.IssueComment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.comments, nil
}

func (f *fakeEditor) EditComment(_ context.Context, commentID, body string) error {
	if f.edits == nil {
		f.edits = map[string]string{}
	}
	f.edits[commentID] = body
	return nil
}

func TestFoldSuggestionsCommentEditsImproveComment(t *testing.T) {
	s, _ := newTestServer(t, nil)
	editor := &fakeEditor{comments: []models.IssueComment{
		{ID: 1, Body: "unrelated"},
		{ID: 2, Body: output.Marker("improve") + "\nsuggestions table"},
	}}

	err := s.foldSuggestionsComment(context.Background(), editor)
	require.NoError(t, err)
	require.Contains(t, editor.edits, "2")
	assert.Contains(t, editor.edits["2"], "<details><summary>Code suggestions</summary>")
	assert.NotContains(t, editor.edits, "1")
}

func TestFoldSuggestionsCommentNoImproveComment(t *testing.T) {
	s, _ := newTestServer(t, nil)
	editor := &fakeEditor{comments: []models.IssueComment{{ID: 1, Body: "unrelated"}}}

	err := s.foldSuggestionsComment(context.Background(), editor)
	require.NoError(t, err)
	assert.Empty(t, editor.edits)
}

func TestFoldSuggestionsCommentPropagatesError(t *testing.T) {
	s, _ := newTestServer(t, nil)
	editor := &fakeEditor{err: errors.New("api down")}

	err := s.foldSuggestionsComment(context.Background(), editor)
	assert.Error(t, err)
}

func TestCheckboxEditByNonAuthorIgnored(t *testing.T) {
	s, rec := newTestServer(t, nil)

	p := commentPayload("- [x]  I reviewed <!-- approve pr self-review -->")
	p.Action = "edited"
	p.Sender = githubUser{Login: "someone-else"}
	s.handleIssueCommentEvent(p)
	assert.Empty(t, rec.snapshot())
}

func TestCheckboxEditUncheckedIgnored(t *testing.T) {
	s, rec := newTestServer(t, nil)

	p := commentPayload("- [ ]  I reviewed <!-- approve pr self-review -->")
	p.Action = "edited"
	s.handleIssueCommentEvent(p)
	assert.Empty(t, rec.snapshot())
}

func TestHoursBetween(t *testing.T) {
	assert.InDelta(t, 23.0, hoursBetween("2025-08-01T10:00:00Z", "2025-08-02T09:00:00Z"), 0.01)
	assert.Zero(t, hoursBetween("", "2025-08-02T09:00:00Z"))
	assert.Zero(t, hoursBetween("2025-08-01T10:00:00Z", "not a time"))
}
