package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/patchpilot/internal/output"
	"github.com/patchpilot/internal/review"
	"github.com/patchpilot/pkg/models"
)

// commentEditor is the provider subset the fold path needs.
type commentEditor interface {
	GetIssueComments(ctx context.Context) ([]models.IssueComment, error)
	EditComment(ctx context.Context, commentID, body string) error
}

type githubUser struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

type githubRepository struct {
	FullName string `json:"full_name"`
}

type githubLabel struct {
	Name string `json:"name"`
}

type githubRef struct {
	Ref string `json:"ref"`
}

type githubPullRequest struct {
	HTMLURL            string        `json:"html_url"`
	Title              string        `json:"title"`
	State              string        `json:"state"`
	Draft              bool          `json:"draft"`
	Merged             bool          `json:"merged"`
	CreatedAt          string        `json:"created_at"`
	UpdatedAt          string        `json:"updated_at"`
	MergedAt           string        `json:"merged_at"`
	MergeCommitSHA     string        `json:"merge_commit_sha"`
	User               githubUser    `json:"user"`
	Labels             []githubLabel `json:"labels"`
	Head               githubRef     `json:"head"`
	Base               githubRef     `json:"base"`
	Commits            int           `json:"commits"`
	Additions          int           `json:"additions"`
	Deletions          int           `json:"deletions"`
	ChangedFiles       int           `json:"changed_files"`
	Comments           int           `json:"comments"`
	ReviewComments     int           `json:"review_comments"`
	RequestedReviewers []githubUser  `json:"requested_reviewers"`
	MergedBy           *githubUser   `json:"merged_by"`
}

type githubIssue struct {
	HTMLURL     string         `json:"html_url"`
	User        githubUser     `json:"user"`
	PullRequest *githubIssuePR `json:"pull_request"`
}

type githubIssuePR struct {
	HTMLURL string `json:"html_url"`
}

type githubComment struct {
	ID             int64  `json:"id"`
	Body           string `json:"body"`
	SubjectType    string `json:"subject_type"`
	PullRequestURL string `json:"pull_request_url"`
	Path           string `json:"path"`
	Side           string `json:"side"`
	Line           int    `json:"line"`
	StartLine      int    `json:"start_line"`
}

// githubPayload covers the fields this server reads across pull_request,
// issue_comment and pull_request_review_comment events.
type githubPayload struct {
	Action      string             `json:"action"`
	Before      string             `json:"before"`
	After       string             `json:"after"`
	Sender      githubUser         `json:"sender"`
	Repository  githubRepository   `json:"repository"`
	PullRequest *githubPullRequest `json:"pull_request"`
	Issue       *githubIssue       `json:"issue"`
	Comment     *githubComment     `json:"comment"`
}

// handleGitHubWebhook verifies the request signature, acknowledges the
// event with 200 and dispatches it in the background.
func (s *Server) handleGitHubWebhook(c echo.Context) error {
	secret := s.cfg.GitHub.WebhookSecret
	if secret == "" {
		log.Error().Msg("github webhook secret not configured, rejecting request")
		return c.String(http.StatusForbidden, "webhook secret not configured")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "unreadable body")
	}

	if !verifyGitHubSignature(body, secret, c.Request().Header.Get("X-Hub-Signature-256")) {
		log.Warn().Msg("github webhook signature verification failed")
		return c.String(http.StatusForbidden, "signature verification failed")
	}

	var payload githubPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Msg("github webhook payload is not valid JSON")
		return c.String(http.StatusBadRequest, "invalid JSON")
	}

	event := c.Request().Header.Get("X-GitHub-Event")
	log.Info().Str("event", event).Str("action", payload.Action).Msg("github webhook received")

	go s.dispatchGitHub(event, &payload)

	return c.String(http.StatusOK, "ok")
}

// verifyGitHubSignature checks the sha256= HMAC header GitHub sends
// against the raw request body, in constant time.
func verifyGitHubSignature(body []byte, secret, header string) bool {
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

// dispatchGitHub routes a verified event to its handler.
func (s *Server) dispatchGitHub(event string, p *githubPayload) {
	switch event {
	case "pull_request":
		s.handlePullRequestEvent(p)
	case "issue_comment":
		s.handleIssueCommentEvent(p)
	case "pull_request_review_comment":
		s.handleReviewCommentEvent(p)
	default:
		log.Debug().Str("event", event).Msg("ignoring unsupported github event")
	}
}

func (s *Server) handlePullRequestEvent(p *githubPayload) {
	if p.PullRequest == nil || p.PullRequest.HTMLURL == "" {
		log.Warn().Msg("pull_request event without pull request URL")
		return
	}
	prURL := p.PullRequest.HTMLURL

	// Bot senders cover our own label and comment churn too.
	if s.cfg.GitHub.IgnoreBotPRs && p.Sender.Type == "Bot" {
		log.Info().Str("sender", p.Sender.Login).Msg("ignoring pull_request event from bot user")
		return
	}

	if s.shouldIgnorePR(p) {
		return
	}

	// Closed PRs fail the open-state check below, so handle them first.
	if p.Action == "closed" {
		logMergedPRStats(p.PullRequest)
		return
	}

	if !pullRequestActionable(p.Action, p.PullRequest) {
		log.Info().Str("url", prURL).Str("action", p.Action).
			Msg("skipping pull_request event (draft, not open, or duplicate)")
		return
	}

	switch {
	case slices.Contains(s.cfg.Server.PRActions, p.Action):
		if s.cfg.General.DisableAutoFeedback {
			log.Info().Str("url", prURL).Msg("auto feedback disabled, skipping pr_commands")
			return
		}
		log.Info().Str("url", prURL).Str("action", p.Action).Msg("handling pull_request event")
		s.process(prURL, s.cfg.Server.PRCommands, 0, "github")
	case p.Action == "synchronize" && s.cfg.Server.HandlePushTrigger:
		s.handlePushTrigger(p, prURL)
	default:
		log.Debug().Str("action", p.Action).Msg("ignoring pull_request action")
	}
}

// handlePushTrigger runs push_commands for a synchronize event, skipping
// no-op and merge-commit pushes and deduplicating rapid pushes per URL.
func (s *Server) handlePushTrigger(p *githubPayload, prURL string) {
	// Merging the base branch into the PR fires a synchronize whose after
	// SHA is the merge commit.
	if p.After != "" && p.After == p.PullRequest.MergeCommitSHA {
		log.Info().Str("url", prURL).Str("sha", p.After).Msg("skipping merge commit push trigger")
		return
	}
	if p.Before != "" && p.Before == p.After {
		log.Debug().Str("url", prURL).Msg("skipping push trigger: before and after SHA match")
		return
	}

	ttl := time.Duration(s.cfg.Server.PushPendingTTL) * time.Second
	if !s.dedup.acquire(context.Background(), prURL, s.cfg.Server.PushBacklogEnabled, ttl) {
		log.Info().Str("url", prURL).Msg("push trigger deduplicated, skipping")
		return
	}
	defer s.dedup.release(prURL)

	log.Info().Str("url", prURL).Msg("handling push trigger")
	s.process(prURL, s.cfg.Server.PushCommands, 0, "github")
}

// pullRequestActionable filters out drafts, non-open PRs, and the
// duplicate review_requested/synchronize events GitHub fires alongside a
// PR's creation.
func pullRequestActionable(action string, pr *githubPullRequest) bool {
	if pr.Draft {
		return false
	}
	if pr.State != "open" {
		return false
	}
	if action == "review_requested" || action == "synchronize" {
		if pr.CreatedAt != "" && pr.CreatedAt == pr.UpdatedAt {
			return false
		}
	}
	return true
}

// shouldIgnorePR applies the [filters] lists: title, author, repository,
// label, and source/target branch.
func (s *Server) shouldIgnorePR(p *githubPayload) bool {
	pr := p.PullRequest
	f := s.cfg.Filters

	if matchAnyPattern(f.IgnoreTitles, pr.Title, "ignore_pr_titles") {
		log.Info().Str("title", pr.Title).Msg("ignoring pull request: title matches ignore pattern")
		return true
	}
	if pr.User.Login != "" && slices.Contains(f.IgnoreAuthors, pr.User.Login) {
		log.Info().Str("author", pr.User.Login).Msg("ignoring pull request: author in ignore list")
		return true
	}
	if p.Repository.FullName != "" &&
		matchAnyPattern(f.IgnoreRepositories, p.Repository.FullName, "ignore_repositories") {
		log.Info().Str("repo", p.Repository.FullName).Msg("ignoring pull request: repository matches ignore pattern")
		return true
	}
	for _, label := range pr.Labels {
		if slices.Contains(f.IgnoreLabels, label.Name) {
			log.Info().Str("label", label.Name).Msg("ignoring pull request: label in ignore list")
			return true
		}
	}
	if pr.Head.Ref != "" && matchAnyPattern(f.IgnoreSourceBranches, pr.Head.Ref, "ignore_pr_source_branches") {
		log.Info().Str("branch", pr.Head.Ref).Msg("ignoring pull request: source branch matches ignore pattern")
		return true
	}
	if pr.Base.Ref != "" && matchAnyPattern(f.IgnoreTargetBranches, pr.Base.Ref, "ignore_pr_target_branches") {
		log.Info().Str("branch", pr.Base.Ref).Msg("ignoring pull request: target branch matches ignore pattern")
		return true
	}
	return false
}

// matchAnyPattern reports whether value matches any of the regular
// expressions. Invalid patterns are logged and skipped.
func matchAnyPattern(patterns []string, value, setting string) bool {
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Warn().Str("pattern", pattern).Str("setting", setting).Msg("invalid ignore pattern")
			continue
		}
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// logMergedPRStats records merge statistics when a closed PR was merged.
func logMergedPRStats(pr *githubPullRequest) {
	if !pr.Merged {
		log.Debug().Msg("pull request closed without merge")
		return
	}
	mergedBy := ""
	if pr.MergedBy != nil {
		mergedBy = pr.MergedBy.Login
	}
	log.Info().
		Str("url", pr.HTMLURL).
		Str("title", pr.Title).
		Int("commits", pr.Commits).
		Int("additions", pr.Additions).
		Int("deletions", pr.Deletions).
		Int("changed_files", pr.ChangedFiles).
		Int("reviewers", len(pr.RequestedReviewers)).
		Int("comments", pr.Comments+pr.ReviewComments).
		Str("merged_by", mergedBy).
		Float64("hours_to_merge", hoursBetween(pr.CreatedAt, pr.MergedAt)).
		Msg("pull request merged")
}

func hoursBetween(start, end string) float64 {
	st, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return 0
	}
	en, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return 0
	}
	return en.Sub(st).Minutes() / 60
}

func (s *Server) handleIssueCommentEvent(p *githubPayload) {
	if p.Action == "edited" {
		s.handleCheckboxEdit(p)
		return
	}
	if p.Action != "created" {
		log.Debug().Str("action", p.Action).Msg("ignoring issue_comment action")
		return
	}
	if p.Issue == nil || p.Issue.PullRequest == nil {
		log.Debug().Msg("ignoring comment on non-PR issue")
		return
	}
	if p.Comment == nil {
		return
	}

	body := strings.TrimSpace(p.Comment.Body)
	if !strings.HasPrefix(body, "/") {
		log.Debug().Msg("ignoring non-command comment")
		return
	}

	// A line-anchored /ask arrives as an issue_comment with subject_type
	// "line"; rewrite it so the ask_line tool gets the position flags. No
	// eyes reaction on those, the thread is noisy enough already.
	reactTo := p.Comment.ID
	if strings.Contains(body, "/ask") && p.Comment.SubjectType == "line" && p.Comment.PullRequestURL != "" {
		body = lineCommentCommand(p.Comment, body)
		reactTo = 0
	}

	// Reject unknown commands before any provider work happens.
	command, _ := review.ParseCommand(body)
	if !review.KnownCommand(command) {
		log.Debug().Str("command", command).Msg("ignoring unknown command from comment")
		return
	}

	prURL := p.Comment.PullRequestURL
	if prURL == "" {
		prURL = p.Issue.PullRequest.HTMLURL
	}
	if prURL == "" {
		prURL = p.Issue.HTMLURL
	}
	if prURL == "" {
		log.Warn().Msg("comment command without a pull request URL")
		return
	}

	log.Info().Str("url", prURL).Str("command", body).Msg("handling comment command")
	s.process(prURL, []string{body}, reactTo, "github")
}

func (s *Server) handleReviewCommentEvent(p *githubPayload) {
	if p.Action != "created" {
		log.Debug().Str("action", p.Action).Msg("ignoring pull_request_review_comment action")
		return
	}
	if p.Comment == nil {
		return
	}

	body := strings.TrimSpace(p.Comment.Body)
	if !strings.Contains(body, "/ask") {
		log.Debug().Msg("ignoring review comment without /ask command")
		return
	}

	prURL := p.Comment.PullRequestURL
	if prURL == "" && p.PullRequest != nil {
		prURL = p.PullRequest.HTMLURL
	}
	if prURL == "" {
		log.Warn().Msg("review comment without a pull request URL")
		return
	}

	command := lineCommentCommand(p.Comment, body)
	log.Info().Str("url", prURL).Str("command", command).Msg("handling line comment command")
	s.process(prURL, []string{command}, 0, "github")
}

// lineCommentCommand turns a line-anchored /ask comment into an /ask_line
// command string carrying the position flags.
func lineCommentCommand(c *githubComment, body string) string {
	endLine := c.Line
	startLine := c.StartLine
	if startLine == 0 {
		startLine = endLine
	}
	side := c.Side
	if side == "" {
		side = "RIGHT"
	}

	question := strings.TrimSpace(body)
	question = strings.TrimSpace(strings.TrimPrefix(question, "/ask"))

	return fmt.Sprintf("/ask_line --line_start=%d --line_end=%d --side=%s --file_name=%s --comment_id=%d %s",
		startLine, endLine, side, c.Path, c.ID, question)
}

// handleCheckboxEdit reacts to the author ticking the self-review checkbox
// the improve tool appends to its suggestions comment: approve the PR
// and/or collapse the suggestions, per configuration.
func (s *Server) handleCheckboxEdit(p *githubPayload) {
	if p.Issue == nil || p.Issue.PullRequest == nil || p.Comment == nil {
		return
	}

	body := p.Comment.Body
	approve, fold, found := selfReviewAction(body)
	if !found {
		return
	}
	if !selfReviewChecked(body) {
		log.Debug().Msg("self-review checkbox unchecked, ignoring")
		return
	}

	// Only the PR author's own tick counts.
	sender := p.Sender.Login
	author := p.Issue.User.Login
	if sender == "" || author == "" || sender != author {
		log.Info().Str("sender", sender).Str("author", author).
			Msg("self-review checkbox checked by non-author, ignoring")
		return
	}

	prURL := p.Issue.PullRequest.HTMLURL
	if prURL == "" {
		prURL = p.Issue.HTMLURL
	}
	if prURL == "" {
		return
	}
	log.Info().Str("url", prURL).Str("author", author).
		Bool("approve", approve).Bool("fold", fold).
		Msg("self-review checkbox checked by author")

	ctx := context.Background()
	provider, err := review.NewProvider(ctx, s.cfg, prURL)
	if err != nil {
		log.Error().Err(err).Str("url", prURL).Msg("provider setup failed for self-review")
		return
	}

	if approve && s.cfg.Improve.ApproveOnSelfReview {
		if err := provider.ApprovePullRequest(ctx); err != nil {
			log.Error().Err(err).Str("url", prURL).Msg("auto-approve failed")
			_, _ = provider.PublishComment(ctx,
				"Failed to auto-approve after self-review. Check bot permissions.")
		} else {
			_, _ = provider.PublishComment(ctx, "PR auto-approved after author self-review.")
		}
	}

	if fold && s.cfg.Improve.FoldOnSelfReview {
		if err := s.foldSuggestionsComment(ctx, provider); err != nil {
			log.Error().Err(err).Str("url", prURL).Msg("folding suggestions comment failed")
		}
	}
}

// foldSuggestionsComment finds the improve tool's comment and collapses it
// inside a details section.
func (s *Server) foldSuggestionsComment(ctx context.Context, provider commentEditor) error {
	comments, err := provider.GetIssueComments(ctx)
	if err != nil {
		return err
	}
	for _, comment := range comments {
		folded, ok := foldCommentBody(comment.Body)
		if !ok {
			continue
		}
		if err := provider.EditComment(ctx, fmt.Sprint(comment.ID), folded); err != nil {
			return err
		}
		log.Info().Int64("comment_id", comment.ID).Msg("folded suggestions comment")
		return nil
	}
	log.Info().Msg("no suggestions comment found to fold")
	return nil
}

// foldCommentBody wraps an improve comment in a collapsible section.
// Returns false when the body is not an improve comment or is already
// folded.
func foldCommentBody(body string) (string, bool) {
	if !strings.HasPrefix(strings.TrimSpace(body), output.Marker("improve")) {
		return "", false
	}
	if strings.Contains(body, "<details><summary>Code suggestions") {
		return "", false
	}
	return output.CollapsibleSection("Code suggestions", body), true
}

var selfReviewMarkers = []string{
	"<!-- approve and fold suggestions self-review -->",
	"<!-- approve pr self-review -->",
	"<!-- fold suggestions self-review -->",
}

// selfReviewAction reads which actions the checkbox marker requests.
func selfReviewAction(body string) (approve, fold, found bool) {
	switch {
	case strings.Contains(body, selfReviewMarkers[0]):
		return true, true, true
	case strings.Contains(body, selfReviewMarkers[1]):
		return true, false, true
	case strings.Contains(body, selfReviewMarkers[2]):
		return false, true, true
	}
	return false, false, false
}

// selfReviewChecked reports whether the marker line's checkbox is ticked.
func selfReviewChecked(body string) bool {
	for _, line := range strings.Split(body, "\n") {
		for _, marker := range selfReviewMarkers {
			if !strings.Contains(line, marker) {
				continue
			}
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "- [x]") || strings.HasPrefix(trimmed, "- [X]") {
				return true
			}
		}
	}
	return false
}
