// Package github implements the provider interface over the GitHub REST
// API, with user-token and App (JWT) authentication.
package github

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/patchpilot/internal/providers"
	"github.com/patchpilot/pkg/models"
)

const (
	// GitHub caps comment bodies around 65536 characters.
	maxCommentChars = 65000

	userAgent      = "patchpilot"
	defaultTimeout = 30 * time.Second

	// Client-side request ceiling, conservative enough to stay out of
	// GitHub's secondary rate limits when publishing bursty reviews.
	requestsPerSecond = 5
	requestBurst      = 10
)

// Config is the GitHub connection settings subset the provider needs.
type Config struct {
	BaseURL          string
	DeploymentType   string
	UserToken        string
	AppID            int64
	PrivateKeyPath   string
	RatelimitRetries int
}

// Provider talks to the GitHub REST API for a single pull request.
type Provider struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	token   string
	retries int

	owner    string
	repo     string
	number   int
	repoFull string
}

// New builds a provider bound to the pull request at prURL. With
// deployment type "app" an RS256 JWT is minted from the configured private
// key and exchanged for an installation token scoped to the PR's owner.
func New(ctx context.Context, cfg Config, prURL string) (*Provider, error) {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}

	p := &Provider{
		client:  &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		baseURL: baseURL,
		retries: cfg.RatelimitRetries,
	}
	if err := p.bind(prURL); err != nil {
		return nil, err
	}

	if cfg.DeploymentType == "app" {
		token, err := appInstallationToken(ctx, p.client, baseURL, cfg.AppID, cfg.PrivateKeyPath, p.owner)
		if err != nil {
			return nil, err
		}
		p.token = token
	} else {
		p.token = cfg.UserToken
	}

	return p, nil
}

// Name implements providers.Provider.
func (p *Provider) Name() string { return "github" }

func (p *Provider) bind(prURL string) error {
	parsed, err := providers.ParseURL(prURL)
	if err != nil {
		return err
	}
	if parsed.Provider != "github" {
		return fmt.Errorf("not a GitHub pull request URL: %s", prURL)
	}
	p.owner = parsed.Owner
	p.repo = parsed.Repo
	p.number = parsed.Number
	p.repoFull = parsed.Project
	return nil
}

func (p *Provider) url(path string) string {
	return p.baseURL + "/" + path
}

// apiRequest sends one authenticated request, retrying on 429 up to the
// configured ratelimit_retries using the Retry-After header, or
// exponential backoff when the header is absent.
func (p *Provider) apiRequest(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("github: marshal request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+p.token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("User-Agent", userAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		delay := retryAfterDelay(resp.Header, attempt)
		resp.Body.Close()
		if attempt >= p.retries {
			return nil, fmt.Errorf("github: rate limited, retries exhausted after %d attempts", attempt+1)
		}
		log.Warn().
			Int("attempt", attempt+1).
			Int("max", p.retries).
			Dur("retry_after", delay).
			Str("url", url).
			Msg("GitHub API rate limited, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func retryAfterDelay(h http.Header, attempt int) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(1<<(attempt+1)) * time.Second
}

func checkResponse(resp *http.Response, method string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("github API %s %s: %s", method, resp.Status, strings.TrimSpace(string(body)))
}

func (p *Provider) apiGet(ctx context.Context, path string, out any) error {
	return p.apiSend(ctx, http.MethodGet, path, nil, out)
}

func (p *Provider) apiSend(ctx context.Context, method, path string, body, out any) error {
	resp, err := p.apiRequest(ctx, method, p.url(path), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, method); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// getAllPages collects every element of a paginated JSON array endpoint,
// following Link rel="next" headers until the last page.
func (p *Provider) getAllPages(ctx context.Context, path string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	url := p.url(path)
	for url != "" {
		resp, err := p.apiRequest(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if err := checkResponse(resp, http.MethodGet); err != nil {
			resp.Body.Close()
			return nil, err
		}
		next := parseNextLink(resp.Header.Get("Link"))
		var page []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("github: decode page: %w", err)
		}
		items = append(items, page...)
		url = next
	}
	return items, nil
}

// parseNextLink extracts the rel="next" URL from a Link header.
func parseNextLink(link string) string {
	for _, part := range strings.Split(link, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start == -1 || end == -1 || end < start {
			continue
		}
		return part[start+1 : end]
	}
	return ""
}

type prResponse struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	State   string `json:"state"`
	Draft   bool   `json:"draft"`
	HTMLURL string `json:"html_url"`
	User    struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		SHA string `json:"sha"`
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		SHA string `json:"sha"`
		Ref string `json:"ref"`
	} `json:"base"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (p *Provider) getPR(ctx context.Context) (*prResponse, error) {
	var pr prResponse
	path := fmt.Sprintf("repos/%s/pulls/%d", p.repoFull, p.number)
	if err := p.apiGet(ctx, path, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// GetMergeRequestDetails implements providers.Provider.
func (p *Provider) GetMergeRequestDetails(ctx context.Context, prURL string) (*models.MergeRequestDetails, error) {
	if err := p.bind(prURL); err != nil {
		return nil, err
	}
	pr, err := p.getPR(ctx)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.Name)
	}

	return &models.MergeRequestDetails{
		Provider:     "github",
		ProjectID:    p.repoFull,
		Number:       pr.Number,
		Title:        pr.Title,
		Description:  pr.Body,
		Author:       pr.User.Login,
		SourceBranch: pr.Head.Ref,
		TargetBranch: pr.Base.Ref,
		Refs: models.DiffRefs{
			BaseSHA: pr.Base.SHA,
			HeadSHA: pr.Head.SHA,
		},
		WebURL:  pr.HTMLURL,
		State:   pr.State,
		IsDraft: pr.Draft,
		Labels:  labels,
	}, nil
}

// GetMergeRequestChanges fetches the per-file diffs via the compare API,
// plus the full new-file content for every file that still exists at head.
// Content fetch failures degrade to an empty NewContent rather than
// failing the run.
func (p *Provider) GetMergeRequestChanges(ctx context.Context, prURL string) ([]*models.FileChange, error) {
	if err := p.bind(prURL); err != nil {
		return nil, err
	}
	pr, err := p.getPR(ctx)
	if err != nil {
		return nil, err
	}

	var compare struct {
		Files []struct {
			Filename         string `json:"filename"`
			Status           string `json:"status"`
			Patch            string `json:"patch"`
			PreviousFilename string `json:"previous_filename"`
		} `json:"files"`
	}
	comparePath := fmt.Sprintf("repos/%s/compare/%s...%s", p.repoFull, pr.Base.SHA, pr.Head.SHA)
	if err := p.apiGet(ctx, comparePath, &compare); err != nil {
		return nil, err
	}

	changes := make([]*models.FileChange, 0, len(compare.Files))
	for _, f := range compare.Files {
		editType := mapEditType(f.Status)

		newContent := ""
		if editType != models.EditDeleted {
			newContent, err = p.GetFileContent(ctx, f.Filename, pr.Head.SHA)
			if err != nil {
				log.Debug().Err(err).Str("file", f.Filename).Msg("head file content unavailable")
				newContent = ""
			}
		}

		changes = append(changes, &models.FileChange{
			Path:       f.Filename,
			OldPath:    f.PreviousFilename,
			Diff:       f.Patch,
			NewContent: newContent,
			EditType:   editType,
		})
	}
	return changes, nil
}

func mapEditType(status string) models.EditType {
	switch status {
	case "added":
		return models.EditAdded
	case "removed":
		return models.EditDeleted
	case "renamed":
		return models.EditRenamed
	case "modified", "changed":
		return models.EditModified
	}
	return models.EditUnknown
}

// GetFileContent fetches a file's text at the given ref via the contents
// API, decoding the base64 transport encoding.
func (p *Provider) GetFileContent(ctx context.Context, path, ref string) (string, error) {
	var contents struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	apiPath := fmt.Sprintf("repos/%s/contents/%s?ref=%s", p.repoFull, path, ref)
	if err := p.apiGet(ctx, apiPath, &contents); err != nil {
		return "", err
	}
	if contents.Encoding != "base64" {
		return contents.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(contents.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("github: decode %s content: %w", path, err)
	}
	return string(decoded), nil
}

type commitItem struct {
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
	} `json:"commit"`
}

func (p *Provider) listCommits(ctx context.Context) ([]commitItem, error) {
	path := fmt.Sprintf("repos/%s/pulls/%d/commits?per_page=100", p.repoFull, p.number)
	raw, err := p.getAllPages(ctx, path)
	if err != nil {
		return nil, err
	}
	commits := make([]commitItem, 0, len(raw))
	for _, r := range raw {
		var c commitItem
		if err := json.Unmarshal(r, &c); err != nil {
			return nil, fmt.Errorf("github: decode commit: %w", err)
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// GetCommitMessages returns the PR's commit messages as a numbered list.
func (p *Provider) GetCommitMessages(ctx context.Context) (string, error) {
	commits, err := p.listCommits(ctx)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(commits))
	for i, c := range commits {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, c.Commit.Message))
	}
	return strings.Join(lines, "\n"), nil
}

// GetLatestCommitURL implements providers.Provider.
func (p *Provider) GetLatestCommitURL(ctx context.Context) (string, error) {
	commits, err := p.listCommits(ctx)
	if err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "", nil
	}
	return commits[len(commits)-1].HTMLURL, nil
}

// GetIssueComments implements providers.Provider.
func (p *Provider) GetIssueComments(ctx context.Context) ([]models.IssueComment, error) {
	path := fmt.Sprintf("repos/%s/issues/%d/comments?per_page=100", p.repoFull, p.number)
	raw, err := p.getAllPages(ctx, path)
	if err != nil {
		return nil, err
	}
	comments := make([]models.IssueComment, 0, len(raw))
	for _, r := range raw {
		var c struct {
			ID        int64  `json:"id"`
			Body      string `json:"body"`
			HTMLURL   string `json:"html_url"`
			CreatedAt string `json:"created_at"`
			User      struct {
				Login string `json:"login"`
			} `json:"user"`
		}
		if err := json.Unmarshal(r, &c); err != nil {
			return nil, fmt.Errorf("github: decode comment: %w", err)
		}
		comments = append(comments, models.IssueComment{
			ID:        c.ID,
			Body:      c.Body,
			User:      c.User.Login,
			CreatedAt: c.CreatedAt,
			URL:       c.HTMLURL,
		})
	}
	return comments, nil
}

// PublishComment posts a top-level comment, truncating to the platform's
// size limit at a rune boundary.
func (p *Provider) PublishComment(ctx context.Context, body string) (string, error) {
	if len(body) > maxCommentChars {
		end := maxCommentChars
		for end > 0 && !utf8.RuneStart(body[end]) {
			end--
		}
		body = body[:end]
	}

	var created struct {
		ID int64 `json:"id"`
	}
	path := fmt.Sprintf("repos/%s/issues/%d/comments", p.repoFull, p.number)
	if err := p.apiSend(ctx, http.MethodPost, path, map[string]string{"body": body}, &created); err != nil {
		return "", err
	}
	return strconv.FormatInt(created.ID, 10), nil
}

// EditComment implements providers.Provider.
func (p *Provider) EditComment(ctx context.Context, commentID, body string) error {
	path := fmt.Sprintf("repos/%s/issues/comments/%s", p.repoFull, commentID)
	return p.apiSend(ctx, http.MethodPatch, path, map[string]string{"body": body}, nil)
}

// RemoveComment implements providers.Provider.
func (p *Provider) RemoveComment(ctx context.Context, commentID string) error {
	path := fmt.Sprintf("repos/%s/issues/comments/%s", p.repoFull, commentID)
	return p.apiSend(ctx, http.MethodDelete, path, nil, nil)
}

// ReplyToComment answers inside an existing review comment thread.
func (p *Provider) ReplyToComment(ctx context.Context, commentID int64, body string) error {
	path := fmt.Sprintf("repos/%s/pulls/%d/comments/%d/replies", p.repoFull, p.number, commentID)
	return p.apiSend(ctx, http.MethodPost, path, map[string]string{"body": body}, nil)
}

// PublishDescription implements providers.Provider.
func (p *Provider) PublishDescription(ctx context.Context, title, body string) error {
	path := fmt.Sprintf("repos/%s/pulls/%d", p.repoFull, p.number)
	return p.apiSend(ctx, http.MethodPatch, path, map[string]string{"title": title, "body": body}, nil)
}

// PublishLabels implements providers.Provider.
func (p *Provider) PublishLabels(ctx context.Context, labels []string) error {
	path := fmt.Sprintf("repos/%s/issues/%d/labels", p.repoFull, p.number)
	return p.apiSend(ctx, http.MethodPost, path, map[string][]string{"labels": labels}, nil)
}

type reviewComment struct {
	Body      string `json:"body"`
	Path      string `json:"path"`
	Line      int    `json:"line,omitempty"`
	Side      string `json:"side"`
	StartLine int    `json:"start_line,omitempty"`
	StartSide string `json:"start_side,omitempty"`
}

type reviewRequest struct {
	CommitID string          `json:"commit_id,omitempty"`
	Event    string          `json:"event"`
	Comments []reviewComment `json:"comments"`
}

// PublishInlineComments posts the comments as a single COMMENT review at
// head. When the bulk review is rejected (typically one comment anchored
// outside the diff) it retries the comments one at a time, best effort.
func (p *Provider) PublishInlineComments(ctx context.Context, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	pr, err := p.getPR(ctx)
	if err != nil {
		return err
	}

	review := make([]reviewComment, 0, len(comments))
	for _, c := range comments {
		review = append(review, reviewComment{
			Body: c.Body,
			Path: c.Path,
			Line: c.Line,
			Side: "RIGHT",
		})
	}

	path := fmt.Sprintf("repos/%s/pulls/%d/reviews", p.repoFull, p.number)
	bulk := reviewRequest{CommitID: pr.Head.SHA, Event: "COMMENT", Comments: review}
	bulkErr := p.apiSend(ctx, http.MethodPost, path, bulk, nil)
	if bulkErr == nil {
		return nil
	}
	log.Warn().Err(bulkErr).Msg("bulk review failed, trying individual comments")

	for _, c := range review {
		single := reviewRequest{CommitID: pr.Head.SHA, Event: "COMMENT", Comments: []reviewComment{c}}
		if err := p.apiSend(ctx, http.MethodPost, path, single, nil); err != nil {
			log.Warn().Str("path", c.Path).Err(err).Msg("individual comment failed")
		}
	}
	return nil
}

// PublishCodeSuggestions posts suggestions as one review with native
// ```suggestion blocks, anchored to the end line (plus start_line for
// multi-line ranges) on the new side.
func (p *Provider) PublishCodeSuggestions(ctx context.Context, suggestions []models.InlineSuggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	pr, err := p.getPR(ctx)
	if err != nil {
		return err
	}

	comments := make([]reviewComment, 0, len(suggestions))
	for _, s := range suggestions {
		c := reviewComment{
			Body: fmt.Sprintf("%s\n\n```suggestion\n%s\n```", s.Body, s.ImprovedCode),
			Path: s.Path,
			Line: s.EndLine,
			Side: "RIGHT",
		}
		if s.StartLine != s.EndLine {
			c.StartLine = s.StartLine
			c.StartSide = "RIGHT"
		}
		comments = append(comments, c)
	}

	path := fmt.Sprintf("repos/%s/pulls/%d/reviews", p.repoFull, p.number)
	body := reviewRequest{CommitID: pr.Head.SHA, Event: "COMMENT", Comments: comments}
	return p.apiSend(ctx, http.MethodPost, path, body, nil)
}

// AddReaction implements providers.Provider.
func (p *Provider) AddReaction(ctx context.Context, commentID int64, emoji string) (int64, error) {
	var created struct {
		ID int64 `json:"id"`
	}
	path := fmt.Sprintf("repos/%s/issues/comments/%d/reactions", p.repoFull, commentID)
	if err := p.apiSend(ctx, http.MethodPost, path, map[string]string{"content": emoji}, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// RemoveReaction implements providers.Provider.
func (p *Provider) RemoveReaction(ctx context.Context, commentID, reactionID int64) error {
	path := fmt.Sprintf("repos/%s/issues/comments/%d/reactions/%d", p.repoFull, commentID, reactionID)
	return p.apiSend(ctx, http.MethodDelete, path, nil, nil)
}

// ApprovePullRequest submits an approving review with no body.
func (p *Provider) ApprovePullRequest(ctx context.Context) error {
	path := fmt.Sprintf("repos/%s/pulls/%d/reviews", p.repoFull, p.number)
	return p.apiSend(ctx, http.MethodPost, path, map[string]string{"event": "APPROVE"}, nil)
}

// GetLineLink points into the PR's files tab, anchored by the SHA-256 of
// the file path the way the GitHub UI anchors per-file diffs. start -1
// links the file header, otherwise the new-side line range.
func (p *Provider) GetLineLink(file string, start, end int) string {
	webBase := strings.Replace(p.baseURL, "api.github.com", "github.com", 1)
	webBase = strings.Replace(webBase, "/api/v3", "", 1)

	sum := sha256.Sum256([]byte(file))
	hash := hex.EncodeToString(sum[:])

	if start == -1 {
		return fmt.Sprintf("%s/%s/pull/%d/files#diff-%s", webBase, p.repoFull, p.number, hash)
	}
	link := fmt.Sprintf("%s/%s/pull/%d/files#diff-%sR%d", webBase, p.repoFull, p.number, hash, start)
	if end > 0 && end != start {
		link += fmt.Sprintf("-R%d", end)
	}
	return link
}

// IsSupported implements providers.Provider.
func (p *Provider) IsSupported(capability string) bool {
	switch capability {
	case "gfm_markdown", "labels", "reactions", "code_suggestions", "inline_comments":
		return true
	}
	return false
}
