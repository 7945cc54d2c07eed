package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchpilot/internal/providers"
	"github.com/patchpilot/pkg/models"
)

var _ providers.Provider = (*Provider)(nil)

const testMRURL = "https://gitlab.example.com/group/repo/-/merge_requests/5"

// The client escapes project and file paths (%2F for slashes, %2E for
// dots), so handlers match on the escaped request path.
func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{URL: srv.URL, Token: "tok"}, testMRURL)
	require.NoError(t, err)
	return p
}

func respondJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func mrPayload() map[string]any {
	return map[string]any{
		"iid":           5,
		"title":         "Refactor parser",
		"description":   "Splits the parser into stages.",
		"state":         "opened",
		"draft":         false,
		"web_url":       testMRURL,
		"source_branch": "refactor",
		"target_branch": "main",
		"sha":           "headsha",
		"author":        map[string]any{"username": "carol"},
		"labels":        []string{"backend"},
		"diff_refs": map[string]any{
			"base_sha":  "basesha",
			"head_sha":  "headsha",
			"start_sha": "startsha",
		},
	}
}

func TestGetMergeRequestDetails(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.EscapedPath() {
		case "GET /api/v4/projects/group%2Frepo/merge_requests/5":
			respondJSON(t, w, http.StatusOK, mrPayload())
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	})

	details, err := p.GetMergeRequestDetails(context.Background(), testMRURL)
	require.NoError(t, err)

	assert.Equal(t, "gitlab", details.Provider)
	assert.Equal(t, "group/repo", details.ProjectID)
	assert.Equal(t, 5, details.Number)
	assert.Equal(t, "Refactor parser", details.Title)
	assert.Equal(t, "carol", details.Author)
	assert.Equal(t, "refactor", details.SourceBranch)
	assert.Equal(t, "main", details.TargetBranch)
	assert.Equal(t, models.DiffRefs{BaseSHA: "basesha", HeadSHA: "headsha", StartSHA: "startsha"}, details.Refs)
	assert.Equal(t, []string{"backend"}, details.Labels)
	assert.False(t, details.IsDraft)
}

func TestGetMergeRequestChanges(t *testing.T) {
	var mu sync.Mutex
	var rawRequests []string

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.EscapedPath() {
		case "GET /api/v4/projects/group%2Frepo/merge_requests/5":
			respondJSON(t, w, http.StatusOK, mrPayload())
		case "GET /api/v4/projects/group%2Frepo/merge_requests/5/diffs":
			respondJSON(t, w, http.StatusOK, []map[string]any{
				{
					"old_path": "main.go", "new_path": "main.go",
					"diff": "@@ -1 +1 @@\n-a\n+b",
				},
				{
					"old_path": "legacy.go", "new_path": "legacy.go",
					"diff": "@@ -1 +0,0 @@\n-x", "deleted_file": true,
				},
			})
		case "GET /api/v4/projects/group%2Frepo/repository/files/main%2Ego/raw":
			mu.Lock()
			rawRequests = append(rawRequests, "main.go")
			mu.Unlock()
			assert.Equal(t, "headsha", r.URL.Query().Get("ref"))
			fmt.Fprint(w, "package main\n")
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	})

	changes, err := p.GetMergeRequestChanges(context.Background(), testMRURL)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, "main.go", changes[0].Path)
	assert.Equal(t, models.EditModified, changes[0].EditType)
	assert.Equal(t, "package main\n", changes[0].NewContent)
	assert.Contains(t, changes[0].Diff, "+b")

	assert.Equal(t, models.EditDeleted, changes[1].EditType)
	assert.Empty(t, changes[1].NewContent)

	// Deleted files never hit the raw file endpoint.
	assert.Equal(t, []string{"main.go"}, rawRequests)
}

func TestPublishAndEditComment(t *testing.T) {
	var created, updated string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Body string `json:"body"`
		}
		switch r.Method + " " + r.URL.EscapedPath() {
		case "POST /api/v4/projects/group%2Frepo/merge_requests/5/notes":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			created = payload.Body
			respondJSON(t, w, http.StatusCreated, map[string]any{"id": 99, "body": payload.Body})
		case "PUT /api/v4/projects/group%2Frepo/merge_requests/5/notes/99":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			updated = payload.Body
			respondJSON(t, w, http.StatusOK, map[string]any{"id": 99, "body": payload.Body})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	})

	id, err := p.PublishComment(context.Background(), "first pass")
	require.NoError(t, err)
	assert.Equal(t, "99", id)
	assert.Equal(t, "first pass", created)

	require.NoError(t, p.EditComment(context.Background(), "99", "second pass"))
	assert.Equal(t, "second pass", updated)

	err = p.EditComment(context.Background(), "not-a-number", "x")
	require.Error(t, err)
}

func TestGetIssueCommentsSkipsSystemNotes(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.EscapedPath() {
		case "GET /api/v4/projects/group%2Frepo/merge_requests/5":
			respondJSON(t, w, http.StatusOK, mrPayload())
		case "GET /api/v4/projects/group%2Frepo/merge_requests/5/notes":
			respondJSON(t, w, http.StatusOK, []map[string]any{
				{"id": 6, "body": "added 1 commit", "system": true,
					"author": map[string]any{"username": "ghost"}},
				{"id": 7, "body": "looks good", "created_at": "2026-08-20T10:00:00Z",
					"author": map[string]any{"username": "carol"}},
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	})

	comments, err := p.GetIssueComments(context.Background())
	require.NoError(t, err)
	require.Len(t, comments, 1)

	assert.Equal(t, int64(7), comments[0].ID)
	assert.Equal(t, "looks good", comments[0].Body)
	assert.Equal(t, "carol", comments[0].User)
	assert.Equal(t, testMRURL+"#note_7", comments[0].URL)
}

func TestPublishCodeSuggestions(t *testing.T) {
	var got struct {
		Body     string `json:"body"`
		Position struct {
			BaseSHA      string `json:"base_sha"`
			HeadSHA      string `json:"head_sha"`
			StartSHA     string `json:"start_sha"`
			NewPath      string `json:"new_path"`
			PositionType string `json:"position_type"`
			NewLine      int    `json:"new_line"`
		} `json:"position"`
	}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.EscapedPath() {
		case "GET /api/v4/projects/group%2Frepo/merge_requests/5":
			respondJSON(t, w, http.StatusOK, mrPayload())
		case "POST /api/v4/projects/group%2Frepo/merge_requests/5/discussions":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			respondJSON(t, w, http.StatusCreated, map[string]any{"id": "d1", "notes": []any{}})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	})

	err := p.PublishCodeSuggestions(context.Background(), []models.InlineSuggestion{
		{Body: "Use a helper", Path: "svc.go", StartLine: 10, EndLine: 12, ImprovedCode: "return run(ctx)"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Use a helper\n\n```suggestion:-0+2\nreturn run(ctx)\n```", got.Body)
	assert.Equal(t, "basesha", got.Position.BaseSHA)
	assert.Equal(t, "headsha", got.Position.HeadSHA)
	assert.Equal(t, "startsha", got.Position.StartSHA)
	assert.Equal(t, "svc.go", got.Position.NewPath)
	assert.Equal(t, "text", got.Position.PositionType)
	assert.Equal(t, 10, got.Position.NewLine)
}

func TestReplyToComment(t *testing.T) {
	var replyBody string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.EscapedPath() {
		case "GET /api/v4/projects/group%2Frepo/merge_requests/5/discussions":
			respondJSON(t, w, http.StatusOK, []map[string]any{
				{"id": "d0", "notes": []map[string]any{{"id": 13}}},
				{"id": "d1abc", "notes": []map[string]any{{"id": 42}}},
			})
		case "POST /api/v4/projects/group%2Frepo/merge_requests/5/discussions/d1abc/notes":
			var payload struct {
				Body string `json:"body"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			replyBody = payload.Body
			respondJSON(t, w, http.StatusCreated, map[string]any{"id": 43, "body": payload.Body})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	})

	require.NoError(t, p.ReplyToComment(context.Background(), 42, "fixed in the next push"))
	assert.Equal(t, "fixed in the next push", replyBody)

	err := p.ReplyToComment(context.Background(), 999, "nobody home")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no discussion contains note 999")
}

func TestPublishLabels(t *testing.T) {
	var addLabels string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.EscapedPath() {
		case "PUT /api/v4/projects/group%2Frepo/merge_requests/5":
			var payload struct {
				AddLabels string `json:"add_labels"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			addLabels = payload.AddLabels
			respondJSON(t, w, http.StatusOK, mrPayload())
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	})

	err := p.PublishLabels(context.Background(), []string{"Review effort [1-5]: 3", "Security concern"})
	require.NoError(t, err)
	assert.Equal(t, "Review effort [1-5]: 3,Security concern", addLabels)
}

func TestGetCommitMessages(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.EscapedPath() {
		case "GET /api/v4/projects/group%2Frepo/merge_requests/5/commits":
			respondJSON(t, w, http.StatusOK, []map[string]any{
				{"id": "c2", "message": "newest change\n", "web_url": "https://gitlab.example.com/group/repo/-/commit/c2"},
				{"id": "c1", "message": "older change", "web_url": "https://gitlab.example.com/group/repo/-/commit/c1"},
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	})

	messages, err := p.GetCommitMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1. newest change\n2. older change", messages)

	latest, err := p.GetLatestCommitURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.example.com/group/repo/-/commit/c2", latest)
}

func TestAddReaction(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.EscapedPath() {
		case "POST /api/v4/projects/group%2Frepo/merge_requests/5/notes/42/award_emoji":
			var payload struct {
				Name string `json:"name"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "eyes", payload.Name)
			respondJSON(t, w, http.StatusCreated, map[string]any{"id": 77, "name": payload.Name})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.EscapedPath())
			w.WriteHeader(http.StatusNotFound)
		}
	})

	id, err := p.AddReaction(context.Background(), 42, "eyes")
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
}

func TestGetLineLink(t *testing.T) {
	p := &Provider{
		webURL:  "https://gitlab.example.com",
		project: "group/repo",
		refs:    models.DiffRefs{HeadSHA: "headsha"},
	}

	assert.Equal(t,
		"https://gitlab.example.com/group/repo/-/blob/headsha/src/app.go",
		p.GetLineLink("src/app.go", -1, 0))
	assert.Equal(t,
		"https://gitlab.example.com/group/repo/-/blob/headsha/src/app.go#L4",
		p.GetLineLink("src/app.go", 4, 4))
	assert.Equal(t,
		"https://gitlab.example.com/group/repo/-/blob/headsha/src/app.go#L4-8",
		p.GetLineLink("src/app.go", 4, 8))
}

func TestBindRejectsForeignURL(t *testing.T) {
	p := &Provider{}
	err := p.bind("https://github.com/owner/repo/pull/3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a GitLab merge request URL")
}
