package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func reviewVars() Vars {
	return Vars{
		Date:            "2025-06-01",
		Title:           "Fix cache invalidation",
		Branch:          "fix/cache",
		Description:     "Invalidate entries on write.",
		CommitMessages:  "fix: drop stale entries",
		Diff:            "## File: 'cache.go'\n\n__new hunk__\n10 +entries.Delete(key)",
		NumMaxFindings:  3,
		RequireTests:    true,
		RequireSecurity: true,
	}
}

func TestReviewPromptCarriesSchemaAndInputs(t *testing.T) {
	p := Review(reviewVars())

	assert.Contains(t, p.System, "review:")
	assert.Contains(t, p.System, "estimated_effort_to_review_[1-5]:")
	assert.Contains(t, p.System, "key_issues_to_review:")
	assert.Contains(t, p.System, "at most 3 issues")

	assert.Contains(t, p.User, "Title: 'Fix cache invalidation'")
	assert.Contains(t, p.User, "Branch: 'fix/cache'")
	assert.Contains(t, p.User, "Invalidate entries on write.")
	assert.Contains(t, p.User, "fix: drop stale entries")
	assert.Contains(t, p.User, "10 +entries.Delete(key)")
	assert.Contains(t, p.User, "Today's date: 2025-06-01")
}

func TestReviewPromptConditionalFields(t *testing.T) {
	v := reviewVars()
	p := Review(v)
	assert.Contains(t, p.System, "security_concerns:")
	assert.Contains(t, p.System, "relevant_tests:")
	assert.NotContains(t, p.System, "score:")

	v.RequireSecurity = false
	v.RequireTests = false
	v.RequireScore = true
	p = Review(v)
	assert.NotContains(t, p.System, "security_concerns:")
	assert.NotContains(t, p.System, "relevant_tests:")
	assert.Contains(t, p.System, "score: 89")
}

func TestReviewPromptSchemaIndentationSurvivesConditionals(t *testing.T) {
	v := reviewVars()
	v.RequireScore = false
	v.RequireTests = false
	p := Review(v)

	// The effort line and the issues key must stay adjacent, properly
	// indented, when the optional keys between them are dropped.
	assert.Contains(t, p.System, "3, because ...\n  key_issues_to_review:\n")

	v.RequireTests = true
	p = Review(v)
	assert.Contains(t, p.System, "3, because ...\n  relevant_tests: |\n    No\n  key_issues_to_review:\n")
}

func TestReviewPromptOmitsEmptySections(t *testing.T) {
	v := reviewVars()
	v.Description = ""
	v.CommitMessages = ""
	p := Review(v)

	assert.NotContains(t, p.User, "PR description:")
	assert.NotContains(t, p.User, "Commit messages:")
	assert.NotContains(t, p.System, "Extra instructions")

	v.ExtraInstructions = "Pay attention to goroutine leaks."
	p = Review(v)
	assert.Contains(t, p.System, "Pay attention to goroutine leaks.")
}

func TestPromptValuesAreNotReExpanded(t *testing.T) {
	v := reviewVars()
	v.Title = "{{.Diff}} and {{if}}"
	p := Review(v)

	// Inserted values are data, not templates.
	assert.Contains(t, p.User, "Title: '{{.Diff}} and {{if}}'")
}

func TestDescribePromptSchema(t *testing.T) {
	v := Vars{
		Title:                "old title",
		Branch:               "feat/x",
		Description:          "old body",
		Diff:                 "## File: 'a.go'",
		IncludeFileSummaries: true,
	}
	p := Describe(v)

	assert.Contains(t, p.System, "pr_files:")
	assert.Contains(t, p.System, "changes_title:")
	assert.Contains(t, p.System, "changes_summary:")
	assert.Contains(t, p.System, "label:")
	assert.Contains(t, p.User, "Previous title: 'old title'")
	assert.Contains(t, p.User, "Previous description:")
}

func TestDescribePromptDropsFileSummariesWhenDisabled(t *testing.T) {
	v := Vars{
		Title: "old title",
		Diff:  "## File: 'a.go'",
	}
	p := Describe(v)

	assert.NotContains(t, p.System, "pr_files:")
	assert.NotContains(t, p.System, "changes_title:")
	assert.Contains(t, p.System, "description: |")
}

func TestImprovePromptSchemaHasNoLineNumbers(t *testing.T) {
	v := Vars{
		Date:               "2025-06-01",
		Title:              "Add retries",
		Branch:             "feat/retry",
		Diff:               "@@ -1,2 +1,3 @@\n+do()",
		NumCodeSuggestions: 4,
	}
	p := Improve(v)

	assert.Contains(t, p.System, "up to 4 meaningful")
	assert.Contains(t, p.System, "code_suggestions:")
	assert.Contains(t, p.System, "improved_code:")
	// Line placement belongs to the reflect pass; the first pass sees a
	// diff without line numbers and must not be asked for any.
	assert.NotContains(t, p.System, "relevant_lines_start")
	assert.NotContains(t, p.System, "__new hunk__")
}

func TestReflectPromptListsSuggestions(t *testing.T) {
	v := Vars{
		Diff:           "__new hunk__\n12 +x := 1",
		Suggestions:    "suggestion 1: {'relevant_file': 'a.go'}",
		NumSuggestions: 1,
	}
	p := Reflect(v)

	assert.Contains(t, p.System, "list of 1 code suggestions")
	assert.Contains(t, p.System, "suggestion_score:")
	assert.Contains(t, p.System, "relevant_lines_start:")
	assert.Contains(t, p.User, "suggestion 1: {'relevant_file': 'a.go'}")
	assert.Contains(t, p.User, "12 +x := 1")
}

func TestAskPrompt(t *testing.T) {
	v := Vars{
		Title:    "Add retries",
		Branch:   "feat/retry",
		Diff:     "__new hunk__\n3 +retry()",
		Question: "Why three attempts?",
	}
	p := Ask(v)

	assert.Contains(t, p.User, "Why three attempts?")
	assert.Contains(t, p.User, "3 +retry()")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(p.User), "Response to the question:"))
}

func TestAskLinePromptConversationHistory(t *testing.T) {
	v := Vars{
		Title:         "Add retries",
		Branch:        "feat/retry",
		FileName:      "retry.go",
		FullHunk:      "@@ -1,2 +1,3 @@\n+for i := 0; i < 3; i++ {",
		SelectedLines: "+for i := 0; i < 3; i++ {",
		Question:      "Why a loop?",
	}
	p := AskLine(v)
	assert.NotContains(t, p.User, "Previous discussion")
	assert.Contains(t, p.User, "The selected file: 'retry.go'")
	assert.Contains(t, p.User, "+for i := 0; i < 3; i++ {")

	v.ConversationHistory = "1. alice: looks odd"
	p = AskLine(v)
	assert.Contains(t, p.User, "Previous discussion on this thread:")
	assert.Contains(t, p.User, "1. alice: looks odd")
}

func TestCombinedJoinsPair(t *testing.T) {
	p := Prompt{System: "sys", User: "usr"}
	assert.Equal(t, "sys\n\nusr", p.Combined())
}
