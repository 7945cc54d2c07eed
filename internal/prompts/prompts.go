// Package prompts renders the system/user prompt pairs sent to the model.
// Templates are plain text/template over a single Vars struct, so every
// placeholder is always defined and inserted values are never re-parsed.
package prompts

import (
	"strings"
	"text/template"
)

// Vars carries every value the templates can reference. Tools fill the
// subset their prompt uses and leave the rest zero; empty optional sections
// are dropped from the rendered output.
type Vars struct {
	Date           string
	Title          string
	Branch         string
	Description    string
	Language       string
	CommitMessages string

	// Diff is the rendered patch text, numbered or plain depending on the
	// tool.
	Diff string

	ExtraInstructions string

	// Review knobs.
	NumMaxFindings  int
	RequireScore    bool
	RequireTests    bool
	RequireSecurity bool

	// Describe knobs. File summaries are dropped from the schema on very
	// large PRs, where per-file walkthrough rows stop being useful.
	IncludeFileSummaries bool

	// Improve knobs.
	NumCodeSuggestions int

	// Reflect pass inputs.
	Suggestions    string
	NumSuggestions int

	// Ask and AskLine inputs.
	Question            string
	FileName            string
	FullHunk            string
	SelectedLines       string
	ConversationHistory string
}

// Prompt is a rendered system/user pair ready for a model call.
type Prompt struct {
	System string
	User   string
}

// Combined joins the pair for connectors that take a single prompt string.
func (p Prompt) Combined() string {
	return p.System + "\n\n" + p.User
}

type pair struct {
	system *template.Template
	user   *template.Template
}

func mustPair(name, system, user string) pair {
	return pair{
		system: template.Must(template.New(name + ".system").Parse(system)),
		user:   template.Must(template.New(name + ".user").Parse(user)),
	}
}

var (
	reviewPair   = mustPair("review", reviewSystem, reviewUser)
	describePair = mustPair("describe", describeSystem, describeUser)
	improvePair  = mustPair("improve", improveSystem, improveUser)
	reflectPair  = mustPair("reflect", reflectSystem, reflectUser)
	askPair      = mustPair("ask", askSystem, askUser)
	askLinePair  = mustPair("askline", askLineSystem, askLineUser)
)

func (p pair) render(v Vars) Prompt {
	return Prompt{System: execute(p.system, v), User: execute(p.user, v)}
}

func execute(t *template.Template, v Vars) string {
	var sb strings.Builder
	// Parsing happens at init and Vars is a flat struct, so execution
	// cannot fail at runtime.
	if err := t.Execute(&sb, v); err != nil {
		panic(err)
	}
	return strings.TrimSpace(sb.String()) + "\n"
}

// Review renders the code review prompt pair.
func Review(v Vars) Prompt { return reviewPair.render(v) }

// Describe renders the PR description prompt pair.
func Describe(v Vars) Prompt { return describePair.render(v) }

// Improve renders the first-pass code suggestions prompt pair.
func Improve(v Vars) Prompt { return improvePair.render(v) }

// Reflect renders the second-pass prompt pair that scores and locates the
// suggestions produced by Improve.
func Reflect(v Vars) Prompt { return reflectPair.render(v) }

// Ask renders the free-form question prompt pair.
func Ask(v Vars) Prompt { return askPair.render(v) }

// AskLine renders the line-scoped question prompt pair.
func AskLine(v Vars) Prompt { return askLinePair.render(v) }
