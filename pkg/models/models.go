package models

import (
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Diff pipeline models

// EditType classifies how a file changed within a merge request.
type EditType string

const (
	EditAdded    EditType = "added"
	EditDeleted  EditType = "deleted"
	EditModified EditType = "modified"
	EditRenamed  EditType = "renamed"
	EditUnknown  EditType = "unknown"
)

// LineKind is the role of a single diff line.
type LineKind int

const (
	LineContext LineKind = iota
	LineAdded
	LineRemoved
)

func (k LineKind) String() string {
	switch k {
	case LineContext:
		return "context"
	case LineAdded:
		return "added"
	case LineRemoved:
		return "removed"
	}
	return "unknown"
}

// Marker returns the unified-diff prefix character for the line kind.
func (k LineKind) Marker() byte {
	switch k {
	case LineAdded:
		return '+'
	case LineRemoved:
		return '-'
	}
	return ' '
}

// Line is one parsed diff line. Line numbers are 1-based; 0 means the line
// has no position on that side. OldNumber is set for context and removed
// lines, NewNumber for context and added lines.
type Line struct {
	Kind      LineKind
	OldNumber int
	NewNumber int
	Text      string
}

// Hunk is a contiguous block of a unified diff describing one region of
// change. OldCount/NewCount equal the number of lines consuming the old/new
// counters respectively.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Section  string // trailing header text after the closing @@, usually an enclosing declaration
	Lines    []Line
}

// OldEnd returns the first old-file line number past the hunk.
func (h Hunk) OldEnd() int { return h.OldStart + h.OldCount }

// NewEnd returns the first new-file line number past the hunk.
func (h Hunk) NewEnd() int { return h.NewStart + h.NewCount }

// NumberingMode selects how hunks are serialized for the model.
type NumberingMode int

const (
	// NumberingNone renders a clean patch with plain +/-/space markers,
	// used when the model must emit code suggestions.
	NumberingNone NumberingMode = iota
	// NumberingNew annotates each hunk with new-file line numbers so the
	// model can reference exact lines in its findings.
	NumberingNew
)

// FilePatch is one file's parsed and (possibly) extended diff. Values are
// never mutated after construction; pipeline stages build new ones.
type FilePatch struct {
	Path      string
	OldPath   string // set when EditType is EditRenamed
	Hunks     []Hunk
	IsBinary  bool
	EditType  EditType
	Numbering NumberingMode
	NumPlus   int // count of added lines across all hunks
	NumMinus  int // count of removed lines across all hunks
}

// TotalHunks reports the number of hunks in the patch.
func (fp FilePatch) TotalHunks() int { return len(fp.Hunks) }

// FilterReason explains why the file filter excluded a file.
type FilterReason int

const (
	FilterIncluded FilterReason = iota
	FilterIgnored
	FilterExtensionNotAllowed
	FilterBinary
)

func (r FilterReason) String() string {
	switch r {
	case FilterIncluded:
		return "included"
	case FilterIgnored:
		return "ignored_pattern"
	case FilterExtensionNotAllowed:
		return "extension_not_allowed"
	case FilterBinary:
		return "binary"
	}
	return "unknown"
}

// FilterDecision is produced once per file before any parsing work and never
// revisited downstream.
type FilterDecision struct {
	Included bool
	Reason   FilterReason
}

// TokenBudget caps the estimated token cost of diff content submitted to a
// model. Immutable per request.
type TokenBudget struct {
	Limit   int
	ModelID string
}

// CompressionResult is the planner's output: the surviving patches in their
// original relative order plus omission counters for observability. Dropped
// holds the patches that lost every hunk to the budget, so callers can still
// name the files that never reached the model.
type CompressionResult struct {
	Patches       []FilePatch
	Dropped       []FilePatch
	WasCompressed bool
	OmittedFiles  int
	OmittedHunks  int
}

// Provider models

// FileChange is one file's raw change as returned by a provider, before any
// pipeline work.
type FileChange struct {
	Path       string
	OldPath    string
	Diff       string // raw unified-diff body for this file (hunk headers + lines)
	NewContent string // full new-file text when the provider supplies it; "" otherwise
	EditType   EditType
}

// DiffRefs are the commit SHAs a merge request's diff spans.
type DiffRefs struct {
	BaseSHA  string
	HeadSHA  string
	StartSHA string
}

// MergeRequestDetails is provider-neutral merge/pull request metadata.
type MergeRequestDetails struct {
	Provider     string
	ProjectID    string
	Number       int
	Title        string
	Description  string
	Author       string
	SourceBranch string
	TargetBranch string
	Refs         DiffRefs
	WebURL       string
	State        string
	IsDraft      bool
	Labels       []string
}

// Comment is a single piece of review output destined for the platform.
// Line refers to the new file; a zero Line posts a general comment.
type Comment struct {
	Path     string `json:"path,omitempty"`
	Line     int    `json:"line,omitempty"`
	OldLine  int    `json:"old_line,omitempty"`
	Severity string `json:"severity,omitempty"`
	Body     string `json:"body"`
}

// IssueComment is an existing discussion comment on the merge request, as
// fetched from the platform.
type IssueComment struct {
	ID        int64
	Body      string
	User      string
	CreatedAt string
	URL       string
}

// Model response models (decoded from repaired YAML)

// Flex is a string field that also accepts bare numeric or boolean scalars.
// Models emit these interchangeably for fields like scores and yes/no
// answers.
type Flex string

func (f *Flex) UnmarshalYAML(value *yaml.Node) error {
	*f = Flex(strings.TrimSpace(value.Value))
	return nil
}

// FlexInt is an int field that also accepts numeric strings. Values that do
// not parse decode as zero instead of failing the whole document.
type FlexInt int

func (f *FlexInt) UnmarshalYAML(value *yaml.Node) error {
	n, err := strconv.Atoi(strings.TrimSpace(value.Value))
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(n)
	return nil
}

// StringList accepts either a sequence or a single scalar.
type StringList []string

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if v := strings.TrimSpace(value.Value); v != "" {
			*l = StringList{v}
		}
	case yaml.SequenceNode:
		out := make(StringList, 0, len(value.Content))
		for _, n := range value.Content {
			out = append(out, n.Value)
		}
		*l = out
	}
	return nil
}

// KeyIssue is one finding in a review response.
type KeyIssue struct {
	RelevantFile string  `yaml:"relevant_file" json:"relevant_file"`
	IssueHeader  string  `yaml:"issue_header" json:"issue_header"`
	IssueContent string  `yaml:"issue_content" json:"issue_content"`
	StartLine    FlexInt `yaml:"start_line" json:"start_line"`
	EndLine      FlexInt `yaml:"end_line" json:"end_line"`
}

// Review is the structured body of a review response.
type Review struct {
	EstimatedEffort  Flex       `yaml:"estimated_effort_to_review_[1-5]" json:"estimated_effort_to_review_[1-5]"`
	Score            Flex       `yaml:"score" json:"score"`
	RelevantTests    Flex       `yaml:"relevant_tests" json:"relevant_tests"`
	KeyIssues        []KeyIssue `yaml:"key_issues_to_review" json:"key_issues_to_review"`
	SecurityConcerns Flex       `yaml:"security_concerns" json:"security_concerns"`
}

// ReviewResponse is the top-level review document the model returns.
type ReviewResponse struct {
	Review Review `yaml:"review" json:"review"`
}

// FileDescription is one file entry in a describe response walkthrough.
// ChangesContent is an older field name some models still emit in place of
// changes_summary.
type FileDescription struct {
	Filename       string `yaml:"filename" json:"filename"`
	ChangesTitle   string `yaml:"changes_title" json:"changes_title"`
	ChangesSummary string `yaml:"changes_summary" json:"changes_summary"`
	ChangesContent string `yaml:"changes_content" json:"changes_content,omitempty"`
	Label          string `yaml:"label" json:"label"`
}

// DescribeResponse is the structured describe document.
type DescribeResponse struct {
	Type        StringList        `yaml:"type" json:"type"`
	Title       string            `yaml:"title" json:"title"`
	Description string            `yaml:"description" json:"description"`
	Diagram     string            `yaml:"changes_diagram" json:"changes_diagram,omitempty"`
	Labels      StringList        `yaml:"labels" json:"labels,omitempty"`
	Files       []FileDescription `yaml:"pr_files" json:"pr_files"`
}

// CodeSuggestion is one entry in an improve response. Line numbers and
// Score are filled in by the reflect pass; a Score of 0 marks a suggestion
// that could not be placed in the diff.
type CodeSuggestion struct {
	RelevantFile       string  `yaml:"relevant_file" json:"relevant_file"`
	Language           string  `yaml:"language" json:"language"`
	SuggestionContent  string  `yaml:"suggestion_content" json:"suggestion_content"`
	ExistingCode       string  `yaml:"existing_code" json:"existing_code"`
	ImprovedCode       string  `yaml:"improved_code" json:"improved_code"`
	OneSentenceSummary string  `yaml:"one_sentence_summary" json:"one_sentence_summary"`
	RelevantLinesStart FlexInt `yaml:"relevant_lines_start" json:"relevant_lines_start"`
	RelevantLinesEnd   FlexInt `yaml:"relevant_lines_end" json:"relevant_lines_end"`
	Label              string  `yaml:"label" json:"label"`
	Score              FlexInt `yaml:"score" json:"score"`
}

// ImproveResponse is the structured improve document.
type ImproveResponse struct {
	CodeSuggestions []CodeSuggestion `yaml:"code_suggestions" json:"code_suggestions"`
}

// InlineSuggestion is a committable suggestion anchored to a new-file line
// range. Providers render ImprovedCode as a native suggestion block where
// the platform supports one.
type InlineSuggestion struct {
	Body         string
	Path         string
	StartLine    int
	EndLine      int
	ImprovedCode string
}

// Persistence models

// ReviewRun is one recorded tool invocation, persisted for the history API.
type ReviewRun struct {
	ID            string    `json:"id" db:"id"`
	URL           string    `json:"url" db:"url"`
	Tool          string    `json:"tool" db:"tool"`
	Model         string    `json:"model" db:"model"`
	WasCompressed bool      `json:"was_compressed" db:"was_compressed"`
	OmittedFiles  int       `json:"omitted_files" db:"omitted_files"`
	OmittedHunks  int       `json:"omitted_hunks" db:"omitted_hunks"`
	CommentCount  int       `json:"comment_count" db:"comment_count"`
	DurationMS    int64     `json:"duration_ms" db:"duration_ms"`
	Summary       string    `json:"summary" db:"summary"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
