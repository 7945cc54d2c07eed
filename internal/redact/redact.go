// Package redact masks secrets in diff text before it reaches a model
// prompt or a published comment.
package redact

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// maskToken replaces each detected secret. A fixed width avoids leaking the
// secret's length.
const maskToken = "********"

// Masker finds and replaces secrets using the bundled gitleaks ruleset.
// Construct with New; reuse across runs, the ruleset parse is the expensive
// part.
type Masker struct {
	detector *detect.Detector
}

// New builds a Masker with the default gitleaks rules.
func New() (*Masker, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}
	return &Masker{detector: d}, nil
}

// Mask returns text with every occurrence of each detected secret replaced
// by the mask token. Diff structure (hunk headers, line prefixes, counts)
// is untouched; only the secret substrings change, so line anchors in later
// findings stay valid.
func (m *Masker) Mask(text string) string {
	findings := m.detector.DetectString(text)
	if len(findings) == 0 {
		return text
	}

	seen := make(map[string]struct{}, len(findings))
	rules := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		if _, dup := seen[f.Secret]; dup {
			continue
		}
		seen[f.Secret] = struct{}{}
		rules = append(rules, f.RuleID)
		text = strings.ReplaceAll(text, f.Secret, maskToken)
	}

	if len(rules) > 0 {
		log.Warn().Strs("rules", rules).Msg("masked secrets in diff text")
	}
	return text
}
