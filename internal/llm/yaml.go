package llm

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// yamlBlockRe extracts a ```yaml ... ``` fenced block.
var yamlBlockRe = regexp.MustCompile("```yaml([\\s\\S]*?)```(?:\\s*$|\")")

// yamlKeyRe matches a plain YAML mapping key at the start of a line.
var yamlKeyRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*\s*:`)

// bracketKeyRe captures indent, a key containing square brackets, and the rest.
var bracketKeyRe = regexp.MustCompile(`^(\s*)(\w+(?:_\[[^\]]*\])+\w*)(\s*:.*)$`)

// defaultFixKeys are response keys whose values routinely come back as
// unindented multiline text and need a block scalar spliced in.
var defaultFixKeys = []string{
	"relevant line:",
	"suggestion content:",
	"relevant file:",
	"existing code:",
	"improved code:",
	"label:",
	"why:",
	"suggestion_summary:",
}

// LoadYAML parses YAML out of a model response, working through a fixup
// cascade when the response is mangled. extraKeys extends the set of keys
// considered for block-scalar fixups; firstKey/lastKey, when both set, bound
// a snip-and-parse fallback. Returns an error only when every fixup fails.
func LoadYAML(response string, extraKeys []string, firstKey, lastKey string) (map[string]any, error) {
	_, data, err := loadYAMLText(response, extraKeys, firstKey, lastKey)
	return data, err
}

// LoadYAMLInto runs the same cascade and decodes the recovered document into
// target, so callers get typed structs instead of a raw map.
func LoadYAMLInto(response string, extraKeys []string, firstKey, lastKey string, target any) error {
	text, _, err := loadYAMLText(response, extraKeys, firstKey, lastKey)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal([]byte(text), target); err != nil {
		return errors.Join(errors.New("recovered yaml does not match expected shape"), err)
	}
	return nil
}

func loadYAMLText(response string, extraKeys []string, firstKey, lastKey string) (string, map[string]any, error) {
	trimmed := strings.Trim(response, "\n")
	stripped := trimmed
	if rest, ok := strings.CutPrefix(trimmed, "yaml"); ok {
		stripped = rest
	} else if rest, ok := strings.CutPrefix(trimmed, "```yaml"); ok {
		stripped = rest
	}
	stripped = strings.TrimSpace(stripped)
	cleaned := stripped
	if rest, ok := strings.CutSuffix(stripped, "```"); ok {
		cleaned = strings.TrimSpace(rest)
	}

	if data, ok := parseYAML(cleaned); ok {
		return cleaned, data, nil
	}
	log.Debug().Msg("initial yaml parse failed, trying fixups")

	keys := make([]string, 0, len(defaultFixKeys)+len(extraKeys))
	keys = append(keys, defaultFixKeys...)
	keys = append(keys, extraKeys...)

	return fixYAML(cleaned, keys, firstKey, lastKey, response)
}

// fixYAML runs the fixup cascade. Each step rewrites the text in one specific
// way and reparses; the first step that yields a mapping wins.
func fixYAML(text string, keys []string, firstKey, lastKey, original string) (string, map[string]any, error) {
	if fixed, changed := addBlockScalars(text, keys); changed {
		if data, ok := parseYAML(fixed); ok {
			logRecovered("block_scalars")
			return fixed, data, nil
		}
	}

	if fixed, data, ok := fixPipeIndicators(text); ok {
		logRecovered("pipe_indicator")
		return fixed, data, nil
	}

	for _, source := range []string{text, original} {
		if m := yamlBlockRe.FindStringSubmatch(source); m != nil {
			inner := strings.TrimSpace(m[1])
			if data, ok := parseYAML(inner); ok {
				logRecovered("yaml_fence")
				return inner, data, nil
			}
		}
	}

	if fixed := stripCurlyBraces(text); fixed != "" {
		if data, ok := parseYAML(fixed); ok {
			logRecovered("curly_braces")
			return fixed, data, nil
		}
	}

	if firstKey != "" && lastKey != "" {
		if fixed, data, ok := extractByKeys(text, firstKey, lastKey); ok {
			logRecovered("key_bounds")
			return fixed, data, nil
		}
	}

	if fixed := stripLeadingPlus(text); fixed != text {
		if data, ok := parseYAML(fixed); ok {
			logRecovered("leading_plus")
			return fixed, data, nil
		}
	}

	if strings.Contains(text, "\t") {
		fixed := strings.ReplaceAll(text, "\t", "    ")
		if data, ok := parseYAML(fixed); ok {
			logRecovered("tabs")
			return fixed, data, nil
		}
	}

	if fixed := fixBlockIndent(text); fixed != text {
		if data, ok := parseYAML(fixed); ok {
			logRecovered("block_indent")
			return fixed, data, nil
		}
	}

	if fixed := strings.TrimLeft(text, "|\n"); fixed != text {
		if data, ok := parseYAML(fixed); ok {
			logRecovered("leading_pipes")
			return fixed, data, nil
		}
	}

	if fixed := fixOrphanLines(text); fixed != text {
		if data, ok := parseYAML(fixed); ok {
			logRecovered("orphan_lines")
			return fixed, data, nil
		}
	}

	// Keys like estimated_effort_to_review_[1-5] read as flow sequences
	// unless quoted, and often arrive combined with the indent or orphan
	// problems above, so the quoting fix also runs chained after each.
	if strings.Contains(text, "[") {
		if fixed, changed := quoteBracketKeys(text); changed {
			if data, ok := parseYAML(fixed); ok {
				logRecovered("bracket_keys")
				return fixed, data, nil
			}
		}
		if fixed, changed := quoteBracketKeys(fixBlockIndent(text)); changed {
			if data, ok := parseYAML(fixed); ok {
				logRecovered("block_indent+bracket_keys")
				return fixed, data, nil
			}
		}
		if fixed, changed := quoteBracketKeys(fixOrphanLines(text)); changed {
			if data, ok := parseYAML(fixed); ok {
				logRecovered("orphan_lines+bracket_keys")
				return fixed, data, nil
			}
		}
	}

	// Models occasionally answer in JSON even when asked for YAML. YAML is
	// a superset of JSON, so a repaired JSON document parses directly.
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		if repaired, err := RepairJSON(text); err == nil {
			if data, ok := parseYAML(repaired); ok {
				logRecovered("json_repair")
				return repaired, data, nil
			}
		}
	}

	log.Error().Str("response", truncateForLog(original, 2000)).Msg("all yaml fixups exhausted")
	return "", nil, errors.New("no valid yaml found in model response")
}

func logRecovered(fix string) {
	log.Debug().Str("fix", fix).Msg("yaml recovered")
}

// parseYAML reports success only for a non-null top-level mapping, which is
// the shape every response document has.
func parseYAML(text string) (map[string]any, bool) {
	var data map[string]any
	if err := yaml.Unmarshal([]byte(text), &data); err != nil || data == nil {
		return nil, false
	}
	return data, true
}

// addBlockScalars splices a block scalar indicator after known keys so their
// values survive containing colons or wrapping onto the next line.
func addBlockScalars(text string, keys []string) (string, bool) {
	var b strings.Builder
	b.Grow(len(text) + len(keys)*16)
	changed := false
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		if !strings.Contains(line, "|") {
			if key, pos, ok := firstKeyIn(line, keys); ok {
				b.WriteString(line[:pos+len(key)])
				b.WriteString(" |\n        ")
				b.WriteString(strings.TrimLeft(line[pos+len(key):], " \t"))
				changed = true
				continue
			}
		}
		b.WriteString(line)
	}
	return b.String(), changed
}

func firstKeyIn(line string, keys []string) (string, int, bool) {
	for _, k := range keys {
		if pos := strings.Index(line, k); pos >= 0 {
			return k, pos, true
		}
	}
	return "", 0, false
}

// fixPipeIndicators rewrites bare | block scalars as |2 so the parser knows
// the content indentation, then additionally re-indents brace lines stuck at
// indent level 2.
func fixPipeIndicators(text string) (string, map[string]any, bool) {
	replaced := strings.ReplaceAll(text, "|\n", "|2\n")
	if data, ok := parseYAML(replaced); ok {
		return replaced, data, true
	}

	var b strings.Builder
	b.Grow(len(replaced) + 64)
	changed := false
	for i, line := range strings.Split(replaced, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		trimmed := strings.TrimLeft(line, " \t")
		indent := len(line) - len(trimmed)
		if indent == 2 && !strings.Contains(line, "|2") && strings.Contains(line, "}") {
			b.WriteString("    ")
			b.WriteString(trimmed)
			changed = true
		} else {
			b.WriteString(line)
		}
	}
	if !changed {
		return "", nil, false
	}
	fixed := b.String()
	data, ok := parseYAML(fixed)
	return fixed, data, ok
}

// stripCurlyBraces removes a surrounding { } pair models sometimes wrap the
// whole document in.
func stripCurlyBraces(text string) string {
	t := strings.TrimSpace(text)
	inner := t
	if rest, ok := strings.CutPrefix(t, "{"); ok {
		inner = rest
	}
	s := t
	if rest, ok := strings.CutSuffix(inner, "}"); ok {
		s = rest
	}
	for strings.HasSuffix(s, ":\n") {
		s = strings.TrimSuffix(s, ":\n")
	}
	return strings.TrimSpace(s)
}

// extractByKeys snips the text between the first occurrence of firstKey and
// the paragraph containing the last occurrence of lastKey, then parses the
// slice on its own.
func extractByKeys(text, firstKey, lastKey string) (string, map[string]any, bool) {
	start := strings.Index(text, "\n"+firstKey+":")
	if start < 0 {
		start = strings.Index(text, firstKey+":")
	}
	if start < 0 {
		return "", nil, false
	}
	last := strings.LastIndex(text, lastKey+":")
	if last < 0 || last < start {
		return "", nil, false
	}
	end := len(text)
	if i := strings.Index(text[last:], "\n\n"); i >= 0 {
		end = last + i
	}

	slice := strings.TrimSpace(text[start:end])
	inner := slice
	if rest, ok := strings.CutPrefix(slice, "```yaml"); ok {
		inner = rest
	}
	cleaned := slice
	if rest, ok := strings.CutSuffix(inner, "```"); ok {
		cleaned = rest
	}
	cleaned = strings.TrimSpace(cleaned)

	data, ok := parseYAML(cleaned)
	return cleaned, data, ok
}

// stripLeadingPlus replaces a leading + on each line with a space. Models
// sometimes hold on to diff markers from the prompt.
func stripLeadingPlus(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		if rest, ok := strings.CutPrefix(line, "+"); ok {
			b.WriteByte(' ')
			b.WriteString(rest)
		} else {
			b.WriteString(line)
		}
	}
	return b.String()
}

// fixBlockIndent indents the content lines of a block scalar the model left
// at column 0. Content runs until the next mapping key at or above the
// scalar key's indent; a plain "- text" line is content, not a boundary,
// while "- key: value" list items do end the scalar.
func fixBlockIndent(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inBlock := false
	keyIndent := 0

	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		trimmed := strings.TrimRight(line, " \t")
		trimmedStart := strings.TrimLeft(trimmed, " \t")
		lineIndent := len(line) - len(strings.TrimLeft(line, " \t"))

		if inBlock {
			isKey := trimmedStart != "" && lineIndent <= keyIndent &&
				(yamlKeyRe.MatchString(trimmedStart) ||
					(strings.HasPrefix(trimmedStart, "- ") && yamlKeyRe.MatchString(trimmedStart[2:])))
			if isKey {
				inBlock = false
				b.WriteString(line)
			} else {
				b.WriteString(strings.Repeat(" ", keyIndent+2))
				b.WriteString(line)
			}
		} else {
			b.WriteString(line)
		}

		if !inBlock && (strings.HasSuffix(trimmed, ": |") || strings.HasSuffix(trimmed, ": |-")) {
			inBlock = true
			// For "- key: |" list items the key sits 2 columns deeper than
			// the line, so sibling keys at indent+2 must end the scalar.
			if strings.HasPrefix(trimmedStart, "- ") {
				keyIndent = lineIndent + 2
			} else {
				keyIndent = lineIndent
			}
		}
	}
	return b.String()
}

// fixOrphanLines re-indents continuation lines that wrapped to column 0, so
// they read as part of the previous line's value instead of breaking the
// document.
func fixOrphanLines(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 128)
	prevIndent := 0

	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		trimmed := strings.TrimLeft(line, " \t")
		lineIndent := len(line) - len(trimmed)

		orphan := i > 0 && trimmed != "" && lineIndent == 0 && prevIndent >= 2 &&
			!yamlKeyRe.MatchString(trimmed) &&
			!strings.HasPrefix(trimmed, "- ") &&
			!strings.HasPrefix(trimmed, "---") &&
			!strings.HasPrefix(trimmed, "...") &&
			!strings.HasPrefix(trimmed, "#")
		if orphan {
			// Consecutive orphans all anchor to the original line's indent.
			b.WriteString(strings.Repeat(" ", prevIndent+2))
			b.WriteString(trimmed)
			continue
		}

		b.WriteString(line)
		if trimmed != "" {
			prevIndent = lineIndent
		}
	}
	return b.String()
}

// quoteBracketKeys wraps keys containing square brackets in quotes.
func quoteBracketKeys(text string) (string, bool) {
	var b strings.Builder
	b.Grow(len(text) + 32)
	changed := false
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		if m := bracketKeyRe.FindStringSubmatch(line); m != nil {
			b.WriteString(m[1])
			b.WriteByte('"')
			b.WriteString(m[2])
			b.WriteByte('"')
			b.WriteString(m[3])
			changed = true
		} else {
			b.WriteString(line)
		}
	}
	return b.String(), changed
}

// truncateForLog clips text at a rune boundary for log output.
func truncateForLog(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	end := maxLen
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	return text[:end] + "...(truncated)"
}
