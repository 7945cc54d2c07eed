package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
)

var (
	trailingCommaBraceRe   = regexp.MustCompile(`,\s*}`)
	trailingCommaBracketRe = regexp.MustCompile(`,\s*]`)
)

// RepairJSON normalizes a JSON-shaped model response into valid JSON. It
// extracts the JSON region from surrounding prose or code fences, applies
// cheap targeted fixes, and hands anything still broken to the jsonrepair
// library. Returns an error when no parseable document can be produced.
func RepairJSON(raw string) (string, error) {
	repaired, fixes, err := repairJSON(raw)
	if len(fixes) > 0 {
		log.Debug().Strs("fixes", fixes).Err(err).Msg("json response repaired")
	}
	return repaired, err
}

func repairJSON(raw string) (string, []string, error) {
	if json.Valid([]byte(raw)) {
		return raw, nil, nil
	}

	var fixes []string

	repaired, found := extractJSON(raw)
	if !found {
		return raw, nil, errors.New("no json object in response")
	}
	if repaired != raw {
		fixes = append(fixes, "extract")
		if json.Valid([]byte(repaired)) {
			return repaired, fixes, nil
		}
	}

	if fixed := removeTrailingCommas(repaired); fixed != repaired {
		repaired = fixed
		fixes = append(fixes, "trailing_commas")
		if json.Valid([]byte(repaired)) {
			return repaired, fixes, nil
		}
	}

	if fixed := balanceBrackets(repaired); fixed != repaired {
		repaired = fixed
		fixes = append(fixes, "balance")
		if json.Valid([]byte(repaired)) {
			return repaired, fixes, nil
		}
	}

	fixed, err := jsonrepair.JSONRepair(repaired)
	if err == nil && json.Valid([]byte(fixed)) {
		fixes = append(fixes, "jsonrepair")
		return fixed, fixes, nil
	}

	return repaired, fixes, fmt.Errorf("json repair failed after %d fixes", len(fixes))
}

// extractJSON pulls the JSON document out of a response that wraps it in
// explanatory text or code fences. Reports false when no object or array
// start is present at all.
func extractJSON(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw, true
	}

	if strings.Contains(raw, "```") {
		var inner []string
		inFence := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inFence = !inFence
				continue
			}
			if inFence {
				inner = append(inner, line)
			}
		}
		if len(inner) > 0 {
			return strings.TrimSpace(strings.Join(inner, "\n")), true
		}
	}

	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return "", false
	}
	open := raw[start]
	var closing byte = '}'
	if open == '[' {
		closing = ']'
	}

	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	// Unterminated document: keep the tail and let balancing close it.
	return raw[start:], true
}

func removeTrailingCommas(text string) string {
	text = trailingCommaBraceRe.ReplaceAllString(text, "}")
	return trailingCommaBracketRe.ReplaceAllString(text, "]")
}

// balanceBrackets appends the closing braces and brackets an interrupted
// response never emitted, in last-opened-first-closed order.
func balanceBrackets(text string) string {
	text = strings.TrimSpace(text)

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				stack = append(stack, '}')
			}
		case '[':
			if !inString {
				stack = append(stack, ']')
			}
		case '}', ']':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.Grow(len(text) + len(stack))
	b.WriteString(text)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
