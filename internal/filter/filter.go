package filter

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/patchpilot/pkg/models"
)

// binaryExtensions lists file extensions that are never worth sending to a
// model, regardless of content.
var binaryExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "bmp": true,
	"ico": true, "svg": true, "webp": true, "tiff": true, "tif": true,
	"mp3": true, "mp4": true, "wav": true, "avi": true, "mov": true,
	"mkv": true, "flac": true, "ogg": true, "webm": true,
	"zip": true, "tar": true, "gz": true, "bz2": true, "xz": true,
	"7z": true, "rar": true,
	"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true,
	"ppt": true, "pptx": true,
	"exe": true, "dll": true, "so": true, "dylib": true, "bin": true,
	"obj": true, "o": true, "a": true, "lib": true,
	"woff": true, "woff2": true, "ttf": true, "eot": true, "otf": true,
	"pyc": true, "pyo": true, "class": true, "jar": true,
	"sqlite": true, "db": true, "dat": true,
}

// Matcher decides which changed files enter the review pipeline. All
// patterns are compiled once at construction so per-file decisions stay
// allocation-free.
type Matcher struct {
	ignore      []*regexp.Regexp
	allowedExts map[string]bool
}

// NewMatcher compiles ignore globs and regexes plus an optional extension
// allow-list into a reusable matcher. Invalid patterns are logged and
// skipped rather than failing the whole configuration.
func NewMatcher(globs, regexes, allowExts []string) *Matcher {
	m := &Matcher{}

	for _, pattern := range regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Warn().Str("pattern", pattern).Err(err).Msg("invalid ignore regex pattern")
			continue
		}
		m.ignore = append(m.ignore, re)
	}

	for _, glob := range globs {
		if re, err := regexp.Compile(globToRegex(glob)); err == nil {
			m.ignore = append(m.ignore, re)
		} else {
			log.Warn().Str("glob", glob).Err(err).Msg("invalid ignore glob pattern")
		}
		// A "**/"-prefixed glob should also match files at the repo root.
		if rest, ok := strings.CutPrefix(glob, "**/"); ok {
			if re, err := regexp.Compile(globToRegex(rest)); err == nil {
				m.ignore = append(m.ignore, re)
			}
		}
	}

	if len(allowExts) > 0 {
		m.allowedExts = make(map[string]bool, len(allowExts))
		for _, ext := range allowExts {
			m.allowedExts[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
		}
	}

	return m
}

// Decide classifies one changed file. sample is a prefix of the file's
// content (the diff text is fine) used for binary sniffing; it may be nil.
// Checks run in a fixed order and the first exclusion wins.
func (m *Matcher) Decide(path string, sample []byte) models.FilterDecision {
	if m.Ignored(path) {
		return models.FilterDecision{Reason: models.FilterIgnored}
	}

	ext := extensionOf(path)
	if m.allowedExts != nil && !m.allowedExts[ext] {
		return models.FilterDecision{Reason: models.FilterExtensionNotAllowed}
	}

	if binaryExtensions[ext] || isBinaryContent(sample) {
		return models.FilterDecision{Reason: models.FilterBinary}
	}

	return models.FilterDecision{Included: true, Reason: models.FilterIncluded}
}

// Ignored reports whether path matches any configured ignore pattern.
func (m *Matcher) Ignored(path string) bool {
	for _, re := range m.ignore {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func extensionOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// globToRegex converts a shell-style glob to an anchored regex. Supports
// "*", "**", "?", and character classes; "**/" matches zero or more leading
// directories.
func globToRegex(glob string) string {
	var sb strings.Builder
	sb.WriteByte('^')

	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				i++
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
					sb.WriteString("(?:.*/)?")
				} else {
					sb.WriteString(".*")
				}
			} else {
				sb.WriteString("[^/]*")
			}
		case '?':
			sb.WriteString("[^/]")
		case '.':
			sb.WriteString("\\.")
		case '[':
			sb.WriteByte('[')
			for i++; i < len(runes); i++ {
				sb.WriteRune(runes[i])
				if runes[i] == ']' {
					break
				}
			}
		default:
			sb.WriteRune(c)
		}
	}

	sb.WriteByte('$')
	return sb.String()
}

// isBinaryContent sniffs a content sample for binary data: a NUL byte, or
// more than 30% non-printable characters in the first 512 bytes.
func isBinaryContent(sample []byte) bool {
	if len(sample) == 0 {
		return false
	}

	limit := 512
	if len(sample) < limit {
		limit = len(sample)
	}
	sample = sample[:limit]

	nonPrintable := 0
	for _, b := range sample {
		if b == 0 {
			return true
		}
		if (b < 32 && b != '\t' && b != '\n' && b != '\r') || b >= 127 {
			nonPrintable++
		}
	}

	return float64(nonPrintable)/float64(limit) > 0.3
}
