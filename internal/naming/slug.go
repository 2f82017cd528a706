package naming

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

var ErrEmptySlug = errors.New("slug is empty")

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9-]+`)
	hyphenRuns   = regexp.MustCompile(`-{2,}`)
)

// Sanitize turns arbitrary text into a filesystem-safe slug: lowercase
// [a-z0-9-] with single hyphens and none at either end. Empty input gives
// an empty slug.
func Sanitize(text string) string {
	s := strings.ToLower(text)
	s = nonSlugChars.ReplaceAllString(s, "-")
	s = hyphenRuns.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// SlugFromFilename sanitizes a file name with its extension removed.
func SlugFromFilename(name string) string {
	base := filepath.Base(name)
	return Sanitize(strings.TrimSuffix(base, filepath.Ext(base)))
}

// IsSlug reports whether s is already a valid, non-empty slug.
func IsSlug(s string) bool {
	return s != "" && Sanitize(s) == s
}
