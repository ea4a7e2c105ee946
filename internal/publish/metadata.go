package publish

import (
	"strings"
	"unicode/utf8"
)

// Destination limits (YouTube Data API). Both are counted in characters,
// not bytes, so multi-byte titles keep their full allowance.
const (
	maxTitleLen       = 100
	maxDescriptionLen = 5000

	shortsSuffix = " #Shorts"
)

// PrepareMetadata enforces destination field limits.
//
// For Shorts the discoverability suffix is appended unless already present;
// the base title is truncated first so the suffix always fits within the
// title limit. Description is truncated independently.
func PrepareMetadata(meta Metadata) Metadata {
	title := meta.Title
	if meta.Shorts && !strings.Contains(title, strings.TrimSpace(shortsSuffix)) {
		title = truncate(title, maxTitleLen-utf8.RuneCountInString(shortsSuffix))
		title += shortsSuffix
	}
	meta.Title = truncate(title, maxTitleLen)
	meta.Description = truncate(meta.Description, maxDescriptionLen)
	return meta
}

// truncate cuts s to at most max characters, never splitting a rune.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
