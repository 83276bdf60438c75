package call

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CleanPhoneNumber removes whitespace, dashes, slashes, periods, and soft
// hyphens (U+00AD) from a phone number before it is placed in a SIP URI.
func CleanPhoneNumber(number string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return -1
		case r == '-' || r == '/' || r == '.' || r == '­':
			return -1
		}
		return r
	}, number)
}

// IsSubstring reports whether sub occurs in target after lowering case and
// stripping diacritics, so "Jose" matches "José". An empty target never
// matches.
func IsSubstring(target, sub string) bool {
	if target == "" {
		return false
	}
	return strings.Contains(foldString(target), foldString(sub))
}

// foldString lowercases s and removes combining marks after NFD
// decomposition.
func foldString(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return folded
}
