package content

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Default validation limits.
const (
	DefaultMinChars = 200
	DefaultMinWords = 30
	errorPageWindow = 500
)

var errorPageSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?i)access\s*denied`),
	regexp.MustCompile(`(?i)403\s*forbidden`),
	regexp.MustCompile(`(?i)404\s*not\s*found`),
	regexp.MustCompile(`(?i)captcha`),
	regexp.MustCompile(`(?i)cloudflare`),
	regexp.MustCompile(`(?i)just\s*a\s*moment`),
	regexp.MustCompile(`(?i)checking\s*your\s*browser`),
	regexp.MustCompile(`(?i)blocked`),
	regexp.MustCompile(`(?i)rate\s*limit`),
}

// Limits bounds what counts as a real article.
type Limits struct {
	MinChars int
	MinWords int
}

// DefaultLimits returns the 200 character / 30 word floor.
func DefaultLimits() Limits {
	return Limits{MinChars: DefaultMinChars, MinWords: DefaultMinWords}
}

// Validate returns the failure reason for text, or "" when it is acceptable.
// Checks run in order: length, word count, error-page signatures.
func (l Limits) Validate(text string) string {
	if utf8.RuneCountInString(text) < l.MinChars {
		return ReasonTooShort
	}
	if len(strings.Fields(text)) < l.MinWords {
		return ReasonTooFewWord
	}
	if looksLikeErrorPage(text) {
		return ReasonErrorPage
	}
	return ""
}

func looksLikeErrorPage(text string) bool {
	head := text
	if utf8.RuneCountInString(head) > errorPageWindow {
		head = string([]rune(head)[:errorPageWindow])
	}
	for _, sig := range errorPageSignatures {
		if sig.MatchString(head) {
			return true
		}
	}
	return false
}
