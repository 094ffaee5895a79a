package guardrails

import (
	"regexp"
	"strings"

	"github.com/mwiater/ragguard/internal/logging"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	jsSchemePattern   = regexp.MustCompile(`(?i)javascript:`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	sqlPatterns       = []*regexp.Regexp{
		regexp.MustCompile(`(?i)DROP\s+TABLE`),
		regexp.MustCompile(`(?i)DELETE\s+FROM`),
		regexp.MustCompile(`(?i)INSERT\s+INTO`),
		regexp.MustCompile(`(?is)UPDATE\s+.*\s+SET`),
	}
)

// Sanitize strips HTML tags, javascript: markers and SQL statement fragments,
// collapses whitespace, and truncates to the maximum input length. Stripping
// repeats until nothing changes, so Sanitize(Sanitize(s)) == Sanitize(s).
// It never fails; if cleaning breaks, the input is returned unchanged.
func (f *Filter) Sanitize(text string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogEvent("[GUARDRAILS] sanitize failed: %v", r)
			out = text
		}
	}()

	limit := f.current.Load().policy.MaxInputLength
	cleaned := text
	for {
		next := htmlTagPattern.ReplaceAllString(cleaned, "")
		next = jsSchemePattern.ReplaceAllString(next, "")
		for _, re := range sqlPatterns {
			next = re.ReplaceAllString(next, "")
		}
		if next == cleaned {
			break
		}
		cleaned = next
	}

	cleaned = strings.TrimSpace(whitespacePattern.ReplaceAllString(cleaned, " "))
	if runes := []rune(cleaned); limit > 0 && len(runes) > limit {
		cleaned = strings.TrimSpace(string(runes[:limit]))
	}
	return cleaned
}
