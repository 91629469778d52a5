package app

import "strings"

// slugify derives a url-safe slug from a title: lower-case, runs of
// non-alphanumerics collapsed to single dashes, leading and trailing
// dashes trimmed. Empty input yields an empty string; the caller picks
// the placeholder.
func slugify(title string) string {
	slug := make([]rune, 0, len(title))
	lastDash := false
	for _, ch := range strings.ToLower(strings.TrimSpace(title)) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			slug = append(slug, ch)
			lastDash = false
			continue
		}
		if !lastDash {
			slug = append(slug, '-')
			lastDash = true
		}
	}
	return strings.Trim(string(slug), "-")
}
