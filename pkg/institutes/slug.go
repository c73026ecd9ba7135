package institutes

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const maxSlugLen = 60

// Slugify lowercases name and joins its letter and digit runs with hyphens
func Slugify(name string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	slug := b.String()
	if runes := []rune(slug); len(runes) > maxSlugLen {
		slug = strings.TrimRight(string(runes[:maxSlugLen]), "-")
	}
	return slug
}

// withSuffix disambiguates a slug that is already taken
func withSuffix(slug string) string {
	return slug + "-" + uuid.NewString()[:8]
}
