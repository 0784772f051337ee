package services

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// sanitizeText normalises customer supplied free text to NFC, strips markup and control characters and
// truncates to limit runes.
func sanitizeText(value string, limit int) string {
	value = norm.NFC.String(value)
	if strings.ContainsAny(value, "<>") {
		value = html.UnescapeString(plainTextPolicy.Sanitize(value))
	}
	var b strings.Builder
	b.Grow(len(value))
	count := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			r = ' '
		}
		if limit > 0 && count >= limit {
			break
		}
		b.WriteRune(r)
		count++
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
