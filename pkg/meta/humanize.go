package meta

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// acronyms stay upper-cased when humanised.
var acronyms = map[string]string{
	"id":  "ID",
	"url": "URL",
}

// Humanize turns a column or table name into a display name:
// "CREATED_AT" -> "Created At", "user_id" -> "User ID".
func Humanize(name string) string {
	caser := cases.Title(language.English)
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	for i, w := range words {
		lower := strings.ToLower(w)
		if a, ok := acronyms[lower]; ok {
			words[i] = a
			continue
		}
		words[i] = caser.String(lower)
	}
	return strings.Join(words, " ")
}
