// Package normalize reduces question text to the key used for answer lookup.
package normalize

import "strings"

var stripper = strings.NewReplacer("?", "", ".", "", ",", "", "!", "")

// Question lower-cases text, removes ? . , ! anywhere in it and trims the
// surrounding whitespace. Trimming runs last so that "hours ?" and "hours"
// share a key and Question(Question(s)) == Question(s).
func Question(text string) string {
	return strings.TrimSpace(stripper.Replace(strings.ToLower(text)))
}
