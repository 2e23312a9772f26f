// Package contact provides phone and email canonicalization for contact
// matching. Phone numbers are reduced to their digits so that formatting
// differences ("(11) 99999-8888" vs "11999998888") never defeat a match.
package contact

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldName reduces a person's name to a diacritic-free lowercase form for
// equality comparison. Legacy rows carry recipient names typed by hand, so
// "JOÃO PEDRO" and "João Pedro" must fold to the same key. Registered as a
// SQL function so both sides of a comparison fold identically.
func FoldName(raw string) string {
	s, _, err := transform.String(foldTransformer, raw)
	if err != nil {
		s = raw
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone reduces a raw phone string to digits only.
// Returns "" when the input contains no digits.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeEmail lowercases and trims a raw email address.
// Returns "" when the input is not plausibly an email (no "@" with
// characters on both sides).
func NormalizeEmail(raw string) string {
	e := strings.ToLower(strings.TrimSpace(raw))
	at := strings.Index(e, "@")
	if at <= 0 || at == len(e)-1 {
		return ""
	}
	return e
}

// PlausiblePhone reports whether a normalized digit string is long enough
// to be treated as a phone number rather than an incidental run of digits.
// Six digits covers the shortest local numbers still in use.
func PlausiblePhone(digits string) bool {
	return len(digits) >= 6
}
