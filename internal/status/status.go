// Package status maps between the canonical message status vocabulary and
// the legacy labels still present in historical rows. Deployments migrated
// from the old naming were never backfilled, so queries must match both
// vocabularies and writes must only ever persist canonical values.
package status

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Canonical status values.
const (
	Pending    = "pending"
	InProgress = "in_progress"
	Resolved   = "resolved"
)

// legacyLabels maps canonical statuses to the label used before the
// vocabulary migration.
var legacyLabels = map[string]string{
	Pending:    "pendente",
	InProgress: "em_andamento",
	Resolved:   "resolvido",
}

// legacyToCanonical is the inverse of legacyLabels.
var legacyToCanonical = map[string]string{
	"pendente":     Pending,
	"em_andamento": InProgress,
	"resolvido":    Resolved,
}

// aliases covers historical spelling, hyphenation, and translation variants
// observed in imported data. Keys are pre-folded (lowercase, no diacritics,
// separators collapsed to a single underscore).
var aliases = map[string]string{
	"pendencia":      Pending,
	"aberto":         Pending,
	"em_aberto":      Pending,
	"open":           Pending,
	"aguardando":     Pending,
	"novo":           Pending,
	"new":            Pending,
	"andamento":      InProgress,
	"inprogress":     InProgress,
	"em_atendimento": InProgress,
	"atendimento":    InProgress,
	"concluido":      Resolved,
	"finalizado":     Resolved,
	"fechado":        Resolved,
	"done":           Resolved,
	"closed":         Resolved,
	"completo":       Resolved,
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases, strips diacritics, and collapses separator runs to a
// single underscore so that "Em Andamento", "em-andamento", and
// "em_andamento" all compare equal.
func fold(raw string) string {
	s, _, err := transform.String(foldTransformer, raw)
	if err != nil {
		s = raw
	}
	s = strings.ToLower(strings.TrimSpace(s))
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	})
	return strings.Join(parts, "_")
}

// IsCanonical reports whether s is one of the canonical status values.
func IsCanonical(s string) bool {
	return s == Pending || s == InProgress || s == Resolved
}

// Normalize translates any status spelling to its canonical value.
// Lookup order: canonical, legacy label, alias table. Empty or
// unrecognized input defaults to Pending.
func Normalize(raw string) string {
	key := fold(raw)
	if key == "" {
		return Pending
	}
	if IsCanonical(key) {
		return key
	}
	if c, ok := legacyToCanonical[key]; ok {
		return c
	}
	if c, ok := aliases[key]; ok {
		return c
	}
	return Pending
}

// LegacyLabel returns the pre-migration label for a canonical status.
func LegacyLabel(canonical string) string {
	return legacyLabels[Normalize(canonical)]
}

// NormalizeExpr returns a SQL expression yielding the canonical value for
// the status stored in col. Legacy labels translate; anything else passes
// through. Used where rows of both vocabularies must order together.
func NormalizeExpr(col string) string {
	var b strings.Builder
	b.WriteString("CASE " + col)
	for _, c := range []string{Pending, InProgress, Resolved} {
		b.WriteString(" WHEN '" + legacyLabels[c] + "' THEN '" + c + "'")
	}
	b.WriteString(" ELSE " + col + " END")
	return b.String()
}

// TranslateForQuery returns every persisted representation of a status so a
// predicate matches rows regardless of which vocabulary they were written
// under. The canonical value comes first.
func TranslateForQuery(s string) []string {
	c := Normalize(s)
	return []string{c, legacyLabels[c]}
}
