package query

import (
	"strings"
	"testing"
)

func fullViewerOpts() viewerOpts {
	return viewerOpts{
		SupportsRecipientUser:    true,
		SupportsCreator:          true,
		SupportsSectorMembership: true,
		TableAlias:               "m",
	}
}

// countMarkers counts the positional markers in a clause.
func countMarkers(clause string) int {
	return strings.Count(clause, "?")
}

func TestViewerClauseScopeAll(t *testing.T) {
	v := &Viewer{ID: 1, Name: "Ana", Scope: ScopeAll}
	clause, args, next := viewerClause(v, QuestionMark, 1, fullViewerOpts())
	if clause != "" || len(args) != 0 || next != 1 {
		t.Errorf("scope all: clause=%q args=%v next=%d, want empty/none/1", clause, args, next)
	}
}

func TestViewerClauseNilViewer(t *testing.T) {
	clause, args, next := viewerClause(nil, QuestionMark, 3, fullViewerOpts())
	if clause != "" || len(args) != 0 || next != 3 {
		t.Errorf("nil viewer: clause=%q args=%v next=%d", clause, args, next)
	}
}

func TestViewerClauseScopeOwnFullSupport(t *testing.T) {
	v := &Viewer{ID: 7, Name: "Ana", Scope: ScopeOwn}
	clause, args, next := viewerClause(v, QuestionMark, 1, fullViewerOpts())

	if !strings.HasPrefix(clause, "(") || !strings.HasSuffix(clause, ")") {
		t.Errorf("clause not parenthesized: %q", clause)
	}
	for _, want := range []string{
		"m.visibility = ?",
		"m.recipient_user_id = ?",
		"m.created_by = ?",
		"SELECT sector_id FROM user_sectors WHERE user_id = ?",
	} {
		if !strings.Contains(clause, want) {
			t.Errorf("clause missing %q:\n%s", want, clause)
		}
	}
	if got := countMarkers(clause); got != len(args) {
		t.Errorf("marker count %d != arg count %d", got, len(args))
	}
	if next != 1+len(args) {
		t.Errorf("next index %d, want %d", next, 1+len(args))
	}
	if args[0] != VisibilityPublic {
		t.Errorf("first arg %v, want public", args[0])
	}
}

func TestViewerClauseWithoutCreatorSupport(t *testing.T) {
	opts := fullViewerOpts()
	opts.SupportsCreator = false
	v := &Viewer{ID: 7, Scope: ScopeOwn}
	clause, args, _ := viewerClause(v, QuestionMark, 1, opts)

	if strings.Contains(clause, "created_by") {
		t.Errorf("created_by predicate emitted without support:\n%s", clause)
	}
	if got := countMarkers(clause); got != len(args) {
		t.Errorf("marker count %d != arg count %d", got, len(args))
	}
}

func TestViewerClauseWithoutSectorMembership(t *testing.T) {
	opts := fullViewerOpts()
	opts.SupportsSectorMembership = false
	v := &Viewer{ID: 7, Scope: ScopeOwn}
	clause, _, _ := viewerClause(v, QuestionMark, 1, opts)

	if strings.Contains(clause, "user_sectors") {
		t.Errorf("sector membership predicate emitted without support:\n%s", clause)
	}
}

// A viewer with no usable numeric id falls back to matching the legacy
// free-text recipient label, only on rows that were never attributed.
func TestViewerClauseNameFallback(t *testing.T) {
	v := &Viewer{ID: 0, Name: "  Maria Silva ", Scope: ScopeOwn}
	clause, args, _ := viewerClause(v, QuestionMark, 1, fullViewerOpts())

	if !strings.Contains(clause, "m.recipient_user_id IS NULL AND name_fold(m.recipient) = ?") {
		t.Errorf("name fallback predicate missing:\n%s", clause)
	}
	found := false
	for _, a := range args {
		if a == "maria silva" {
			found = true
		}
	}
	if !found {
		t.Errorf("folded name not in args: %v", args)
	}
}

// Accented viewer names fold before binding, matching the fold the SQL
// side applies to the recipient column.
func TestViewerClauseNameFallbackFoldsAccents(t *testing.T) {
	v := &Viewer{ID: 0, Name: "João Pedro", Scope: ScopeOwn}
	_, args, _ := viewerClause(v, QuestionMark, 1, fullViewerOpts())

	found := false
	for _, a := range args {
		if a == "joao pedro" {
			found = true
		}
	}
	if !found {
		t.Errorf("accent-folded name not in args: %v", args)
	}
}

// Without the attribution column the recipient label is the only ownership
// signal, so the IS NULL guard drops away.
func TestViewerClauseNameFallbackWithoutRecipientUserColumn(t *testing.T) {
	opts := fullViewerOpts()
	opts.SupportsRecipientUser = false
	v := &Viewer{Name: "Maria", Scope: ScopeOwn}
	clause, args, _ := viewerClause(v, QuestionMark, 1, opts)

	if strings.Contains(clause, "recipient_user_id") {
		t.Errorf("unsupported column referenced:\n%s", clause)
	}
	if !strings.Contains(clause, "name_fold(m.recipient) = ?") {
		t.Errorf("name fallback missing:\n%s", clause)
	}
	if countMarkers(clause) != len(args) {
		t.Errorf("marker/arg mismatch: %q %v", clause, args)
	}
}

// A viewer with neither id nor name degrades to public-only.
func TestViewerClauseDegradesToPublicOnly(t *testing.T) {
	v := &Viewer{ID: 0, Name: "   ", Scope: ScopeOwn}
	clause, args, next := viewerClause(v, QuestionMark, 1, fullViewerOpts())

	if clause != "(m.visibility = ?)" {
		t.Errorf("clause = %q, want public-only", clause)
	}
	if len(args) != 1 || args[0] != VisibilityPublic {
		t.Errorf("args = %v", args)
	}
	if next != 2 {
		t.Errorf("next = %d, want 2", next)
	}
}

func TestViewerClauseNoAlias(t *testing.T) {
	opts := fullViewerOpts()
	opts.TableAlias = ""
	v := &Viewer{ID: 7, Scope: ScopeOwn}
	clause, _, _ := viewerClause(v, QuestionMark, 1, opts)

	if strings.Contains(clause, "m.") {
		t.Errorf("alias leaked into unaliased clause:\n%s", clause)
	}
	if !strings.Contains(clause, "visibility = ?") {
		t.Errorf("clause missing visibility predicate:\n%s", clause)
	}
}
