package query

import (
	"strings"

	"github.com/msgdesk/msgdesk/internal/contact"
)

// viewerOpts carries the capability facts and table alias the viewer
// clause builder needs. Sector membership is checked live via subquery,
// never cached: membership changes independently of schema.
type viewerOpts struct {
	SupportsRecipientUser    bool
	SupportsCreator          bool
	SupportsSectorMembership bool
	TableAlias               string
}

func (o viewerOpts) prefix() string {
	if o.TableAlias == "" {
		return ""
	}
	return o.TableAlias + "."
}

// viewerClause builds the row-visibility predicate for a viewer.
//
// Scope "all" (or no viewer) places no restriction and returns an empty
// clause. Scope "own" admits a row when any of the following hold:
// public visibility; the row is addressed to the viewer; the viewer
// created it (when the column exists); the row targets a sector the
// viewer belongs to (when membership is supported); or, for viewers
// without a usable numeric id, the legacy free-text recipient equals the
// viewer's name on an unattributed row. A viewer with neither id nor name
// degrades to public-only.
//
// The clause is always parenthesized so its internal ORs can never leak
// into the caller's WHERE precedence. Returns the clause, its parameters,
// and the next placeholder index.
func viewerClause(v *Viewer, ph Placeholder, idx int, opts viewerOpts) (string, []any, int) {
	if v == nil || v.Scope != ScopeOwn {
		return "", nil, idx
	}

	p := opts.prefix()
	var preds []string
	var args []any

	preds = append(preds, p+"visibility = "+ph(idx))
	args = append(args, VisibilityPublic)
	idx++

	name := contact.FoldName(v.Name)

	switch {
	case v.ID > 0:
		if opts.SupportsRecipientUser {
			preds = append(preds, p+"recipient_user_id = "+ph(idx))
			args = append(args, v.ID)
			idx++
		}
		if opts.SupportsCreator {
			preds = append(preds, p+"created_by = "+ph(idx))
			args = append(args, v.ID)
			idx++
		}
		if opts.SupportsSectorMembership {
			preds = append(preds, "("+p+"recipient_sector_id IS NOT NULL AND "+
				p+"recipient_sector_id IN (SELECT sector_id FROM user_sectors WHERE user_id = "+ph(idx)+"))")
			args = append(args, v.ID)
			idx++
		}
	case name != "":
		// Legacy rows predate user attribution: the recipient label is the
		// only ownership signal, and it only counts while the row remains
		// unattributed. name_fold on both sides: SQLite's own LOWER() is
		// ASCII-only and would miss accented names.
		if opts.SupportsRecipientUser {
			preds = append(preds, "("+p+"recipient_user_id IS NULL AND name_fold("+p+"recipient) = "+ph(idx)+")")
		} else {
			preds = append(preds, "name_fold("+p+"recipient) = "+ph(idx))
		}
		args = append(args, name)
		idx++
	}

	return "(" + strings.Join(preds, " OR ") + ")", args, idx
}
