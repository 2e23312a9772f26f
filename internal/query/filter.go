package query

import (
	"strings"

	"github.com/msgdesk/msgdesk/internal/contact"
	"github.com/msgdesk/msgdesk/internal/status"
)

// filterCaps is the capability view the composer needs: a sector filter
// with sector support off, or a label filter with the label tables absent,
// can match nothing.
type filterCaps struct {
	Sector bool
	Labels bool
}

// composedFilter is the result of composing a MessageFilter: a clause
// fragment (possibly empty), its parameters, the next placeholder index,
// and whether the filter provably matches no rows.
type composedFilter struct {
	Clause  string
	Args    []any
	NextIdx int
	Empty   bool
}

const sqlDateTime = "2006-01-02 15:04:05"

// composeFilter renders the optional filter dimensions into predicates,
// in a fixed order: status, date range, recipient, free-text search,
// sector, label. The index advances by exactly the number of markers
// emitted; parameters are positional, so the bookkeeping must be exact.
func composeFilter(f MessageFilter, caps filterCaps, ph Placeholder, idx int, alias string) composedFilter {
	if f.SectorID != nil && !caps.Sector {
		return composedFilter{NextIdx: idx, Empty: true}
	}
	if f.Label != "" && !caps.Labels {
		return composedFilter{NextIdx: idx, Empty: true}
	}

	p := ""
	if alias != "" {
		p = alias + "."
	}

	var preds []string
	var args []any

	if f.Status != "" {
		vals := status.TranslateForQuery(f.Status)
		marks := make([]string, len(vals))
		for i, v := range vals {
			marks[i] = ph(idx)
			args = append(args, v)
			idx++
		}
		preds = append(preds, p+"status IN ("+strings.Join(marks, ", ")+")")
	}

	if f.DateFrom != nil || f.DateTo != nil {
		switch f.DateMode {
		case DateModeCallback:
			preds = append(preds, p+"callback_at IS NOT NULL")
			if f.DateFrom != nil {
				preds = append(preds, "datetime("+p+"callback_at) >= "+ph(idx))
				args = append(args, f.DateFrom.UTC().Format(sqlDateTime))
				idx++
			}
			if f.DateTo != nil {
				preds = append(preds, "datetime("+p+"callback_at) <= "+ph(idx))
				args = append(args, f.DateTo.UTC().Format(sqlDateTime))
				idx++
			}
		default:
			expr := referenceDateExpr(p)
			if f.DateFrom != nil {
				preds = append(preds, expr+" >= "+ph(idx))
				args = append(args, f.DateFrom.UTC().Format("2006-01-02"))
				idx++
			}
			if f.DateTo != nil {
				preds = append(preds, expr+" <= "+ph(idx))
				args = append(args, f.DateTo.UTC().Format("2006-01-02"))
				idx++
			}
		}
	}

	if r := strings.TrimSpace(f.Recipient); r != "" {
		preds = append(preds, "LOWER("+p+"recipient) LIKE "+ph(idx)+" ESCAPE '\\'")
		args = append(args, likePattern(r))
		idx++
	}

	if term := strings.TrimSpace(f.Search); term != "" {
		pattern := likePattern(term)
		ors := []string{
			"LOWER(" + p + "sender_name) LIKE " + ph(idx) + " ESCAPE '\\'",
		}
		args = append(args, pattern)
		idx++
		ors = append(ors, "LOWER("+p+"sender_email) LIKE "+ph(idx)+" ESCAPE '\\'")
		args = append(args, pattern)
		idx++
		ors = append(ors, "LOWER("+p+"recipient) LIKE "+ph(idx)+" ESCAPE '\\'")
		args = append(args, pattern)
		idx++
		if digits := contact.NormalizePhone(term); contact.PlausiblePhone(digits) {
			ors = append(ors, phoneDigitsExpr(p+"sender_phone")+" LIKE "+ph(idx))
			args = append(args, "%"+digits+"%")
			idx++
		}
		preds = append(preds, "("+strings.Join(ors, " OR ")+")")
	}

	if f.SectorID != nil {
		preds = append(preds, p+"recipient_sector_id = "+ph(idx))
		args = append(args, *f.SectorID)
		idx++
	}

	if f.Label != "" {
		preds = append(preds, "EXISTS (SELECT 1 FROM message_labels ml JOIN labels l ON l.id = ml.label_id"+
			" WHERE ml.message_id = "+p+"id AND l.name = "+ph(idx)+")")
		args = append(args, f.Label)
		idx++
	}

	return composedFilter{
		Clause:  strings.Join(preds, " AND "),
		Args:    args,
		NextIdx: idx,
	}
}

// referenceDateExpr is the derived date used for filtering and sorting:
// call_date when it looks like YYYY-MM-DD, else the creation date.
// Legacy rows hold free-form call_date values that must not poison range
// comparisons.
func referenceDateExpr(prefix string) string {
	return "COALESCE((CASE WHEN " + prefix + "call_date GLOB '[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]'" +
		" THEN " + prefix + "call_date END), date(" + prefix + "created_at))"
}

// phoneDigitsExpr strips common phone formatting characters from a column
// so stored numbers compare digits-to-digits with a normalized search term.
func phoneDigitsExpr(col string) string {
	expr := col
	for _, ch := range []string{" ", "-", "(", ")", ".", "+", "/"} {
		expr = "REPLACE(" + expr + ", '" + ch + "', '')"
	}
	return expr
}

// likePattern builds a case-insensitive substring LIKE pattern, escaping
// the LIKE metacharacters in the user's term.
func likePattern(term string) string {
	t := strings.ToLower(term)
	t = strings.ReplaceAll(t, `\`, `\\`)
	t = strings.ReplaceAll(t, "%", `\%`)
	t = strings.ReplaceAll(t, "_", `\_`)
	return "%" + t + "%"
}
