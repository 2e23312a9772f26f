package query

import (
	"strconv"

	"github.com/msgdesk/msgdesk/internal/status"
)

// Pagination bounds. Unreasonable client input falls back to these rather
// than erroring.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// sortableKeys is the allow-list of sortable columns, mapped to the SQL
// expression each sorts on. Anything else falls back to creation time.
func sortExpr(key, prefix string) (string, bool) {
	switch key {
	case "call_date":
		return referenceDateExpr(prefix), true
	case "callback_at":
		return "datetime(" + prefix + "callback_at)", true
	case "sender_name":
		return "LOWER(" + prefix + "sender_name)", true
	case "subject":
		return "LOWER(" + prefix + "subject)", true
	case "status":
		// Legacy rows keep their old labels; ordering the raw column would
		// interleave the two vocabularies.
		return status.NormalizeExpr(prefix + "status"), true
	case "created_at":
		return "datetime(" + prefix + "created_at)", true
	}
	return "", false
}

// sortClause returns the ORDER BY clause for a filter. Unknown keys sort
// by creation time descending. A secondary sort by id descending breaks
// ties deterministically.
func sortClause(f MessageFilter, alias string) string {
	p := ""
	if alias != "" {
		p = alias + "."
	}

	expr, ok := sortExpr(f.SortKey, p)
	if !ok {
		return "ORDER BY datetime(" + p + "created_at) DESC, " + p + "id DESC"
	}

	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	return "ORDER BY " + expr + " " + dir + ", " + p + "id DESC"
}

// clampLimit bounds a requested page size to [1, maxLimit], defaulting
// when absent or nonsensical.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// clampOffset bounds a requested offset to non-negative.
func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// limitOffsetClause renders the pagination tail. Values are clamped
// server-side and inlined as integers, never via placeholders, so they can
// never desynchronize the positional parameter accounting.
func limitOffsetClause(f MessageFilter) string {
	return "LIMIT " + strconv.Itoa(clampLimit(f.Limit)) + " OFFSET " + strconv.Itoa(clampOffset(f.Offset))
}
