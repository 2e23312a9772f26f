// Package query implements the access-controlled query engine for messages.
// It composes viewer visibility rules and optional filter dimensions into
// parameterized SQL, adapting to whatever subset of the optional schema the
// deployed database actually has.
package query

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a message does not exist or is not visible
// to the requesting viewer. The two cases are deliberately
// indistinguishable.
var ErrNotFound = errors.New("message not found")

// Viewer visibility scopes.
const (
	ScopeAll = "all"
	ScopeOwn = "own"
)

// Viewer is the authenticated actor a query executes on behalf of.
type Viewer struct {
	ID    int64
	Name  string
	Role  string
	Scope string // ScopeAll | ScopeOwn
}

// Visibility values for a message.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Message is a phone/front-desk message addressed to a user or sector.
// Pointer fields correspond to optional schema columns: nil either because
// the row holds NULL or because the deployment lacks the column entirely.
type Message struct {
	ID                int64
	CallDate          string // YYYY-MM-DD; legacy rows may hold other shapes
	CallTime          string // HH:MM
	Recipient         string // free-text label
	RecipientUserID   *int64
	RecipientSectorID *int64
	SenderName        string
	SenderPhone       string
	SenderEmail       string
	Subject           string
	Body              string
	Status            string // canonical
	Visibility        string
	CallbackAt        *time.Time
	Notes             string
	ParentMessageID   *int64
	CreatedBy         *int64
	UpdatedBy         *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DateMode selects which timestamp a date-range filter applies to.
// The two modes are mutually exclusive.
type DateMode int

const (
	// DateModeReference filters on the reference date: call_date when
	// well-formed, otherwise the creation date.
	DateModeReference DateMode = iota
	// DateModeCallback filters on callback_at and additionally requires it
	// to be non-null.
	DateModeCallback
)

// MessageFilter describes the optional filter dimensions of a list query.
// Zero values mean "dimension absent".
type MessageFilter struct {
	Status    string
	DateFrom  *time.Time
	DateTo    *time.Time
	DateMode  DateMode
	Search    string // free text; may normalize to a phone number
	Recipient string // substring match on the free-text recipient label
	SectorID  *int64
	Label     string
	Limit     int
	Offset    int
	SortKey   string
	SortDesc  bool
}

// Optional distinguishes "omitted" from "explicitly null" in a partial
// update. The zero value is omitted.
type Optional[T any] struct {
	set  bool
	null bool
	val  T
}

// Some returns an Optional carrying v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{set: true, val: v}
}

// Null returns an Optional that explicitly clears the column.
func Null[T any]() Optional[T] {
	return Optional[T]{set: true, null: true}
}

// IsSet reports whether the field was supplied at all.
func (o Optional[T]) IsSet() bool { return o.set }

// IsNull reports whether the field was supplied as an explicit null.
func (o Optional[T]) IsNull() bool { return o.set && o.null }

// Get returns the carried value and whether a non-null value is present.
func (o Optional[T]) Get() (T, bool) {
	if !o.set || o.null {
		var zero T
		return zero, false
	}
	return o.val, true
}

// MessageDraft is the payload for creating a message. Optional-column
// fields are included in the insert only when the deployment supports the
// column and the draft supplies a value.
type MessageDraft struct {
	CallDate          string
	CallTime          string
	Recipient         string
	RecipientUserID   *int64
	RecipientSectorID *int64
	SenderName        string
	SenderPhone       string
	SenderEmail       string
	Subject           string
	Body              string
	Status            string // any vocabulary; normalized before writing
	Visibility        string // defaults to private
	CallbackAt        *time.Time
	Notes             string
	CreatedBy         *int64
}

// MessagePatch is a partial update. Status and Visibility use
// keep-current-value-if-absent semantics evaluated inside the UPDATE
// statement, so concurrent updates of disjoint fields never lose writes.
type MessagePatch struct {
	CallDate          Optional[string]
	CallTime          Optional[string]
	Recipient         Optional[string]
	RecipientUserID   Optional[int64]
	RecipientSectorID Optional[int64]
	SenderName        Optional[string]
	SenderPhone       Optional[string]
	SenderEmail       Optional[string]
	Subject           Optional[string]
	Body              Optional[string]
	Status            Optional[string]
	Visibility        Optional[string]
	CallbackAt        Optional[time.Time]
	Notes             Optional[string]
	UpdatedBy         Optional[int64]
}

// Placeholder renders the positional marker for the n-th parameter
// (1-based). SQLite uses bare "?", so the index only drives bookkeeping,
// but threading it explicitly keeps every fragment builder honest about
// how many parameters it consumed.
type Placeholder func(n int) string

// QuestionMark is the SQLite placeholder style.
func QuestionMark(int) string { return "?" }
