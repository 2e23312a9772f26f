package query

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/msgdesk/msgdesk/internal/status"
	"github.com/msgdesk/msgdesk/internal/store"
)

// Engine executes message queries against a store, enforcing viewer
// visibility and adapting to the deployment's optional schema via the
// capability registry.
type Engine struct {
	store  *store.Store
	caps   *store.Capabilities
	logger *slog.Logger
}

// NewEngine creates a query engine. The capability registry is injected,
// never reached through package state, so tests can run engines against
// differently-shaped databases side by side.
func NewEngine(s *store.Store, caps *store.Capabilities, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, caps: caps, logger: logger}
}

// capView is a point-in-time snapshot of every optional capability. Each
// operation resolves one snapshot, builds its plan from it, and resolves a
// fresh one if a schema mismatch forces a retry.
type capView struct {
	RecipientUser bool
	Sector        bool
	CreatedBy     bool
	UpdatedBy     bool
	Parent        bool
	UserSectors   bool
	Labels        bool
}

func (e *Engine) capView(ctx context.Context) capView {
	return capView{
		RecipientUser: e.caps.Column(ctx, store.CapRecipientUserID),
		Sector:        e.caps.Column(ctx, store.CapRecipientSectorID),
		CreatedBy:     e.caps.Column(ctx, store.CapCreatedBy),
		UpdatedBy:     e.caps.Column(ctx, store.CapUpdatedBy),
		Parent:        e.caps.Column(ctx, store.CapParentMessageID),
		UserSectors:   e.caps.Table(ctx, store.CapUserSectors),
		Labels:        e.caps.Table(ctx, store.CapLabels),
	}
}

func (v capView) viewerOpts(alias string) viewerOpts {
	return viewerOpts{
		SupportsRecipientUser:    v.RecipientUser,
		SupportsCreator:          v.CreatedBy,
		SupportsSectorMembership: v.Sector && v.UserSectors,
		TableAlias:               alias,
	}
}

func (v capView) filterCaps() filterCaps {
	return filterCaps{Sector: v.Sector, Labels: v.Labels}
}

// withSchemaRetry runs fn with a capability snapshot. When fn fails
// because the database lacks an optional column or table the snapshot
// claimed to exist, only that capability is invalidated and fn runs once
// more with a corrected snapshot. Any other error, and any error on the
// second attempt, propagates: connectivity failures must never be retried
// here, and a retry loop that cannot converge must not spin.
func (e *Engine) withSchemaRetry(ctx context.Context, op string, fn func(v capView) error) error {
	err := fn(e.capView(ctx))
	if err == nil {
		return nil
	}

	kind, name, ok := store.MissingSchemaObject(err)
	if !ok || !store.IsOptionalCapability(name) {
		return err
	}

	e.caps.Invalidate(name)
	e.logger.Debug("schema mismatch, invalidated capability and retrying",
		"op", op, "object", name, "kind", int(kind))
	return fn(e.capView(ctx))
}

// baseColumns are always selected; optionalColumns are appended per the
// capability snapshot, in this order.
var baseColumns = []string{
	"id", "call_date", "call_time", "recipient",
	"sender_name", "sender_phone", "sender_email",
	"subject", "body", "status", "visibility",
	"callback_at", "notes", "created_at", "updated_at",
}

// selectColumns returns the qualified select list for a snapshot.
func selectColumns(v capView, alias string) string {
	p := ""
	if alias != "" {
		p = alias + "."
	}
	cols := make([]string, 0, len(baseColumns)+5)
	for _, c := range baseColumns {
		cols = append(cols, p+c)
	}
	if v.RecipientUser {
		cols = append(cols, p+"recipient_user_id")
	}
	if v.Sector {
		cols = append(cols, p+"recipient_sector_id")
	}
	if v.CreatedBy {
		cols = append(cols, p+"created_by")
	}
	if v.UpdatedBy {
		cols = append(cols, p+"updated_by")
	}
	if v.Parent {
		cols = append(cols, p+"parent_message_id")
	}
	return strings.Join(cols, ", ")
}

// scanMessage scans one row produced by selectColumns with the same
// snapshot. The target list must mirror selectColumns exactly.
func scanMessage(rows interface{ Scan(...any) error }, v capView) (Message, error) {
	var m Message
	var callDate, callTime, callbackAt sql.NullString
	var createdAt, updatedAt string

	targets := []any{
		&m.ID, &callDate, &callTime, &m.Recipient,
		&m.SenderName, &m.SenderPhone, &m.SenderEmail,
		&m.Subject, &m.Body, &m.Status, &m.Visibility,
		&callbackAt, &m.Notes, &createdAt, &updatedAt,
	}

	var recipientUser, sector, createdBy, updatedBy, parent sql.NullInt64
	if v.RecipientUser {
		targets = append(targets, &recipientUser)
	}
	if v.Sector {
		targets = append(targets, &sector)
	}
	if v.CreatedBy {
		targets = append(targets, &createdBy)
	}
	if v.UpdatedBy {
		targets = append(targets, &updatedBy)
	}
	if v.Parent {
		targets = append(targets, &parent)
	}

	if err := rows.Scan(targets...); err != nil {
		return Message{}, err
	}

	// Writes persist canonical statuses, but legacy rows were never
	// backfilled; reads translate so the old vocabulary stays internal.
	m.Status = status.Normalize(m.Status)
	m.CallDate = callDate.String
	m.CallTime = callTime.String
	if t, ok := parseDBTime(callbackAt.String); ok {
		m.CallbackAt = &t
	}
	if t, ok := parseDBTime(createdAt); ok {
		m.CreatedAt = t
	}
	if t, ok := parseDBTime(updatedAt); ok {
		m.UpdatedAt = t
	}
	if recipientUser.Valid {
		m.RecipientUserID = &recipientUser.Int64
	}
	if sector.Valid {
		m.RecipientSectorID = &sector.Int64
	}
	if createdBy.Valid {
		m.CreatedBy = &createdBy.Int64
	}
	if updatedBy.Valid {
		m.UpdatedBy = &updatedBy.Int64
	}
	if parent.Valid {
		m.ParentMessageID = &parent.Int64
	}
	return m, nil
}

// parseDBTime parses the datetime shapes SQLite produces.
func parseDBTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{sqlDateTime, "2006-01-02T15:04:05Z", time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
