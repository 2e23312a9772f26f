package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msgdesk/msgdesk/internal/contact"
	"github.com/msgdesk/msgdesk/internal/status"
)

// fallbackBody is stored when a message arrives with an empty body; the
// body column is NOT NULL and the UI depends on it never being blank.
const fallbackBody = "(no message)"

// buildWhere composes the viewer predicate and the filter predicates into
// one WHERE clause. empty means the filter provably matches nothing.
func buildWhere(v *Viewer, f MessageFilter, cv capView, alias string) (where string, args []any, empty bool) {
	idx := 1

	vClause, vArgs, idx := viewerClause(v, QuestionMark, idx, cv.viewerOpts(alias))
	cf := composeFilter(f, cv.filterCaps(), QuestionMark, idx, alias)
	if cf.Empty {
		return "", nil, true
	}

	var preds []string
	if vClause != "" {
		preds = append(preds, vClause)
		args = append(args, vArgs...)
	}
	if cf.Clause != "" {
		preds = append(preds, cf.Clause)
		args = append(args, cf.Args...)
	}
	if len(preds) == 0 {
		return "", args, false
	}
	return " WHERE " + strings.Join(preds, " AND "), args, false
}

// List returns the messages visible to the viewer that match the filter.
// A filter targeting an absent feature yields an empty result, never an
// error.
func (e *Engine) List(ctx context.Context, v *Viewer, f MessageFilter) ([]Message, error) {
	var out []Message
	err := e.withSchemaRetry(ctx, "list", func(cv capView) error {
		out = nil
		where, args, empty := buildWhere(v, f, cv, "m")
		if empty {
			return nil
		}
		q := "SELECT " + selectColumns(cv, "m") + " FROM messages m" + where +
			" " + sortClause(f, "m") + " " + limitOffsetClause(f)
		return e.queryMessages(ctx, cv, q, args, &out)
	})
	return out, err
}

// ListWithTotal returns one page of matching messages plus the total match
// count. Both queries share the identical predicate and run concurrently.
func (e *Engine) ListWithTotal(ctx context.Context, v *Viewer, f MessageFilter) ([]Message, int64, error) {
	var out []Message
	var total int64
	err := e.withSchemaRetry(ctx, "list_with_total", func(cv capView) error {
		out, total = nil, 0
		where, args, empty := buildWhere(v, f, cv, "m")
		if empty {
			return nil
		}

		dataQ := "SELECT " + selectColumns(cv, "m") + " FROM messages m" + where +
			" " + sortClause(f, "m") + " " + limitOffsetClause(f)
		countQ := "SELECT COUNT(*) FROM messages m" + where

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return e.queryMessages(gctx, cv, dataQ, args, &out)
		})
		g.Go(func() error {
			return e.store.DB().QueryRowContext(gctx, countQ, args...).Scan(&total)
		})
		return g.Wait()
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// GetByID returns a single message if it exists and the viewer may see it.
// The invisible and the nonexistent both come back as ErrNotFound.
func (e *Engine) GetByID(ctx context.Context, v *Viewer, id int64) (*Message, error) {
	var out *Message
	err := e.withSchemaRetry(ctx, "get_by_id", func(cv capView) error {
		out = nil
		idx := 1
		vClause, vArgs, idx := viewerClause(v, QuestionMark, idx, cv.viewerOpts("m"))
		where := " WHERE m.id = " + QuestionMark(idx)
		if vClause != "" {
			where = " WHERE " + vClause + " AND m.id = " + QuestionMark(idx)
		}
		args := append(append([]any{}, vArgs...), id)

		q := "SELECT " + selectColumns(cv, "m") + " FROM messages m" + where
		row := e.store.DB().QueryRowContext(ctx, q, args...)
		m, err := scanMessage(row, cv)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		out = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

// ListThread returns the continuity chain a message belongs to: the root
// message plus every follow-up linked through parent_message_id, oldest
// first. Deployments without the linking column see only the message
// itself.
func (e *Engine) ListThread(ctx context.Context, v *Viewer, id int64) ([]Message, error) {
	root, err := e.GetByID(ctx, v, id)
	if err != nil {
		return nil, err
	}

	var out []Message
	err = e.withSchemaRetry(ctx, "list_thread", func(cv capView) error {
		out = nil
		if !cv.Parent {
			out = []Message{*root}
			return nil
		}

		rootID := root.ID
		if root.ParentMessageID != nil {
			rootID = *root.ParentMessageID
		}

		idx := 1
		vClause, vArgs, idx := viewerClause(v, QuestionMark, idx, cv.viewerOpts("m"))
		pred := "(m.id = " + QuestionMark(idx) + " OR m.parent_message_id = " + QuestionMark(idx+1) + ")"
		args := append(append([]any{}, vArgs...), rootID, rootID)
		where := " WHERE " + pred
		if vClause != "" {
			where = " WHERE " + vClause + " AND " + pred
		}

		q := "SELECT " + selectColumns(cv, "m") + " FROM messages m" + where +
			" ORDER BY datetime(m.created_at) ASC, m.id ASC"
		return e.queryMessages(ctx, cv, q, args, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ContactHistory returns the viewer-visible messages previously taken from
// the same caller, matched by normalized phone or email. With neither a
// usable phone nor email the result is empty, not an error.
func (e *Engine) ContactHistory(ctx context.Context, v *Viewer, phone, email string, limit int) ([]Message, error) {
	digits := contact.NormalizePhone(phone)
	if !contact.PlausiblePhone(digits) {
		digits = ""
	}
	normEmail := contact.NormalizeEmail(email)
	if digits == "" && normEmail == "" {
		return nil, nil
	}

	var out []Message
	err := e.withSchemaRetry(ctx, "contact_history", func(cv capView) error {
		out = nil
		idx := 1
		vClause, vArgs, idx := viewerClause(v, QuestionMark, idx, cv.viewerOpts("m"))

		var ors []string
		args := append([]any{}, vArgs...)
		if digits != "" {
			ors = append(ors, phoneDigitsExpr("m.sender_phone")+" LIKE "+QuestionMark(idx))
			args = append(args, "%"+digits+"%")
			idx++
		}
		if normEmail != "" {
			ors = append(ors, "LOWER(m.sender_email) = "+QuestionMark(idx))
			args = append(args, normEmail)
			idx++
		}

		where := " WHERE (" + strings.Join(ors, " OR ") + ")"
		if vClause != "" {
			where = " WHERE " + vClause + " AND (" + strings.Join(ors, " OR ") + ")"
		}

		q := "SELECT " + selectColumns(cv, "m") + " FROM messages m" + where +
			" ORDER BY datetime(m.created_at) DESC, m.id DESC" +
			" " + limitOffsetClause(MessageFilter{Limit: limit})
		return e.queryMessages(ctx, cv, q, args, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DueCallbacks returns unresolved messages whose callback falls inside
// [asOf, asOf+window]. Used by the reminder sweep; no viewer scoping, the
// sweep runs as the system.
func (e *Engine) DueCallbacks(ctx context.Context, asOf time.Time, window time.Duration) ([]Message, error) {
	var out []Message
	err := e.withSchemaRetry(ctx, "due_callbacks", func(cv capView) error {
		out = nil
		q := "SELECT " + selectColumns(cv, "m") + " FROM messages m" +
			" WHERE m.callback_at IS NOT NULL" +
			" AND m.status NOT IN (?, ?)" +
			" AND datetime(m.callback_at) >= ? AND datetime(m.callback_at) <= ?" +
			" ORDER BY datetime(m.callback_at) ASC, m.id ASC"
		args := []any{
			status.Resolved, status.LegacyLabel(status.Resolved),
			asOf.UTC().Format(sqlDateTime), asOf.Add(window).UTC().Format(sqlDateTime),
		}
		return e.queryMessages(ctx, cv, q, args, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// queryMessages runs a select built against cv and scans all rows into dst.
func (e *Engine) queryMessages(ctx context.Context, cv capView, q string, args []any, dst *[]Message) error {
	rows, err := e.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows, cv)
		if err != nil {
			return err
		}
		*dst = append(*dst, m)
	}
	return rows.Err()
}

// Create inserts a new message and returns its id. The payload is
// normalized first: status to the canonical vocabulary (default pending),
// visibility to private unless explicitly public, and an empty body to the
// placeholder. Capability-gated columns are included only when the
// deployment supports them and the draft supplies a value.
func (e *Engine) Create(ctx context.Context, d MessageDraft) (int64, error) {
	var id int64
	err := e.withSchemaRetry(ctx, "create", func(cv capView) error {
		body := strings.TrimSpace(d.Body)
		if body == "" {
			body = fallbackBody
		}
		visibility := VisibilityPrivate
		if d.Visibility == VisibilityPublic {
			visibility = VisibilityPublic
		}

		cols := []string{
			"call_date", "call_time", "recipient",
			"sender_name", "sender_phone", "sender_email",
			"subject", "body", "status", "visibility", "notes",
		}
		args := []any{
			d.CallDate, d.CallTime, d.Recipient,
			d.SenderName, d.SenderPhone, d.SenderEmail,
			d.Subject, body, status.Normalize(d.Status), visibility, d.Notes,
		}
		if d.CallbackAt != nil {
			cols = append(cols, "callback_at")
			args = append(args, d.CallbackAt.UTC().Format(sqlDateTime))
		}
		if cv.RecipientUser && d.RecipientUserID != nil {
			cols = append(cols, "recipient_user_id")
			args = append(args, *d.RecipientUserID)
		}
		if cv.Sector && d.RecipientSectorID != nil {
			cols = append(cols, "recipient_sector_id")
			args = append(args, *d.RecipientSectorID)
		}
		if cv.CreatedBy && d.CreatedBy != nil {
			cols = append(cols, "created_by")
			args = append(args, *d.CreatedBy)
		}

		marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		q := "INSERT INTO messages (" + strings.Join(cols, ", ") +
			", created_at, updated_at) VALUES (" + marks + ", datetime('now'), datetime('now'))"

		res, err := e.store.DB().ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Reply creates a follow-up linked to an existing message, continuing its
// thread. On deployments without the linking column the reply is created
// unlinked.
func (e *Engine) Reply(ctx context.Context, parentID int64, d MessageDraft) (int64, error) {
	id, err := e.Create(ctx, d)
	if err != nil {
		return 0, err
	}
	err = e.withSchemaRetry(ctx, "link_reply", func(cv capView) error {
		if !cv.Parent {
			return nil
		}
		_, err := e.store.DB().ExecContext(ctx,
			"UPDATE messages SET parent_message_id = ? WHERE id = ?", parentID, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Update applies a partial patch and reports whether a row was affected.
// Status and visibility are resolved inside the statement with
// COALESCE(?, column): an absent value keeps the current one without a
// prior read, so concurrent updates of disjoint fields cannot lose writes.
func (e *Engine) Update(ctx context.Context, id int64, p MessagePatch) (bool, error) {
	var updated bool
	err := e.withSchemaRetry(ctx, "update", func(cv capView) error {
		var sets []string
		var args []any

		setString := func(col string, o Optional[string]) {
			if !o.IsSet() {
				return
			}
			sets = append(sets, col+" = ?")
			if v, ok := o.Get(); ok {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}

		setString("call_date", p.CallDate)
		setString("call_time", p.CallTime)
		setString("recipient", p.Recipient)
		setString("sender_name", p.SenderName)
		setString("sender_phone", p.SenderPhone)
		setString("sender_email", p.SenderEmail)
		setString("subject", p.Subject)
		setString("notes", p.Notes)

		if p.Body.IsSet() {
			body := fallbackBody
			if v, ok := p.Body.Get(); ok && strings.TrimSpace(v) != "" {
				body = v
			}
			sets = append(sets, "body = ?")
			args = append(args, body)
		}

		// Status and visibility keep their current value when the patch
		// omits them, resolved at the store rather than read-modify-write.
		var statusArg any
		if v, ok := p.Status.Get(); ok && strings.TrimSpace(v) != "" {
			statusArg = status.Normalize(v)
		}
		sets = append(sets, "status = COALESCE(?, status)")
		args = append(args, statusArg)

		var visArg any
		if v, ok := p.Visibility.Get(); ok {
			if v == VisibilityPublic || v == VisibilityPrivate {
				visArg = v
			}
		}
		sets = append(sets, "visibility = COALESCE(?, visibility)")
		args = append(args, visArg)

		if p.CallbackAt.IsSet() {
			sets = append(sets, "callback_at = ?")
			if v, ok := p.CallbackAt.Get(); ok {
				args = append(args, v.UTC().Format(sqlDateTime))
			} else {
				args = append(args, nil)
			}
		}

		setOptionalID := func(col string, o Optional[int64], supported bool) {
			if !o.IsSet() || !supported {
				return
			}
			sets = append(sets, col+" = ?")
			if v, ok := o.Get(); ok {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}
		setOptionalID("recipient_user_id", p.RecipientUserID, cv.RecipientUser)
		setOptionalID("recipient_sector_id", p.RecipientSectorID, cv.Sector)
		setOptionalID("updated_by", p.UpdatedBy, cv.UpdatedBy)

		sets = append(sets, "updated_at = datetime('now')")
		args = append(args, id)

		q := "UPDATE messages SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		res, err := e.store.DB().ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		updated = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

// Delete removes a message and reports whether a row was affected.
// Deletion is always explicit; no operation deletes implicitly.
func (e *Engine) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := e.store.DB().ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
