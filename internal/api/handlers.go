package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/msgdesk/msgdesk/internal/query"
)

// apiTime is the timestamp format in responses.
const apiTime = "2006-01-02T15:04:05Z"

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// viewerFromRequest builds the viewer identity from the headers the
// fronting auth proxy forwards. No viewer headers at all means a trusted
// internal caller with no row restriction.
func viewerFromRequest(r *http.Request) *query.Viewer {
	idStr := r.Header.Get("X-Viewer-Id")
	name := r.Header.Get("X-Viewer-Name")
	scope := r.Header.Get("X-Viewer-Scope")
	if idStr == "" && name == "" && scope == "" {
		return nil
	}

	id, _ := strconv.ParseInt(idStr, 10, 64)
	if scope != query.ScopeAll {
		scope = query.ScopeOwn
	}
	return &query.Viewer{ID: id, Name: name, Scope: scope}
}

// messageDTO is the wire shape of a message. Fields backed by optional
// schema columns ride under both the snake_case and camelCase keys the
// two frontend generations expect; presence, not naming, is the contract.
type messageDTO struct {
	ID          int64  `json:"id"`
	CallDate    string `json:"call_date,omitempty"`
	CallTime    string `json:"call_time,omitempty"`
	Recipient   string `json:"recipient"`
	SenderName  string `json:"sender_name"`
	SenderPhone string `json:"sender_phone,omitempty"`
	SenderEmail string `json:"sender_email,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Body        string `json:"body"`
	Status      string `json:"status"`
	Visibility  string `json:"visibility"`
	Notes       string `json:"notes,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`

	CallbackAt         *string `json:"callback_at,omitempty"`
	CallbackAtAlt      *string `json:"callbackAt,omitempty"`
	RecipientUserID    *int64  `json:"recipient_user_id,omitempty"`
	RecipientUserAlt   *int64  `json:"recipientUserId,omitempty"`
	RecipientSectorID  *int64  `json:"recipient_sector_id,omitempty"`
	RecipientSectorAlt *int64  `json:"recipientSectorId,omitempty"`
	ParentMessageID    *int64  `json:"parent_message_id,omitempty"`
	ParentMessageAlt   *int64  `json:"parentMessageId,omitempty"`
	CreatedBy          *int64  `json:"created_by,omitempty"`
	CreatedByAlt       *int64  `json:"createdBy,omitempty"`
	UpdatedBy          *int64  `json:"updated_by,omitempty"`
	UpdatedByAlt       *int64  `json:"updatedBy,omitempty"`
}

func toDTO(m query.Message) messageDTO {
	dto := messageDTO{
		ID:          m.ID,
		CallDate:    m.CallDate,
		CallTime:    m.CallTime,
		Recipient:   m.Recipient,
		SenderName:  m.SenderName,
		SenderPhone: m.SenderPhone,
		SenderEmail: m.SenderEmail,
		Subject:     m.Subject,
		Body:        m.Body,
		Status:      m.Status,
		Visibility:  m.Visibility,
		Notes:       m.Notes,
		CreatedAt:   m.CreatedAt.Format(apiTime),
		UpdatedAt:   m.UpdatedAt.Format(apiTime),
	}
	if m.CallbackAt != nil {
		s := m.CallbackAt.Format(apiTime)
		dto.CallbackAt, dto.CallbackAtAlt = &s, &s
	}
	dto.RecipientUserID, dto.RecipientUserAlt = m.RecipientUserID, m.RecipientUserID
	dto.RecipientSectorID, dto.RecipientSectorAlt = m.RecipientSectorID, m.RecipientSectorID
	dto.ParentMessageID, dto.ParentMessageAlt = m.ParentMessageID, m.ParentMessageID
	dto.CreatedBy, dto.CreatedByAlt = m.CreatedBy, m.CreatedBy
	dto.UpdatedBy, dto.UpdatedByAlt = m.UpdatedBy, m.UpdatedBy
	return dto
}

func toDTOs(msgs []query.Message) []messageDTO {
	out := make([]messageDTO, len(msgs))
	for i, m := range msgs {
		out[i] = toDTO(m)
	}
	return out
}

// requestBody holds a decoded JSON object keyed by raw field. Requests may
// use either key style; lookups check snake_case first, then camelCase.
type requestBody map[string]json.RawMessage

func decodeBody(r *http.Request) (requestBody, error) {
	var b requestBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		return nil, err
	}
	return b, nil
}

func (b requestBody) raw(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := b[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

// str returns the string under any of the keys, "" when absent or null.
func (b requestBody) str(keys ...string) string {
	raw, ok := b.raw(keys...)
	if !ok || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (b requestBody) int64Ptr(keys ...string) *int64 {
	raw, ok := b.raw(keys...)
	if !ok || isNull(raw) {
		return nil
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

// parseAPITime accepts the timestamp shapes clients actually send.
func parseAPITime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, apiTime, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognized timestamp %q", s)
}

func (b requestBody) timePtr(keys ...string) (*time.Time, error) {
	raw, ok := b.raw(keys...)
	if !ok || isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	t, err := parseAPITime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// optStr distinguishes absent, explicit null, and a value: the distinction
// drives partial-update semantics.
func (b requestBody) optStr(keys ...string) (query.Optional[string], error) {
	raw, ok := b.raw(keys...)
	if !ok {
		return query.Optional[string]{}, nil
	}
	if isNull(raw) {
		return query.Null[string](), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return query.Optional[string]{}, err
	}
	return query.Some(s), nil
}

func (b requestBody) optInt64(keys ...string) (query.Optional[int64], error) {
	raw, ok := b.raw(keys...)
	if !ok {
		return query.Optional[int64]{}, nil
	}
	if isNull(raw) {
		return query.Null[int64](), nil
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return query.Optional[int64]{}, err
	}
	return query.Some(v), nil
}

func (b requestBody) optTime(keys ...string) (query.Optional[time.Time], error) {
	raw, ok := b.raw(keys...)
	if !ok {
		return query.Optional[time.Time]{}, nil
	}
	if isNull(raw) {
		return query.Null[time.Time](), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return query.Optional[time.Time]{}, err
	}
	t, err := parseAPITime(s)
	if err != nil {
		return query.Optional[time.Time]{}, err
	}
	return query.Some(t), nil
}

// draftFromBody builds a create payload from a decoded request.
func draftFromBody(b requestBody) (query.MessageDraft, error) {
	callbackAt, err := b.timePtr("callback_at", "callbackAt")
	if err != nil {
		return query.MessageDraft{}, err
	}
	return query.MessageDraft{
		CallDate:          b.str("call_date", "callDate"),
		CallTime:          b.str("call_time", "callTime"),
		Recipient:         b.str("recipient"),
		RecipientUserID:   b.int64Ptr("recipient_user_id", "recipientUserId"),
		RecipientSectorID: b.int64Ptr("recipient_sector_id", "recipientSectorId"),
		SenderName:        b.str("sender_name", "senderName"),
		SenderPhone:       b.str("sender_phone", "senderPhone"),
		SenderEmail:       b.str("sender_email", "senderEmail"),
		Subject:           b.str("subject"),
		Body:              b.str("body"),
		Status:            b.str("status"),
		Visibility:        b.str("visibility"),
		CallbackAt:        callbackAt,
		Notes:             b.str("notes"),
		CreatedBy:         b.int64Ptr("created_by", "createdBy"),
	}, nil
}

// patchFromBody builds a partial update from a decoded request, keeping
// the absent / null / value distinction per field.
func patchFromBody(b requestBody) (query.MessagePatch, error) {
	var p query.MessagePatch
	var err error

	strFields := []struct {
		dst  *query.Optional[string]
		keys []string
	}{
		{&p.CallDate, []string{"call_date", "callDate"}},
		{&p.CallTime, []string{"call_time", "callTime"}},
		{&p.Recipient, []string{"recipient"}},
		{&p.SenderName, []string{"sender_name", "senderName"}},
		{&p.SenderPhone, []string{"sender_phone", "senderPhone"}},
		{&p.SenderEmail, []string{"sender_email", "senderEmail"}},
		{&p.Subject, []string{"subject"}},
		{&p.Body, []string{"body"}},
		{&p.Status, []string{"status"}},
		{&p.Visibility, []string{"visibility"}},
		{&p.Notes, []string{"notes"}},
	}
	for _, f := range strFields {
		if *f.dst, err = b.optStr(f.keys...); err != nil {
			return p, err
		}
	}

	if p.RecipientUserID, err = b.optInt64("recipient_user_id", "recipientUserId"); err != nil {
		return p, err
	}
	if p.RecipientSectorID, err = b.optInt64("recipient_sector_id", "recipientSectorId"); err != nil {
		return p, err
	}
	if p.UpdatedBy, err = b.optInt64("updated_by", "updatedBy"); err != nil {
		return p, err
	}
	if p.CallbackAt, err = b.optTime("callback_at", "callbackAt"); err != nil {
		return p, err
	}
	return p, nil
}

// filterFromQuery builds a list filter from query parameters. Returns the
// filter plus the page coordinates for the response envelope.
func filterFromQuery(r *http.Request) (query.MessageFilter, int, int) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	f := query.MessageFilter{
		Status:    q.Get("status"),
		Search:    q.Get("search"),
		Recipient: q.Get("recipient"),
		Label:     q.Get("label"),
		SortKey:   q.Get("sort"),
		SortDesc:  q.Get("order") == "desc",
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	}

	if v := q.Get("sector_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.SectorID = &id
		}
	}
	if q.Get("date_mode") == "callback" {
		f.DateMode = query.DateModeCallback
	}
	if v := q.Get("date_from"); v != "" {
		if t, err := parseAPITime(v); err == nil {
			f.DateFrom = &t
		}
	}
	if v := q.Get("date_to"); v != "" {
		if t, err := parseAPITime(v); err == nil {
			f.DateTo = &t
		}
	}
	return f, page, pageSize
}

func messageID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// handleListMessages returns one page of visible messages plus the total.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	f, page, pageSize := filterFromQuery(r)

	msgs, total, err := s.engine.ListWithTotal(r.Context(), viewerFromRequest(r), f)
	if err != nil {
		s.logger.Error("list messages failed", "error", eris.Wrap(err, "list messages"))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"messages":  toDTOs(msgs),
	})
}

// handleCreateMessage records a new message.
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be a JSON object")
		return
	}
	draft, err := draftFromBody(b)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_field", err.Error())
		return
	}

	id, err := s.engine.Create(r.Context(), draft)
	if err != nil {
		s.logger.Error("create message failed", "error", eris.Wrap(err, "create message"))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create message")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// handleGetMessage returns a single message. The nonexistent and the
// invisible both come back as 404.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "Message ID must be a positive number")
		return
	}

	msg, err := s.engine.GetByID(r.Context(), viewerFromRequest(r), id)
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
		return
	}
	if err != nil {
		s.logger.Error("get message failed", "id", id, "error", eris.Wrap(err, "get message"))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve message")
		return
	}

	writeJSON(w, http.StatusOK, toDTO(*msg))
}

// handlePatchMessage applies a partial update.
func (s *Server) handlePatchMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "Message ID must be a positive number")
		return
	}

	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be a JSON object")
		return
	}
	patch, err := patchFromBody(b)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_field", err.Error())
		return
	}

	updated, err := s.engine.Update(r.Context(), id, patch)
	if err != nil {
		s.logger.Error("update message failed", "id", id, "error", eris.Wrap(err, "update message"))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update message")
		return
	}
	if !updated {
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleDeleteMessage removes a message.
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "Message ID must be a positive number")
		return
	}

	deleted, err := s.engine.Delete(r.Context(), id)
	if err != nil {
		s.logger.Error("delete message failed", "id", id, "error", eris.Wrap(err, "delete message"))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete message")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleThread returns the continuity chain a message belongs to.
func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "Message ID must be a positive number")
		return
	}

	msgs, err := s.engine.ListThread(r.Context(), viewerFromRequest(r), id)
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
		return
	}
	if err != nil {
		s.logger.Error("thread lookup failed", "id", id, "error", eris.Wrap(err, "list thread"))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve thread")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": toDTOs(msgs)})
}

// handleReply records a follow-up linked to an existing message.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	parentID, ok := messageID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "Message ID must be a positive number")
		return
	}

	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be a JSON object")
		return
	}
	draft, err := draftFromBody(b)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_field", err.Error())
		return
	}

	id, err := s.engine.Reply(r.Context(), parentID, draft)
	if err != nil {
		s.logger.Error("reply failed", "parent_id", parentID, "error", eris.Wrap(err, "reply"))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create reply")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// handleContactHistory returns earlier messages from the same caller.
func (s *Server) handleContactHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	phone := q.Get("phone")
	email := q.Get("email")
	if phone == "" && email == "" {
		writeError(w, http.StatusBadRequest, "missing_contact", "Provide a phone or email parameter")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	msgs, err := s.engine.ContactHistory(r.Context(), viewerFromRequest(r), phone, email, limit)
	if err != nil {
		s.logger.Error("contact history failed", "error", eris.Wrap(err, "contact history"))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve contact history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": toDTOs(msgs)})
}

// handleReminderStatus reports the callback-reminder sweep state.
func (s *Server) handleReminderStatus(w http.ResponseWriter, r *http.Request) {
	if s.sweep == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"running": s.sweep.IsRunning(),
		"sweep":   s.sweep.Status(),
	})
}

// handleTriggerSweep runs a reminder sweep outside the schedule.
func (s *Server) handleTriggerSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweep == nil {
		writeError(w, http.StatusServiceUnavailable, "sweep_disabled", "Reminder sweep is not enabled")
		return
	}
	if err := s.sweep.TriggerSweep(); err != nil {
		writeError(w, http.StatusConflict, "sweep_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
