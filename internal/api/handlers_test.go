package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/msgdesk/msgdesk/internal/testutil/dbtest"
)

func TestCreateThenGetMessage(t *testing.T) {
	env := newAPIEnv(t, "")

	var created map[string]int64
	rec := env.do(t, "POST", "/api/v1/messages", `{
		"recipient": "Maria",
		"recipientUserId": 7,
		"sender_name": "Carlos",
		"sender_phone": "+55 (11) 99999-8888",
		"subject": "contract",
		"body": "please call back",
		"callback_at": "2025-06-02 15:00:00"
	}`, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	id := created["id"]
	if id == 0 {
		t.Fatal("no id in create response")
	}

	var msg map[string]any
	rec = env.do(t, "GET", fmt.Sprintf("/api/v1/messages/%d", id), "", &msg)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if msg["recipient"] != "Maria" || msg["body"] != "please call back" {
		t.Errorf("message = %v", msg)
	}
	if msg["status"] != "pending" || msg["visibility"] != "private" {
		t.Errorf("defaults not applied: status=%v visibility=%v", msg["status"], msg["visibility"])
	}

	// Optional fields ride under both key styles.
	for _, key := range []string{"recipient_user_id", "recipientUserId", "callback_at", "callbackAt"} {
		if _, ok := msg[key]; !ok {
			t.Errorf("response missing %q key", key)
		}
	}
	if msg["recipient_user_id"] != msg["recipientUserId"] {
		t.Error("snake and camel keys disagree")
	}
}

func TestGetMessageNotFound(t *testing.T) {
	env := newAPIEnv(t, "")
	rec := env.do(t, "GET", "/api/v1/messages/999", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	rec = env.do(t, "GET", "/api/v1/messages/abc", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

// A private message addressed to someone else is 404 for a scope=own
// viewer, indistinguishable from a missing row.
func TestGetMessageInvisibleToViewer(t *testing.T) {
	env := newAPIEnv(t, "")
	id := env.AddMessage(dbtest.MessageOpts{RecipientUserID: dbtest.IntPtr(8)})

	path := fmt.Sprintf("/api/v1/messages/%d", id)
	rec := env.do(t, "GET", path, "", nil, "X-Viewer-Id", "7", "X-Viewer-Scope", "own")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	rec = env.do(t, "GET", path, "", nil, "X-Viewer-Id", "8", "X-Viewer-Scope", "own")
	if rec.Code != http.StatusOK {
		t.Errorf("owner status = %d, want 200", rec.Code)
	}
}

func TestListMessagesScopedByHeaders(t *testing.T) {
	env := newAPIEnv(t, "")
	env.AddMessage(dbtest.MessageOpts{RecipientUserID: dbtest.IntPtr(7), Subject: "mine"})
	env.AddMessage(dbtest.MessageOpts{RecipientUserID: dbtest.IntPtr(8), Subject: "theirs"})

	var resp struct {
		Total    int64            `json:"total"`
		Messages []map[string]any `json:"messages"`
	}
	rec := env.do(t, "GET", "/api/v1/messages", "", &resp, "X-Viewer-Id", "7", "X-Viewer-Scope", "own")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Total != 1 || len(resp.Messages) != 1 {
		t.Fatalf("total = %d, messages = %d, want 1", resp.Total, len(resp.Messages))
	}
	if resp.Messages[0]["subject"] != "mine" {
		t.Errorf("got %v", resp.Messages[0])
	}
}

// Filtering on a feature the deployment lacks is an empty page, not an
// error.
func TestListMessagesAbsentFeatureIsEmpty(t *testing.T) {
	env := newAPIEnv(t, "")
	env.AddMessage(dbtest.MessageOpts{Subject: "plain"})
	env.DropColumn("recipient_sector_id")

	var resp struct {
		Total    int64            `json:"total"`
		Messages []map[string]any `json:"messages"`
	}
	rec := env.do(t, "GET", "/api/v1/messages?sector_id=3", "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Total != 0 || len(resp.Messages) != 0 {
		t.Errorf("total = %d, messages = %d, want empty", resp.Total, len(resp.Messages))
	}
}

func TestListMessagesStatusAndPagination(t *testing.T) {
	env := newAPIEnv(t, "")
	for i := 0; i < 3; i++ {
		env.AddMessage(dbtest.MessageOpts{Status: "pending"})
	}
	env.AddMessage(dbtest.MessageOpts{Status: "resolvido"})

	var resp struct {
		Total    int64            `json:"total"`
		Page     int              `json:"page"`
		PageSize int              `json:"page_size"`
		Messages []map[string]any `json:"messages"`
	}
	env.do(t, "GET", "/api/v1/messages?status=resolved", "", &resp)
	if resp.Total != 1 {
		t.Errorf("legacy-status row not matched: total = %d", resp.Total)
	}

	env.do(t, "GET", "/api/v1/messages?status=pending&page=2&page_size=2", "", &resp)
	if resp.Total != 3 || resp.Page != 2 || len(resp.Messages) != 1 {
		t.Errorf("pagination: total=%d page=%d got %d messages", resp.Total, resp.Page, len(resp.Messages))
	}
}

func TestPatchMessagePresenceSemantics(t *testing.T) {
	env := newAPIEnv(t, "")
	id := env.AddMessage(dbtest.MessageOpts{
		Subject:    "original",
		Status:     "in_progress",
		CallbackAt: "2025-06-02 15:00:00",
	})
	path := fmt.Sprintf("/api/v1/messages/%d", id)

	// Omitted fields stay untouched; camelCase keys are accepted.
	rec := env.do(t, "PATCH", path, `{"subject": "changed", "callbackAt": null}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body.String())
	}

	var msg map[string]any
	env.do(t, "GET", path, "", &msg)
	if msg["subject"] != "changed" {
		t.Errorf("subject = %v", msg["subject"])
	}
	if msg["status"] != "in_progress" {
		t.Errorf("status touched by unrelated patch: %v", msg["status"])
	}
	if _, ok := msg["callback_at"]; ok {
		t.Error("explicit null did not clear callback_at")
	}
}

func TestPatchMessageRejectsBadTimestamp(t *testing.T) {
	env := newAPIEnv(t, "")
	id := env.AddMessage(dbtest.MessageOpts{})

	rec := env.do(t, "PATCH", fmt.Sprintf("/api/v1/messages/%d", id),
		`{"callback_at": "whenever"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPatchMessageNotFound(t *testing.T) {
	env := newAPIEnv(t, "")
	rec := env.do(t, "PATCH", "/api/v1/messages/999", `{"subject": "x"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteMessage(t *testing.T) {
	env := newAPIEnv(t, "")
	id := env.AddMessage(dbtest.MessageOpts{})
	path := fmt.Sprintf("/api/v1/messages/%d", id)

	rec := env.do(t, "DELETE", path, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	rec = env.do(t, "DELETE", path, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestThreadEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	root := env.AddMessage(dbtest.MessageOpts{Subject: "root", CreatedAt: "2025-06-01 09:00:00"})
	env.AddMessage(dbtest.MessageOpts{
		Subject: "follow-up", ParentMessageID: dbtest.IntPtr(root),
		CreatedAt: "2025-06-01 10:00:00",
	})

	var resp struct {
		Messages []map[string]any `json:"messages"`
	}
	rec := env.do(t, "GET", fmt.Sprintf("/api/v1/messages/%d/thread", root), "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(resp.Messages) != 2 || resp.Messages[0]["subject"] != "root" {
		t.Errorf("thread = %v", resp.Messages)
	}
}

func TestReplyEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	root := env.AddMessage(dbtest.MessageOpts{Subject: "root"})

	var created map[string]int64
	rec := env.do(t, "POST", fmt.Sprintf("/api/v1/messages/%d/reply", root),
		`{"body": "they called again"}`, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("reply status = %d: %s", rec.Code, rec.Body.String())
	}

	var msg map[string]any
	env.do(t, "GET", fmt.Sprintf("/api/v1/messages/%d", created["id"]), "", &msg)
	if got := msg["parent_message_id"]; got != float64(root) {
		t.Errorf("parent_message_id = %v, want %d", got, root)
	}
}

func TestContactHistoryEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	env.AddMessage(dbtest.MessageOpts{SenderPhone: "(55) 11 99999-8888"})
	env.AddMessage(dbtest.MessageOpts{SenderPhone: "(55) 21 1234-5678"})

	rec := env.do(t, "GET", "/api/v1/contact-history", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no params status = %d, want 400", rec.Code)
	}

	var resp struct {
		Messages []map[string]any `json:"messages"`
	}
	rec = env.do(t, "GET", "/api/v1/contact-history?phone=%2B5511999998888", "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(resp.Messages) != 1 {
		t.Errorf("got %d messages, want 1", len(resp.Messages))
	}
}

func TestCreateMessageBadBody(t *testing.T) {
	env := newAPIEnv(t, "")
	rec := env.do(t, "POST", "/api/v1/messages", `not json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = env.do(t, "POST", "/api/v1/messages", `{"callback_at": "soon-ish"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad timestamp status = %d, want 400", rec.Code)
	}
}
