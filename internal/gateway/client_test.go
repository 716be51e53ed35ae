package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/omnidesk/inboxd/internal/conversation"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(nil, srv.URL, "token-123", 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, srv
}

func TestListConversationsAttachesBearer(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-123" {
			t.Fatalf("missing bearer token, got %q", got)
		}
		if r.URL.Path != "/api/inbox/conversations" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]Conversation{{ID: "c1", PhoneNumber: "+15550001111"}})
	})

	got, err := client.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestSendMessageMultipart(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("text"); got != "Hello" {
			t.Fatalf("text field = %q", got)
		}
		if got := r.FormValue("isInternalNote"); got != "true" {
			t.Fatalf("isInternalNote field = %q", got)
		}
		files := r.MultipartForm.File["files[]"]
		if len(files) != 1 || files[0].Filename != "a.png" {
			t.Fatalf("unexpected files %+v", files)
		}
		json.NewEncoder(w).Encode(Message{ID: "m1", ConversationID: "c1"})
	})

	got, err := client.SendMessage(context.Background(), "c1", SendRequest{
		Text:           "Hello",
		IsInternalNote: true,
		Files:          []Attachment{{Name: "a.png", ContentType: "image/png", Data: []byte{1, 2}}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.ID != "m1" {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestBackendErrorSurfaced(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "number is not reachable"})
	})

	_, err := client.SendMessage(context.Background(), "c1", SendRequest{Text: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.UserMessage() != "number is not reachable" {
		t.Fatalf("backend message not surfaced: %q", apiErr.UserMessage())
	}
}

func TestAPIErrorGenericFallback(t *testing.T) {
	err := &APIError{Status: http.StatusBadGateway}
	if err.UserMessage() == "" {
		t.Fatalf("expected generic fallback message")
	}
}

func TestConversationToModelNormalizes(t *testing.T) {
	wire := Conversation{ID: "c1", Channel: "", Status: "", UnreadCount: 2}
	model := wire.ToModel()
	if model.Channel != conversation.ChannelSMS {
		t.Fatalf("unset channel should default to sms, got %q", model.Channel)
	}
	if model.Status != conversation.StatusOpen {
		t.Fatalf("unset status should default to open, got %q", model.Status)
	}
}

func TestMessageToModelInternalNote(t *testing.T) {
	wire := Message{ID: "m1", ConversationID: "c1", Direction: "inbound", IsInternalNote: true}
	model := wire.ToModel()
	if model.Kind != conversation.KindInternalNote {
		t.Fatalf("expected internal note kind")
	}
	if model.RenderSide() != conversation.DirectionOutbound {
		t.Fatalf("internal note must render outbound")
	}
}

func TestParseSession(t *testing.T) {
	// header/payload {"alg":"HS256","typ":"JWT"} {"sub":"agent-7","exp":4102444800}, unsigned.
	token := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
		"eyJzdWIiOiJhZ2VudC03IiwiZXhwIjo0MTAyNDQ0ODAwfQ." +
		"c2lnbmF0dXJl"
	session, err := ParseSession(token)
	if err != nil {
		t.Fatalf("parse session: %v", err)
	}
	if session.AgentID != "agent-7" {
		t.Fatalf("agent id = %q", session.AgentID)
	}
	if session.ExpiresAt.IsZero() {
		t.Fatalf("expiry not parsed")
	}
	if session.Expired(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("token should not be expired in 2020")
	}
	if !session.Expired(time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("token should be expired in 2200")
	}
}

func TestParseSessionRejectsGarbage(t *testing.T) {
	if _, err := ParseSession(""); err == nil {
		t.Fatalf("empty token must fail")
	}
	if _, err := ParseSession("not-a-jwt"); err == nil {
		t.Fatalf("malformed token must fail")
	}
}

func TestPushEventRecognized(t *testing.T) {
	cases := []struct {
		typ  string
		want bool
	}{
		{typ: PushNewMessage, want: true},
		{typ: PushConversationUpdate, want: true},
		{typ: PushTelnyxMessage, want: true},
		{typ: "heartbeat", want: false},
	}
	for _, tc := range cases {
		ev := PushEvent{Type: tc.typ}
		if ev.Recognized() != tc.want {
			t.Fatalf("Recognized(%q) = %v, want %v", tc.typ, ev.Recognized(), tc.want)
		}
	}
}
