package telegram

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		token:   "test-token",
		baseURL: srv.URL,
		client:  srv.Client(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestGetUpdates(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottest-token/getUpdates" {
			t.Errorf("path = %q, want /bottest-token/getUpdates", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.Form.Get("offset"); got != "42" {
			t.Errorf("offset = %q, want 42", got)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"ok":true,"result":[
			{"update_id":43,"message":{"message_id":1,"text":"/deals","chat":{"id":7}}}
		]}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	})

	updates, err := c.GetUpdates(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetUpdates() = %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("GetUpdates() returned %d updates, want 1", len(updates))
	}
	upd := updates[0]
	if upd.UpdateID != 43 || upd.Message == nil || upd.Message.Text != "/deals" || upd.Message.Chat.ID != 7 {
		t.Errorf("update = %+v, want update 43 with /deals from chat 7", upd)
	}
}

func TestSendMessage(t *testing.T) {
	var gotText, gotChatID string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotText = r.Form.Get("text")
		gotChatID = r.Form.Get("chat_id")
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"ok":true,"result":{}}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	})

	if err := c.SendMessage(context.Background(), 7, "hello"); err != nil {
		t.Fatalf("SendMessage() = %v", err)
	}
	if gotChatID != "7" || gotText != "hello" {
		t.Errorf("sent chat_id=%q text=%q, want 7 / hello", gotChatID, gotText)
	}
}

func TestSendMessageRetriesTransientFailures(t *testing.T) {
	var calls int
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			if _, err := w.Write([]byte(`{"ok":false,"description":"bad gateway"}`)); err != nil {
				t.Errorf("write response: %v", err)
			}
			return
		}
		if _, err := w.Write([]byte(`{"ok":true,"result":{}}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	})

	if err := c.SendMessage(context.Background(), 7, "hello"); err != nil {
		t.Fatalf("SendMessage() = %v, want success after retry", err)
	}
	if calls != 2 {
		t.Errorf("made %d calls, want 2", calls)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"ok":false,"description":"chat not found"}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	})

	_, err := c.GetUpdates(context.Background(), 0)
	if err == nil {
		t.Fatal("GetUpdates() = nil, want error when ok=false")
	}
}
