package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		Token:          "TESTTOKEN",
		BaseURL:        srv.URL,
		PollTimeoutSec: 1,
	})
}

func respond(t *testing.T, w http.ResponseWriter, result any) {
	t.Helper()
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	json.NewEncoder(w).Encode(apiResponse{OK: true, Result: raw})
}

func TestGetMe(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTESTTOKEN/getMe" {
			t.Errorf("path = %q", r.URL.Path)
		}
		respond(t, w, User{ID: 42, IsBot: true, Username: "parley_bot"})
	})

	me, err := c.GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	if me.Username != "parley_bot" || !me.IsBot {
		t.Errorf("me = %+v", me)
	}
}

func TestGetUpdatesPassesOffset(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatal(err)
		}
		if params["offset"] != float64(37) {
			t.Errorf("offset = %v, want 37", params["offset"])
		}
		if params["timeout"] != float64(1) {
			t.Errorf("timeout = %v, want 1", params["timeout"])
		}
		respond(t, w, []Update{
			{UpdateID: 37, Message: &Message{Text: "hello", Chat: Chat{ID: 5, Type: "private"}}},
		})
	})

	updates, err := c.GetUpdates(context.Background(), 37)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 1 || updates[0].Message.Text != "hello" {
		t.Errorf("updates = %+v", updates)
	}
}

func TestSendMessage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("path = %q", r.URL.Path)
		}
		var params map[string]any
		json.NewDecoder(r.Body).Decode(&params)
		if params["chat_id"] != float64(-100123) || params["text"] != "Hello!" {
			t.Errorf("params = %v", params)
		}
		respond(t, w, Message{MessageID: 9, Chat: Chat{ID: -100123}})
	})

	msg, err := c.SendMessage(context.Background(), -100123, "Hello!")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.MessageID != 9 {
		t.Errorf("message id = %d", msg.MessageID)
	}
}

func TestSendTyping(t *testing.T) {
	var gotAction string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		json.NewDecoder(r.Body).Decode(&params)
		gotAction, _ = params["action"].(string)
		respond(t, w, true)
	})

	if err := c.SendTyping(context.Background(), 7); err != nil {
		t.Fatalf("SendTyping: %v", err)
	}
	if gotAction != "typing" {
		t.Errorf("action = %q", gotAction)
	}
}

func TestAPIErrorEnvelope(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{
			OK:          false,
			Description: "Unauthorized",
			ErrorCode:   401,
		})
	})

	_, err := c.GetMe(context.Background())
	if err == nil {
		t.Fatal("GetMe succeeded on error envelope")
	}
	if !strings.Contains(err.Error(), "Unauthorized") {
		t.Errorf("err = %v, want description surfaced", err)
	}
}
