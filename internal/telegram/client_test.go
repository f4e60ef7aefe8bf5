package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseUpdate(t *testing.T) {
	body := []byte(`{
		"update_id": 42,
		"message": {
			"message_id": 7,
			"date": 1700000000,
			"chat": {"id": 123456, "type": "private"},
			"from": {"id": 123456, "is_bot": false, "first_name": "Ana"},
			"text": "oi"
		}
	}`)
	u, err := ParseUpdate(body)
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	if u.UpdateID != 42 {
		t.Errorf("Expected update ID 42, got %d", u.UpdateID)
	}
	if u.Message == nil || u.Message.Text != "oi" {
		t.Fatalf("Message not decoded: %+v", u.Message)
	}
	if u.Message.Chat.ID != 123456 {
		t.Errorf("Expected chat ID 123456, got %d", u.Message.Chat.ID)
	}

	if _, err := ParseUpdate([]byte("not json")); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestEscapeMarkdownV2Code(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain-pix-code", "plain-pix-code"},
		{"has`tick", "has\\`tick"},
		{`back\slash`, `back\\slash`},
	}
	for _, c := range cases {
		if got := escapeMarkdownV2Code(c.in); got != c.want {
			t.Errorf("escapeMarkdownV2Code(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// testBotToken matches the shape telego validates at construction.
const testBotToken = "123456:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw0"

func TestClientSendMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":1700000000,"chat":{"id":555,"type":"private"}}}`))
	}))
	defer srv.Close()

	c, err := NewClient(WithToken(testBotToken), WithAPIServer(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if err := c.SendMessage(context.Background(), 555, "oi amor"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/sendMessage") {
		t.Errorf("Unexpected API path %q", gotPath)
	}
	if gotBody["text"] != "oi amor" {
		t.Errorf("Expected text in request body, got %v", gotBody["text"])
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("Expected error when token is missing")
	}
}
