package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	kit "sharebot/internal/transport"
	logx "sharebot/pkg/logx"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	if got := splitTelegramText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected split: %q", got)
	}

	text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(text, 10)
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2 (%q)", len(got), got)
	}
	if got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("unexpected chunks: %q", got)
	}

	long := strings.Repeat("x", 25)
	got = splitTelegramText(long, 10)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
}

func TestParseChatTarget(t *testing.T) {
	t.Parallel()
	to, err := ParseChatTarget(" -100123 ", 5)
	if err != nil {
		t.Fatalf("ParseChatTarget error: %v", err)
	}
	if to.ChatID != -100123 || to.ThreadID != 5 || to.Username != "" {
		t.Fatalf("unexpected target: %+v", to)
	}

	to, err = ParseChatTarget("@mychannel", 0)
	if err != nil {
		t.Fatalf("ParseChatTarget error: %v", err)
	}
	if to.Username != "@mychannel" {
		t.Fatalf("unexpected target: %+v", to)
	}

	if _, err := ParseChatTarget("", 0); err == nil {
		t.Fatal("expected error for empty chat id")
	}
	if _, err := ParseChatTarget("abc", 0); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestSendTextPostsToBotAPI(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls []map[string]any
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var params map[string]any
		_ = json.Unmarshal(body, &params)
		mu.Lock()
		calls = append(calls, params)
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100555,"type":"channel"},"text":"hi"}}`)
	}))
	defer srv.Close()

	a, err := New(Config{Token: "123:abc", URL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	ref, err := a.SendText(context.Background(), kit.ChatTarget{Username: "@reports"}, "*hello*", &kit.SendOptions{ParseMode: kit.ParseModeMarkdown})
	if err != nil {
		t.Fatalf("SendText error: %v", err)
	}
	if ref.MessageID != 7 || ref.ChatID != -100555 {
		t.Fatalf("unexpected ref: %+v", ref)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if paths[0] != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %s", paths[0])
	}
	if calls[0]["chat_id"] != "@reports" {
		t.Fatalf("chat_id = %v", calls[0]["chat_id"])
	}
	if calls[0]["parse_mode"] != "Markdown" {
		t.Fatalf("parse_mode = %v", calls[0]["parse_mode"])
	}
	if calls[0]["text"] != "*hello*" {
		t.Fatalf("text = %v", calls[0]["text"])
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
