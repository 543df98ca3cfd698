package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chatpilot/gateway/internal/config"
	"github.com/chatpilot/gateway/internal/discord"
	"github.com/chatpilot/gateway/internal/event"
	"github.com/chatpilot/gateway/internal/model"
	"github.com/chatpilot/gateway/internal/secrets"
	"github.com/chatpilot/gateway/internal/storage"
	"github.com/chatpilot/gateway/internal/telegram"
)

func newTestServer(t *testing.T) (*WebSocketServer, *storage.Store) {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	creds, err := secrets.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bus := event.NewBus()

	tg := telegram.New(telegram.Options{AppID: 1, AppHash: "x", Store: store, Secrets: creds, Bus: bus})
	dc := discord.New(discord.Options{Store: store, Secrets: creds, Bus: bus, Headers: config.DefaultHeaderProfile()})

	return NewWebSocketServer(":0", bus, store, tg, dc), store
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("health = %d %q", w.Code, w.Body.String())
	}
}

func TestStatusWhileDisconnected(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	s.handleStatus(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}

	var resp StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Telegram.Connected || resp.Telegram.Authorized {
		t.Errorf("telegram = %+v", resp.Telegram)
	}
	if resp.Discord.Connected || resp.Discord.Status != "disconnected" {
		t.Errorf("discord = %+v", resp.Discord)
	}
}

func TestStatusRejectsPost(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	s.handleStatus(w, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d", w.Code)
	}
}

func TestChatsEndpoint(t *testing.T) {
	s, store := newTestServer(t)

	if err := store.CreateChat(&storage.Chat{
		ID: "c1", Platform: "discord", Type: "channel",
		Name: "#general (Gophers)", UnreadCount: 2,
		LastMessageAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	s.handleChats(w, httptest.NewRequest(http.MethodGet, "/api/chats?platform=discord", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}

	var chats []model.ChatSummary
	if err := json.NewDecoder(w.Body).Decode(&chats); err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].Name != "#general (Gophers)" || chats[0].UnreadCount != 2 {
		t.Errorf("chats = %+v", chats)
	}

	// Platform parameter is mandatory.
	w = httptest.NewRecorder()
	s.handleChats(w, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing platform: code = %d", w.Code)
	}

	// An unrecognized platform is rejected, not treated as Telegram.
	w = httptest.NewRecorder()
	s.handleChats(w, httptest.NewRequest(http.MethodGet, "/api/chats?platform=matrix", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown platform: code = %d", w.Code)
	}
}

func TestChatMessagesEndpoint(t *testing.T) {
	s, store := newTestServer(t)

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3"} {
		if err := store.CreateMessage(&storage.Message{
			ID: id, ChatID: "c1", Platform: "discord", UserID: "u1",
			Content:   "hello " + id,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	w := httptest.NewRecorder()
	s.handleChatMessages(w, httptest.NewRequest(http.MethodGet, "/api/chats/discord/c1/messages?limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}

	var items []model.MessageItem
	if err := json.NewDecoder(w.Body).Decode(&items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != "m3" || items[1].ID != "m2" {
		t.Errorf("page = %+v", items)
	}
	if items[0].Platform != model.PlatformDiscord {
		t.Errorf("platform = %q", items[0].Platform)
	}

	w = httptest.NewRecorder()
	s.handleChatMessages(w, httptest.NewRequest(http.MethodGet, "/api/chats/discord/messages", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed path: code = %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.handleChatMessages(w, httptest.NewRequest(http.MethodGet, "/api/chats/matrix/c1/messages", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown platform: code = %d", w.Code)
	}
}

func TestSendMessageValidation(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing content", `{"platform":"discord","chat_id":"c1"}`, http.StatusBadRequest},
		{"missing chat", `{"platform":"discord","content":"hi"}`, http.StatusBadRequest},
		{"unknown platform", `{"platform":"matrix","chat_id":"c1","content":"hi"}`, http.StatusBadRequest},
		{"discord disconnected", `{"platform":"discord","chat_id":"c1","content":"hi"}`, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/messages/send", strings.NewReader(tt.body))
			s.handleSendMessage(w, req)
			if w.Code != tt.want {
				t.Errorf("code = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestDisconnectPurgesOnRequest(t *testing.T) {
	s, store := newTestServer(t)

	if err := store.CreateChat(&storage.Chat{ID: "c1", Platform: "discord", Name: "x"}); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/disconnect",
		strings.NewReader(`{"platform":"discord","purge":true}`))
	s.handleDisconnect(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}

	if chats, _ := store.GetChats("discord"); len(chats) != 0 {
		t.Errorf("purge left %d chats", len(chats))
	}
}

func TestDisconnectUnknownPlatform(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/disconnect",
		strings.NewReader(`{"platform":"irc"}`))
	s.handleDisconnect(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d", w.Code)
	}
}
