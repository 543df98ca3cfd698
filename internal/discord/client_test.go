package discord

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatpilot/gateway/internal/config"
	"github.com/chatpilot/gateway/internal/event"
	"github.com/chatpilot/gateway/internal/secrets"
	"github.com/chatpilot/gateway/internal/storage"
)

// testToken passes the shape check and decodes to user id 42.
var testToken = base64.RawStdEncoding.EncodeToString([]byte("42")) + ".x0YzK1.abcdefghij"

// fakeGateway is an in-process Discord: one HTTP server carrying both the
// REST API and the gateway WebSocket.
type fakeGateway struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	identified chan identifyData
	heartbeats chan int64
	conns      chan *websocket.Conn

	mu               sync.Mutex
	writeMu          sync.Mutex
	conn             *websocket.Conn
	connCount        int
	selfCalls        int
	reject401        bool
	closeFirstConn   bool
	closeBeforeReady bool
	interval         int // heartbeat interval in ms

	lastSendReq *http.Request
	lastSendRaw []byte
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		// The client dials with a discord.com Origin; the default origin
		// check would refuse the cross-host upgrade.
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		identified: make(chan identifyData, 4),
		heartbeats: make(chan int64, 16),
		conns:      make(chan *websocket.Conn, 4),
		interval:   50,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/users/@me", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.selfCalls++
		reject := g.reject401
		g.mu.Unlock()

		if r.Header.Get("Authorization") == "" || reject {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(User{ID: "42", Username: "tester", GlobalName: "Tester"})
	})
	mux.HandleFunc("/api/channels/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		raw, _ := json.Marshal(req)

		g.mu.Lock()
		g.lastSendReq = r.Clone(context.Background())
		g.lastSendRaw = raw
		g.mu.Unlock()

		content, _ := req["content"].(string)
		json.NewEncoder(w).Encode(Message{
			ID:        "175928847299117063",
			ChannelID: "c1",
			Author:    User{ID: "42", Username: "tester"},
			Content:   content,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/gateway", g.handleGateway)

	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) handleGateway(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	g.mu.Lock()
	g.conn = conn
	n := g.connCount
	g.connCount++
	g.mu.Unlock()
	select {
	case g.conns <- conn:
	default:
	}

	g.write(conn, map[string]any{"op": opHello, "d": map[string]any{"heartbeat_interval": g.interval}})

	for {
		var frame struct {
			Op int             `json:"op"`
			D  json.RawMessage `json:"d"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Op {
		case opIdentify:
			var id identifyData
			json.Unmarshal(frame.D, &id)
			select {
			case g.identified <- id:
			default:
			}
			if g.closeBeforeReady {
				conn.Close()
				return
			}
			g.sendReady(conn)
			if g.closeFirstConn && n == 0 {
				go func() {
					time.Sleep(100 * time.Millisecond)
					conn.Close()
				}()
			}
		case opHeartbeat:
			var seq int64
			if len(frame.D) > 0 && string(frame.D) != "null" {
				json.Unmarshal(frame.D, &seq)
			}
			select {
			case g.heartbeats <- seq:
			default:
			}
			g.write(conn, map[string]any{"op": opHeartbeatAck})
		}
	}
}

func (g *fakeGateway) sendReady(conn *websocket.Conn) {
	g.write(conn, map[string]any{
		"op": opDispatch, "t": "READY", "s": 1,
		"d": readyData{
			V:         10,
			User:      User{ID: "42", Username: "tester", GlobalName: "Tester"},
			SessionID: "sess-1",
			Guilds: []Guild{{
				ID:   "g1",
				Name: "Gophers",
				Channels: []Channel{
					{ID: "c1", Type: channelGuildText, Name: "general"},
					{ID: "v1", Type: 2, Name: "voice"},
				},
			}},
			PrivateChannels: []Channel{
				{ID: "dm1", Type: channelDM, Recipients: []User{{ID: "9", Username: "alice"}}},
			},
		},
	})
}

// push sends a dispatch frame on the most recent gateway connection.
func (g *fakeGateway) push(t string, seq int64, d any) {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	g.write(conn, map[string]any{"op": opDispatch, "t": t, "s": seq, "d": d})
}

func (g *fakeGateway) write(conn *websocket.Conn, v any) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	conn.WriteJSON(v)
}

func (g *fakeGateway) wsURL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/gateway"
}

func newTestClient(t *testing.T, g *fakeGateway) (*Client, *event.Bus, *storage.Store, *secrets.Store) {
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

	c := New(Options{
		Store:            store,
		Secrets:          creds,
		Bus:              bus,
		Headers:          config.DefaultHeaderProfile(),
		GatewayURL:       g.wsURL(),
		APIBase:          g.srv.URL + "/api",
		ReconnectBackoff: 50 * time.Millisecond,
		ReadyTimeout:     2 * time.Second,
		SendDelayMin:     time.Millisecond,
		SendDelayMax:     2 * time.Millisecond,
	})
	t.Cleanup(c.Close)
	return c, bus, store, creds
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestConnectHandshake(t *testing.T) {
	g := newFakeGateway(t)
	c, _, store, creds := newTestClient(t, g)

	if err := c.Connect(context.Background(), testToken); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.Status() != StatusConnected {
		t.Errorf("Status = %v", c.Status())
	}
	if c.SelfID() != "42" {
		t.Errorf("SelfID = %q", c.SelfID())
	}

	select {
	case id := <-g.identified:
		if id.Token != testToken {
			t.Errorf("identify token = %q", id.Token)
		}
		want := int64(intentGuilds | intentGuildMessages | intentDirectMessages | intentMessageContent)
		if id.Intents != want {
			t.Errorf("intents = %d, want %d", id.Intents, want)
		}
		if id.Properties.Browser != "Chrome" {
			t.Errorf("browser = %q", id.Properties.Browser)
		}
	default:
		t.Fatal("no identify received")
	}

	// Token persisted only after the API accepted it.
	if tok, err := creds.Token("discord"); err != nil || tok != testToken {
		t.Errorf("stored token = %q, %v", tok, err)
	}

	// READY snapshot ingested: guild channel with composed name, DM named
	// after its recipient, voice channel dropped.
	chat, err := store.GetChat("discord", "c1")
	if err != nil {
		t.Fatalf("guild channel not ingested: %v", err)
	}
	if chat.Name != "#general (Gophers)" || chat.Type != "channel" {
		t.Errorf("channel row = %+v", chat)
	}

	dm, err := store.GetChat("discord", "dm1")
	if err != nil {
		t.Fatalf("dm not ingested: %v", err)
	}
	if dm.Name != "alice" || dm.Type != "dm" || dm.ParticipantCount != 2 {
		t.Errorf("dm row = %+v", dm)
	}

	if _, err := store.GetChat("discord", "v1"); err == nil {
		t.Error("voice channel should not be ingested")
	}
}

func TestHeartbeatCarriesSequence(t *testing.T) {
	g := newFakeGateway(t)
	c, _, _, _ := newTestClient(t, g)

	if err := c.Connect(context.Background(), testToken); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// READY arrived with s=1, so beats must echo sequence 1.
	for i := 0; i < 2; i++ {
		select {
		case seq := <-g.heartbeats:
			if seq != 1 {
				t.Errorf("heartbeat seq = %d, want 1", seq)
			}
		case <-time.After(time.Second):
			t.Fatal("no heartbeat within interval")
		}
	}
}

func TestConnectRejectsMalformedToken(t *testing.T) {
	g := newFakeGateway(t)
	c, _, _, _ := newTestClient(t, g)

	err := c.Connect(context.Background(), "not-a-token")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}

	// Fail fast: no network traffic for a malformed token.
	g.mu.Lock()
	calls := g.selfCalls
	g.mu.Unlock()
	if calls != 0 {
		t.Errorf("API probed %d times for malformed token", calls)
	}
}

func TestConnectRejectsUnauthorizedToken(t *testing.T) {
	g := newFakeGateway(t)
	g.reject401 = true
	c, _, _, creds := newTestClient(t, g)

	err := c.Connect(context.Background(), testToken)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if c.Status() != StatusDisconnected {
		t.Errorf("Status = %v", c.Status())
	}
	if _, err := creds.Token("discord"); !errors.Is(err, secrets.ErrNotFound) {
		t.Error("rejected token was persisted")
	}
}

func TestConnectFailsCleanlyWhenClosedBeforeReady(t *testing.T) {
	g := newFakeGateway(t)
	g.closeBeforeReady = true
	c, _, _, _ := newTestClient(t, g)

	if err := c.Connect(context.Background(), testToken); err == nil {
		t.Fatal("Connect succeeded despite socket closing before READY")
	}
	if c.Status() != StatusDisconnected {
		t.Errorf("Status = %v", c.Status())
	}

	// The failed attempt must not leave a background reconnect behind: no
	// second gateway connection appears across several backoff windows.
	time.Sleep(5 * 50 * time.Millisecond)
	g.mu.Lock()
	conns := g.connCount
	g.mu.Unlock()
	if conns != 1 {
		t.Errorf("gateway dialed %d times, want 1", conns)
	}
	if c.Status() != StatusDisconnected {
		t.Errorf("Status after wait = %v", c.Status())
	}
}

func TestReconnectAfterSocketLoss(t *testing.T) {
	g := newFakeGateway(t)
	g.closeFirstConn = true
	c, bus, _, _ := newTestClient(t, g)

	disconnected := make(chan struct{}, 4)
	bus.Subscribe([]string{"discord.disconnected"}, func(evt event.Event) {
		disconnected <- struct{}{}
	})

	if err := c.Connect(context.Background(), testToken); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-g.identified

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnected event after socket loss")
	}

	// A fresh identify arrives on a new connection within the backoff
	// window; no resume is attempted.
	select {
	case id := <-g.identified:
		if id.Token != testToken {
			t.Errorf("re-identify token = %q", id.Token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no re-identify after reconnect")
	}

	waitFor(t, 2*time.Second, func() bool { return c.Status() == StatusConnected })
}

func TestDisconnectIsIdempotentAndForgets(t *testing.T) {
	g := newFakeGateway(t)
	c, _, _, creds := newTestClient(t, g)

	if err := c.Connect(context.Background(), testToken); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	if c.Status() != StatusDisconnected {
		t.Errorf("Status = %v", c.Status())
	}
	if _, err := creds.Token("discord"); !errors.Is(err, secrets.ErrNotFound) {
		t.Error("token survived disconnect")
	}
	if len(c.Guilds()) != 0 || len(c.DMs()) != 0 {
		t.Error("caches survived disconnect")
	}
}

func TestSendMessageUsesHeaderProfile(t *testing.T) {
	g := newFakeGateway(t)
	c, _, store, _ := newTestClient(t, g)

	if err := c.Connect(context.Background(), testToken); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	item, err := c.SendMessage(context.Background(), "c1", "hello there", "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if item.ChatID != "c1" || item.Content != "hello there" {
		t.Errorf("sent item = %+v", item)
	}

	g.mu.Lock()
	req := g.lastSendReq
	g.mu.Unlock()
	if req == nil {
		t.Fatal("no send request observed")
	}
	hp := c.HeaderProfile()
	if got := req.Header.Get("Authorization"); got != testToken {
		t.Errorf("Authorization = %q", got)
	}
	if got := req.Header.Get("User-Agent"); got != hp.UserAgent {
		t.Errorf("User-Agent = %q, want %q", got, hp.UserAgent)
	}
	if req.Header.Get("sec-ch-ua") == "" || req.Header.Get("sec-ch-ua-platform") == "" {
		t.Error("client hint headers missing")
	}
	if got := req.Header.Get("sec-ch-ua-mobile"); got != "?0" {
		t.Errorf("sec-ch-ua-mobile = %q", got)
	}

	// The REST echo is persisted without waiting for the gateway echo.
	if _, err := store.GetMessage("discord", "c1", "175928847299117063"); err != nil {
		t.Errorf("sent message not persisted: %v", err)
	}
}

func TestMessageCreateIngestion(t *testing.T) {
	g := newFakeGateway(t)
	c, bus, store, _ := newTestClient(t, g)

	events := make(chan event.Event, 4)
	bus.Subscribe([]string{"discord.message.new"}, func(evt event.Event) {
		events <- evt
	})

	if err := c.Connect(context.Background(), testToken); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	g.push("MESSAGE_CREATE", 2, Message{
		ID:        "200000000000000000",
		ChannelID: "c1",
		Author:    User{ID: "9", Username: "alice"},
		Content:   "hi from alice",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	select {
	case evt := <-events:
		payload, ok := evt.Payload.(event.MessagePayload)
		if !ok {
			t.Fatalf("payload type %T", evt.Payload)
		}
		if payload.ChatID != "c1" || payload.Message.Content != "hi from alice" {
			t.Errorf("payload = %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message event never published")
	}

	msg, err := store.GetMessage("discord", "c1", "200000000000000000")
	if err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
	if msg.UserID != "9" || msg.MessageType != "text" {
		t.Errorf("row = %+v", msg)
	}

	// Someone else's message bumps the unread count.
	waitFor(t, time.Second, func() bool {
		chat, err := store.GetChat("discord", "c1")
		return err == nil && chat.UnreadCount == 1 && chat.LastMessageID == "200000000000000000"
	})
}

func TestMessageDeleteTombstones(t *testing.T) {
	g := newFakeGateway(t)
	c, bus, store, _ := newTestClient(t, g)

	deleted := make(chan event.Event, 4)
	bus.Subscribe([]string{"discord.message.delete"}, func(evt event.Event) {
		deleted <- evt
	})

	if err := c.Connect(context.Background(), testToken); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Delete for a message never seen: tombstone row appears anyway.
	g.push("MESSAGE_DELETE", 2, messageDelete{ID: "300", ChannelID: "c1"})

	select {
	case <-deleted:
	case <-time.After(2 * time.Second):
		t.Fatal("delete event never published")
	}

	waitFor(t, time.Second, func() bool {
		msg, err := store.GetMessage("discord", "c1", "300")
		return err == nil && msg.IsDeleted
	})
}
