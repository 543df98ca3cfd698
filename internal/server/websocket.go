package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatpilot/gateway/internal/discord"
	"github.com/chatpilot/gateway/internal/event"
	"github.com/chatpilot/gateway/internal/model"
	"github.com/chatpilot/gateway/internal/storage"
	"github.com/chatpilot/gateway/internal/telegram"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // UI runs on a different origin in development
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// WSClient is a connected UI client.
type WSClient struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	Server *WebSocketServer
}

// WSMessage is the envelope for frames pushed to UI clients.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// WebSocketServer serves the UI: a WebSocket event feed plus the REST
// control surface for login flows, sending and chat queries.
type WebSocketServer struct {
	mu       sync.RWMutex
	clients  map[string]*WSClient
	bus      *event.Bus
	store    *storage.Store
	telegram *telegram.Client
	discord  *discord.Client
	addr     string
	server   *http.Server
}

// NewWebSocketServer creates the server and subscribes it to all bus events.
func NewWebSocketServer(addr string, bus *event.Bus, store *storage.Store, tg *telegram.Client, dc *discord.Client) *WebSocketServer {
	ws := &WebSocketServer{
		clients:  make(map[string]*WSClient),
		bus:      bus,
		store:    store,
		telegram: tg,
		discord:  dc,
		addr:     addr,
	}

	bus.Subscribe([]string{"*"}, func(evt event.Event) {
		ws.broadcastEvent(evt)
	})

	return ws
}

// Start starts the HTTP server. Blocks until shutdown.
func (s *WebSocketServer) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)

	mux.HandleFunc("/api/telegram/login/qr", s.handleTelegramQR)
	mux.HandleFunc("/api/telegram/login/phone", s.handleTelegramPhone)
	mux.HandleFunc("/api/telegram/login/code", s.handleTelegramCode)
	mux.HandleFunc("/api/telegram/login/password", s.handleTelegramPassword)
	mux.HandleFunc("/api/telegram/dialogs", s.handleTelegramDialogs)
	mux.HandleFunc("/api/telegram/history", s.handleTelegramHistory)
	mux.HandleFunc("/api/telegram/search", s.handleTelegramSearch)
	mux.HandleFunc("/api/telegram/replies", s.handleTelegramReplies)
	mux.HandleFunc("/api/telegram/participants", s.handleTelegramParticipants)
	mux.HandleFunc("/api/telegram/typing", s.handleTelegramTyping)
	mux.HandleFunc("/api/telegram/read", s.handleTelegramRead)
	mux.HandleFunc("/api/telegram/pin", s.handleTelegramPin)

	mux.HandleFunc("/api/discord/connect", s.handleDiscordConnect)
	mux.HandleFunc("/api/discord/guilds", s.handleDiscordGuilds)
	mux.HandleFunc("/api/discord/channels", s.handleDiscordChannels)
	mux.HandleFunc("/api/discord/dms", s.handleDiscordDMs)
	mux.HandleFunc("/api/discord/reactions", s.handleDiscordReactions)

	mux.HandleFunc("/api/messages/send", s.handleSendMessage)
	mux.HandleFunc("/api/messages/delete", s.handleDeleteMessage)
	mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/chats", s.handleChats)
	mux.HandleFunc("/api/chats/", s.handleChatMessages)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: corsMiddleware(mux),
	}

	log.Printf("[WebSocket] Server listening on %s", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Stop shuts the HTTP server down.
func (s *WebSocketServer) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}
}

func (s *WebSocketServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// StatusResponse reports both platform connections.
type StatusResponse struct {
	Telegram PlatformStatus `json:"telegram"`
	Discord  PlatformStatus `json:"discord"`
}

// PlatformStatus is one platform's connection state.
type PlatformStatus struct {
	Connected  bool   `json:"connected"`
	Authorized bool   `json:"authorized"`
	Status     string `json:"status,omitempty"`
}

func (s *WebSocketServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, StatusResponse{
		Telegram: PlatformStatus{
			Connected:  s.telegram.IsConnected(),
			Authorized: s.telegram.IsAuthorized(),
		},
		Discord: PlatformStatus{
			Connected:  s.discord.IsConnected(),
			Authorized: s.discord.IsConnected(),
			Status:     string(s.discord.Status()),
		},
	})
}

// ensureTelegram lazily starts the MTProto client so login endpoints work
// before any session exists.
func (s *WebSocketServer) ensureTelegram(ctx context.Context) error {
	if s.telegram.IsConnected() {
		return nil
	}
	err := s.telegram.Connect(ctx)
	if err != nil && strings.Contains(err.Error(), "already connected") {
		return nil
	}
	return err
}

func (s *WebSocketServer) handleTelegramQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.ensureTelegram(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if err := s.telegram.BeginQRLogin(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]bool{"started": true})
}

func (s *WebSocketServer) handleTelegramPhone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		http.Error(w, "phone is required", http.StatusBadRequest)
		return
	}
	if err := s.ensureTelegram(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if err := s.telegram.BeginPhoneLogin(req.Phone); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]bool{"started": true})
}

func (s *WebSocketServer) handleTelegramCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	if err := s.telegram.SubmitCode(req.Code); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]bool{"submitted": true})
}

func (s *WebSocketServer) handleTelegramPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		http.Error(w, "password is required", http.StatusBadRequest)
		return
	}
	if err := s.telegram.SubmitPassword(req.Password); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]bool{"submitted": true})
}

func (s *WebSocketServer) handleTelegramDialogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	dialogs, err := s.telegram.GetDialogs(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, dialogs)
}

func (s *WebSocketServer) handleTelegramHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	chatID := q.Get("chat_id")
	if chatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}
	offsetID, _ := strconv.Atoi(q.Get("offset_id"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	items, err := s.telegram.GetHistory(r.Context(), chatID, offsetID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, items)
}

func (s *WebSocketServer) handleTelegramSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	chatID, query := q.Get("chat_id"), q.Get("q")
	if chatID == "" || query == "" {
		http.Error(w, "chat_id and q are required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	items, err := s.telegram.SearchMessages(r.Context(), chatID, query, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, items)
}

func (s *WebSocketServer) handleTelegramReplies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	chatID := q.Get("chat_id")
	messageID, _ := strconv.Atoi(q.Get("message_id"))
	if chatID == "" || messageID == 0 {
		http.Error(w, "chat_id and message_id are required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	items, err := s.telegram.GetReplies(r.Context(), chatID, messageID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, items)
}

func (s *WebSocketServer) handleTelegramParticipants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	parts, err := s.telegram.GetParticipants(r.Context(), chatID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, parts)
}

func (s *WebSocketServer) handleTelegramTyping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ChatID string `json:"chat_id"`
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}
	if err := s.telegram.SetTyping(r.Context(), req.ChatID, req.Action); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *WebSocketServer) handleTelegramRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}
	if err := s.telegram.MarkAsRead(r.Context(), req.ChatID); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *WebSocketServer) handleTelegramPin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ChatID    string `json:"chat_id"`
		MessageID int    `json:"message_id"`
		Unpin     bool   `json:"unpin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" || req.MessageID == 0 {
		http.Error(w, "chat_id and message_id are required", http.StatusBadRequest)
		return
	}
	if err := s.telegram.PinMessage(r.Context(), req.ChatID, req.MessageID, req.Unpin); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *WebSocketServer) handleDiscordConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}
	if err := s.discord.Connect(r.Context(), req.Token); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]bool{"connected": true})
}

func (s *WebSocketServer) handleDiscordGuilds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.discord.Guilds())
}

func (s *WebSocketServer) handleDiscordChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	guildID := r.URL.Query().Get("guild")
	if guildID == "" {
		http.Error(w, "guild is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.discord.Channels(guildID))
}

func (s *WebSocketServer) handleDiscordDMs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.discord.DMs())
}

func (s *WebSocketServer) handleDiscordReactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ChannelID string `json:"channel_id"`
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
		Remove    bool   `json:"remove"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.ChannelID == "" || req.MessageID == "" || req.Emoji == "" {
		http.Error(w, "channel_id, message_id and emoji are required", http.StatusBadRequest)
		return
	}

	var err error
	if req.Remove {
		err = s.discord.RemoveReaction(r.Context(), req.ChannelID, req.MessageID, req.Emoji)
	} else {
		err = s.discord.AddReaction(r.Context(), req.ChannelID, req.MessageID, req.Emoji)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

// SendMessageRequest is the body for POST /api/messages/send.
type SendMessageRequest struct {
	Platform  string `json:"platform"`
	ChatID    string `json:"chat_id"`
	Content   string `json:"content"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}

func (s *WebSocketServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.ChatID == "" || req.Content == "" {
		http.Error(w, "platform, chat_id and content are required", http.StatusBadRequest)
		return
	}

	switch strings.ToLower(req.Platform) {
	case model.PlatformTelegram.Key():
		if err := s.telegram.SendMessage(r.Context(), req.ChatID, req.Content, req.ReplyToID); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]bool{"sent": true})
	case model.PlatformDiscord.Key():
		item, err := s.discord.SendMessage(r.Context(), req.ChatID, req.Content, req.ReplyToID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, item)
	default:
		http.Error(w, "unknown platform", http.StatusBadRequest)
	}
}

func (s *WebSocketServer) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Platform  string `json:"platform"`
		ChatID    string `json:"chat_id"`
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.ChatID == "" || req.MessageID == "" {
		http.Error(w, "platform, chat_id and message_id are required", http.StatusBadRequest)
		return
	}

	switch strings.ToLower(req.Platform) {
	case model.PlatformTelegram.Key():
		id, err := strconv.Atoi(req.MessageID)
		if err != nil {
			http.Error(w, "bad message_id", http.StatusBadRequest)
			return
		}
		if err := s.telegram.DeleteMessage(r.Context(), req.ChatID, id); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
	default:
		http.Error(w, "unknown platform", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]bool{"deleted": true})
}

func (s *WebSocketServer) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Platform string `json:"platform"`
		Purge    bool   `json:"purge"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	platform := strings.ToLower(req.Platform)
	switch platform {
	case model.PlatformTelegram.Key():
		if err := s.telegram.Disconnect(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	case model.PlatformDiscord.Key():
		if err := s.discord.Disconnect(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	default:
		http.Error(w, "unknown platform", http.StatusBadRequest)
		return
	}

	if req.Purge {
		if err := s.store.DeleteAccount(platform); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, map[string]bool{"disconnected": true})
}

// platformFromKey maps a request's platform key to the canonical platform.
func platformFromKey(key string) (model.Platform, bool) {
	switch key {
	case model.PlatformTelegram.Key():
		return model.PlatformTelegram, true
	case model.PlatformDiscord.Key():
		return model.PlatformDiscord, true
	}
	return "", false
}

// handleChats handles GET /api/chats?platform=telegram|discord
func (s *WebSocketServer) handleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	platform := strings.ToLower(r.URL.Query().Get("platform"))
	if platform == "" {
		http.Error(w, "platform is required", http.StatusBadRequest)
		return
	}
	p, ok := platformFromKey(platform)
	if !ok {
		http.Error(w, "unknown platform: "+platform, http.StatusBadRequest)
		return
	}

	rows, err := s.store.GetChats(platform)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]model.ChatSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, storage.SummaryFromChat(row, p))
	}
	writeJSON(w, out)
}

// handleChatMessages handles GET /api/chats/{platform}/{id}/messages
func (s *WebSocketServer) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) != 3 || parts[2] != "messages" {
		http.Error(w, "Invalid URL format. Use /api/chats/{platform}/{id}/messages", http.StatusBadRequest)
		return
	}
	platform, chatID := strings.ToLower(parts[0]), parts[1]
	p, ok := platformFromKey(platform)
	if !ok {
		http.Error(w, "unknown platform: "+platform, http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	rows, err := s.store.GetChatMessages(platform, chatID, q.Get("before"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]model.MessageItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, storage.MessageFromRow(row, p))
	}
	writeJSON(w, out)
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Upgrade error: %v", err)
		return
	}

	client := &WSClient{
		ID:     uuid.New().String(),
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Server: s,
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	log.Printf("[WebSocket] Client connected: %s", client.ID)

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.Server.mu.Lock()
		delete(c.Server.clients, c.ID)
		c.Server.mu.Unlock()
		c.Conn.Close()
		log.Printf("[WebSocket] Client disconnected: %s", c.ID)
	}()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// The feed is push-only; inbound frames only refresh the deadline.
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error: %v", err)
			}
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketServer) broadcastEvent(evt event.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	data, err := json.Marshal(WSMessage{Type: "event", Payload: payload})
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.Send <- data:
		default:
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
