// Package discord is a raw Discord gateway client. It speaks the gateway
// WebSocket protocol and the REST API directly with a user token and a
// browser-like header profile, ingesting entities into local storage and
// publishing normalized events on the bus.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatpilot/gateway/internal/config"
	"github.com/chatpilot/gateway/internal/event"
	"github.com/chatpilot/gateway/internal/model"
	"github.com/chatpilot/gateway/internal/secrets"
	"github.com/chatpilot/gateway/internal/storage"
)

// ErrInvalidToken is returned when a token fails the shape check or is
// rejected by the API.
var ErrInvalidToken = errors.New("discord: invalid token")

var errNotConnected = errors.New("discord: not connected")

// Status is the client connection state.
type Status string

const (
	StatusDisconnected   Status = "disconnected"
	StatusConnecting     Status = "connecting"
	StatusAuthenticating Status = "authenticating"
	StatusConnected      Status = "connected"
)

const (
	defaultGatewayURL   = "wss://gateway.discord.gg/?v=10&encoding=json"
	defaultAPIBase      = "https://discord.com/api/v10"
	defaultBackoff      = 5 * time.Second
	defaultReadyTimeout = 15 * time.Second
	defaultDelayMin     = 300 * time.Millisecond
	defaultDelayMax     = 900 * time.Millisecond
)

// Options configures a Client. Zero values fall back to production defaults;
// tests override the endpoints and timings.
type Options struct {
	Store   *storage.Store
	Secrets *secrets.Store
	Bus     *event.Bus
	Headers config.HeaderProfile

	GatewayURL       string
	APIBase          string
	ReconnectBackoff time.Duration
	ReadyTimeout     time.Duration
	SendDelayMin     time.Duration
	SendDelayMax     time.Duration
	HTTPClient       *http.Client
}

// Client is a single-account Discord gateway client. Guild and channel
// caches are instance state, created at connect and cleared at disconnect.
type Client struct {
	store *storage.Store
	creds *secrets.Store
	bus   *event.Bus

	httpClient   *http.Client
	apiBase      string
	gatewayURL   string
	backoff      time.Duration
	readyTimeout time.Duration
	delayMin     time.Duration
	delayMax     time.Duration

	headerMu sync.RWMutex
	headers  config.HeaderProfile

	seq atomic.Int64

	mu             sync.Mutex
	status         Status
	token          string
	userID         string
	username       string
	sessionID      string
	conn           *websocket.Conn
	readyCh        chan error
	heartbeatStop  chan struct{}
	lastAck        time.Time
	closing        bool
	reconnectTimer *time.Timer
	guilds         map[string]*guildEntry
	channels       map[string]*channelEntry

	writeMu sync.Mutex
}

// New creates a disconnected client.
func New(opts Options) *Client {
	c := &Client{
		store:        opts.Store,
		creds:        opts.Secrets,
		bus:          opts.Bus,
		headers:      opts.Headers,
		httpClient:   opts.HTTPClient,
		apiBase:      opts.APIBase,
		gatewayURL:   opts.GatewayURL,
		backoff:      opts.ReconnectBackoff,
		readyTimeout: opts.ReadyTimeout,
		delayMin:     opts.SendDelayMin,
		delayMax:     opts.SendDelayMax,
		status:       StatusDisconnected,
		guilds:       make(map[string]*guildEntry),
		channels:     make(map[string]*channelEntry),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.apiBase == "" {
		c.apiBase = defaultAPIBase
	}
	if c.gatewayURL == "" {
		c.gatewayURL = defaultGatewayURL
	}
	if c.backoff == 0 {
		c.backoff = defaultBackoff
	}
	if c.readyTimeout == 0 {
		c.readyTimeout = defaultReadyTimeout
	}
	if c.delayMin == 0 && c.delayMax == 0 {
		c.delayMin = defaultDelayMin
		c.delayMax = defaultDelayMax
	}
	if c.headers.UserAgent == "" {
		c.headers = config.DefaultHeaderProfile()
	}
	return c
}

// Connect validates the token, probes the REST API with it, persists it and
// establishes the gateway session. The token is persisted only after the API
// accepts it.
func (c *Client) Connect(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if !secrets.ValidateDiscordToken(token) {
		return fmt.Errorf("%w: malformed token", ErrInvalidToken)
	}

	c.mu.Lock()
	if c.status != StatusDisconnected {
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("discord: already %s", status)
	}
	c.status = StatusConnecting
	c.closing = false
	c.token = token
	c.mu.Unlock()

	if err := c.establish(ctx, true); err != nil {
		c.mu.Lock()
		c.status = StatusDisconnected
		c.mu.Unlock()
		return err
	}
	return nil
}

// ConnectStored connects with the credential persisted by a previous login.
func (c *Client) ConnectStored(ctx context.Context) error {
	token, err := c.creds.Token(model.PlatformDiscord.Key())
	if err != nil {
		return err
	}
	return c.Connect(ctx, token)
}

// establish runs the probe-persist-dial sequence. The caller has already
// moved status to connecting.
func (c *Client) establish(ctx context.Context, persist bool) error {
	me, err := c.fetchSelf(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.userID = me.ID
	c.username = me.DisplayName()
	c.status = StatusAuthenticating
	c.mu.Unlock()

	if err := c.store.CreateUser(&storage.User{
		ID:          me.ID,
		Platform:    model.PlatformDiscord.Key(),
		Username:    me.Username,
		DisplayName: me.DisplayName(),
		AvatarURL:   avatarURL(*me),
	}); err != nil {
		log.Printf("[Discord] Upsert self: %v", err)
	}

	if persist {
		if err := c.creds.StoreToken(model.PlatformDiscord.Key(), c.currentToken()); err != nil {
			log.Printf("[Discord] Persist token: %v", err)
		}
	}

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	header := http.Header{}
	hp := c.HeaderProfile()
	header.Set("User-Agent", hp.UserAgent)
	header.Set("Origin", "https://discord.com")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.gatewayURL, header)
	if err != nil {
		return fmt.Errorf("discord: gateway dial: %w", err)
	}

	readyCh := make(chan error, 1)
	c.mu.Lock()
	c.conn = conn
	c.readyCh = readyCh
	c.mu.Unlock()

	go c.readLoop(conn)

	select {
	case err := <-readyCh:
		if err != nil {
			conn.Close()
			return err
		}
		return nil
	case <-time.After(c.readyTimeout):
		conn.Close()
		return fmt.Errorf("discord: no READY within %s", c.readyTimeout)
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// Disconnect logs the account out: tears down the session, deletes the
// stored credential and clears the entity caches. Calling it twice is safe.
func (c *Client) Disconnect() error {
	wasActive := c.shutdown()

	if err := c.creds.DeleteToken(model.PlatformDiscord.Key()); err != nil {
		return err
	}

	if wasActive {
		log.Printf("[Discord] Disconnected")
		c.publish(event.TypeDisconnected, nil)
	}
	return nil
}

// Close tears down the session but keeps the stored credential, so the
// account resumes on next start. Used at process shutdown.
func (c *Client) Close() {
	if c.shutdown() {
		log.Printf("[Discord] Connection closed")
	}
}

func (c *Client) shutdown() bool {
	c.mu.Lock()
	c.closing = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	wasActive := c.status != StatusDisconnected || conn != nil
	c.status = StatusDisconnected
	c.sessionID = ""
	c.token = ""
	c.userID = ""
	c.username = ""
	c.readyCh = nil
	c.guilds = make(map[string]*guildEntry)
	c.channels = make(map[string]*channelEntry)
	c.mu.Unlock()
	c.seq.Store(0)

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	return wasActive
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected reports whether the gateway session is established.
func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}

// SelfID returns the authenticated user's id, empty when logged out.
func (c *Client) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// HeaderProfile returns the active browser header profile.
func (c *Client) HeaderProfile() config.HeaderProfile {
	c.headerMu.RLock()
	defer c.headerMu.RUnlock()
	return c.headers
}

// SetHeaderProfile swaps the header profile. Applied to all subsequent REST
// calls; the running gateway session is unaffected.
func (c *Client) SetHeaderProfile(hp config.HeaderProfile) {
	if hp.UserAgent == "" {
		return
	}
	c.headerMu.Lock()
	c.headers = hp
	c.headerMu.Unlock()
	log.Printf("[Discord] Header profile updated")
}

func (c *Client) publish(typ string, payload any) {
	c.bus.Publish(event.Event{
		Type:      typ,
		Platform:  model.PlatformDiscord.Key(),
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

func avatarURL(u User) string {
	if u.Avatar == "" {
		return ""
	}
	return "https://cdn.discordapp.com/avatars/" + u.ID + "/" + u.Avatar + ".png"
}
