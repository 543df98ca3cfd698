// Package telegram is the Telegram MTProto client: login flows (QR, phone
// code, 2FA password), live update ingestion and the chat command surface.
// Entities are normalized into the canonical model and persisted before any
// event is published.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/chatpilot/gateway/internal/event"
	"github.com/chatpilot/gateway/internal/model"
	"github.com/chatpilot/gateway/internal/secrets"
	"github.com/chatpilot/gateway/internal/storage"
)

// sessionStorage adapts the encrypted credential store to gotd's session
// persistence interface. The MTProto session blob is the Telegram credential.
type sessionStorage struct {
	creds *secrets.Store
}

func (s *sessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := s.creds.Token(model.PlatformTelegram.Key())
	if errors.Is(err, secrets.ErrNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (s *sessionStorage) StoreSession(ctx context.Context, data []byte) error {
	return s.creds.StoreToken(model.PlatformTelegram.Key(), string(data))
}

// Options configures a Client. AppID and AppHash are the API credentials
// issued at my.telegram.org.
type Options struct {
	AppID   int
	AppHash string
	Store   *storage.Store
	Secrets *secrets.Store
	Bus     *event.Bus
}

// peerInfo is a cached input peer with its display metadata. Access hashes
// arrive with the entities of updates and dialog listings and are required
// to address a peer in requests.
type peerInfo struct {
	peer  tg.InputPeerClass
	kind  model.ChatType
	title string
}

// Client is a single-account Telegram client.
type Client struct {
	appID   int
	appHash string
	store   *storage.Store
	creds   *secrets.Store
	bus     *event.Bus

	mu          sync.Mutex
	client      *telegram.Client
	api         *tg.Client
	dispatcher  tg.UpdateDispatcher
	stop        context.CancelFunc
	runDone     chan struct{}
	connected   bool
	authorized  bool
	selfID      int64
	selfName    string
	flow        *loginFlow
	codeCh      chan string
	passCh      chan string
	loginCancel context.CancelFunc
	peers       map[string]peerInfo
}

// New creates a disconnected client.
func New(opts Options) *Client {
	return &Client{
		appID:   opts.AppID,
		appHash: opts.AppHash,
		store:   opts.Store,
		creds:   opts.Secrets,
		bus:     opts.Bus,
		flow:    newLoginFlow(),
		peers:   make(map[string]peerInfo),
	}
}

// Connect starts the MTProto client in the background and waits until the
// connection is up. A persisted session resumes without any login flow;
// otherwise the client is connected but unauthorized until a login flow
// completes.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return fmt.Errorf("telegram: already connected")
	}

	dispatcher := tg.NewUpdateDispatcher()
	client := telegram.NewClient(c.appID, c.appHash, telegram.Options{
		SessionStorage: &sessionStorage{creds: c.creds},
		UpdateHandler:  dispatcher,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter(),
		},
	})

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	started := make(chan error, 1)

	c.client = client
	c.api = client.API()
	c.dispatcher = dispatcher
	c.stop = cancel
	c.runDone = done
	c.flow = newLoginFlow()
	c.peers = make(map[string]peerInfo)
	c.mu.Unlock()

	c.registerHandlers(dispatcher)

	go func() {
		defer close(done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				started <- err
				return err
			}

			c.mu.Lock()
			c.connected = true
			c.authorized = status.Authorized
			c.mu.Unlock()

			if status.Authorized {
				c.afterLogin(ctx)
			}
			started <- nil

			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[Telegram] Client stopped: %v", err)
			c.publish(event.TypeError, event.ErrorPayload{Message: err.Error()})
		}

		c.mu.Lock()
		c.connected = false
		c.authorized = false
		c.client = nil
		c.api = nil
		c.mu.Unlock()
		c.publish(event.TypeDisconnected, nil)
	}()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			<-done
			return fmt.Errorf("telegram: connect: %w", err)
		}
	case <-time.After(30 * time.Second):
		cancel()
		return fmt.Errorf("telegram: connect timed out")
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	log.Printf("[Telegram] Connected (authorized: %v)", c.IsAuthorized())
	return nil
}

// Disconnect logs the account out: stops the client and deletes the
// persisted session. Safe to call when already disconnected.
func (c *Client) Disconnect() error {
	c.shutdown()
	if err := c.creds.DeleteToken(model.PlatformTelegram.Key()); err != nil {
		return err
	}
	log.Printf("[Telegram] Disconnected, session deleted")
	return nil
}

// Close stops the client but keeps the persisted session for the next start.
func (c *Client) Close() {
	c.shutdown()
}

func (c *Client) shutdown() {
	c.mu.Lock()
	stop := c.stop
	done := c.runDone
	cancelLogin := c.loginCancel
	c.stop = nil
	c.runDone = nil
	c.loginCancel = nil
	c.codeCh = nil
	c.passCh = nil
	c.flow = newLoginFlow()
	c.peers = make(map[string]peerInfo)
	c.selfID = 0
	c.selfName = ""
	c.mu.Unlock()

	if cancelLogin != nil {
		cancelLogin()
	}
	if stop != nil {
		stop()
		if done != nil {
			select {
			case <-done:
			case <-time.After(10 * time.Second):
				log.Printf("[Telegram] Shutdown timed out")
			}
		}
	}
}

// IsConnected reports whether the MTProto transport is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IsAuthorized reports whether a user session is active.
func (c *Client) IsAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

// SelfID returns the authenticated user's id, zero when logged out.
func (c *Client) SelfID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// afterLogin resolves the authenticated identity, persists it and kicks off
// the initial dialog sync.
func (c *Client) afterLogin(ctx context.Context) {
	self, err := c.client.Self(ctx)
	if err != nil {
		log.Printf("[Telegram] Resolve self: %v", err)
		return
	}

	name := self.FirstName
	if self.LastName != "" {
		name += " " + self.LastName
	}

	c.mu.Lock()
	c.authorized = true
	c.selfID = self.ID
	c.selfName = name
	c.mu.Unlock()

	if err := c.store.CreateUser(&storage.User{
		ID:          strconv.FormatInt(self.ID, 10),
		Platform:    model.PlatformTelegram.Key(),
		Username:    self.Username,
		DisplayName: name,
	}); err != nil {
		log.Printf("[Telegram] Upsert self: %v", err)
	}

	log.Printf("[Telegram] Authorized as %s (%d)", self.Username, self.ID)
	c.publish(event.TypeConnected, event.ConnectedPayload{
		UserID:   strconv.FormatInt(self.ID, 10),
		Username: self.Username,
	})

	go func() {
		syncCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := c.GetDialogs(syncCtx, 100); err != nil {
			log.Printf("[Telegram] Initial dialog sync: %v", err)
		}
	}()
}

func (c *Client) publish(typ string, payload any) {
	c.bus.Publish(event.Event{
		Type:      typ,
		Platform:  model.PlatformTelegram.Key(),
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// rememberPeer caches an addressable peer.
func (c *Client) rememberPeer(id string, info peerInfo) {
	c.mu.Lock()
	if existing, ok := c.peers[id]; ok {
		if info.title == "" {
			info.title = existing.title
		}
		if info.kind == "" {
			info.kind = existing.kind
		}
	}
	c.peers[id] = info
	c.mu.Unlock()
}

// resolvePeer returns the cached input peer for a chat id. Peers enter the
// cache from dialog listings and update entities; a chat never seen through
// either cannot be addressed.
func (c *Client) resolvePeer(chatID string) (tg.InputPeerClass, error) {
	c.mu.Lock()
	info, ok := c.peers[chatID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("telegram: unknown chat %s", chatID)
	}
	return info.peer, nil
}

func (c *Client) peerKind(chatID string) model.ChatType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers[chatID].kind
}
