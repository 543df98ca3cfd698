// Package server assembles the gateway: storage, credential store, event
// bus, both platform clients, the optional MQTT bridge and the UI-facing
// WebSocket/REST server.
package server

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatpilot/gateway/internal/bridge"
	"github.com/chatpilot/gateway/internal/config"
	"github.com/chatpilot/gateway/internal/discord"
	"github.com/chatpilot/gateway/internal/event"
	"github.com/chatpilot/gateway/internal/secrets"
	"github.com/chatpilot/gateway/internal/storage"
	"github.com/chatpilot/gateway/internal/telegram"
)

// Overrides are the command line flags that take precedence over the config
// file.
type Overrides struct {
	HTTPAddr        string
	DBPath          string
	SecretsDir      string
	TelegramAppID   int
	TelegramAppHash string
	MQTTBroker      string
}

// Server is the assembled gateway process.
type Server struct {
	cfgManager *config.Manager
	store      *storage.Store
	creds      *secrets.Store
	bus        *event.Bus
	telegram   *telegram.Client
	discord    *discord.Client
	mqtt       *bridge.MQTTBridge
	ws         *WebSocketServer
}

// New loads configuration, opens storage and wires all components together.
func New(configPath string, ov Overrides) (*Server, error) {
	mgr, err := config.NewManager(configPath)
	if err != nil {
		return nil, err
	}
	cfg := mgr.Current()

	if ov.HTTPAddr != "" {
		cfg.Server.HTTPAddr = ov.HTTPAddr
	}
	if ov.DBPath != "" {
		cfg.Storage.DBPath = ov.DBPath
	}
	if ov.SecretsDir != "" {
		cfg.Storage.SecretsDir = ov.SecretsDir
	}
	if ov.TelegramAppID != 0 {
		cfg.Telegram.AppID = ov.TelegramAppID
	}
	if ov.TelegramAppHash != "" {
		cfg.Telegram.AppHash = ov.TelegramAppHash
	}
	if ov.MQTTBroker != "" {
		cfg.MQTT.BrokerURL = ov.MQTTBroker
	}

	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	creds, err := secrets.Open(cfg.Storage.SecretsDir)
	if err != nil {
		return nil, err
	}

	bus := event.NewBus()
	bus.LogErrors()

	tg := telegram.New(telegram.Options{
		AppID:   cfg.Telegram.AppID,
		AppHash: cfg.Telegram.AppHash,
		Store:   store,
		Secrets: creds,
		Bus:     bus,
	})
	dc := discord.New(discord.Options{
		Store:   store,
		Secrets: creds,
		Bus:     bus,
		Headers: cfg.Discord.Headers,
	})

	mgr.OnChange(func(next *config.Config) {
		dc.SetHeaderProfile(next.Discord.Headers)
	})

	var mq *bridge.MQTTBridge
	if cfg.MQTT.BrokerURL != "" {
		mq, err = bridge.NewMQTTBridge(cfg.MQTT, bus)
		if err != nil {
			// The bridge is optional; the gateway runs without it.
			log.Printf("[Server] MQTT bridge unavailable: %v", err)
			mq = nil
		}
	}

	ws := NewWebSocketServer(cfg.Server.HTTPAddr, bus, store, tg, dc)

	return &Server{
		cfgManager: mgr,
		store:      store,
		creds:      creds,
		bus:        bus,
		telegram:   tg,
		discord:    dc,
		mqtt:       mq,
		ws:         ws,
	}, nil
}

// Start runs the gateway until the context is cancelled or a shutdown signal
// arrives.
func (s *Server) Start(ctx context.Context) error {
	log.Println("[Server] Starting chatpilot gateway...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := s.ws.Start(); err != nil {
			errChan <- err
		}
	}()

	go s.resumeSessions()

	select {
	case <-ctx.Done():
		log.Println("[Server] Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Printf("[Server] Received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("[Server] Error: %v", err)
		s.Stop()
		return err
	}

	s.Stop()
	return nil
}

// resumeSessions restores platform sessions from stored credentials without
// blocking startup. Accounts never logged in stay disconnected until the UI
// starts a login flow.
func (s *Server) resumeSessions() {
	ctx := context.Background()

	if _, err := s.creds.Token("telegram"); err == nil {
		if err := s.telegram.Connect(ctx); err != nil {
			log.Printf("[Server] Telegram session resume: %v", err)
		}
	}

	if err := s.discord.ConnectStored(ctx); err != nil && !errors.Is(err, secrets.ErrNotFound) {
		log.Printf("[Server] Discord session resume: %v", err)
	}
}

// Stop closes all components. Sessions stay persisted; only an explicit
// disconnect deletes credentials.
func (s *Server) Stop() {
	log.Println("[Server] Stopping...")
	s.ws.Stop()
	if s.mqtt != nil {
		s.mqtt.Stop()
	}
	s.discord.Close()
	s.telegram.Close()
	s.cfgManager.Stop()
	log.Println("[Server] Stopped")
}

// EventBus returns the event bus.
func (s *Server) EventBus() *event.Bus {
	return s.bus
}
