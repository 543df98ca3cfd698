package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full gateway configuration, loaded from config.toml.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Telegram TelegramConfig `toml:"telegram"`
	Discord  DiscordConfig  `toml:"discord"`
	MQTT     MQTTConfig     `toml:"mqtt"`
}

// ServerConfig configures the UI bridge server.
type ServerConfig struct {
	HTTPAddr string `toml:"http_addr"`
}

// StorageConfig configures local persistence and the credential store.
type StorageConfig struct {
	DBPath     string `toml:"db_path"`
	SecretsDir string `toml:"secrets_dir"`
}

// TelegramConfig holds the API credentials issued at my.telegram.org.
type TelegramConfig struct {
	AppID   int    `toml:"app_id"`
	AppHash string `toml:"app_hash"`
}

// DiscordConfig configures the Discord client, primarily its outbound
// header profile.
type DiscordConfig struct {
	Headers HeaderProfile `toml:"headers"`
}

// MQTTConfig configures the optional event republisher. Empty broker URL
// disables it.
type MQTTConfig struct {
	BrokerURL   string `toml:"broker_url"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	TopicPrefix string `toml:"topic_prefix"`
}

// HeaderProfile is the set of browser-like headers every outbound Discord
// HTTP call carries. The client impersonates a standard web client, so the
// profile is configuration, not hardcoded noise.
type HeaderProfile struct {
	UserAgent       string `toml:"user_agent"`
	SecChUA         string `toml:"sec_ch_ua"`
	SecChUAPlatform string `toml:"sec_ch_ua_platform"`
	AcceptLanguage  string `toml:"accept_language"`
}

// DefaultHeaderProfile derives a plausible browser profile from the host OS.
func DefaultHeaderProfile() HeaderProfile {
	platform := `"Linux"`
	osToken := "X11; Linux x86_64"
	switch runtime.GOOS {
	case "darwin":
		platform = `"macOS"`
		osToken = "Macintosh; Intel Mac OS X 10_15_7"
	case "windows":
		platform = `"Windows"`
		osToken = "Windows NT 10.0; Win64; x64"
	}
	return HeaderProfile{
		UserAgent: "Mozilla/5.0 (" + osToken +
			") AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		SecChUA:         `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		SecChUAPlatform: platform,
		AcceptLanguage:  "en-US,en;q=0.9",
	}
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{HTTPAddr: ":8080"},
		Storage: StorageConfig{DBPath: "chatpilot.db", SecretsDir: "secrets"},
		Discord: DiscordConfig{Headers: DefaultHeaderProfile()},
		MQTT:    MQTTConfig{TopicPrefix: "chatpilot/events", ClientID: "chatpilot-gateway"},
	}
}

// Load reads a TOML config file, filling unset fields with defaults.
// A missing file returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Discord.Headers.UserAgent == "" {
		cfg.Discord.Headers = DefaultHeaderProfile()
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8080"
	}
	return cfg, nil
}

// Manager holds the live configuration and reloads it when the file
// changes on disk. Consumers register OnChange handlers; currently the
// Discord client uses this to hot-swap its header profile.
type Manager struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	watcher  *fileWatcher
	handlers []func(*Config)
}

// NewManager loads path and starts watching its directory for changes.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{path: path, current: cfg}

	watcher, err := watchConfigFile(path, m.reload)
	if err != nil {
		// Directory may not exist yet when running on pure defaults.
		log.Printf("[Config] Not watching %s: %v", filepath.Dir(path), err)
	} else {
		m.watcher = watcher
	}

	return m, nil
}

// Current returns the live configuration.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler invoked with the new config after a reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Stop stops the file watcher.
func (m *Manager) Stop() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		log.Printf("[Config] Reload failed: %v", err)
		return
	}

	m.mu.Lock()
	m.current = cfg
	handlers := append([]func(*Config){}, m.handlers...)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(cfg)
	}
}
