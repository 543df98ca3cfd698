package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"

	"github.com/chatpilot/gateway/internal/server"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to the TOML config file")
	httpAddr := flag.String("http", "", "HTTP/WebSocket listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	secretsDir := flag.String("secrets-dir", "", "Credential store directory (overrides config)")
	appID := flag.Int("telegram-app-id", 0, "Telegram API id (or set TELEGRAM_APP_ID)")
	appHash := flag.String("telegram-app-hash", "", "Telegram API hash (or set TELEGRAM_APP_HASH)")
	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker URL for the event bridge (overrides config)")
	flag.Parse()

	if *appID == 0 {
		if v, err := strconv.Atoi(os.Getenv("TELEGRAM_APP_ID")); err == nil {
			*appID = v
		}
	}
	if *appHash == "" {
		*appHash = os.Getenv("TELEGRAM_APP_HASH")
	}

	srv, err := server.New(*configPath, server.Overrides{
		HTTPAddr:        *httpAddr,
		DBPath:          *dbPath,
		SecretsDir:      *secretsDir,
		TelegramAppID:   *appID,
		TelegramAppHash: *appHash,
		MQTTBroker:      *mqttBroker,
	})
	if err != nil {
		log.Fatalf("[Main] Failed to start: %v", err)
	}

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
