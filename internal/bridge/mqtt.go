// Package bridge republishes gateway events to external consumers. The MQTT
// bridge mirrors every bus event onto a broker so automations can react to
// messages without speaking the UI WebSocket protocol.
package bridge

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/chatpilot/gateway/internal/config"
	"github.com/chatpilot/gateway/internal/event"
)

// MQTTBridge forwards bus events to an MQTT broker. Event topics map onto
// the broker hierarchy: "telegram.message.new" becomes
// "<prefix>/telegram/message/new".
type MQTTBridge struct {
	client mqtt.Client
	bus    *event.Bus
	prefix string
	subID  string
}

// NewMQTTBridge connects to the broker and subscribes to all bus events.
func NewMQTTBridge(cfg config.MQTTConfig, bus *event.Bus) (*MQTTBridge, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "chatpilot-" + uuid.New().String()[:8]
	}
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "chatpilot/events"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("bridge: mqtt connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("bridge: mqtt connect: %w", err)
	}

	b := &MQTTBridge{
		client: client,
		bus:    bus,
		prefix: prefix,
	}
	b.subID = bus.Subscribe([]string{"*"}, b.republish)

	log.Printf("[MQTT] Bridge connected to %s as %s", cfg.BrokerURL, clientID)
	return b, nil
}

func (b *MQTTBridge) republish(evt event.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[MQTT] Encode event %s: %v", evt.Topic(), err)
		return
	}
	topic := b.prefix + "/" + strings.ReplaceAll(evt.Topic(), ".", "/")
	b.client.Publish(topic, 0, false, data)
}

// Stop unsubscribes from the bus and disconnects from the broker.
func (b *MQTTBridge) Stop() {
	b.bus.Unsubscribe(b.subID)
	b.client.Disconnect(250)
	log.Printf("[MQTT] Bridge stopped")
}
