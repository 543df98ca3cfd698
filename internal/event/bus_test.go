package event

import (
	"testing"
	"time"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"*", "telegram.message.new", true},
		{"telegram.*", "telegram.login.code-sent", true},
		{"telegram.*", "discord.login.captcha-required", false},
		{"discord.message.*", "discord.message.new", true},
		{"discord.message.new", "discord.message.new", true},
		{"discord.message.new", "discord.message.delete", false},
		{"telegram.login.code-sent", "telegram.login", false},
		{"*.error", "telegram.error", true},
		{"*.error", "error", true}, // wildcard head consumes the rest
	}

	for _, tt := range tests {
		if got := matchPattern(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestTopic(t *testing.T) {
	e := Event{Type: TypeNewMessage, Platform: "telegram"}
	if e.Topic() != "telegram.message.new" {
		t.Errorf("Topic() = %q", e.Topic())
	}
	e = Event{Type: TypeError}
	if e.Topic() != "error" {
		t.Errorf("Topic() = %q", e.Topic())
	}
}

func TestPublishSyncRouting(t *testing.T) {
	bus := NewBus()

	var telegramEvents, allEvents []string
	bus.Subscribe([]string{"telegram.*"}, func(evt Event) {
		telegramEvents = append(telegramEvents, evt.Topic())
	})
	bus.Subscribe([]string{"*"}, func(evt Event) {
		allEvents = append(allEvents, evt.Topic())
	})

	bus.PublishSync(Event{Type: TypeNewMessage, Platform: "telegram", Timestamp: time.Now()})
	bus.PublishSync(Event{Type: TypeNewMessage, Platform: "discord", Timestamp: time.Now()})

	if len(telegramEvents) != 1 || telegramEvents[0] != "telegram.message.new" {
		t.Errorf("telegram subscriber got %v", telegramEvents)
	}
	if len(allEvents) != 2 {
		t.Errorf("wildcard subscriber got %v", allEvents)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	var got int
	id := bus.Subscribe([]string{"*"}, func(evt Event) { got++ })

	bus.PublishSync(Event{Type: TypeReady})
	bus.Unsubscribe(id)
	bus.PublishSync(Event{Type: TypeReady})

	if got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
}

func TestPublishAsyncDelivery(t *testing.T) {
	bus := NewBus()

	done := make(chan Event, 1)
	bus.Subscribe([]string{"discord.message.delete"}, func(evt Event) {
		done <- evt
	})

	bus.Publish(Event{Type: TypeMessageDelete, Platform: "discord"})

	select {
	case evt := <-done:
		if evt.Topic() != "discord.message.delete" {
			t.Errorf("got topic %q", evt.Topic())
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}
