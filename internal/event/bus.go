package event

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// Handler is a function that handles events
type Handler func(evt Event)

// Subscription represents an event subscription
type Subscription struct {
	ID       string
	Patterns []string
	Handler  Handler
}

// Bus routes gateway events to the presentation layer and other consumers
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	nextID        int
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscriptions: make(map[string]*Subscription),
	}
}

// Subscribe registers a handler for events matching the given patterns
func (b *Bus) Subscribe(patterns []string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := fmt.Sprintf("sub-%d", b.nextID)

	b.subscriptions[id] = &Subscription{
		ID:       id,
		Patterns: patterns,
		Handler:  handler,
	}

	return id
}

// Unsubscribe removes a subscription
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, id)
}

// Publish sends an event to all matching subscribers. Handlers run on their
// own goroutines; ordering-sensitive state (message rows, tombstones) is
// already persisted by the caller before the event is published.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topic := evt.Topic()
	for _, sub := range b.subscriptions {
		if b.matches(topic, sub.Patterns) {
			go sub.Handler(evt)
		}
	}
}

// PublishSync delivers an event to matching subscribers on the calling
// goroutine. Used where the caller needs delivery to complete, e.g. teardown.
func (b *Bus) PublishSync(evt Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	topic := evt.Topic()
	for _, sub := range subs {
		if b.matches(topic, sub.Patterns) {
			sub.Handler(evt)
		}
	}
}

// matches checks if a topic matches any of the patterns
func (b *Bus) matches(topic string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchPattern(pattern, topic) {
			return true
		}
	}
	return false
}

// matchPattern checks if a topic matches a pattern
// Supports wildcards: "telegram.*" matches "telegram.login.code-sent",
// "discord.message.*" matches "discord.message.new"
func matchPattern(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	topicParts := strings.Split(topic, ".")

	for i, pp := range patternParts {
		if pp == "*" {
			// Wildcard matches remaining parts
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if pp != topicParts[i] {
			return false
		}
	}

	return len(patternParts) == len(topicParts)
}

// LogErrors subscribes a default handler that logs error events, so failures
// are visible even when no UI client is attached.
func (b *Bus) LogErrors() {
	b.Subscribe([]string{"*.error", "error"}, func(evt Event) {
		if p, ok := evt.Payload.(ErrorPayload); ok {
			log.Printf("[EventBus] %s error: %s", evt.Platform, p.Message)
		}
	})
}
