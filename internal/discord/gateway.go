package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatpilot/gateway/internal/event"
)

// readLoop drains gateway frames until the socket dies. One loop per
// connection; a reconnect spawns a fresh one.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleSocketClose(conn, err)
			return
		}

		var p payload
		if err := json.Unmarshal(data, &p); err != nil {
			log.Printf("[Discord] Bad gateway frame: %v", err)
			continue
		}
		if p.S != nil {
			c.seq.Store(*p.S)
		}

		switch p.Op {
		case opHello:
			var hello helloData
			if err := json.Unmarshal(p.D, &hello); err != nil {
				log.Printf("[Discord] Bad HELLO payload: %v", err)
				continue
			}
			c.startHeartbeat(time.Duration(hello.HeartbeatInterval) * time.Millisecond)
			if err := c.sendIdentify(); err != nil {
				log.Printf("[Discord] Identify failed: %v", err)
			}
		case opHeartbeat:
			// Server asked for an immediate beat.
			if err := c.sendHeartbeat(); err != nil {
				log.Printf("[Discord] Heartbeat failed: %v", err)
			}
		case opHeartbeatAck:
			c.mu.Lock()
			c.lastAck = time.Now()
			c.mu.Unlock()
		case opReconnect:
			log.Printf("[Discord] Server requested reconnect")
			conn.Close()
		case opInvalidSession:
			c.handleInvalidSession()
		case opDispatch:
			c.handleDispatch(p.T, p.D)
		}
	}
}

// handleSocketClose runs exactly once per connection, from its read loop.
// A stale loop whose connection was already replaced is a no-op.
func (c *Client) handleSocketClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.stopHeartbeatLocked()
	closing := c.closing
	ready := c.readyCh
	c.status = StatusDisconnected
	c.sessionID = ""
	c.readyCh = nil
	c.mu.Unlock()

	if ready != nil {
		// The connection died before READY. The pending dial owns the failure
		// and any retry; a background reconnect here would race it.
		ready <- fmt.Errorf("discord: gateway closed before READY: %v", err)
		return
	}
	if closing {
		return
	}

	log.Printf("[Discord] Gateway connection lost: %v", err)
	c.publish(event.TypeError, event.ErrorPayload{
		Message: fmt.Sprintf("gateway connection lost: %v", err),
	})
	c.publish(event.TypeDisconnected, nil)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	log.Printf("[Discord] Reconnecting in %s", c.backoff)
	c.reconnectTimer = time.AfterFunc(c.backoff, c.reconnect)
}

// reconnect restarts the full connect sequence with the in-memory token.
// There is no gateway resume: the session re-identifies and re-ingests READY,
// which the idempotent storage layer absorbs.
func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closing || c.status != StatusDisconnected || c.token == "" {
		c.mu.Unlock()
		return
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.readyTimeout+15*time.Second)
	defer cancel()

	if err := c.establish(ctx, false); err != nil {
		log.Printf("[Discord] Reconnect failed: %v", err)
		c.mu.Lock()
		c.status = StatusDisconnected
		c.mu.Unlock()
		c.scheduleReconnect()
		return
	}
	log.Printf("[Discord] Reconnected")
}

// startHeartbeat starts the heartbeat goroutine for the current connection,
// stopping any previous one.
func (c *Client) startHeartbeat(interval time.Duration) {
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}

	c.mu.Lock()
	c.stopHeartbeatLocked()
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.lastAck = time.Now()
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				sinceAck := time.Since(c.lastAck)
				c.mu.Unlock()
				if sinceAck > 2*interval {
					log.Printf("[Discord] No heartbeat ack for %s, connection looks dead",
						sinceAck.Round(time.Second))
				}
				if err := c.sendHeartbeat(); err != nil {
					return
				}
			}
		}
	}()
}

// stopHeartbeatLocked stops the heartbeat goroutine. Caller holds c.mu.
func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

// sendHeartbeat sends {op:1, d:<seq>} with the last observed sequence, null
// before the first dispatch.
func (c *Client) sendHeartbeat() error {
	var d any
	if seq := c.seq.Load(); seq > 0 {
		d = seq
	}
	return c.writeFrame(opHeartbeat, d)
}

func (c *Client) sendIdentify() error {
	hp := c.HeaderProfile()
	osName := strings.Trim(hp.SecChUAPlatform, `"`)
	if osName == "" {
		osName = runtime.GOOS
	}
	return c.writeFrame(opIdentify, identifyData{
		Token: c.currentToken(),
		Properties: identifyProperties{
			OS:      osName,
			Browser: "Chrome",
			Device:  "",
		},
		Intents: intentGuilds | intentGuildMessages | intentDirectMessages | intentMessageContent,
	})
}

// handleInvalidSession drops the session state and re-identifies on the same
// socket after a randomized wait, per the gateway contract.
func (c *Client) handleInvalidSession() {
	c.seq.Store(0)
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()

	wait := time.Second + time.Duration(rand.Int63n(int64(4*time.Second)))
	log.Printf("[Discord] Session invalidated, re-identifying in %s", wait.Round(time.Millisecond))
	time.AfterFunc(wait, func() {
		if err := c.sendIdentify(); err != nil {
			log.Printf("[Discord] Re-identify failed: %v", err)
		}
	})
}

// writeFrame serializes writes so heartbeats and identify frames never
// interleave on the wire.
func (c *Client) writeFrame(op int, d any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(outbound{Op: op, D: d})
}
