package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/chatpilot/gateway/internal/event"
	"github.com/chatpilot/gateway/internal/model"
	"github.com/chatpilot/gateway/internal/storage"
)

// GuildInfo is a cached guild listing entry.
type GuildInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Channels int    `json:"channels"`
}

// applyHeaders stamps the browser header profile onto an outbound request.
func (c *Client) applyHeaders(req *http.Request) {
	hp := c.HeaderProfile()
	req.Header.Set("User-Agent", hp.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", hp.AcceptLanguage)
	req.Header.Set("sec-ch-ua", hp.SecChUA)
	req.Header.Set("sec-ch-ua-mobile", "?0")
	req.Header.Set("sec-ch-ua-platform", hp.SecChUAPlatform)
	req.Header.Set("Origin", "https://discord.com")
	req.Header.Set("Referer", "https://discord.com/channels/@me")
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("discord: encode body: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, rd)
	if err != nil {
		return nil, fmt.Errorf("discord: build request: %w", err)
	}
	req.Header.Set("Authorization", c.currentToken())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w (HTTP %d)", ErrInvalidToken, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.checkCaptcha(body)
		return fmt.Errorf("discord: %s %s: HTTP %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("discord: decode %s response: %w", req.URL.Path, err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return nil
}

// checkCaptcha surfaces a platform captcha challenge as an event instead of
// burying it in an error string.
func (c *Client) checkCaptcha(body []byte) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return
	}
	if _, ok := m["captcha_key"]; !ok {
		return
	}
	log.Printf("[Discord] Captcha challenge received")
	c.publish(event.TypeCaptchaRequired, event.CaptchaPayload{Data: m})
}

// humanDelay sleeps a randomized interval before a write-path REST call so
// outbound traffic does not look machine-timed.
func (c *Client) humanDelay() {
	d := c.delayMin
	if span := c.delayMax - c.delayMin; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	if d > 0 {
		time.Sleep(d)
	}
}

// fetchSelf probes the API with the current token.
func (c *Client) fetchSelf(ctx context.Context) (*User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/users/@me", nil)
	if err != nil {
		return nil, err
	}
	var me User
	if err := c.doJSON(req, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// SendMessage posts a message, optionally as a reply, and persists the
// echoed result immediately rather than waiting for the gateway echo.
func (c *Client) SendMessage(ctx context.Context, channelID, content, replyToID string) (*model.MessageItem, error) {
	if c.Status() == StatusDisconnected {
		return nil, errNotConnected
	}
	c.humanDelay()

	body := map[string]any{
		"content": content,
		"nonce":   strconv.FormatInt(time.Now().UnixNano(), 10),
		"tts":     false,
	}
	if replyToID != "" {
		body["message_reference"] = map[string]string{
			"message_id": replyToID,
			"channel_id": channelID,
		}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/channels/"+channelID+"/messages", body)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := c.doJSON(req, &msg); err != nil {
		return nil, err
	}

	item := c.normalizeMessage(msg)
	if err := c.store.CreateMessage(storage.RowFromMessage(item)); err != nil {
		log.Printf("[Discord] Persist sent message: %v", err)
	}
	c.touchChat(item, false)
	return &item, nil
}

// AddReaction reacts to a message with a unicode emoji or name:id pair.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	c.humanDelay()
	req, err := c.newRequest(ctx, http.MethodPut, reactionPath(channelID, messageID, emoji), nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// RemoveReaction removes the client's own reaction.
func (c *Client) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	c.humanDelay()
	req, err := c.newRequest(ctx, http.MethodDelete, reactionPath(channelID, messageID, emoji), nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

func reactionPath(channelID, messageID, emoji string) string {
	return "/channels/" + channelID + "/messages/" + messageID +
		"/reactions/" + url.PathEscape(emoji) + "/@me"
}

// Guilds lists the cached guilds.
func (c *Client) Guilds() []GuildInfo {
	c.mu.Lock()
	counts := make(map[string]int)
	for _, e := range c.channels {
		if e.GuildID != "" {
			counts[e.GuildID]++
		}
	}
	var out []GuildInfo
	for _, g := range c.guilds {
		out = append(out, GuildInfo{ID: g.ID, Name: g.Name, Channels: counts[g.ID]})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Channels lists the cached text channels of a guild as chat summaries.
func (c *Client) Channels(guildID string) []model.ChatSummary {
	c.mu.Lock()
	var ids []string
	for id, e := range c.channels {
		if e.GuildID == guildID {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	var out []model.ChatSummary
	for _, id := range ids {
		if sum, ok := c.chatSummary(id); ok {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DMs lists the open private channels, most recently active first.
func (c *Client) DMs() []model.ChatSummary {
	c.mu.Lock()
	var ids []string
	for id, e := range c.channels {
		if e.IsDM {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	var out []model.ChatSummary
	for _, id := range ids {
		if sum, ok := c.chatSummary(id); ok {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}
