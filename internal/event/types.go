package event

import (
	"time"

	"github.com/chatpilot/gateway/internal/model"
)

// Lifecycle event types, shared by both platform clients.
const (
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
	TypeReady        = "ready"
	TypeError        = "error"
)

// Login event types. Telegram emits the code/password/qr family; Discord
// only emits captcha-required when the platform challenges a login.
const (
	TypeCodeSent        = "login.code-sent"
	TypeCodeInvalid     = "login.code-invalid"
	TypeCodeExpired     = "login.code-expired"
	TypePasswordNeeded  = "login.password-required"
	TypePasswordInvalid = "login.password-invalid"
	TypeLoginSuccess    = "login.success"
	TypeLoginError      = "login.error"
	TypeQRGenerated     = "login.qr-generated"
	TypeQRExpired       = "login.qr-expired"
	TypeCaptchaRequired = "login.captcha-required"
)

// Data event types.
const (
	TypeNewMessage     = "message.new"
	TypeMessageUpdate  = "message.update"
	TypeMessageDelete  = "message.delete"
	TypeDialogUpdated  = "dialog.updated"
	TypeGuildUpdate    = "guild.updated"
	TypeChannelsUpdate = "channels.updated"
)

// Event is a single gateway event fanned out to subscribers. Platform is the
// lowercase platform key ("telegram", "discord") or empty for process-wide
// events.
type Event struct {
	Type      string    `json:"type"`
	Platform  string    `json:"platform,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Topic is the dotted routing key patterns are matched against,
// e.g. "telegram.login.code-sent" or "discord.message.new".
func (e Event) Topic() string {
	if e.Platform == "" {
		return e.Type
	}
	return e.Platform + "." + e.Type
}

// ConnectedPayload carries the resolved identity after authentication.
type ConnectedPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// ErrorPayload carries a background failure message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// QRPayload carries a freshly generated login QR code as a base64 PNG.
type QRPayload struct {
	Image     string    `json:"image"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MessagePayload carries a normalized message for the new/update/delete
// data events.
type MessagePayload struct {
	ChatID  string            `json:"chat_id"`
	Message model.MessageItem `json:"message"`
}

// DialogPayload carries a refreshed chat summary so the UI can update a
// chat list entry without a full re-fetch.
type DialogPayload struct {
	Chat model.ChatSummary `json:"chat"`
}

// GuildPayload announces an ingested guild and its channel count.
type GuildPayload struct {
	GuildID      string `json:"guild_id"`
	Name         string `json:"name"`
	ChannelCount int    `json:"channel_count"`
}

// CaptchaPayload carries opaque captcha challenge data from the platform.
type CaptchaPayload struct {
	Data map[string]any `json:"data"`
}
