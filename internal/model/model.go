// Package model defines the canonical message/chat shapes both platform
// clients normalize into, so presentation code never branches on platform.
package model

import "time"

// Platform discriminates entity namespaces. Telegram and Discord IDs may
// collide syntactically, so every canonical entity carries its platform.
type Platform string

const (
	PlatformTelegram Platform = "Telegram"
	PlatformDiscord  Platform = "Discord"
)

// Key is the lowercase platform identifier used for credentials, storage
// rows and event topics.
func (p Platform) Key() string {
	switch p {
	case PlatformTelegram:
		return "telegram"
	case PlatformDiscord:
		return "discord"
	}
	return string(p)
}

// ChatType classifies a conversation.
type ChatType string

const (
	ChatDM      ChatType = "dm"
	ChatGroup   ChatType = "group"
	ChatChannel ChatType = "channel"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageImage   MessageType = "image"
	MessageFile    MessageType = "file"
	MessageEmbed   MessageType = "embed"
	MessageMedia   MessageType = "media"
	MessageVoice   MessageType = "voice"
	MessageSticker MessageType = "sticker"
	MessagePoll    MessageType = "poll"
	MessageWebpage MessageType = "webpage"
)

// ReactionChip is an aggregated reaction on a message.
type ReactionChip struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// Attachment is a normalized media/file attachment. Data holds the
// base64-encoded payload when the client downloaded it for transport;
// large payloads stay URL-only.
type Attachment struct {
	ID          string `json:"id,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Data        string `json:"data,omitempty"`
}

// Embed is a normalized rich embed (Discord) or webpage preview (Telegram).
type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// MessageItem is the canonical message shape. (ID, ChatID, Platform)
// uniquely identifies a message.
type MessageItem struct {
	ID          string         `json:"id"`
	ChatID      string         `json:"chat_id"`
	Platform    Platform       `json:"platform"`
	UserID      string         `json:"user_id"`
	SenderName  string         `json:"sender_name,omitempty"`
	Content     string         `json:"content"`
	Type        MessageType    `json:"message_type"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Embeds      []Embed        `json:"embeds,omitempty"`
	Reactions   []ReactionChip `json:"reactions,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	IsEdited    bool           `json:"is_edited,omitempty"`
	IsDeleted   bool           `json:"is_deleted,omitempty"`
	ReplyToID   string         `json:"reply_to_id,omitempty"`
	HasLink     bool           `json:"has_link,omitempty"`
	HasMedia    bool           `json:"has_media,omitempty"`
	Link        string         `json:"link,omitempty"`
}

// ChatSummary is the canonical chat-list entry.
type ChatSummary struct {
	ID               string    `json:"id"`
	Platform         Platform  `json:"platform"`
	Type             ChatType  `json:"type"`
	Name             string    `json:"name"`
	ParticipantCount int       `json:"participant_count"`
	AvatarURL        string    `json:"avatar_url,omitempty"`
	LastMessageID    string    `json:"last_message_id,omitempty"`
	LastMessageAt    time.Time `json:"last_message_at,omitempty"`
	UnreadCount      int       `json:"unread_count"`
	IsPinned         bool      `json:"is_pinned"`
}

// Participant is the canonical user/participant shape, upserted
// idempotently into local persistence.
type Participant struct {
	ID          string   `json:"id"`
	Platform    Platform `json:"platform"`
	Username    string   `json:"username,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	AvatarURL   string   `json:"avatar_url,omitempty"`
}
