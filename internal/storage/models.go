package storage

import (
	"time"
)

// User represents a known platform user/participant
type User struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Platform    string    `gorm:"primaryKey;index" json:"platform"` // "telegram" or "discord"
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chat represents a conversation (dialog, guild channel, DM or group DM)
type Chat struct {
	ID               string    `gorm:"primaryKey" json:"id"`
	Platform         string    `gorm:"primaryKey;index" json:"platform"`
	Type             string    `json:"type"` // "dm", "group" or "channel"
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	ParticipantCount int       `json:"participant_count"`
	AvatarURL        string    `json:"avatar_url"`
	LastMessageID    string    `json:"last_message_id"`
	LastMessageAt    time.Time `json:"last_message_at"`
	UnreadCount      int       `json:"unread_count"`
	IsPinned         bool      `json:"is_pinned"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Message represents a single message. Deletes are tombstoned via IsDeleted
// rather than removed, so conversation ordering survives for the UI.
type Message struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	ChatID      string    `gorm:"primaryKey;index" json:"chat_id"`
	Platform    string    `gorm:"primaryKey;index" json:"platform"`
	UserID      string    `json:"user_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	Attachments string    `gorm:"type:text" json:"attachments"` // JSON-encoded []model.Attachment
	Embeds      string    `gorm:"type:text" json:"embeds"`      // JSON-encoded []model.Embed
	Reactions   string    `gorm:"type:text" json:"reactions"`   // JSON-encoded []model.ReactionChip
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
	IsEdited    bool      `json:"is_edited"`
	IsDeleted   bool      `json:"is_deleted"`
	ReplyToID   string    `json:"reply_to_id"`
	SyncStatus  string    `json:"sync_status"` // "live" or "history"
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
