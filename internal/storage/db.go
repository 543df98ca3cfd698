// Package storage is the local persistence layer both gateway clients write
// normalized entities into. All writes are idempotent upserts keyed by
// (platform, id), so reconnect-triggered re-ingestion cannot corrupt state,
// only overwrite with latest-known values.
package storage

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps the embedded database. It is owned by the process and shared
// by both platform clients as a write sink.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at dbPath and migrates the schema.
func Open(dbPath string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	if err := db.AutoMigrate(&User{}, &Chat{}, &Message{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	log.Printf("[Storage] Database initialized: %s", dbPath)
	return &Store{db: db}, nil
}

// CreateUser upserts a user. Re-applying identical data is a no-op; new
// non-empty fields override, previously known fields are never blanked by
// partial data.
func (s *Store) CreateUser(u *User) error {
	var existing User
	err := s.db.Where("platform = ? AND id = ?", u.Platform, u.ID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(u).Error
	}
	if err != nil {
		return err
	}

	if u.Username != "" {
		existing.Username = u.Username
	}
	if u.DisplayName != "" {
		existing.DisplayName = u.DisplayName
	}
	if u.AvatarURL != "" {
		existing.AvatarURL = u.AvatarURL
	}
	return s.db.Save(&existing).Error
}

// CreateChat upserts a chat. String fields merge like CreateUser; counters
// and flags always take the latest-known value.
func (s *Store) CreateChat(c *Chat) error {
	var existing Chat
	err := s.db.Where("platform = ? AND id = ?", c.Platform, c.ID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(c).Error
	}
	if err != nil {
		return err
	}

	if c.Name != "" {
		existing.Name = c.Name
	}
	if c.Description != "" {
		existing.Description = c.Description
	}
	if c.Type != "" {
		existing.Type = c.Type
	}
	if c.AvatarURL != "" {
		existing.AvatarURL = c.AvatarURL
	}
	if c.LastMessageID != "" {
		existing.LastMessageID = c.LastMessageID
		existing.LastMessageAt = c.LastMessageAt
	}
	if c.ParticipantCount != 0 {
		existing.ParticipantCount = c.ParticipantCount
	}
	existing.UnreadCount = c.UnreadCount
	existing.IsPinned = c.IsPinned
	return s.db.Save(&existing).Error
}

// CreateMessage upserts a message keyed by (platform, chat_id, id). Non-empty
// incoming fields override; fields a partial update leaves blank (a Discord
// embed unfurl carries no content or author) keep their stored values.
// A tombstoned message stays deleted: a late stale UPDATE can rewrite
// content but never resurrects the row.
func (s *Store) CreateMessage(m *Message) error {
	var existing Message
	err := s.db.Where("platform = ? AND chat_id = ? AND id = ?", m.Platform, m.ChatID, m.ID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(m).Error
	}
	if err != nil {
		return err
	}

	if m.UserID != "" {
		existing.UserID = m.UserID
	}
	if m.Content != "" {
		existing.Content = m.Content
	}
	if m.MessageType != "" {
		existing.MessageType = m.MessageType
	}
	if m.Attachments != "" {
		existing.Attachments = m.Attachments
	}
	if m.Embeds != "" {
		existing.Embeds = m.Embeds
	}
	if m.Reactions != "" {
		existing.Reactions = m.Reactions
	}
	if m.ReplyToID != "" {
		existing.ReplyToID = m.ReplyToID
	}
	if !m.Timestamp.IsZero() {
		existing.Timestamp = m.Timestamp
	}
	if m.SyncStatus != "" {
		existing.SyncStatus = m.SyncStatus
	}
	existing.IsDeleted = existing.IsDeleted || m.IsDeleted
	existing.IsEdited = existing.IsEdited || m.IsEdited
	return s.db.Save(&existing).Error
}

// TombstoneMessage marks a message deleted. An unknown id upserts a
// tombstone row so a DELETE arriving before its CREATE does not fail.
func (s *Store) TombstoneMessage(platform, chatID, id string) error {
	res := s.db.Model(&Message{}).
		Where("platform = ? AND chat_id = ? AND id = ?", platform, chatID, id).
		Update("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.db.Create(&Message{
			ID:        id,
			ChatID:    chatID,
			Platform:  platform,
			IsDeleted: true,
			Timestamp: time.Now(),
		}).Error
	}
	return nil
}

// TombstoneByMessageID marks a message deleted across all chats of a
// platform. Telegram delete updates carry only message ids.
func (s *Store) TombstoneByMessageID(platform, id string) error {
	return s.db.Model(&Message{}).
		Where("platform = ? AND id = ?", platform, id).
		Update("is_deleted", true).Error
}

// GetChats returns all chats for a platform ordered by recency.
func (s *Store) GetChats(platform string) ([]Chat, error) {
	var chats []Chat
	err := s.db.Where("platform = ?", platform).
		Order("last_message_at DESC").
		Find(&chats).Error
	return chats, err
}

// GetChat returns a single chat row.
func (s *Store) GetChat(platform, id string) (*Chat, error) {
	var chat Chat
	err := s.db.Where("platform = ? AND id = ?", platform, id).First(&chat).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetChatMessages returns a page of messages for a chat, newest first.
// beforeID is a cursor: only messages older than that message are returned.
func (s *Store) GetChatMessages(platform, chatID, beforeID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	q := s.db.Where("platform = ? AND chat_id = ?", platform, chatID)
	if beforeID != "" {
		var cursor Message
		err := s.db.Where("platform = ? AND chat_id = ? AND id = ?", platform, chatID, beforeID).
			First(&cursor).Error
		if err == nil {
			q = q.Where("timestamp < ?", cursor.Timestamp)
		}
	}

	var messages []Message
	err := q.Order("timestamp DESC").Limit(limit).Find(&messages).Error
	return messages, err
}

// GetMessage returns a single message row.
func (s *Store) GetMessage(platform, chatID, id string) (*Message, error) {
	var m Message
	err := s.db.Where("platform = ? AND chat_id = ? AND id = ?", platform, chatID, id).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages returns the number of stored rows for a chat, tombstones
// included.
func (s *Store) CountMessages(platform, chatID string) (int64, error) {
	var n int64
	err := s.db.Model(&Message{}).
		Where("platform = ? AND chat_id = ?", platform, chatID).
		Count(&n).Error
	return n, err
}

// DeleteAccount cascades removal of every entity for a platform. Called only
// on explicit account disconnect.
func (s *Store) DeleteAccount(platform string) error {
	if err := s.db.Where("platform = ?", platform).Delete(&Message{}).Error; err != nil {
		return err
	}
	if err := s.db.Where("platform = ?", platform).Delete(&Chat{}).Error; err != nil {
		return err
	}
	return s.db.Where("platform = ?", platform).Delete(&User{}).Error
}
