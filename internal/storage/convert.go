package storage

import (
	"encoding/json"

	"github.com/chatpilot/gateway/internal/model"
)

// RowFromMessage converts a canonical message into its storage row,
// JSON-encoding the slice fields.
func RowFromMessage(item model.MessageItem) *Message {
	row := &Message{
		ID:          item.ID,
		ChatID:      item.ChatID,
		Platform:    item.Platform.Key(),
		UserID:      item.UserID,
		Content:     item.Content,
		MessageType: string(item.Type),
		Timestamp:   item.Timestamp,
		IsEdited:    item.IsEdited,
		IsDeleted:   item.IsDeleted,
		ReplyToID:   item.ReplyToID,
		SyncStatus:  "live",
	}
	if len(item.Attachments) > 0 {
		if b, err := json.Marshal(item.Attachments); err == nil {
			row.Attachments = string(b)
		}
	}
	if len(item.Embeds) > 0 {
		if b, err := json.Marshal(item.Embeds); err == nil {
			row.Embeds = string(b)
		}
	}
	if len(item.Reactions) > 0 {
		if b, err := json.Marshal(item.Reactions); err == nil {
			row.Reactions = string(b)
		}
	}
	return row
}

// MessageFromRow converts a storage row back into the canonical shape.
func MessageFromRow(row Message, platform model.Platform) model.MessageItem {
	item := model.MessageItem{
		ID:        row.ID,
		ChatID:    row.ChatID,
		Platform:  platform,
		UserID:    row.UserID,
		Content:   row.Content,
		Type:      model.MessageType(row.MessageType),
		Timestamp: row.Timestamp,
		IsEdited:  row.IsEdited,
		IsDeleted: row.IsDeleted,
		ReplyToID: row.ReplyToID,
	}
	if row.Attachments != "" {
		_ = json.Unmarshal([]byte(row.Attachments), &item.Attachments)
	}
	if row.Embeds != "" {
		_ = json.Unmarshal([]byte(row.Embeds), &item.Embeds)
	}
	if row.Reactions != "" {
		_ = json.Unmarshal([]byte(row.Reactions), &item.Reactions)
	}
	return model.Canonicalize(item)
}

// SummaryFromChat converts a chat row into the canonical chat-list entry.
func SummaryFromChat(row Chat, platform model.Platform) model.ChatSummary {
	return model.ChatSummary{
		ID:               row.ID,
		Platform:         platform,
		Type:             model.ChatType(row.Type),
		Name:             row.Name,
		ParticipantCount: row.ParticipantCount,
		AvatarURL:        row.AvatarURL,
		LastMessageID:    row.LastMessageID,
		LastMessageAt:    row.LastMessageAt,
		UnreadCount:      row.UnreadCount,
		IsPinned:         row.IsPinned,
	}
}
