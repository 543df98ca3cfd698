package telegram

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/chatpilot/gateway/internal/model"
	"github.com/chatpilot/gateway/internal/storage"
)

// uploadMemoryLimit is the largest payload uploaded straight from memory;
// anything bigger is staged through a temp file.
const uploadMemoryLimit = 10 << 20

// SendMessage sends a text message, optionally as a reply. The sent message
// comes back through the update stream and is persisted there.
func (c *Client) SendMessage(ctx context.Context, chatID, text, replyToID string) error {
	peer, err := c.resolvePeer(chatID)
	if err != nil {
		return err
	}
	api := c.apiClient()
	if api == nil {
		return ErrNotConnected
	}

	req := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: rand.Int63(),
	}
	if replyToID != "" {
		id, err := strconv.Atoi(replyToID)
		if err != nil {
			return fmt.Errorf("telegram: bad reply id %q: %w", replyToID, err)
		}
		req.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: id}
	}

	if _, err := api.MessagesSendMessage(ctx, req); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// SendMedia uploads data and sends it as a photo or document with an
// optional caption.
func (c *Client) SendMedia(ctx context.Context, chatID, filename string, data []byte, caption string) error {
	peer, err := c.resolvePeer(chatID)
	if err != nil {
		return err
	}
	api := c.apiClient()
	if api == nil {
		return ErrNotConnected
	}

	up := uploader.NewUploader(api)
	var file tg.InputFileClass
	if len(data) > uploadMemoryLimit {
		tmp, err := os.CreateTemp("", "chatpilot-upload-*")
		if err != nil {
			return fmt.Errorf("telegram: stage upload: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("telegram: stage upload: %w", err)
		}
		tmp.Close()
		file, err = up.FromPath(ctx, tmp.Name())
		if err != nil {
			return fmt.Errorf("telegram: upload: %w", err)
		}
	} else {
		file, err = up.FromBytes(ctx, filename, data)
		if err != nil {
			return fmt.Errorf("telegram: upload: %w", err)
		}
	}

	mime := http.DetectContentType(data)
	var media tg.InputMediaClass
	if strings.HasPrefix(mime, "image/") {
		media = &tg.InputMediaUploadedPhoto{File: file}
	} else {
		media = &tg.InputMediaUploadedDocument{
			File:     file,
			MimeType: mime,
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeFilename{FileName: filename},
			},
		}
	}

	_, err = api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    media,
		Message:  caption,
		RandomID: rand.Int63(),
	})
	if err != nil {
		return fmt.Errorf("telegram: send media: %w", err)
	}
	return nil
}

// PinMessage pins or unpins a message in a chat.
func (c *Client) PinMessage(ctx context.Context, chatID string, messageID int, unpin bool) error {
	peer, err := c.resolvePeer(chatID)
	if err != nil {
		return err
	}
	api := c.apiClient()
	if api == nil {
		return ErrNotConnected
	}

	_, err = api.MessagesUpdatePinnedMessage(ctx, &tg.MessagesUpdatePinnedMessageRequest{
		Peer:  peer,
		ID:    messageID,
		Unpin: unpin,
	})
	if err != nil {
		return fmt.Errorf("telegram: pin message: %w", err)
	}
	return nil
}

// DeleteMessage deletes a message for all participants and tombstones it
// locally without waiting for the delete update to echo back.
func (c *Client) DeleteMessage(ctx context.Context, chatID string, messageID int) error {
	peer, err := c.resolvePeer(chatID)
	if err != nil {
		return err
	}
	api := c.apiClient()
	if api == nil {
		return ErrNotConnected
	}

	if ch := asInputChannel(peer); ch != nil {
		_, err = api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: ch,
			ID:      []int{messageID},
		})
	} else {
		_, err = api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
			Revoke: true,
			ID:     []int{messageID},
		})
	}
	if err != nil {
		return fmt.Errorf("telegram: delete message: %w", err)
	}

	return c.store.TombstoneMessage(model.PlatformTelegram.Key(), chatID, strconv.Itoa(messageID))
}

// MarkAsRead acknowledges the whole history of a chat and zeroes the local
// unread count.
func (c *Client) MarkAsRead(ctx context.Context, chatID string) error {
	peer, err := c.resolvePeer(chatID)
	if err != nil {
		return err
	}
	api := c.apiClient()
	if api == nil {
		return ErrNotConnected
	}

	if ch := asInputChannel(peer); ch != nil {
		_, err = api.ChannelsReadHistory(ctx, &tg.ChannelsReadHistoryRequest{Channel: ch})
	} else {
		_, err = api.MessagesReadHistory(ctx, &tg.MessagesReadHistoryRequest{Peer: peer})
	}
	if err != nil {
		return fmt.Errorf("telegram: mark as read: %w", err)
	}

	platform := model.PlatformTelegram.Key()
	if row, gerr := c.store.GetChat(platform, chatID); gerr == nil {
		row.UnreadCount = 0
		if cerr := c.store.CreateChat(row); cerr == nil {
			c.publishDialog(chatID)
		}
	}
	return nil
}

// SetTyping reports a chat action: "typing", "upload", "record" or "cancel".
func (c *Client) SetTyping(ctx context.Context, chatID, action string) error {
	peer, err := c.resolvePeer(chatID)
	if err != nil {
		return err
	}
	api := c.apiClient()
	if api == nil {
		return ErrNotConnected
	}

	var act tg.SendMessageActionClass
	switch action {
	case "typing", "":
		act = &tg.SendMessageTypingAction{}
	case "upload":
		act = &tg.SendMessageUploadDocumentAction{}
	case "record":
		act = &tg.SendMessageRecordAudioAction{}
	case "cancel":
		act = &tg.SendMessageCancelAction{}
	default:
		return fmt.Errorf("telegram: unknown typing action %q", action)
	}

	_, err = api.MessagesSetTyping(ctx, &tg.MessagesSetTypingRequest{Peer: peer, Action: act})
	if err != nil {
		return fmt.Errorf("telegram: set typing: %w", err)
	}
	return nil
}

// GetHistory fetches a page of a chat's history, newest first, and persists
// it as backfill.
func (c *Client) GetHistory(ctx context.Context, chatID string, offsetID, limit int) ([]model.MessageItem, error) {
	peer, err := c.resolvePeer(chatID)
	if err != nil {
		return nil, err
	}
	api := c.apiClient()
	if api == nil {
		return nil, ErrNotConnected
	}
	if limit <= 0 {
		limit = 50
	}

	res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     peer,
		OffsetID: offsetID,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: get history: %w", err)
	}
	return c.collectMessages(ctx, res, true)
}

// SearchMessages searches within a chat.
func (c *Client) SearchMessages(ctx context.Context, chatID, query string, limit int) ([]model.MessageItem, error) {
	peer, err := c.resolvePeer(chatID)
	if err != nil {
		return nil, err
	}
	api := c.apiClient()
	if api == nil {
		return nil, ErrNotConnected
	}
	if limit <= 0 {
		limit = 50
	}

	res, err := api.MessagesSearch(ctx, &tg.MessagesSearchRequest{
		Peer:   peer,
		Q:      query,
		Filter: &tg.InputMessagesFilterEmpty{},
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: search: %w", err)
	}
	return c.collectMessages(ctx, res, false)
}

// GetReplies fetches the reply thread of a message.
func (c *Client) GetReplies(ctx context.Context, chatID string, messageID, limit int) ([]model.MessageItem, error) {
	peer, err := c.resolvePeer(chatID)
	if err != nil {
		return nil, err
	}
	api := c.apiClient()
	if api == nil {
		return nil, ErrNotConnected
	}
	if limit <= 0 {
		limit = 50
	}

	res, err := api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
		Peer:  peer,
		MsgID: messageID,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: get replies: %w", err)
	}
	return c.collectMessages(ctx, res, false)
}

// GetParticipants lists recent members of a channel or megagroup.
func (c *Client) GetParticipants(ctx context.Context, chatID string, limit int) ([]model.Participant, error) {
	peer, err := c.resolvePeer(chatID)
	if err != nil {
		return nil, err
	}
	ch := asInputChannel(peer)
	if ch == nil {
		return nil, fmt.Errorf("telegram: chat %s has no participant list", chatID)
	}
	api := c.apiClient()
	if api == nil {
		return nil, ErrNotConnected
	}
	if limit <= 0 {
		limit = 100
	}

	res, err := api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
		Channel: ch,
		Filter:  &tg.ChannelParticipantsRecent{},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: get participants: %w", err)
	}

	parts, ok := res.(*tg.ChannelsChannelParticipants)
	if !ok {
		return nil, fmt.Errorf("telegram: unexpected participants response %T", res)
	}

	var out []model.Participant
	for _, u := range parts.Users {
		uu, ok := u.(*tg.User)
		if !ok {
			continue
		}
		out = append(out, model.Participant{
			ID:          strconv.FormatInt(uu.ID, 10),
			Platform:    model.PlatformTelegram,
			Username:    uu.Username,
			DisplayName: userName(uu),
		})
	}
	return out, nil
}

// GetDialogs fetches the dialog list, refreshes the peer cache and the chat
// table, and returns the summaries ordered by recency.
func (c *Client) GetDialogs(ctx context.Context, limit int) ([]model.ChatSummary, error) {
	api := c.apiClient()
	if api == nil {
		return nil, ErrNotConnected
	}
	if limit <= 0 {
		limit = 100
	}

	res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: get dialogs: %w", err)
	}

	var (
		dialogs  []tg.DialogClass
		messages []tg.MessageClass
		users    []tg.UserClass
		chats    []tg.ChatClass
	)
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		dialogs, messages, users, chats = d.Dialogs, d.Messages, d.Users, d.Chats
	case *tg.MessagesDialogsSlice:
		dialogs, messages, users, chats = d.Dialogs, d.Messages, d.Users, d.Chats
	default:
		return nil, fmt.Errorf("telegram: unexpected dialogs response %T", res)
	}

	c.cachePeers(entitiesFrom(users, chats))

	// Index top messages by (chat, id) to fill last-message markers.
	top := make(map[string]*tg.Message)
	for _, mc := range messages {
		m, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		top[peerID(m.PeerID)+":"+strconv.Itoa(m.ID)] = m
	}

	platform := model.PlatformTelegram.Key()
	var out []model.ChatSummary
	for _, dc := range dialogs {
		dlg, ok := dc.(*tg.Dialog)
		if !ok {
			continue
		}
		chatID := peerID(dlg.Peer)
		if chatID == "" {
			continue
		}

		c.mu.Lock()
		info := c.peers[chatID]
		c.mu.Unlock()

		row := &storage.Chat{
			ID:          chatID,
			Platform:    platform,
			Type:        string(info.kind),
			Name:        info.title,
			UnreadCount: dlg.UnreadCount,
			IsPinned:    dlg.Pinned,
		}
		if m, ok := top[chatID+":"+strconv.Itoa(dlg.TopMessage)]; ok {
			row.LastMessageID = strconv.Itoa(m.ID)
			row.LastMessageAt = time.Unix(int64(m.Date), 0)
		}
		if err := c.store.CreateChat(row); err != nil {
			return nil, fmt.Errorf("telegram: persist dialog %s: %w", chatID, err)
		}
		if merged, err := c.store.GetChat(platform, chatID); err == nil {
			row = merged
		}
		out = append(out, storage.SummaryFromChat(*row, model.PlatformTelegram))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

// collectMessages normalizes a raw message listing, optionally persisting
// the rows as history backfill.
func (c *Client) collectMessages(ctx context.Context, res tg.MessagesMessagesClass, persist bool) ([]model.MessageItem, error) {
	var (
		messages []tg.MessageClass
		users    []tg.UserClass
		chats    []tg.ChatClass
	)
	switch m := res.(type) {
	case *tg.MessagesMessages:
		messages, users, chats = m.Messages, m.Users, m.Chats
	case *tg.MessagesMessagesSlice:
		messages, users, chats = m.Messages, m.Users, m.Chats
	case *tg.MessagesChannelMessages:
		messages, users, chats = m.Messages, m.Users, m.Chats
	default:
		return nil, fmt.Errorf("telegram: unexpected messages response %T", res)
	}

	ents := entitiesFrom(users, chats)
	c.cachePeers(ents)

	var out []model.MessageItem
	for _, mc := range messages {
		m, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		item := c.normalizeMessage(ctx, ents, m)
		if persist {
			row := storage.RowFromMessage(item)
			row.SyncStatus = "history"
			if err := c.store.CreateMessage(row); err != nil {
				return nil, fmt.Errorf("telegram: persist history: %w", err)
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func entitiesFrom(users []tg.UserClass, chats []tg.ChatClass) tg.Entities {
	e := tg.Entities{
		Users:    make(map[int64]*tg.User),
		Chats:    make(map[int64]*tg.Chat),
		Channels: make(map[int64]*tg.Channel),
	}
	for _, u := range users {
		if uu, ok := u.(*tg.User); ok {
			e.Users[uu.ID] = uu
		}
	}
	for _, ch := range chats {
		switch cc := ch.(type) {
		case *tg.Chat:
			e.Chats[cc.ID] = cc
		case *tg.Channel:
			e.Channels[cc.ID] = cc
		}
	}
	return e
}

func asInputChannel(peer tg.InputPeerClass) *tg.InputChannel {
	p, ok := peer.(*tg.InputPeerChannel)
	if !ok {
		return nil
	}
	return &tg.InputChannel{ChannelID: p.ChannelID, AccessHash: p.AccessHash}
}
