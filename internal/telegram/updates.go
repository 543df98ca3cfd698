package telegram

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/gotd/td/tg"

	"github.com/chatpilot/gateway/internal/event"
	"github.com/chatpilot/gateway/internal/model"
	"github.com/chatpilot/gateway/internal/storage"
)

func (c *Client) registerHandlers(d tg.UpdateDispatcher) {
	d.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		c.handleMessage(ctx, e, u.Message, false)
		return nil
	})
	d.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.handleMessage(ctx, e, u.Message, false)
		return nil
	})
	d.OnEditMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditMessage) error {
		c.handleMessage(ctx, e, u.Message, true)
		return nil
	})
	d.OnEditChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditChannelMessage) error {
		c.handleMessage(ctx, e, u.Message, true)
		return nil
	})
	d.OnDeleteMessages(func(ctx context.Context, e tg.Entities, u *tg.UpdateDeleteMessages) error {
		c.handleDeletes(u.Messages, "")
		return nil
	})
	d.OnDeleteChannelMessages(func(ctx context.Context, e tg.Entities, u *tg.UpdateDeleteChannelMessages) error {
		c.handleDeletes(u.Messages, strconv.FormatInt(u.ChannelID, 10))
		return nil
	})
}

// handleMessage normalizes a live or edited message, persists it and
// publishes the event. Service messages (joins, pins) are dropped.
func (c *Client) handleMessage(ctx context.Context, e tg.Entities, msg tg.MessageClass, edited bool) {
	m, ok := msg.(*tg.Message)
	if !ok {
		return
	}

	c.cachePeers(e)

	item := c.normalizeMessage(ctx, e, m)
	if item.ChatID == "" {
		return
	}
	if edited {
		item.IsEdited = true
	}

	if err := c.store.CreateMessage(storage.RowFromMessage(item)); err != nil {
		log.Printf("[Telegram] Upsert message %s: %v", item.ID, err)
		return
	}
	c.touchChat(item, !edited)

	typ := event.TypeNewMessage
	if edited {
		typ = event.TypeMessageUpdate
	}
	c.publish(typ, event.MessagePayload{ChatID: item.ChatID, Message: item})

	go c.refreshDialog(item.ChatID)
}

// handleDeletes tombstones deleted messages. Plain delete updates carry only
// message ids, so those tombstone across chats; channel deletes are scoped.
func (c *Client) handleDeletes(ids []int, channelID string) {
	platform := model.PlatformTelegram.Key()
	for _, id := range ids {
		idStr := strconv.Itoa(id)
		var err error
		if channelID != "" {
			err = c.store.TombstoneMessage(platform, channelID, idStr)
		} else {
			err = c.store.TombstoneByMessageID(platform, idStr)
		}
		if err != nil {
			log.Printf("[Telegram] Tombstone %s: %v", idStr, err)
			continue
		}
		c.publish(event.TypeMessageDelete, event.MessagePayload{
			ChatID: channelID,
			Message: model.MessageItem{
				ID:        idStr,
				ChatID:    channelID,
				Platform:  model.PlatformTelegram,
				IsDeleted: true,
			},
		})
	}
}

// normalizeMessage maps an MTProto message into the canonical shape,
// resolving names from the update's entity sets. Missing entities degrade to
// id-only fields rather than dropping the message.
func (c *Client) normalizeMessage(ctx context.Context, e tg.Entities, m *tg.Message) model.MessageItem {
	chatID := peerID(m.PeerID)

	var senderID int64
	if m.FromID != nil {
		if pu, ok := m.FromID.(*tg.PeerUser); ok {
			senderID = pu.UserID
		}
	} else if m.Out {
		senderID = c.SelfID()
	} else if pu, ok := m.PeerID.(*tg.PeerUser); ok {
		senderID = pu.UserID
	}

	var senderName string
	if u, ok := e.Users[senderID]; ok {
		senderName = userName(u)
	}

	item := model.MessageItem{
		ID:         strconv.Itoa(m.ID),
		ChatID:     chatID,
		Platform:   model.PlatformTelegram,
		SenderName: senderName,
		Content:    m.Message,
		Timestamp:  time.Unix(int64(m.Date), 0),
	}
	if senderID != 0 {
		item.UserID = strconv.FormatInt(senderID, 10)
	}
	if m.EditDate != 0 {
		item.IsEdited = true
	}
	if rh, ok := m.GetReplyTo(); ok {
		if h, ok := rh.(*tg.MessageReplyHeader); ok && h.ReplyToMsgID != 0 {
			item.ReplyToID = strconv.Itoa(h.ReplyToMsgID)
		}
	}
	if m.Media != nil {
		typ, atts, embeds := c.classifyMedia(ctx, m.Media)
		item.Type = typ
		item.Attachments = atts
		item.Embeds = embeds
	}
	if r, ok := m.GetReactions(); ok {
		item.Reactions = parseReactions(r)
	}
	return model.Canonicalize(item)
}

// cachePeers folds an update's entities into the peer cache and the user
// table. Entities carry the access hashes needed to address peers later.
func (c *Client) cachePeers(e tg.Entities) {
	for id, u := range e.Users {
		c.rememberPeer(strconv.FormatInt(id, 10), peerInfo{
			peer:  &tg.InputPeerUser{UserID: id, AccessHash: u.AccessHash},
			kind:  model.ChatDM,
			title: userName(u),
		})
		if err := c.store.CreateUser(&storage.User{
			ID:          strconv.FormatInt(id, 10),
			Platform:    model.PlatformTelegram.Key(),
			Username:    u.Username,
			DisplayName: userName(u),
		}); err != nil {
			log.Printf("[Telegram] Upsert user %d: %v", id, err)
		}
	}
	for id, ch := range e.Chats {
		c.rememberPeer(strconv.FormatInt(id, 10), peerInfo{
			peer:  &tg.InputPeerChat{ChatID: id},
			kind:  model.ChatGroup,
			title: ch.Title,
		})
	}
	for id, ch := range e.Channels {
		kind := model.ChatChannel
		if ch.Megagroup {
			kind = model.ChatGroup
		}
		c.rememberPeer(strconv.FormatInt(id, 10), peerInfo{
			peer:  &tg.InputPeerChannel{ChannelID: id, AccessHash: ch.AccessHash},
			kind:  kind,
			title: ch.Title,
		})
	}
}

// touchChat advances a chat's last-message marker and provisional unread
// count. The authoritative unread count follows from refreshDialog.
func (c *Client) touchChat(item model.MessageItem, isNew bool) {
	platform := model.PlatformTelegram.Key()
	row := &storage.Chat{ID: item.ChatID, Platform: platform}
	if existing, err := c.store.GetChat(platform, item.ChatID); err == nil {
		*row = *existing
	} else {
		c.mu.Lock()
		if info, ok := c.peers[item.ChatID]; ok {
			row.Name = info.title
			row.Type = string(info.kind)
		}
		c.mu.Unlock()
	}

	if row.LastMessageAt.Before(item.Timestamp) {
		row.LastMessageID = item.ID
		row.LastMessageAt = item.Timestamp
	}
	if isNew && item.UserID != "" && item.UserID != strconv.FormatInt(c.SelfID(), 10) {
		row.UnreadCount++
	}
	if err := c.store.CreateChat(row); err != nil {
		log.Printf("[Telegram] Touch chat %s: %v", row.ID, err)
	}
}

// refreshDialog fetches the authoritative dialog state (unread count, pin)
// for one chat and announces the refreshed summary. Peer titles come from
// the cache; unread counts are always fetched fresh.
func (c *Client) refreshDialog(chatID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	peer, err := c.resolvePeer(chatID)
	api := c.apiClient()
	if err != nil || api == nil {
		c.publishDialog(chatID)
		return
	}

	res, err := api.MessagesGetPeerDialogs(ctx, []tg.InputDialogPeerClass{
		&tg.InputDialogPeer{Peer: peer},
	})
	if err != nil {
		log.Printf("[Telegram] Refresh dialog %s: %v", chatID, err)
		c.publishDialog(chatID)
		return
	}

	platform := model.PlatformTelegram.Key()
	for _, d := range res.Dialogs {
		dlg, ok := d.(*tg.Dialog)
		if !ok {
			continue
		}
		row := &storage.Chat{ID: chatID, Platform: platform}
		if existing, err := c.store.GetChat(platform, chatID); err == nil {
			*row = *existing
		}
		row.UnreadCount = dlg.UnreadCount
		row.IsPinned = dlg.Pinned
		if err := c.store.CreateChat(row); err != nil {
			log.Printf("[Telegram] Update dialog %s: %v", chatID, err)
		}
	}
	c.publishDialog(chatID)
}

func (c *Client) publishDialog(chatID string) {
	row, err := c.store.GetChat(model.PlatformTelegram.Key(), chatID)
	if err != nil {
		return
	}
	c.publish(event.TypeDialogUpdated, event.DialogPayload{
		Chat: storage.SummaryFromChat(*row, model.PlatformTelegram),
	})
}

func (c *Client) apiClient() *tg.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.api
}

func peerID(p tg.PeerClass) string {
	switch pp := p.(type) {
	case *tg.PeerUser:
		return strconv.FormatInt(pp.UserID, 10)
	case *tg.PeerChat:
		return strconv.FormatInt(pp.ChatID, 10)
	case *tg.PeerChannel:
		return strconv.FormatInt(pp.ChannelID, 10)
	}
	return ""
}

// parseReactions flattens message reactions into emoji chips. Custom emoji
// reactions have no unicode form and are skipped.
func parseReactions(r tg.MessageReactions) []model.ReactionChip {
	var chips []model.ReactionChip
	for _, rc := range r.Results {
		emoji, ok := rc.Reaction.(*tg.ReactionEmoji)
		if !ok {
			continue
		}
		chips = append(chips, model.ReactionChip{Emoji: emoji.Emoticon, Count: rc.Count})
	}
	return chips
}

func userName(u *tg.User) string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}
