package discord

import (
	"encoding/json"
	"log"
	"time"

	"github.com/chatpilot/gateway/internal/event"
	"github.com/chatpilot/gateway/internal/model"
	"github.com/chatpilot/gateway/internal/storage"
)

// handleDispatch routes opcode 0 events. Unknown event types are ignored;
// the gateway sends far more than this client consumes.
func (c *Client) handleDispatch(t string, data json.RawMessage) {
	switch t {
	case "READY":
		var rd readyData
		if err := json.Unmarshal(data, &rd); err != nil {
			log.Printf("[Discord] Bad READY payload: %v", err)
			return
		}
		c.handleReady(rd)
	case "GUILD_CREATE", "GUILD_UPDATE":
		var g Guild
		if err := json.Unmarshal(data, &g); err != nil {
			log.Printf("[Discord] Bad %s payload: %v", t, err)
			return
		}
		if g.Unavailable {
			return
		}
		c.ingestGuild(g)
	case "CHANNEL_CREATE", "CHANNEL_UPDATE":
		var ch Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			log.Printf("[Discord] Bad %s payload: %v", t, err)
			return
		}
		c.ingestChannel(ch)
	case "MESSAGE_CREATE":
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Printf("[Discord] Bad MESSAGE_CREATE payload: %v", err)
			return
		}
		c.ingestMessage(m, false)
	case "MESSAGE_UPDATE":
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Printf("[Discord] Bad MESSAGE_UPDATE payload: %v", err)
			return
		}
		c.ingestMessage(m, true)
	case "MESSAGE_DELETE":
		var d messageDelete
		if err := json.Unmarshal(data, &d); err != nil {
			log.Printf("[Discord] Bad MESSAGE_DELETE payload: %v", err)
			return
		}
		c.ingestDelete(d)
	}
}

// handleReady captures the session, ingests the initial entity snapshot and
// unblocks the connect call.
func (c *Client) handleReady(rd readyData) {
	c.mu.Lock()
	c.sessionID = rd.SessionID
	if rd.User.ID != "" {
		c.userID = rd.User.ID
		c.username = rd.User.DisplayName()
	}
	c.status = StatusConnected
	ready := c.readyCh
	c.readyCh = nil
	userID, username := c.userID, c.username
	c.mu.Unlock()

	log.Printf("[Discord] READY as %s (%d guilds, %d private channels)",
		username, len(rd.Guilds), len(rd.PrivateChannels))

	for _, g := range rd.Guilds {
		if g.Unavailable {
			continue
		}
		c.ingestGuild(g)
	}
	for _, ch := range rd.PrivateChannels {
		c.ingestChannel(ch)
	}

	if ready != nil {
		ready <- nil
	}
	c.publish(event.TypeConnected, event.ConnectedPayload{UserID: userID, Username: username})
	c.publish(event.TypeReady, nil)
}

func (c *Client) ingestGuild(g Guild) {
	c.mu.Lock()
	c.guilds[g.ID] = &guildEntry{ID: g.ID, Name: g.Name}
	c.mu.Unlock()

	n := 0
	for _, ch := range g.Channels {
		if ch.Type != channelGuildText {
			continue
		}
		ch.GuildID = g.ID
		c.registerGuildChannel(ch, g.Name)
		n++
	}

	c.publish(event.TypeGuildUpdate, event.GuildPayload{
		GuildID:      g.ID,
		Name:         g.Name,
		ChannelCount: n,
	})
}

// ingestChannel handles standalone channel events: guild text channels plus
// DMs and group DMs. Other channel types (voice, categories, threads) are
// not queryable chats and are dropped.
func (c *Client) ingestChannel(ch Channel) {
	switch ch.Type {
	case channelGuildText:
		guildName := ch.GuildID
		c.mu.Lock()
		if g, ok := c.guilds[ch.GuildID]; ok {
			guildName = g.Name
		}
		c.mu.Unlock()
		c.registerGuildChannel(ch, guildName)
	case channelDM, channelGroupDM:
		c.registerPrivateChannel(ch)
	default:
		return
	}

	if sum, ok := c.chatSummary(ch.ID); ok {
		c.publish(event.TypeChannelsUpdate, event.DialogPayload{Chat: sum})
	}
}

func (c *Client) registerGuildChannel(ch Channel, guildName string) {
	name := model.ChannelDisplayName(ch.Name, guildName)

	c.mu.Lock()
	c.channels[ch.ID] = &channelEntry{
		ID:        ch.ID,
		Name:      name,
		GuildID:   ch.GuildID,
		GuildName: guildName,
	}
	c.mu.Unlock()

	chat := &storage.Chat{
		ID:       ch.ID,
		Platform: model.PlatformDiscord.Key(),
		Type:     string(model.ChatChannel),
		Name:     name,
	}
	if ch.LastMessageID != "" {
		chat.LastMessageID = ch.LastMessageID
		chat.LastMessageAt = model.SnowflakeTime(ch.LastMessageID)
	}
	c.upsertChat(chat)
}

func (c *Client) registerPrivateChannel(ch Channel) {
	var names []string
	for _, r := range ch.Recipients {
		names = append(names, r.DisplayName())
		if err := c.store.CreateUser(&storage.User{
			ID:          r.ID,
			Platform:    model.PlatformDiscord.Key(),
			Username:    r.Username,
			DisplayName: r.DisplayName(),
			AvatarURL:   avatarURL(r),
		}); err != nil {
			log.Printf("[Discord] Upsert user %s: %v", r.ID, err)
		}
	}

	name := model.DMName(ch.Name, names)
	count := len(ch.Recipients) + 1
	typ := model.ChatDM
	if ch.Type == channelGroupDM {
		typ = model.ChatGroup
	}

	c.mu.Lock()
	c.channels[ch.ID] = &channelEntry{
		ID:               ch.ID,
		Name:             name,
		IsDM:             true,
		ParticipantCount: count,
	}
	c.mu.Unlock()

	chat := &storage.Chat{
		ID:               ch.ID,
		Platform:         model.PlatformDiscord.Key(),
		Type:             string(typ),
		Name:             name,
		ParticipantCount: count,
	}
	if ch.LastMessageID != "" {
		chat.LastMessageID = ch.LastMessageID
		chat.LastMessageAt = model.SnowflakeTime(ch.LastMessageID)
	}
	c.upsertChat(chat)
}

func (c *Client) ingestMessage(m Message, edited bool) {
	item := c.normalizeMessage(m)
	if edited {
		item.IsEdited = true
	}

	if m.Author.ID != "" {
		if err := c.store.CreateUser(&storage.User{
			ID:          m.Author.ID,
			Platform:    model.PlatformDiscord.Key(),
			Username:    m.Author.Username,
			DisplayName: m.Author.DisplayName(),
			AvatarURL:   avatarURL(m.Author),
		}); err != nil {
			log.Printf("[Discord] Upsert author %s: %v", m.Author.ID, err)
		}
	}

	if err := c.store.CreateMessage(storage.RowFromMessage(item)); err != nil {
		log.Printf("[Discord] Upsert message %s: %v", item.ID, err)
		return
	}
	c.touchChat(item, !edited)

	typ := event.TypeNewMessage
	if edited {
		typ = event.TypeMessageUpdate
	}
	c.publish(typ, event.MessagePayload{ChatID: item.ChatID, Message: item})
}

func (c *Client) ingestDelete(d messageDelete) {
	if err := c.store.TombstoneMessage(model.PlatformDiscord.Key(), d.ChannelID, d.ID); err != nil {
		log.Printf("[Discord] Tombstone %s: %v", d.ID, err)
		return
	}
	c.publish(event.TypeMessageDelete, event.MessagePayload{
		ChatID: d.ChannelID,
		Message: model.MessageItem{
			ID:        d.ID,
			ChatID:    d.ChannelID,
			Platform:  model.PlatformDiscord,
			IsDeleted: true,
		},
	})
}

// normalizeMessage maps a wire message into the canonical shape.
func (c *Client) normalizeMessage(m Message) model.MessageItem {
	item := model.MessageItem{
		ID:         m.ID,
		ChatID:     m.ChannelID,
		Platform:   model.PlatformDiscord,
		UserID:     m.Author.ID,
		SenderName: m.Author.DisplayName(),
		Content:    m.Content,
	}
	for _, a := range m.Attachments {
		item.Attachments = append(item.Attachments, model.Attachment{
			ID:          a.ID,
			FileName:    a.Filename,
			ContentType: a.ContentType,
			URL:         a.URL,
			Size:        a.Size,
		})
	}
	for _, e := range m.Embeds {
		item.Embeds = append(item.Embeds, model.Embed{
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
		})
	}
	if ts, err := time.Parse(time.RFC3339, m.Timestamp); err == nil {
		item.Timestamp = ts
	}
	if m.EditedTimestamp != "" {
		item.IsEdited = true
	}
	if m.MessageReference != nil {
		item.ReplyToID = m.MessageReference.MessageID
	}
	return model.Canonicalize(item)
}

// upsertChat writes a chat row without clobbering counters the caller does
// not know, since partial gateway payloads omit them.
func (c *Client) upsertChat(chat *storage.Chat) {
	if existing, err := c.store.GetChat(chat.Platform, chat.ID); err == nil {
		if chat.UnreadCount == 0 {
			chat.UnreadCount = existing.UnreadCount
		}
		if !chat.IsPinned {
			chat.IsPinned = existing.IsPinned
		}
	}
	if err := c.store.CreateChat(chat); err != nil {
		log.Printf("[Discord] Upsert chat %s: %v", chat.ID, err)
	}
}

// touchChat advances a chat's last-message marker and unread count after a
// message write, then announces the refreshed summary.
func (c *Client) touchChat(item model.MessageItem, isNew bool) {
	row := &storage.Chat{ID: item.ChatID, Platform: model.PlatformDiscord.Key()}
	if existing, err := c.store.GetChat(row.Platform, row.ID); err == nil {
		*row = *existing
	} else {
		c.mu.Lock()
		if entry, ok := c.channels[item.ChatID]; ok {
			row.Name = entry.Name
			row.ParticipantCount = entry.ParticipantCount
			if entry.IsDM {
				row.Type = string(model.ChatDM)
			} else {
				row.Type = string(model.ChatChannel)
			}
		}
		c.mu.Unlock()
	}

	if row.LastMessageAt.Before(item.Timestamp) {
		row.LastMessageID = item.ID
		row.LastMessageAt = item.Timestamp
	}
	if isNew && item.UserID != "" && item.UserID != c.SelfID() {
		row.UnreadCount++
	}
	if err := c.store.CreateChat(row); err != nil {
		log.Printf("[Discord] Touch chat %s: %v", row.ID, err)
		return
	}

	if sum, ok := c.chatSummary(item.ChatID); ok {
		c.publish(event.TypeDialogUpdated, event.DialogPayload{Chat: sum})
	}
}

func (c *Client) chatSummary(id string) (model.ChatSummary, bool) {
	row, err := c.store.GetChat(model.PlatformDiscord.Key(), id)
	if err != nil {
		return model.ChatSummary{}, false
	}
	return storage.SummaryFromChat(*row, model.PlatformDiscord), true
}
