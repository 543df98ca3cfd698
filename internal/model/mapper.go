package model

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// discordEpochMS is the Discord snowflake epoch (2015-01-01T00:00:00Z).
const discordEpochMS = 1420070400000

// SnowflakeTime derives the creation timestamp encoded in a Discord
// snowflake id: (id >> 22) + epoch, in milliseconds. Returns the zero time
// for a non-numeric id.
func SnowflakeTime(id string) time.Time {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(int64(n>>22) + discordEpochMS)
}

var linkRe = regexp.MustCompile(`https?://[^\s<>"']+`)

// ExtractLink returns the first http(s) URL found in text. Links are scanned
// from the raw text rather than platform entity metadata, which keeps the
// mapper resilient to malformed metadata.
func ExtractLink(text string) (string, bool) {
	link := linkRe.FindString(text)
	return link, link != ""
}

// ClassifyAttachments implements the Discord message classification rule:
// image if the first attachment's content type is image/*, file if any
// attachment exists, embed if any embed exists, otherwise text.
func ClassifyAttachments(attachments []Attachment, embedCount int) MessageType {
	if len(attachments) > 0 {
		if strings.HasPrefix(attachments[0].ContentType, "image/") {
			return MessageImage
		}
		return MessageFile
	}
	if embedCount > 0 {
		return MessageEmbed
	}
	return MessageText
}

// Canonicalize fills the derived fields of a message (link flags, media
// flag, snowflake-derived timestamp). It is idempotent: applying it to an
// already-canonical message is a no-op, which matters because entities reach
// the presentation layer from both the live event path and REST refetches.
func Canonicalize(m MessageItem) MessageItem {
	if m.Link == "" {
		if link, ok := ExtractLink(m.Content); ok {
			m.Link = link
		}
	}
	m.HasLink = m.Link != ""
	if m.Type == "" {
		m.Type = ClassifyAttachments(m.Attachments, len(m.Embeds))
	}
	if !m.HasMedia {
		m.HasMedia = len(m.Attachments) > 0 ||
			(m.Type != MessageText && m.Type != MessageEmbed)
	}
	if m.Timestamp.IsZero() && m.Platform == PlatformDiscord {
		m.Timestamp = SnowflakeTime(m.ID)
	}
	return m
}

// ChannelDisplayName composes the queryable name for a guild text channel.
func ChannelDisplayName(channel, guild string) string {
	return "#" + channel + " (" + guild + ")"
}

// DMName resolves a private channel's display name: the explicit name when
// set, otherwise the comma-joined recipient list.
func DMName(explicit string, recipients []string) string {
	if explicit != "" {
		return explicit
	}
	return strings.Join(recipients, ", ")
}
