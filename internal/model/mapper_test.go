package model

import (
	"testing"
	"time"
)

func TestSnowflakeTime(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want time.Time
	}{
		{
			// Worked example from the snowflake format: 2016-04-30T11:18:25.796Z.
			name: "known snowflake",
			id:   "175928847299117063",
			want: time.UnixMilli(1462015105796),
		},
		{
			name: "epoch snowflake",
			id:   "0",
			want: time.UnixMilli(1420070400000),
		},
		{
			name: "non-numeric",
			id:   "not-a-snowflake",
			want: time.Time{},
		},
		{
			name: "empty",
			id:   "",
			want: time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SnowflakeTime(tt.id)
			if !got.Equal(tt.want) {
				t.Errorf("SnowflakeTime(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestExtractLink(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"check https://example.com/page out", "https://example.com/page", true},
		{"http://a.io", "http://a.io", true},
		{"no links here", "", false},
		{"", "", false},
		{"trailing https://x.dev/y?z=1 and more", "https://x.dev/y?z=1", true},
	}

	for _, tt := range tests {
		got, ok := ExtractLink(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ExtractLink(%q) = (%q, %v), want (%q, %v)", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestClassifyAttachments(t *testing.T) {
	tests := []struct {
		name        string
		attachments []Attachment
		embeds      int
		want        MessageType
	}{
		{"no content", nil, 0, MessageText},
		{"image first", []Attachment{{ContentType: "image/png"}}, 0, MessageImage},
		{"pdf", []Attachment{{ContentType: "application/pdf"}}, 0, MessageFile},
		{"pdf then image classifies by first", []Attachment{{ContentType: "application/pdf"}, {ContentType: "image/jpeg"}}, 0, MessageFile},
		{"embed only", nil, 2, MessageEmbed},
		{"attachment beats embed", []Attachment{{ContentType: "image/gif"}}, 1, MessageImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyAttachments(tt.attachments, tt.embeds); got != tt.want {
				t.Errorf("ClassifyAttachments() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	m := MessageItem{
		ID:       "175928847299117063",
		ChatID:   "42",
		Platform: PlatformDiscord,
		Content:  "see https://example.com",
		Attachments: []Attachment{
			{ContentType: "image/png", FileName: "a.png"},
		},
	}

	once := Canonicalize(m)
	twice := Canonicalize(once)

	if once.Link != "https://example.com" || !once.HasLink {
		t.Errorf("link not extracted: %+v", once)
	}
	if !once.HasMedia {
		t.Error("expected HasMedia for attachment message")
	}
	if once.Type != MessageImage {
		t.Errorf("Type = %v, want %v", once.Type, MessageImage)
	}
	if once.Timestamp.IsZero() {
		t.Error("expected snowflake-derived timestamp")
	}

	if twice.Link != once.Link || twice.Type != once.Type ||
		!twice.Timestamp.Equal(once.Timestamp) ||
		twice.HasLink != once.HasLink || twice.HasMedia != once.HasMedia {
		t.Errorf("Canonicalize not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestCanonicalizeTelegramKeepsTimestamp(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	m := Canonicalize(MessageItem{
		ID:        "123",
		Platform:  PlatformTelegram,
		Content:   "hi",
		Timestamp: ts,
	})
	if !m.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", m.Timestamp, ts)
	}
	if m.Type != MessageText {
		t.Errorf("Type = %v, want text", m.Type)
	}
	if m.HasMedia {
		t.Error("plain text message flagged as media")
	}
}

func TestChannelDisplayName(t *testing.T) {
	if got := ChannelDisplayName("general", "Gophers"); got != "#general (Gophers)" {
		t.Errorf("ChannelDisplayName = %q", got)
	}
}

func TestDMName(t *testing.T) {
	tests := []struct {
		explicit   string
		recipients []string
		want       string
	}{
		{"Project Chat", []string{"alice", "bob"}, "Project Chat"},
		{"", []string{"alice", "bob"}, "alice, bob"},
		{"", []string{"alice"}, "alice"},
		{"", nil, ""},
	}
	for _, tt := range tests {
		if got := DMName(tt.explicit, tt.recipients); got != tt.want {
			t.Errorf("DMName(%q, %v) = %q, want %q", tt.explicit, tt.recipients, got, tt.want)
		}
	}
}
