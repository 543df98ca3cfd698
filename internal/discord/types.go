package discord

import "encoding/json"

// Gateway opcodes (Discord Gateway v10).
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Gateway intents requested at identify.
const (
	intentGuilds         = 1 << 0
	intentGuildMessages  = 1 << 9
	intentDirectMessages = 1 << 12
	intentMessageContent = 1 << 15
)

// Channel types the client ingests.
const (
	channelGuildText = 0
	channelDM        = 1
	channelGroupDM   = 3
)

// payload is a raw inbound gateway frame. D is decoded per-opcode/per-event
// at the boundary before anything enters the canonical model.
type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  string          `json:"t"`
}

// outbound is a gateway frame sent by the client.
type outbound struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Properties identifyProperties `json:"properties"`
	Intents    int64              `json:"intents"`
}

type readyData struct {
	V               int       `json:"v"`
	User            User      `json:"user"`
	SessionID       string    `json:"session_id"`
	Guilds          []Guild   `json:"guilds"`
	PrivateChannels []Channel `json:"private_channels"`
}

// User is a Discord user as carried on gateway and REST payloads.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	GlobalName    string `json:"global_name"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
}

// DisplayName prefers the global display name over the login username.
func (u User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// Guild is a guild snapshot from READY or GUILD_CREATE.
type Guild struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Icon        string    `json:"icon"`
	Unavailable bool      `json:"unavailable"`
	Channels    []Channel `json:"channels"`
}

// Channel is a guild channel, DM or group DM.
type Channel struct {
	ID            string `json:"id"`
	Type          int    `json:"type"`
	GuildID       string `json:"guild_id"`
	Name          string `json:"name"`
	Recipients    []User `json:"recipients"`
	LastMessageID string `json:"last_message_id"`
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
}

// Embed is a rich embed on a message.
type Embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type messageReference struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

// Message is a message from MESSAGE_CREATE/MESSAGE_UPDATE or the REST API.
type Message struct {
	ID               string            `json:"id"`
	ChannelID        string            `json:"channel_id"`
	GuildID          string            `json:"guild_id"`
	Author           User              `json:"author"`
	Content          string            `json:"content"`
	Timestamp        string            `json:"timestamp"`
	EditedTimestamp  string            `json:"edited_timestamp"`
	Attachments      []Attachment      `json:"attachments"`
	Embeds           []Embed           `json:"embeds"`
	MessageReference *messageReference `json:"message_reference"`
}

type messageDelete struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
}

// guildEntry is the in-memory cache record for a guild. Caches are owned by
// the client instance: created at connect, cleared at disconnect.
type guildEntry struct {
	ID   string
	Name string
}

// channelEntry is the in-memory cache record for a queryable chat.
type channelEntry struct {
	ID               string
	Name             string
	GuildID          string
	GuildName        string
	IsDM             bool
	ParticipantCount int
}
