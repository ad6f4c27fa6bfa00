package gatewayio

// The structs below are the wire shapes of GUILD_CREATE/UPDATE/DELETE,
// CHANNEL_*, ROLE_*, MEMBER_* and USER_UPDATE dispatch payloads, trimmed to
// the fields the cache projection needs. Field names follow the
// upstream gateway's own JSON keys, unlike the cached representation which
// uses the short single-letter keys defined in internal/cache.

// Guild is a GUILD_CREATE/GUILD_UPDATE dispatch payload.
type Guild struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Icon     string    `json:"icon,omitempty"`
	OwnerID  string    `json:"owner_id"`
	Channels []Channel `json:"channels,omitempty"`
	Roles    []Role    `json:"roles,omitempty"`
	Members  []Member  `json:"members,omitempty"`
}

// UnavailableGuild is a GUILD_DELETE / UNAVAILABLE_GUILD dispatch payload.
type UnavailableGuild struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// ChannelType mirrors Discord's channel type enum; only the distinction
// between guild-text-like and everything else matters to the projection.
type ChannelType int

const (
	ChannelTypeGuildText ChannelType = 0
	ChannelTypeDM        ChannelType = 1
	ChannelTypeGuildVoice ChannelType = 2
	ChannelTypeGroupDM    ChannelType = 3
)

// IsGuildText reports whether the channel should be cached as a guild
// channel (only text channels are cached for a guild, not voice/category).
func (t ChannelType) IsGuildText() bool {
	return t == ChannelTypeGuildText
}

// Channel is a CHANNEL_CREATE/UPDATE/DELETE dispatch payload, or a member of
// Guild.Channels during GUILD_CREATE (in which case GuildID may be empty and
// is stamped in by the projection).
type Channel struct {
	ID      string      `json:"id"`
	GuildID string      `json:"guild_id,omitempty"`
	Name    string      `json:"name"`
	Type    ChannelType `json:"type"`
}

// Role is a ROLE_CREATE/UPDATE/DELETE payload's nested role, or a member of
// Guild.Roles.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Permissions string `json:"permissions"`
	Position    int    `json:"position"`
}

// RoleEnvelope is the GUILD_ROLE_CREATE/UPDATE dispatch payload shape.
type RoleEnvelope struct {
	GuildID string `json:"guild_id"`
	Role    Role   `json:"role"`
}

// RoleDelete is the GUILD_ROLE_DELETE dispatch payload shape.
type RoleDelete struct {
	GuildID string `json:"guild_id"`
	RoleID  string `json:"role_id"`
}

// User is a USER_UPDATE dispatch payload, or a member's nested user object.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

// Member is a GUILD_MEMBER_ADD/UPDATE payload, or a member of
// Guild.Members/MemberChunk.Members.
type Member struct {
	GuildID      string   `json:"guild_id,omitempty"`
	User         User     `json:"user"`
	Nick         string   `json:"nick,omitempty"`
	Roles        []string `json:"roles"`
	JoinedAt     string   `json:"joined_at,omitempty"`
	PremiumSince string   `json:"premium_since,omitempty"`
}

// MemberRemove is the GUILD_MEMBER_REMOVE dispatch payload shape.
type MemberRemove struct {
	GuildID string `json:"guild_id"`
	User    User   `json:"user"`
}

// MemberUpdate is the GUILD_MEMBER_UPDATE dispatch payload shape.
type MemberUpdate struct {
	GuildID      string   `json:"guild_id"`
	User         User     `json:"user"`
	Nick         string   `json:"nick,omitempty"`
	Roles        []string `json:"roles"`
	JoinedAt     string   `json:"joined_at,omitempty"`
	PremiumSince string   `json:"premium_since,omitempty"`
}

// MemberChunk is the GUILD_MEMBERS_CHUNK dispatch payload shape.
type MemberChunk struct {
	GuildID string   `json:"guild_id"`
	Members []Member `json:"members"`
}
