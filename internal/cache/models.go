package cache

import "github.com/TheRockettek/sandwich-dispatch/internal/gatewayio"

// The structs below are the Redis-resident representations of each entity.
// Field names are single letters, matching original_source/src/models.rs's
// CachedGuild/CachedMember/CachedRole/CachedCurrentUser #[serde(rename)]
// mapping field-for-field (see SPEC_FULL.md's Data Model section for the
// full table) — they are part of the wire contract external consumers read
// directly off Redis, not free to rename. Channel keeps its native Discord
// field names since the original never renames it.

// Guild is the cached guild:<guild_id> representation.
type Guild struct {
	Channels []string `json:"a"`
	Icon     string   `json:"b,omitempty"`
	ID       string   `json:"c"`
	Members  []string `json:"d,omitempty"`
	Name     string   `json:"e"`
	OwnerID  string   `json:"f"`
	Roles    []string `json:"g"`

	// Unavailable is set when this is a stub guild written from READY or
	// UNAVAILABLE_GUILD rather than a fully hydrated GUILD_CREATE. It has no
	// equivalent in models.rs's rename table since earlier-revision Rust
	// guild stubs didn't track it, so it keeps its full name.
	Unavailable bool `json:"unavailable,omitempty"`
}

// Channel is the cached channel representation. A channel:<guild_id>:<channel_id>
// write is stored under its canonical channel:<channel_id> key.
type Channel struct {
	ID      string `json:"id"`
	GuildID string `json:"guild_id"`
	Name    string `json:"name"`
	Type    int    `json:"type"`
}

// Role is the cached role:<guild_id>:<role_id> representation.
type Role struct {
	ID          string `json:"a"`
	Name        string `json:"b"`
	Permissions string `json:"c"`
	Position    int    `json:"d"`
}

// Member is the cached member:<guild_id>:<user_id> representation.
type Member struct {
	GuildID string   `json:"a"`
	Nick    string   `json:"b,omitempty"`
	Roles   []string `json:"c"`
	UserID  string   `json:"d"`
}

// User is the cached user:<user_id> representation (later-revision policy:
// users are first-class), tagged the way models.rs's CachedCurrentUser is.
type User struct {
	Avatar        string `json:"a,omitempty"`
	Discriminator string `json:"b"`
	ID            string `json:"c"`
	Name          string `json:"d"`

	// Bot has no slot in CachedCurrentUser's rename table (the original
	// only ever caches the bot's own account there, never another bot's),
	// so it keeps its full name and is simply not read by external
	// consumers expecting the a/b/c/d mapping.
	Bot bool `json:"bot,omitempty"`
}

func toCachedUser(u gatewayio.User) User {
	return User{
		Avatar:        u.Avatar,
		Bot:           u.Bot,
		Discriminator: u.Discriminator,
		ID:            u.ID,
		Name:          u.Username,
	}
}

// toCachedBotUser converts the READY payload's user object into the same
// wire-contract representation every other cached user gets, rather than
// writing bot_user with the decode type's full field names.
func toCachedBotUser(u gatewayio.CachedBotUser) User {
	return User{
		Avatar:        u.Avatar,
		Bot:           u.Bot,
		Discriminator: u.Discriminator,
		ID:            u.ID,
		Name:          u.Name,
	}
}

func toCachedRole(r gatewayio.Role) Role {
	return Role{ID: r.ID, Name: r.Name, Permissions: r.Permissions, Position: r.Position}
}

func toCachedMember(m gatewayio.Member) Member {
	return Member{GuildID: m.GuildID, Nick: m.Nick, Roles: m.Roles, UserID: m.User.ID}
}

func toCachedChannel(guildID string, c gatewayio.Channel) Channel {
	return Channel{ID: c.ID, GuildID: guildID, Name: c.Name, Type: int(c.Type)}
}

// StatusInfo is one row of the gateway_statuses array.
type StatusInfo struct {
	Shard     int    `json:"shard"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	LastAck   string `json:"last_ack"`
}

// SessionInfo is one value of the gateway_sessions map.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"sequence"`
}
