package cache

import (
	"context"
	encjson "encoding/json"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/TheRockettek/sandwich-dispatch/internal/config"
	"github.com/TheRockettek/sandwich-dispatch/internal/gatewayio"
)

// json aliases jsoniter the way Sandwich-Producer's gateway/consts.go does.
// encjson.RawMessage is kept for the method signatures cache.Update's
// callers already hold a RawMessage from.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Dispatch type strings the projection understands, matching Discord's own
// "t" field verbatim (original_source/src/cache.rs's match on Event).
const (
	TypeReady               = "READY"
	TypeChannelCreate       = "CHANNEL_CREATE"
	TypeChannelUpdate       = "CHANNEL_UPDATE"
	TypeChannelDelete       = "CHANNEL_DELETE"
	TypeGuildCreate         = "GUILD_CREATE"
	TypeGuildUpdate         = "GUILD_UPDATE"
	TypeGuildDelete         = "GUILD_DELETE"
	TypeGuildRoleCreate     = "GUILD_ROLE_CREATE"
	TypeGuildRoleUpdate     = "GUILD_ROLE_UPDATE"
	TypeGuildRoleDelete     = "GUILD_ROLE_DELETE"
	TypeGuildMemberAdd      = "GUILD_MEMBER_ADD"
	TypeGuildMemberUpdate   = "GUILD_MEMBER_UPDATE"
	TypeGuildMemberRemove   = "GUILD_MEMBER_REMOVE"
	TypeGuildMembersChunk   = "GUILD_MEMBERS_CHUNK"
	TypeUserUpdate          = "USER_UPDATE"
)

// Cache projects decoded dispatch payloads into a key-partitioned Redis
// representation, grounded on original_source/src/cache.rs.
type Cache struct {
	rdb    *redis.Client
	prefix string

	mode      config.ExpiryMode
	memberTTL time.Duration

	// cacheEnabled is CONFIG.state_enabled's Go home: the whole-projection
	// kill switch. memberCacheEnabled is CONFIG.state_member, gating the
	// member/user-scoped arms the way cache.rs's "if CONFIG.state_member"
	// guards do.
	cacheEnabled       bool
	memberCacheEnabled bool

	botUserMu sync.RWMutex
	botUserID string

	log zerolog.Logger
}

// New builds a Cache bound to rdb, namespacing every key under prefix.
func New(rdb *redis.Client, prefix string, mode config.ExpiryMode, memberTTL time.Duration, cacheEnabled, memberCacheEnabled bool, log zerolog.Logger) *Cache {
	return &Cache{
		rdb:                rdb,
		prefix:             prefix,
		mode:               mode,
		memberTTL:          memberTTL,
		cacheEnabled:       cacheEnabled,
		memberCacheEnabled: memberCacheEnabled,
		log:                log,
	}
}

// botUser returns the cached bot user ID, set once applyReady has run. Used
// by applyMemberUpdate's bot-self exception: the bot's own member record is
// kept current even when member caching is otherwise disabled.
func (c *Cache) botUser() string {
	c.botUserMu.RLock()
	defer c.botUserMu.RUnlock()
	return c.botUserID
}

func (c *Cache) setBotUser(id string) {
	c.botUserMu.Lock()
	c.botUserID = id
	c.botUserMu.Unlock()
}

func (c *Cache) prefixed(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

// get fetches and unmarshals a single key. ok is false when the key is
// absent, matching the Rust get()'s Option return.
func (c *Cache) get(ctx context.Context, key string, out interface{}) (ok bool, err error) {
	canonical, _ := canonicalizeKey(key)
	raw, err := c.rdb.Get(ctx, c.prefixed(canonical)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

// getMembers returns the key set indexed under a guild_keys:<id> or
// channel_keys:<id> style set.
func (c *Cache) getMembers(ctx context.Context, setKey string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, c.prefixed(setKey)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("cache: smembers %s: %w", setKey, err)
	}
	return members, nil
}

// set writes a single key, maintaining the <prefix>_keys and, for
// guild-scoped keys, guild_keys:<guild_id> index sets. It mirrors the Rust
// set() function, including the channel-key canonicalization rule.
func (c *Cache) set(ctx context.Context, key string, value interface{}) error {
	return c.setAll(ctx, map[string]interface{}{key: value})
}

// setAll batches several writes into one pipeline, the way GUILD_CREATE
// writes its channels/roles/members in one shot (cache.rs's set_all, called
// from the GuildCreate arm).
func (c *Cache) setAll(ctx context.Context, values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}

	pipe := c.rdb.Pipeline()
	for key, value := range values {
		canonical, parts := canonicalizeKey(key)

		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("cache: encode %s: %w", key, err)
		}

		if c.mode == config.ExpiryModeRedisTTL && c.memberTTL > 0 && parts[0] == memberPrefix {
			pipe.Set(ctx, c.prefixed(canonical), encoded, c.memberTTL)
		} else {
			pipe.Set(ctx, c.prefixed(canonical), encoded, 0)
			if c.mode == config.ExpiryModeInBand && c.memberTTL > 0 && parts[0] == memberPrefix {
				pipe.HSet(ctx, c.prefixed(ExpiryHashKey), canonical, time.Now().Add(c.memberTTL).Unix())
			}
		}

		pipe.SAdd(ctx, c.prefixed(prefixKeysSetKey(parts[0])), canonical)
		if len(parts) > 2 {
			pipe.SAdd(ctx, c.prefixed(guildKeysSetKey(parts[1])), canonical)
		}
		if parts[0] == channelPrefix {
			pipe.SAdd(ctx, c.prefixed(channelKeysSetKey(parts[len(parts)-1])), canonical)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: setAll: %w", err)
	}
	return nil
}

// del removes a single key and its index-set memberships (cache.rs's del()).
func (c *Cache) del(ctx context.Context, key string) error {
	return c.delAll(ctx, []string{key})
}

func (c *Cache) delAll(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	pipe := c.rdb.Pipeline()
	for _, key := range keys {
		canonical, parts := canonicalizeKey(key)

		pipe.Del(ctx, c.prefixed(canonical))
		pipe.SRem(ctx, c.prefixed(prefixKeysSetKey(parts[0])), canonical)
		if len(parts) > 2 {
			pipe.SRem(ctx, c.prefixed(guildKeysSetKey(parts[1])), canonical)
		}
		if parts[0] == channelPrefix {
			pipe.SRem(ctx, c.prefixed(channelKeysSetKey(parts[len(parts)-1])), canonical)
		}
		if c.mode == config.ExpiryModeInBand {
			pipe.HDel(ctx, c.prefixed(ExpiryHashKey), canonical)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: delAll: %w", err)
	}
	return nil
}

// clearGuild cascades a guild removal across every key the guild_keys:<id>
// index set tracks, removes that index set, then drops the guild itself,
// matching cache.rs's clear_guild().
func (c *Cache) clearGuild(ctx context.Context, guildID string) error {
	members, err := c.getMembers(ctx, guildKeysSetKey(guildID))
	if err != nil {
		return err
	}
	if len(members) > 0 {
		if err := c.delAll(ctx, members); err != nil {
			return err
		}
	}
	if err := c.rdb.Del(ctx, c.prefixed(guildKeysSetKey(guildID))).Err(); err != nil {
		return fmt.Errorf("cache: clear guild_keys:%s: %w", guildID, err)
	}
	return c.del(ctx, guildKey(guildID))
}

// Stats returns the count of every first-class cached entity kind, backing
// the STATE_* gauges (original_source/src/metrics.rs's run_jobs).
func (c *Cache) Stats(ctx context.Context) (guilds, channels, roles, members int64, err error) {
	pipe := c.rdb.Pipeline()
	guildsCmd := pipe.SCard(ctx, c.prefixed(prefixKeysSetKey(guildPrefix)))
	channelsCmd := pipe.SCard(ctx, c.prefixed(prefixKeysSetKey(channelPrefix)))
	rolesCmd := pipe.SCard(ctx, c.prefixed(prefixKeysSetKey(rolePrefix)))
	membersCmd := pipe.SCard(ctx, c.prefixed(prefixKeysSetKey(memberPrefix)))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, 0, 0, fmt.Errorf("cache: stats: %w", err)
	}
	return guildsCmd.Val(), channelsCmd.Val(), rolesCmd.Val(), membersCmd.Val(), nil
}

// DumpStatuses overwrites gateway_statuses with the given snapshot, matching
// cache.rs's run_jobs set(conn, STATUSES_KEY, &statuses).
func (c *Cache) DumpStatuses(ctx context.Context, statuses []StatusInfo) error {
	encoded, err := json.Marshal(statuses)
	if err != nil {
		return fmt.Errorf("cache: encode statuses: %w", err)
	}
	if err := c.rdb.Set(ctx, c.prefixed(StatusesKey), encoded, 0).Err(); err != nil {
		return fmt.Errorf("cache: dump statuses: %w", err)
	}
	return nil
}

// DumpSessions overwrites gateway_sessions with the given snapshot.
func (c *Cache) DumpSessions(ctx context.Context, sessions map[string]SessionInfo) error {
	encoded, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("cache: encode sessions: %w", err)
	}
	if err := c.rdb.Set(ctx, c.prefixed(SessionsKey), encoded, 0).Err(); err != nil {
		return fmt.Errorf("cache: dump sessions: %w", err)
	}
	return nil
}

// MarkStarted writes gateway_started once at supervisor startup, a liveness
// marker external consumers can poll for (the resolution of
// the "when is gateway_started written" open question).
func (c *Cache) MarkStarted(ctx context.Context) error {
	return c.rdb.Set(ctx, c.prefixed(StartedKey), time.Now().UTC().Unix(), 0).Err()
}

// MarkShardCount overwrites gateway_shards, the marker the supervisor
// compares against the configured shard total on its next startup to decide
// whether a resume attempt is even possible.
func (c *Cache) MarkShardCount(ctx context.Context, total int) error {
	return c.rdb.Set(ctx, c.prefixed(ShardsKey), total, 0).Err()
}

// ReadShardCount reads gateway_shards, reporting false if the key has never
// been written (a cold start). Mirrors original_source/src/utils.rs's
// get_resume_sessions shard-count comparison.
func (c *Cache) ReadShardCount(ctx context.Context) (total int, ok bool, err error) {
	val, err := c.rdb.Get(ctx, c.prefixed(ShardsKey)).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache: read shard count: %w", err)
	}
	return val, true, nil
}

// ReadSessions reads gateway_sessions, the shard-id to (session_id,
// sequence) map left by the previous process' status dumper.
func (c *Cache) ReadSessions(ctx context.Context) (map[string]SessionInfo, error) {
	var sessions map[string]SessionInfo
	ok, err := c.get(ctx, SessionsKey, &sessions)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return sessions, nil
}

// Update applies one decoded dispatch payload to the cache, dispatching by
// event type. It is a no-op when the whole-cache projection is disabled
// (CONFIG.state_enabled == false) — the pump still publishes the event to
// the broker regardless, this only short-circuits the Redis side.
func (c *Cache) Update(ctx context.Context, eventType string, data encjson.RawMessage) error {
	if !c.cacheEnabled {
		return nil
	}

	switch eventType {
	case TypeReady:
		return c.applyReady(ctx, data)

	case TypeChannelCreate, TypeChannelUpdate:
		var ch gatewayio.Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			return fmt.Errorf("cache: decode %s: %w", eventType, err)
		}
		if !ch.Type.IsGuildText() {
			return nil
		}
		return c.set(ctx, channelKey(ch.GuildID, ch.ID), toCachedChannel(ch.GuildID, ch))

	case TypeChannelDelete:
		var ch gatewayio.Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			return fmt.Errorf("cache: decode %s: %w", eventType, err)
		}
		return c.del(ctx, channelKey(ch.GuildID, ch.ID))

	case TypeGuildCreate:
		return c.applyGuildCreate(ctx, data)

	case TypeGuildUpdate:
		var g gatewayio.Guild
		if err := json.Unmarshal(data, &g); err != nil {
			return fmt.Errorf("cache: decode %s: %w", eventType, err)
		}
		return c.set(ctx, guildKey(g.ID), Guild{ID: g.ID, Name: g.Name, Icon: g.Icon, OwnerID: g.OwnerID})

	case TypeGuildDelete:
		var g gatewayio.UnavailableGuild
		if err := json.Unmarshal(data, &g); err != nil {
			return fmt.Errorf("cache: decode %s: %w", eventType, err)
		}
		if g.Unavailable {
			return c.set(ctx, guildKey(g.ID), Guild{ID: g.ID, Unavailable: true})
		}
		return c.clearGuild(ctx, g.ID)

	case TypeGuildRoleCreate, TypeGuildRoleUpdate:
		var env gatewayio.RoleEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("cache: decode %s: %w", eventType, err)
		}
		return c.set(ctx, roleKey(env.GuildID, env.Role.ID), toCachedRole(env.Role))

	case TypeGuildRoleDelete:
		var d gatewayio.RoleDelete
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("cache: decode %s: %w", eventType, err)
		}
		return c.del(ctx, roleKey(d.GuildID, d.RoleID))

	case TypeGuildMemberAdd:
		if !c.memberCacheEnabled {
			return nil
		}
		var m gatewayio.Member
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("cache: decode %s: %w", eventType, err)
		}
		if err := c.set(ctx, userKey(m.User.ID), toCachedUser(m.User)); err != nil {
			return err
		}
		return c.set(ctx, memberKey(m.GuildID, m.User.ID), toCachedMember(m))

	case TypeGuildMemberUpdate:
		return c.applyMemberUpdate(ctx, data)

	case TypeGuildMemberRemove:
		var m gatewayio.MemberRemove
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("cache: decode %s: %w", eventType, err)
		}
		return c.del(ctx, memberKey(m.GuildID, m.User.ID))

	case TypeGuildMembersChunk:
		if !c.memberCacheEnabled {
			return nil
		}
		var chunk gatewayio.MemberChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return fmt.Errorf("cache: decode %s: %w", eventType, err)
		}
		values := make(map[string]interface{}, len(chunk.Members)*2)
		for _, m := range chunk.Members {
			values[userKey(m.User.ID)] = toCachedUser(m.User)
			values[memberKey(chunk.GuildID, m.User.ID)] = toCachedMember(m)
		}
		return c.setAll(ctx, values)

	case TypeUserUpdate:
		var u gatewayio.User
		if err := json.Unmarshal(data, &u); err != nil {
			return fmt.Errorf("cache: decode %s: %w", eventType, err)
		}
		return c.set(ctx, userKey(u.ID), toCachedUser(u))

	default:
		return nil
	}
}

func (c *Cache) applyReady(ctx context.Context, data encjson.RawMessage) error {
	var ready gatewayio.ReadyData
	if err := json.Unmarshal(data, &ready); err != nil {
		return fmt.Errorf("cache: decode READY: %w", err)
	}

	values := make(map[string]interface{}, len(ready.Guilds))
	for _, g := range ready.Guilds {
		values[guildKey(g.ID)] = Guild{ID: g.ID, Unavailable: g.Unavailable}
	}
	if err := c.setAll(ctx, values); err != nil {
		return err
	}

	c.setBotUser(ready.User.ID)

	encoded, err := json.Marshal(toCachedBotUser(ready.User))
	if err != nil {
		return fmt.Errorf("cache: encode bot_user: %w", err)
	}
	if err := c.rdb.Set(ctx, c.prefixed(BotUserKey), encoded, 0).Err(); err != nil {
		return fmt.Errorf("cache: set bot_user: %w", err)
	}
	return nil
}

// applyGuildCreate clears any stale guild state before writing the fresh
// snapshot, matching cache.rs's GuildCreate arm ("clear_guild then set_all").
func (c *Cache) applyGuildCreate(ctx context.Context, data encjson.RawMessage) error {
	var g gatewayio.Guild
	if err := json.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("cache: decode GUILD_CREATE: %w", err)
	}

	if err := c.clearGuild(ctx, g.ID); err != nil {
		return err
	}

	values := make(map[string]interface{}, 1+len(g.Channels)+len(g.Roles)+2*len(g.Members))
	for _, ch := range g.Channels {
		if !ch.Type.IsGuildText() {
			continue
		}
		values[channelKey(g.ID, ch.ID)] = toCachedChannel(g.ID, ch)
	}
	for _, r := range g.Roles {
		values[roleKey(g.ID, r.ID)] = toCachedRole(r)
	}
	if c.memberCacheEnabled {
		for _, m := range g.Members {
			values[userKey(m.User.ID)] = toCachedUser(m.User)
			values[memberKey(g.ID, m.User.ID)] = toCachedMember(m)
		}
	}
	values[guildKey(g.ID)] = Guild{
		ID:      g.ID,
		Name:    g.Name,
		Icon:    g.Icon,
		OwnerID: g.OwnerID,
	}

	return c.setAll(ctx, values)
}

// applyMemberUpdate merges the nick/roles/user_id fields onto whatever
// member record already exists, rather than overwriting it wholesale,
// matching the later cache.rs revision's MemberUpdate arm. It writes even
// when member caching is disabled if the updated member is the bot's own
// account, mirroring cache.rs's "CONFIG.state_member || data.user.id == bot_id".
func (c *Cache) applyMemberUpdate(ctx context.Context, data encjson.RawMessage) error {
	var m gatewayio.MemberUpdate
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("cache: decode GUILD_MEMBER_UPDATE: %w", err)
	}

	if !c.memberCacheEnabled && m.User.ID != c.botUser() {
		return nil
	}

	var existing Member
	ok, err := c.get(ctx, memberKey(m.GuildID, m.User.ID), &existing)
	if err != nil {
		return err
	}
	if !ok {
		existing = Member{GuildID: m.GuildID, UserID: m.User.ID}
	}
	existing.Nick = m.Nick
	existing.Roles = m.Roles

	if err := c.set(ctx, userKey(m.User.ID), toCachedUser(m.User)); err != nil {
		return err
	}
	return c.set(ctx, memberKey(m.GuildID, m.User.ID), existing)
}
