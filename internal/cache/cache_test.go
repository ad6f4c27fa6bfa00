package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRockettek/sandwich-dispatch/internal/config"
)

func newTestCache(t *testing.T) (*Cache, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, "test", config.ExpiryModeRedisTTL, 0, true, true, zerolog.Nop()), rdb
}

func TestGuildCreateCachesChannelsRolesAndMembers(t *testing.T) {
	c, rdb := newTestCache(t)
	ctx := context.Background()

	guild := `{
		"id": "1",
		"name": "Test Guild",
		"owner_id": "10",
		"channels": [{"id": "100", "name": "general", "type": 0}, {"id": "101", "name": "voice", "type": 2}],
		"roles": [{"id": "200", "name": "@everyone", "permissions": "0", "position": 0}],
		"members": [{"user": {"id": "10", "username": "owner"}, "roles": []}]
	}`

	require.NoError(t, c.Update(ctx, TypeGuildCreate, json.RawMessage(guild)))

	var g Guild
	ok, err := c.get(ctx, guildKey("1"), &g)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Test Guild", g.Name)

	var ch Channel
	ok, err = c.get(ctx, channelKey("1", "100"), &ch)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.get(ctx, channelKey("1", "101"), &ch)
	require.NoError(t, err)

	exists, err := rdb.Exists(ctx, "test:channel:101").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "voice channel must not be cached")

	var m Member
	ok, err = c.get(ctx, memberKey("1", "10"), &m)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuildDeleteCascadesToChannelsRolesAndMembers(t *testing.T) {
	c, rdb := newTestCache(t)
	ctx := context.Background()

	guild := `{
		"id": "1",
		"name": "Test Guild",
		"owner_id": "20",
		"channels": [{"id": "100", "name": "general", "type": 0}],
		"roles": [{"id": "200", "name": "@everyone", "permissions": "0", "position": 0}],
		"members": [{"user": {"id": "20", "username": "owner"}, "roles": []}]
	}`
	require.NoError(t, c.Update(ctx, TypeGuildCreate, json.RawMessage(guild)))

	require.NoError(t, c.Update(ctx, TypeGuildDelete, json.RawMessage(`{"id": "1", "unavailable": false}`)))

	keys, err := rdb.Keys(ctx, "test:*").Result()
	require.NoError(t, err)
	for _, k := range keys {
		assert.NotContains(t, k, "1", "no residual key should reference the deleted guild: %s", k)
	}
}

func TestGuildDeleteUnavailableKeepsStub(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Update(ctx, TypeGuildCreate, json.RawMessage(`{"id": "1", "name": "G", "owner_id": "10"}`)))
	require.NoError(t, c.Update(ctx, TypeGuildDelete, json.RawMessage(`{"id": "1", "unavailable": true}`)))

	var g Guild
	ok, err := c.get(ctx, guildKey("1"), &g)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, g.Unavailable)
}

func TestChannelKeyCanonicalization(t *testing.T) {
	canonical, parts := canonicalizeKey(channelKey("1", "100"))
	assert.Equal(t, "channel:100", canonical)
	assert.Equal(t, []string{"channel", "1", "100"}, parts)

	canonical, parts = canonicalizeKey("channel:100")
	assert.Equal(t, "channel:100", canonical)
	assert.Equal(t, []string{"channel", "100"}, parts)
}

func TestMemberUpdatePreservesUnspecifiedFields(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	add := `{"guild_id": "1", "user": {"id": "10", "username": "a"}, "nick": "original", "roles": ["200"]}`
	require.NoError(t, c.Update(ctx, TypeGuildMemberAdd, json.RawMessage(add)))

	update := `{"guild_id": "1", "user": {"id": "10", "username": "a"}, "nick": "renamed", "roles": ["200", "201"]}`
	require.NoError(t, c.Update(ctx, TypeGuildMemberUpdate, json.RawMessage(update)))

	var m Member
	ok, err := c.get(ctx, memberKey("1", "10"), &m)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "renamed", m.Nick)
	assert.Equal(t, []string{"200", "201"}, m.Roles)
}

func TestMemberTTLAppliedUnderRedisTTLMode(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(rdb, "test", config.ExpiryModeRedisTTL, 50*time.Millisecond, true, true, zerolog.Nop())
	ctx := context.Background()

	add := `{"guild_id": "1", "user": {"id": "10", "username": "a"}, "roles": []}`
	require.NoError(t, c.Update(ctx, TypeGuildMemberAdd, json.RawMessage(add)))

	var m Member
	ok, err := c.get(ctx, memberKey("1", "10"), &m)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(100 * time.Millisecond)

	ok, err = c.get(ctx, memberKey("1", "10"), &m)
	require.NoError(t, err)
	assert.False(t, ok, "member key should have expired")
}

func TestMemberAddSkippedWhenMemberCachingDisabled(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(rdb, "test", config.ExpiryModeRedisTTL, 0, true, false, zerolog.Nop())
	ctx := context.Background()

	add := `{"guild_id": "1", "user": {"id": "10", "username": "a"}, "roles": []}`
	require.NoError(t, c.Update(ctx, TypeGuildMemberAdd, json.RawMessage(add)))

	var m Member
	ok, err := c.get(ctx, memberKey("1", "10"), &m)
	require.NoError(t, err)
	assert.False(t, ok, "member should not be cached when member caching is disabled")
}

func TestMemberUpdateBotSelfExceptionBypassesMemberCachingGate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(rdb, "test", config.ExpiryModeRedisTTL, 0, true, false, zerolog.Nop())
	ctx := context.Background()

	ready := `{"session_id": "s1", "user": {"id": "10", "username": "bot"}, "guilds": []}`
	require.NoError(t, c.Update(ctx, TypeReady, json.RawMessage(ready)))

	update := `{"guild_id": "1", "user": {"id": "10", "username": "bot"}, "nick": "self", "roles": []}`
	require.NoError(t, c.Update(ctx, TypeGuildMemberUpdate, json.RawMessage(update)))

	var m Member
	ok, err := c.get(ctx, memberKey("1", "10"), &m)
	require.NoError(t, err)
	assert.True(t, ok, "the bot's own member record should update even with member caching disabled")
	assert.Equal(t, "self", m.Nick)
}

func TestUpdateSkippedWhenCacheProjectionDisabled(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(rdb, "test", config.ExpiryModeRedisTTL, 0, false, true, zerolog.Nop())
	ctx := context.Background()

	guild := `{"id": "1", "name": "G", "owner_id": "10"}`
	require.NoError(t, c.Update(ctx, TypeGuildCreate, json.RawMessage(guild)))

	var g Guild
	ok, err := c.get(ctx, guildKey("1"), &g)
	require.NoError(t, err)
	assert.False(t, ok, "no key should be written while the whole cache projection is disabled")
}
