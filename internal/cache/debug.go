package cache

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack"
)

// GuildSnapshot is a point-in-time dump of everything cached for one guild,
// used by the debug endpoint. msgpack is retained narrowly for this one
// surface: every other wire path in this repo is JSON, but
// a debug snapshot is an operator-facing tool Sandwich-Producer's Discord models
// already tagged for msgpack, so it keeps that encoding here.
type GuildSnapshot struct {
	Guild    Guild     `msgpack:"guild"`
	Channels []Channel `msgpack:"channels"`
	Roles    []Role    `msgpack:"roles"`
	Members  []Member  `msgpack:"members"`
}

// DebugSnapshot assembles and msgpack-encodes a GuildSnapshot by walking the
// guild's guild_keys:<id> index set, the same traversal clearGuild uses for
// cascading deletes.
func (c *Cache) DebugSnapshot(ctx context.Context, guildID string) ([]byte, error) {
	var g Guild
	ok, err := c.get(ctx, guildKey(guildID), &g)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cache: guild %s is not cached", guildID)
	}

	members, err := c.getMembers(ctx, guildKeysSetKey(guildID))
	if err != nil {
		return nil, err
	}

	snapshot := GuildSnapshot{Guild: g}
	for _, key := range members {
		canonical, parts := canonicalizeKey(key)
		switch parts[0] {
		case channelPrefix:
			var ch Channel
			if ok, _ := c.get(ctx, canonical, &ch); ok {
				snapshot.Channels = append(snapshot.Channels, ch)
			}
		case rolePrefix:
			var r Role
			if ok, _ := c.get(ctx, canonical, &r); ok {
				snapshot.Roles = append(snapshot.Roles, r)
			}
		case memberPrefix:
			var m Member
			if ok, _ := c.get(ctx, canonical, &m); ok {
				snapshot.Members = append(snapshot.Members, m)
			}
		}
	}

	return msgpack.Marshal(snapshot)
}
