// Package cache projects decoded gateway events into a key-partitioned Redis
// representation. It is grounded on original_source/src/cache.rs and
// original_source/src/constants.rs (the Rust revision this repo's policy
// choice follows) and on Sandwich-Producer's state.go for
// the general shape of a Redis-backed state object.
package cache

import "fmt"

const (
	keysSuffix = "_keys"

	guildPrefix   = "guild"
	channelPrefix = "channel"
	rolePrefix    = "role"
	memberPrefix  = "member"
	userPrefix    = "user"
	messagePrefix = "message"

	BotUserKey    = "bot_user"
	StatusesKey   = "gateway_statuses"
	SessionsKey   = "gateway_sessions"
	ShardsKey     = "gateway_shards"
	StartedKey    = "gateway_started"
	ExpiryHashKey = "expiry_keys"
)

func guildKey(guildID string) string {
	return fmt.Sprintf("%s:%s", guildPrefix, guildID)
}

func channelKey(guildID, channelID string) string {
	return fmt.Sprintf("%s:%s:%s", channelPrefix, guildID, channelID)
}

func roleKey(guildID, roleID string) string {
	return fmt.Sprintf("%s:%s:%s", rolePrefix, guildID, roleID)
}

func memberKey(guildID, userID string) string {
	return fmt.Sprintf("%s:%s:%s", memberPrefix, guildID, userID)
}

func userKey(userID string) string {
	return fmt.Sprintf("%s:%s", userPrefix, userID)
}

func guildKeysSetKey(guildID string) string {
	return fmt.Sprintf("%s%s:%s", guildPrefix, keysSuffix, guildID)
}

func channelKeysSetKey(channelID string) string {
	return fmt.Sprintf("%s%s:%s", channelPrefix, keysSuffix, channelID)
}

func prefixKeysSetKey(prefix string) string {
	return prefix + keysSuffix
}

// keyParts splits a constructed key by ':' the way set/del do in the Rust
// source's get_keys helper.
func keyParts(key string) []string {
	parts := make([]string, 0, 4)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	return parts
}

// canonicalizeKey implements the channel-key dedup rule: writing
// channel:<guild>:<channel> is stored (and indexed) as channel:<channel>.
func canonicalizeKey(key string) (canonical string, parts []string) {
	parts = keyParts(key)
	if len(parts) > 2 && parts[0] == channelPrefix {
		return fmt.Sprintf("%s:%s", channelPrefix, parts[2]), parts
	}
	return key, parts
}
