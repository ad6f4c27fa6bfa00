// Package gatewayio defines the decoded representation of gateway traffic:
// the envelope every frame is unmarshaled into, the lifecycle event kinds a
// cluster's event stream yields, and the outbound commands a shard accepts.
// It plays the role Sandwich-Producer's events.go and the missing
// TheRockettek/Sandwich-Producer/events package play for the cluster
// revision, generalized to a broker-facing event-kind vocabulary.
package gatewayio

import (
	"encoding/json"
	"time"
)

// Op is a gateway opcode.
type Op int

const (
	OpDispatch            Op = 0
	OpHeartbeat           Op = 1
	OpIdentify            Op = 2
	OpPresenceUpdate      Op = 3
	OpVoiceStateUpdate    Op = 4
	OpResume              Op = 6
	OpReconnect           Op = 7
	OpRequestGuildMembers Op = 8
	OpInvalidSession      Op = 9
	OpHello               Op = 10
	OpHeartbeatAck        Op = 11
)

// Payload is the raw frame shape, decoded field-for-field. It is also the
// shape re-serialized onto the broker ("op, t, d").
type Payload struct {
	Op       Op              `json:"op"`
	Sequence int64           `json:"s,omitempty"`
	Type     string          `json:"t,omitempty"`
	Data     json.RawMessage `json:"d,omitempty"`
}

// Hello is the data of an Op 10 frame.
type Hello struct {
	HeartbeatIntervalMS int `json:"heartbeat_interval"`
}

// Identify is sent on Op 2.
type Identify struct {
	Token          string              `json:"token"`
	Properties     IdentifyProperties  `json:"properties"`
	Compress       bool                `json:"compress"`
	LargeThreshold int                 `json:"large_threshold"`
	Shard          [2]int              `json:"shard"`
	Presence       *UpdateStatusData   `json:"presence,omitempty"`
	Intents        int                 `json:"intents"`
	GuildSubs      bool                `json:"guild_subscriptions,omitempty"`
}

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

// Resume is sent on Op 6.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// UpdateStatusData is the bot's presence payload.
type UpdateStatusData struct {
	Since  *int64      `json:"since"`
	Game   *Activity   `json:"game,omitempty"`
	Status string      `json:"status"`
	AFK    bool        `json:"afk"`
}

// Activity describes a single presence activity entry.
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

// RequestGuildMembers is sent on Op 8.
type RequestGuildMembers struct {
	GuildID string `json:"guild_id"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
}

// ResumeSession is a previously persisted session the supervisor can hand a
// reconnecting shard to skip identify.
type ResumeSession struct {
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"sequence"`
}

// Kind enumerates the lifecycle/protocol events a cluster's event stream
// yields, mirroring twilight_gateway::Event's non-dispatch variants plus the
// raw payload passthrough.
type Kind int

const (
	KindGatewayHello Kind = iota
	KindGatewayReconnect
	KindGatewayInvalidateSession
	KindShardConnected
	KindShardConnecting
	KindShardDisconnected
	KindShardIdentifying
	KindShardReconnecting
	KindShardResuming
	KindReady
	KindResumed
	KindShardPayload
)

func (k Kind) String() string {
	switch k {
	case KindGatewayHello:
		return "GATEWAY_HELLO"
	case KindGatewayReconnect:
		return "GATEWAY_RECONNECT"
	case KindGatewayInvalidateSession:
		return "GATEWAY_INVALIDATE_SESSION"
	case KindShardConnected:
		return "SHARD_CONNECTED"
	case KindShardConnecting:
		return "SHARD_CONNECTING"
	case KindShardDisconnected:
		return "SHARD_DISCONNECTED"
	case KindShardIdentifying:
		return "SHARD_IDENTIFYING"
	case KindShardReconnecting:
		return "SHARD_RECONNECTING"
	case KindShardResuming:
		return "SHARD_RESUMING"
	case KindReady:
		return "READY"
	case KindResumed:
		return "RESUMED"
	case KindShardPayload:
		return "SHARD_PAYLOAD"
	default:
		return "UNKNOWN"
	}
}

// Event is one item off a cluster's event stream: (shard_id, decoded event).
type Event struct {
	ShardID int
	Kind    Kind

	// ReadyData is populated for KindReady.
	ReadyData *ReadyData
	// DisconnectCode, DisconnectReason are populated for KindShardDisconnected.
	DisconnectCode   int
	DisconnectReason string
	// InvalidateResumable is populated for KindGatewayInvalidateSession.
	InvalidateResumable bool
	// HeartbeatInterval is populated for KindGatewayHello.
	HeartbeatInterval time.Duration
	// RawPayload is populated for KindShardPayload: the decoded frame
	// re-encoded as JSON op/t/d, matching the Rust ShardPayload{bytes} variant.
	RawPayload []byte
}

// ReadyData mirrors the subset of the READY dispatch payload the cache
// projection and lifecycle logging need.
type ReadyData struct {
	SessionID string         `json:"session_id"`
	User      CachedBotUser  `json:"user"`
	Guilds    []Unavailable  `json:"guilds"`
}

// Unavailable is an unavailable-guild stub as seen in READY and
// UNAVAILABLE_GUILD.
type Unavailable struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// CachedBotUser is the bot's own user object from READY; internal/cache
// converts it to its single-letter User form before writing bot_user.
type CachedBotUser struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar,omitempty"`
	Bot           bool   `json:"bot"`
}
