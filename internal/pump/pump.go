// Package pump drains a cluster's decoded event stream: it feeds each
// dispatch into the cache projection under a deadline, logs shard lifecycle
// transitions (optionally to a Discord channel), paces
// REQUEST_GUILD_MEMBERS follow-ups after GUILD_CREATE, and republishes every
// dispatch payload onto the broker keyed by its event type. Grounded on
// original_source/src/handler.rs's outgoing().
package pump

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/TheRockettek/sandwich-dispatch/internal/broker"
	"github.com/TheRockettek/sandwich-dispatch/internal/cache"
	"github.com/TheRockettek/sandwich-dispatch/internal/discordrest"
	"github.com/TheRockettek/sandwich-dispatch/internal/gatewayio"
	"github.com/TheRockettek/sandwich-dispatch/internal/metrics"
)

// json aliases jsoniter the way Sandwich-Producer's gateway/consts.go does, rather
// than the stdlib encoding/json used for one-off RawMessage plumbing.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	colorConnect    = 0x55acee
	colorDisconnect = 0xf4900c
	colorReady      = 0x53d3a7
	colorResume     = 0x53d3a7
)

// ShardSender is the subset of *shard.Shard the pump needs to issue a
// follow-up command; kept as an interface to avoid an import cycle with
// internal/cluster.
type ShardSender interface {
	Send(op gatewayio.Op, data interface{}) error
}

// Locator resolves a shard ID to its live connection, or false if the
// cluster no longer owns it.
type Locator func(shardID int) (ShardSender, bool)

// Config bundles the pump's tunables.
type Config struct {
	CacheUpdateDeadline time.Duration
	MemberRequestDelay  time.Duration
	LogChannel          string
}

// Pump owns the member-request pacer goroutine and the main drain loop.
type Pump struct {
	cfg     Config
	cache   *cache.Cache
	broker  *broker.Broker
	rest    *discordrest.Client
	locate  Locator
	log     zerolog.Logger
}

type memberRequest struct {
	guildID string
	shardID int
}

// New builds a Pump. rest may be nil to disable Discord lifecycle logging.
func New(cfg Config, c *cache.Cache, b *broker.Broker, rest *discordrest.Client, locate Locator, log zerolog.Logger) *Pump {
	return &Pump{cfg: cfg, cache: c, broker: b, rest: rest, locate: locate, log: log}
}

// Run drains events until the channel closes or ctx ends.
func (p *Pump) Run(ctx context.Context, events <-chan gatewayio.Event) {
	requests := make(chan memberRequest, 10000)
	go p.runMemberRequestPacer(ctx, requests)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.handle(ctx, ev, requests)
		}
	}
}

// runMemberRequestPacer sends one REQUEST_GUILD_MEMBERS per tick, matching
// handler.rs's interval.tick() pacer with MissedTickBehavior::Delay — a
// burst of GUILD_CREATEs is smoothed out rather than replayed instantly.
func (p *Pump) runMemberRequestPacer(ctx context.Context, requests <-chan memberRequest) {
	delay := p.cfg.MemberRequestDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-requests:
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
			sender, ok := p.locate(req.shardID)
			if !ok {
				continue
			}
			if err := sender.Send(gatewayio.OpRequestGuildMembers, gatewayio.RequestGuildMembers{GuildID: req.guildID}); err != nil {
				p.log.Warn().Int("shard", req.shardID).Str("guild", req.guildID).Err(err).Msg("failed to request members")
			}
		}
	}
}

func (p *Pump) handle(ctx context.Context, ev gatewayio.Event, requests chan<- memberRequest) {
	if ev.Kind == gatewayio.KindShardPayload {
		p.updateCache(ctx, ev)
	} else {
		metrics.ShardEvents.WithLabelValues(ev.Kind.String()).Inc()
	}

	switch ev.Kind {
	case gatewayio.KindGatewayHello:
		p.log.Info().Int("shard", ev.ShardID).Dur("heartbeat", ev.HeartbeatInterval).Msg("hello")

	case gatewayio.KindGatewayInvalidateSession:
		p.log.Info().Int("shard", ev.ShardID).Bool("resumable", ev.InvalidateResumable).Msg("invalid session")

	case gatewayio.KindReady:
		p.log.Info().Int("shard", ev.ShardID).Msg("ready")
		p.logDiscord(ctx, colorReady, fmt.Sprintf("[Shard %d] Ready", ev.ShardID))

	case gatewayio.KindResumed:
		p.log.Info().Int("shard", ev.ShardID).Msg("resumed")
		p.logDiscord(ctx, colorResume, fmt.Sprintf("[Shard %d] Resumed", ev.ShardID))

	case gatewayio.KindShardConnected:
		p.log.Info().Int("shard", ev.ShardID).Msg("connected")
		p.logDiscord(ctx, colorConnect, fmt.Sprintf("[Shard %d] Connected", ev.ShardID))

	case gatewayio.KindShardConnecting:
		p.log.Info().Int("shard", ev.ShardID).Msg("connecting")

	case gatewayio.KindShardDisconnected:
		p.log.Info().Int("shard", ev.ShardID).Int("code", ev.DisconnectCode).Msg("disconnected")
		p.logDiscord(ctx, colorDisconnect, fmt.Sprintf("[Shard %d] Disconnected", ev.ShardID))

	case gatewayio.KindShardIdentifying:
		p.log.Info().Int("shard", ev.ShardID).Msg("identifying")

	case gatewayio.KindShardReconnecting:
		p.log.Info().Int("shard", ev.ShardID).Msg("reconnecting")

	case gatewayio.KindShardResuming:
		p.log.Info().Int("shard", ev.ShardID).Msg("resuming")

	case gatewayio.KindShardPayload:
		p.requestMembersOnGuildCreate(ev, requests)
		p.publish(ev)
	}
}

// guildCreateID pulls the id field off a decoded GUILD_CREATE payload — the
// part requestMembersOnGuildCreate needs without decoding the whole guild.
type guildCreateID struct {
	ID string `json:"id"`
}

// requestMembersOnGuildCreate feeds the member-request pacer on every real
// per-guild GUILD_CREATE dispatch, matching handler.rs's
// "Event::GuildCreate(e) => tx.send((e.id, shard))" — not READY's guild-stub
// list, which fires once per shard rather than once per guild.
func (p *Pump) requestMembersOnGuildCreate(ev gatewayio.Event, requests chan<- memberRequest) {
	var payload gatewayio.Payload
	if err := json.Unmarshal(ev.RawPayload, &payload); err != nil || payload.Type != "GUILD_CREATE" {
		return
	}
	var guild guildCreateID
	if err := json.Unmarshal(payload.Data, &guild); err != nil || guild.ID == "" {
		return
	}
	requests <- memberRequest{guildID: guild.ID, shardID: ev.ShardID}
}

func (p *Pump) updateCache(ctx context.Context, ev gatewayio.Event) {
	var payload gatewayio.Payload
	if err := json.Unmarshal(ev.RawPayload, &payload); err != nil || payload.Type == "" {
		return
	}

	deadline := p.cfg.CacheUpdateDeadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := p.cache.Update(cctx, payload.Type, payload.Data); err != nil {
		if cctx.Err() != nil {
			p.log.Warn().Int("shard", ev.ShardID).Str("type", payload.Type).Msg("timed out updating cache state")
		} else {
			p.log.Warn().Int("shard", ev.ShardID).Str("type", payload.Type).Err(err).Msg("failed to update cache state")
		}
	}
}

func (p *Pump) publish(ev gatewayio.Event) {
	var payload gatewayio.Payload
	if err := json.Unmarshal(ev.RawPayload, &payload); err != nil || payload.Type == "" {
		return
	}

	metrics.GatewayEvents.WithLabelValues(payload.Type, fmt.Sprint(ev.ShardID)).Inc()

	if err := p.broker.Publish(payload.Type, ev.RawPayload); err != nil {
		p.log.Warn().Int("shard", ev.ShardID).Str("type", payload.Type).Err(err).Msg("failed to publish event")
	}
}

func (p *Pump) logDiscord(ctx context.Context, color int, message string) {
	if p.rest == nil || p.cfg.LogChannel == "" {
		return
	}
	go func() {
		if err := p.rest.PostEmbed(ctx, p.cfg.LogChannel, discordrest.Embed{Description: message, Color: color}); err != nil {
			p.log.Warn().Err(err).Msg("failed to post lifecycle embed")
		}
	}()
}
