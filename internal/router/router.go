// Package router consumes the gateway.send queue and dispatches each
// command to the shard that owns it: Send decodes the command's op and d
// fields and writes them to the shard, Reconnect shuts the shard down so it
// reconnects.
// Grounded on original_source/src/handler.rs's incoming().
package router

import (
	encjson "encoding/json"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/TheRockettek/sandwich-dispatch/internal/broker"
	"github.com/TheRockettek/sandwich-dispatch/internal/gatewayio"
)

// json aliases jsoniter the way Sandwich-Producer's gateway/consts.go does.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Shard is the subset of *shard.Shard the router needs.
type Shard interface {
	Send(op gatewayio.Op, data interface{}) error
	Shutdown()
}

// Locator resolves a shard ID across every cluster this process runs.
type Locator func(shardID int) (Shard, bool)

// Router wires a broker consumer to a shard locator.
type Router struct {
	locate Locator
	log    zerolog.Logger
}

// New builds a Router.
func New(locate Locator, log zerolog.Logger) *Router {
	return &Router{locate: locate, log: log}
}

// Start begins consuming gateway.send with the given consumer tag.
func (r *Router) Start(b *broker.Broker, consumerTag string) error {
	return b.Consume(consumerTag, r.handle)
}

func (r *Router) handle(body []byte) {
	var delivery gatewayio.DeliveryInfo
	if err := json.Unmarshal(body, &delivery); err != nil {
		r.log.Warn().Err(err).Msg("failed to deserialize delivery")
		return
	}

	shard, ok := r.locate(delivery.Shard)
	if !ok {
		r.log.Warn().Int("shard", delivery.Shard).Msg("delivery received for unowned shard")
		return
	}

	switch delivery.Op {
	case gatewayio.DeliveryOpSend:
		var op struct {
			Op   gatewayio.Op    `json:"op"`
			Data encjson.RawMessage `json:"d"`
		}
		if err := json.Unmarshal(delivery.Data, &op); err != nil {
			r.log.Warn().Err(err).Msg("failed to decode send command")
			return
		}
		if err := shard.Send(op.Op, op.Data); err != nil {
			r.log.Warn().Int("shard", delivery.Shard).Err(err).Msg("failed to send gateway command")
		}

	case gatewayio.DeliveryOpReconnect:
		r.log.Info().Int("shard", delivery.Shard).Msg("shutting down shard")
		shard.Shutdown()
	}
}
