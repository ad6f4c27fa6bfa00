package router

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRockettek/sandwich-dispatch/internal/gatewayio"
)

type fakeShard struct {
	sent     []gatewayio.Op
	shutdown bool
}

func (f *fakeShard) Send(op gatewayio.Op, data interface{}) error {
	f.sent = append(f.sent, op)
	return nil
}

func (f *fakeShard) Shutdown() {
	f.shutdown = true
}

func TestHandleDispatchesSendToOwningShard(t *testing.T) {
	s := &fakeShard{}
	r := New(func(shardID int) (Shard, bool) {
		if shardID == 3 {
			return s, true
		}
		return nil, false
	}, zerolog.Nop())

	delivery := `{"op":0,"shard":3,"data":{"op":1,"d":null}}`
	r.handle([]byte(delivery))

	require.Len(t, s.sent, 1)
	assert.Equal(t, gatewayio.OpHeartbeat, s.sent[0])
	assert.False(t, s.shutdown)
}

func TestHandleDispatchesReconnectToOwningShard(t *testing.T) {
	s := &fakeShard{}
	r := New(func(shardID int) (Shard, bool) {
		return s, true
	}, zerolog.Nop())

	r.handle([]byte(`{"op":1,"shard":5}`))

	assert.True(t, s.shutdown)
	assert.Empty(t, s.sent)
}

func TestHandleDropsDeliveryForUnownedShard(t *testing.T) {
	called := false
	r := New(func(shardID int) (Shard, bool) {
		called = true
		return nil, false
	}, zerolog.Nop())

	r.handle([]byte(`{"op":1,"shard":99}`))

	assert.True(t, called, "locator should still be consulted for the shard id")
}

func TestHandleIgnoresMalformedDelivery(t *testing.T) {
	called := false
	r := New(func(shardID int) (Shard, bool) {
		called = true
		return nil, false
	}, zerolog.Nop())

	r.handle([]byte(`not json`))

	assert.False(t, called, "locator should never be consulted for an undecodable delivery")
}
