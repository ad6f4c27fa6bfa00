// Package cluster supervises the slice of shards one process owns: it
// partitions the bot's total shard count across clusters, spins up a Shard
// per owned ID, and fans their decoded events into one channel. Grounded on
// Sandwich-Producer's gateway/manager.go (Configuration/Manager shape) and
// gateway/shard_group.go (per-shard goroutine + WaitGroup startup), with the
// shard-range math replaced by original_source/src/utils.rs's
// get_clusters, which is remainder-aware where Sandwich-Producer's
// CreateShardIDs was not.
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheRockettek/sandwich-dispatch/internal/admission"
	"github.com/TheRockettek/sandwich-dispatch/internal/discordrest"
	"github.com/TheRockettek/sandwich-dispatch/internal/gatewayio"
	"github.com/TheRockettek/sandwich-dispatch/internal/jobs"
	"github.com/TheRockettek/sandwich-dispatch/internal/shard"
)

// Partition returns the inclusive [start, end] shard ID range owned by
// clusterID out of clusterCount clusters sharing shardsTotal shards. The
// first (shardsTotal % clusterCount) clusters get one extra shard, matching
// get_clusters's base/extra split rather than Sandwich-Producer's plain division.
func Partition(shardsTotal, clusterCount, clusterID int) (start, end int) {
	if clusterCount <= 1 {
		return 0, shardsTotal - 1
	}

	base := shardsTotal / clusterCount
	extra := shardsTotal % clusterCount

	if clusterID < extra {
		start = clusterID * (base + 1)
		end = start + base
	} else {
		start = extra*(base+1) + (clusterID-extra)*base
		end = start + base - 1
	}
	return start, end
}

// Config is everything a Cluster needs to bring up its owned shards.
type Config struct {
	Token          string
	ShardsTotal    int
	ShardStart     int
	ShardEnd       int
	Concurrency    int
	IdentifyWait   int // milliseconds between identifies within a bucket
	Intents        int
	LargeThreshold int
	MaxHeartbeatMissed int
	Presence       *gatewayio.UpdateStatusData

	// Resume maps shard ID to a previously persisted session, read from
	// gateway_sessions when gateway_shards matched the configured total and
	// resume is enabled. A shard with no entry here always starts fresh.
	Resume map[int]gatewayio.ResumeSession
}

// Cluster owns a contiguous range of a bot's shards.
type Cluster struct {
	cfg    Config
	rest   *discordrest.Client
	queue  admission.Queue
	log    zerolog.Logger

	Events chan gatewayio.Event

	mu     sync.Mutex
	shards map[int]*shard.Shard
}

// New builds a Cluster. The admission queue is shared across every shard the
// cluster owns so identify pacing is enforced cluster-wide.
func New(cfg Config, rest *discordrest.Client, log zerolog.Logger) *Cluster {
	waitMS := cfg.IdentifyWait
	if waitMS <= 0 {
		waitMS = 5000
	}
	queue := admission.NewConcurrentQueue(max(cfg.Concurrency, 1), time.Duration(waitMS)*time.Millisecond, log)

	return &Cluster{
		cfg:    cfg,
		rest:   rest,
		queue:  queue,
		log:    log,
		Events: make(chan gatewayio.Event, 256),
		shards: make(map[int]*shard.Shard),
	}
}

// Run resolves the gateway URL and starts every shard in [ShardStart, ShardEnd].
// It returns once ctx is cancelled and every shard has exited; a shard that
// exits on its own does not end Run.
func (c *Cluster) Run(ctx context.Context) error {
	bot, err := c.rest.GatewayBot(ctx)
	if err != nil {
		return fmt.Errorf("cluster: resolve gateway: %w", err)
	}

	var wg sync.WaitGroup
	for id := c.cfg.ShardStart; id <= c.cfg.ShardEnd; id++ {
		shardCfg := shard.Config{
			Token:              c.cfg.Token,
			ShardID:            id,
			ShardCount:         c.cfg.ShardsTotal,
			Intents:            c.cfg.Intents,
			LargeThreshold:     c.cfg.LargeThreshold,
			MaxHeartbeatMissed: c.cfg.MaxHeartbeatMissed,
			Presence:           c.cfg.Presence,
		}
		if resume, ok := c.cfg.Resume[id]; ok {
			shardCfg.Resume = resume
		}
		s := shard.New(shardCfg, c.queue, c.log)

		c.mu.Lock()
		c.shards[id] = s
		c.mu.Unlock()

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.forward(ctx, s)
		}(id)

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := s.Run(ctx, bot.URL); err != nil && ctx.Err() == nil {
				c.log.Error().Int("shard", id).Err(err).Msg("shard exited")
			}
		}(id)
	}

	wg.Wait()
	c.queue.Close()
	return ctx.Err()
}

// forward copies one shard's events onto the cluster-wide fan-in channel
// until the shard's own channel is closed or ctx ends.
func (c *Cluster) forward(ctx context.Context, s *shard.Shard) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.Events:
			if !ok {
				return
			}
			select {
			case c.Events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Shard returns the shard owning shardID, if this cluster holds it — used by
// the command router to dispatch a send/reconnect command to the right
// connection.
func (c *Cluster) Shard(shardID int) (*shard.Shard, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.shards[shardID]
	return s, ok
}

// Owns reports whether shardID falls in this cluster's partition.
func (c *Cluster) Owns(shardID int) bool {
	return shardID >= c.cfg.ShardStart && shardID <= c.cfg.ShardEnd
}

// Snapshot reports every owned shard's current status, feeding the jobs
// package's status-dump and metrics-sampler loops.
func (c *Cluster) Snapshot() []jobs.ShardSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshots := make([]jobs.ShardSnapshot, 0, len(c.shards))
	for id, s := range c.shards {
		status := s.Status()
		sessionID, sequence := s.Session()
		snapshots = append(snapshots, jobs.ShardSnapshot{
			ShardID:   id,
			Stage:     status.Stage,
			LatencyMS: status.LatencyMS,
			LastAck:   status.LastAck,
			SessionID: sessionID,
			Sequence:  sequence,
		})
	}
	return snapshots
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
