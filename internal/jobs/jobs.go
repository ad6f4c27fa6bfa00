// Package jobs runs the two periodic background loops every gateway process
// keeps running alongside its shards: dumping shard status/session state to
// Redis, and sampling Prometheus gauges. Grounded on
// original_source/src/cache.rs's run_jobs (status/session dump) and
// original_source/src/metrics.rs's run_jobs (gauge sampling).
package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheRockettek/sandwich-dispatch/internal/cache"
	"github.com/TheRockettek/sandwich-dispatch/internal/metrics"
)

// ShardSnapshot is one shard's point-in-time state, sourced from
// *shard.Shard without importing internal/shard to avoid a cycle (jobs runs
// above cluster in the wiring, but cluster also depends on shard).
type ShardSnapshot struct {
	ShardID   int
	Stage     string
	LatencyMS int64
	LastAck   time.Time
	SessionID string
	Sequence  int64
}

// Source reports the current snapshot of every shard one cluster owns.
type Source func() []ShardSnapshot

// RunStatusDump periodically writes gateway_statuses and gateway_sessions,
// sorted by shard ID like cache.rs's run_jobs does.
func RunStatusDump(ctx context.Context, c *cache.Cache, sources []Source, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshots := collect(sources)

			statuses := make([]cache.StatusInfo, 0, len(snapshots))
			sessions := make(map[string]cache.SessionInfo, len(snapshots))
			for _, s := range snapshots {
				statuses = append(statuses, cache.StatusInfo{
					Shard:     s.ShardID,
					Status:    s.Stage,
					LatencyMS: s.LatencyMS,
					LastAck:   s.LastAck.UTC().Format(time.RFC3339),
				})
				sessions[fmt.Sprint(s.ShardID)] = cache.SessionInfo{SessionID: s.SessionID, Sequence: s.Sequence}
			}
			sort.Slice(statuses, func(i, j int) bool { return statuses[i].Shard < statuses[j].Shard })

			if err := c.DumpStatuses(ctx, statuses); err != nil {
				log.Warn().Err(err).Msg("failed to dump gateway statuses")
			}
			if err := c.DumpSessions(ctx, sessions); err != nil {
				log.Warn().Err(err).Msg("failed to dump gateway sessions")
			}
		}
	}
}

// RunMetricsSampler periodically refreshes the Prometheus gauges from live
// shard state and cache entity counts.
func RunMetricsSampler(ctx context.Context, c *cache.Cache, sources []Source, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshots := collect(sources)

			metrics.GatewayShards.Set(float64(len(snapshots)))

			byStage := map[string]int{"connected": 0, "disconnected": 0, "connecting": 0, "identifying": 0, "resuming": 0, "reconnecting": 0}
			for _, s := range snapshots {
				byStage[s.Stage]++
				metrics.GatewayLatencies.WithLabelValues(fmt.Sprint(s.ShardID)).Set(float64(s.LatencyMS))
			}
			for stage, count := range byStage {
				metrics.GatewayStatuses.WithLabelValues(stage).Set(float64(count))
			}

			guilds, channels, roles, members, err := c.Stats(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("failed to sample cache stats")
				continue
			}
			metrics.StateGuilds.Set(float64(guilds))
			metrics.StateChannels.Set(float64(channels))
			metrics.StateRoles.Set(float64(roles))
			metrics.StateMembers.Set(float64(members))
		}
	}
}

func collect(sources []Source) []ShardSnapshot {
	var all []ShardSnapshot
	for _, src := range sources {
		all = append(all, src()...)
	}
	return all
}
