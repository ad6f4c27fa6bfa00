// Command sandwich-dispatch runs one cluster's worth of Discord gateway
// shards, projects their dispatch traffic into Redis, and republishes every
// payload onto an AMQP broker. Wiring mirrors Sandwich-Producer's main.go (flags,
// zerolog console writer, signal-driven shutdown) generalized from a
// single-process multi-cluster loop to one cluster per process, horizontally
// scaled by CLUSTER_ID (see DESIGN.md).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TheRockettek/sandwich-dispatch/internal/broker"
	"github.com/TheRockettek/sandwich-dispatch/internal/cache"
	"github.com/TheRockettek/sandwich-dispatch/internal/cluster"
	"github.com/TheRockettek/sandwich-dispatch/internal/config"
	"github.com/TheRockettek/sandwich-dispatch/internal/discordrest"
	"github.com/TheRockettek/sandwich-dispatch/internal/gatewayio"
	"github.com/TheRockettek/sandwich-dispatch/internal/jobs"
	"github.com/TheRockettek/sandwich-dispatch/internal/metrics"
	"github.com/TheRockettek/sandwich-dispatch/internal/pump"
	"github.com/TheRockettek/sandwich-dispatch/internal/router"
)

var log = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.Stamp,
}).With().Timestamp().Logger()

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("sandwich-dispatch exited")
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.BotToken == "" {
		return fmt.Errorf("no token was provided")
	}

	if !cfg.HasExplicitShardRange() {
		cfg.ShardsStart, cfg.ShardsEnd = cluster.Partition(cfg.ShardsTotal, cfg.Clusters, cfg.ClusterID)
	}
	log.Info().Int("start", cfg.ShardsStart).Int("end", cfg.ShardsEnd).Int("total", cfg.ShardsTotal).Msg("owned shard range")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDatabase,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	memberTTL := time.Duration(cfg.StateMemberTTL) * time.Second
	if !cfg.StateMember {
		memberTTL = 0
	}
	c := cache.New(rdb, cfg.RedisPrefix, cfg.ExpiryMode, memberTTL, cfg.StateEnabled, cfg.StateMember, log)
	if err := c.MarkStarted(ctx); err != nil {
		return fmt.Errorf("mark started: %w", err)
	}

	// Resume lookup: only consider gateway_sessions if the previous
	// gateway_shards marker matches the shard count we're about to run,
	// otherwise a resize would hand stale sessions to the wrong shards.
	resume := map[int]gatewayio.ResumeSession{}
	if cfg.Resume {
		previousTotal, ok, err := c.ReadShardCount(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to read previous shard count, starting fresh")
		} else if ok && previousTotal == cfg.ShardsTotal {
			sessions, err := c.ReadSessions(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("failed to read previous sessions, starting fresh")
			} else {
				for shardID, info := range sessions {
					id, err := strconv.Atoi(shardID)
					if err != nil {
						continue
					}
					resume[id] = gatewayio.ResumeSession{SessionID: info.SessionID, Sequence: info.Sequence}
				}
				log.Info().Int("shards", len(resume)).Msg("resuming previous sessions")
			}
		}
	}
	if err := c.MarkShardCount(ctx, cfg.ShardsTotal); err != nil {
		return fmt.Errorf("mark shard count: %w", err)
	}

	b, err := broker.Dial(cfg.AMQPAddress)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer b.Close()

	rest := discordrest.NewClient(cfg.BotToken)

	var presence *gatewayio.UpdateStatusData
	if cfg.ActivityName != "" {
		presence = &gatewayio.UpdateStatusData{
			Status: cfg.Status,
			Game:   &gatewayio.Activity{Name: cfg.ActivityName, Type: cfg.ActivityType},
		}
	}

	cl := cluster.New(cluster.Config{
		Token:              cfg.BotToken,
		ShardsTotal:        cfg.ShardsTotal,
		ShardStart:         cfg.ShardsStart,
		ShardEnd:           cfg.ShardsEnd,
		Concurrency:        cfg.ShardsConcurrency,
		IdentifyWait:       cfg.ShardsWaitSeconds * 1000,
		Intents:            cfg.Intents,
		LargeThreshold:     cfg.LargeThreshold,
		MaxHeartbeatMissed: 5,
		Presence:           presence,
		Resume:             resume,
	}, rest, log)

	p := pump.New(pump.Config{
		CacheUpdateDeadline: time.Duration(cfg.CacheUpdateDeadlineMS) * time.Millisecond,
		MemberRequestDelay:  time.Duration(cfg.MemberRequestDelayMS) * time.Millisecond,
		LogChannel:          cfg.LogChannel,
	}, c, b, rest, func(shardID int) (pump.ShardSender, bool) { return cl.Shard(shardID) }, log)

	rt := router.New(func(shardID int) (router.Shard, bool) { return cl.Shard(shardID) }, log)
	if err := rt.Start(b, "sandwich-dispatch-"+uuid.NewString()); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	sources := []jobs.Source{cl.Snapshot}
	go jobs.RunStatusDump(ctx, c, sources, time.Duration(cfg.CacheDumpIntervalMS)*time.Millisecond, log)
	go jobs.RunMetricsSampler(ctx, c, sources, time.Duration(cfg.MetricsDumpIntervalMS)*time.Millisecond, log)

	debugMux := http.NewServeMux()
	debugMux.HandleFunc("/debug/guild/", func(w http.ResponseWriter, r *http.Request) {
		guildID := strings.TrimPrefix(r.URL.Path, "/debug/guild/")
		snapshot, err := c.DebugSnapshot(r.Context(), guildID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/msgpack")
		w.Write(snapshot)
	})

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.PrometheusHost, cfg.PrometheusPort)
		if err := metrics.Serve(addr, debugMux); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("metrics server exited")
		}
	}()

	go p.Run(ctx, cl.Events)

	runErrs := make(chan error, 1)
	go func() { runErrs <- cl.Run(ctx) }()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sc:
		log.Info().Msg("shutting down")
		cancel()
	case err := <-runErrs:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("cluster exited unexpectedly")
		}
	}

	return nil
}
