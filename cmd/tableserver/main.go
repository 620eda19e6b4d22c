// Command tableserver is the process entry point: it wires the
// Redis-backed store, the optional Postgres ledger, the round and
// table engines, the background ticker, and the WebSocket/HTTP
// surface, then serves until terminated.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/swarm-blackjack/table-server/internal/config"
	"github.com/swarm-blackjack/table-server/internal/eventstream"
	"github.com/swarm-blackjack/table-server/internal/ledger"
	"github.com/swarm-blackjack/table-server/internal/logging"
	"github.com/swarm-blackjack/table-server/internal/round"
	"github.com/swarm-blackjack/table-server/internal/store"
	"github.com/swarm-blackjack/table-server/internal/table"
	"github.com/swarm-blackjack/table-server/internal/tablelock"
	"github.com/swarm-blackjack/table-server/internal/ticker"
	"github.com/swarm-blackjack/table-server/internal/wsconn"
)

func main() {
	cfg := config.Load()
	log := logging.Init(cfg.LogLevel, cfg.LogPretty)

	rdb := connectRedis(cfg.RedisURL, log)
	defer rdb.Close()

	s := store.New(rdb)
	locker := tablelock.New(rdb)
	stream := eventstream.New(rdb)

	var led *ledger.Ledger
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		l, err := ledger.Open(ctx, cfg.DatabaseURL, log)
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("ledger unavailable, round audit trail disabled")
		} else {
			migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := l.Migrate(migrateCtx); err != nil {
				log.Error().Err(err).Msg("ledger migration failed, round audit trail disabled")
				l.Close()
			} else {
				led = l
			}
			migrateCancel()
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, round audit trail disabled")
	}
	if led != nil {
		defer led.Close()
	}

	roundEngine := round.New(s, locker, cfg, log, led)
	tableEngine := table.New(s, locker, cfg, log)
	hub := wsconn.NewHub(log)

	tk := ticker.New(s, stream, hub, roundEngine, tableEngine, log)
	tickerCtx, stopTicker := context.WithCancel(context.Background())
	defer stopTicker()
	go tk.Run(tickerCtx)

	srv := newServer(cfg, log, s, stream, hub, roundEngine, tableEngine, led)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("tableserver listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")

	stopTicker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// connectRedis retries the connection until Redis answers, matching
// this service's other dependency-wait idiom (see internal/ledger's
// waitReady) rather than failing fast on a container still starting.
func connectRedis(addr string, log zerolog.Logger) *redis.Client {
	var rdb *redis.Client
	for attempt := 1; attempt <= 10; attempt++ {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err == nil {
			log.Info().Str("addr", addr).Msg("redis connected")
			return rdb
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("redis not ready, retrying")
		rdb.Close()
		time.Sleep(2 * time.Second)
	}
	log.Fatal().Str("addr", addr).Msg("redis unavailable after retries")
	return nil
}
