// Command watch follows one change topic through the configured realtime
// transport and keeps a local replica of the table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lead-ledger/config"
	"lead-ledger/internal/adapter/realtime/redisstream"
	"lead-ledger/internal/adapter/realtime/supabase"
	redisStorage "lead-ledger/internal/adapter/storage/redis"
	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"
	"lead-ledger/internal/realtime"
	"lead-ledger/pkg/logger"
)

func main() {
	topic := flag.String("topic", domain.TableLeadRequests, "table to follow: wallets|transactions|lead_requests")
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component(logger.New(cfg.Log.Level, cfg.Log.Pretty), "watch")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var stream ports.ChangeStream
	switch cfg.Realtime.Transport {
	case config.TransportRedis:
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		stream = redisstream.New(rdb, cfg.Realtime.ChannelPrefix, log, redisstream.WithPingInterval(cfg.Realtime.PingInterval))
	case config.TransportSupabase:
		stream, err = supabase.New(cfg.Realtime.Supabase, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure Supabase realtime")
		}
	default:
		log.Fatal().Str("transport", cfg.Realtime.Transport).Msg("Nothing to watch")
	}

	layer := realtime.NewLayer(stream, realtime.OptionsFromConfig(cfg.Realtime), log, nil)
	defer layer.Close()

	replica := realtime.NewReplica(*topic)
	apply := replica.Handler()

	_, err = layer.Subscribe(*topic, func(event domain.ChangeEvent) {
		apply(event)
		log.Info().
			Str("operation", string(event.Operation)).
			Str("id", event.RecordID()).
			Int("rows", replica.Len()).
			Msg("change")
	}, realtime.WithErrorHandler(func(topic string, err error) {
		log.Error().Err(err).Str("topic", topic).Msg("subscription lost")
		stop()
	}))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe")
	}

	<-ctx.Done()
	log.Info().Int("rows", replica.Len()).Msg("watch stopped")
}
