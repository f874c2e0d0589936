package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"parley/internal/adapters/httpapi"
	"parley/internal/adapters/ws"
	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/presence"
	"parley/internal/state"
	"parley/internal/storage"
	"parley/internal/validate"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, err := storage.NewSQLiteStore(ctx, cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	defer store.Close()

	rdb := connectRedis(ctx, cfg.RedisURL)
	if rdb != nil {
		defer rdb.Close()
	}

	defaultRoom := domain.RoomName(cfg.DefaultRoom)
	hub := ws.NewHub()

	membership := state.NewMembership(rdb, defaultRoom)
	registry := state.NewRegistry(rdb, hub, defaultRoom, cfg.HeartbeatTTL)
	directory := state.NewDirectory(rdb, defaultRoom)

	validator := validate.TextValidator{}
	coord := presence.NewCoordinator(membership, registry, directory, store, hub, validator, defaultRoom, cfg.HistoryLimit)
	msgRouter := presence.NewMessageRouter(registry, coord, store, hub, validator)
	ctl := ws.NewController(hub, coord, msgRouter, cfg.HistoryLimit)

	r := httpapi.SetupRouter(ctx, cfg, store, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("default_room", cfg.DefaultRoom).Msg("Parley server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// connectRedis returns nil when no URL is configured or the server is
// unreachable; the state stores then run on their local maps alone.
func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		log.Info().Msg("redis not configured, running with in-memory state only")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("bad redis url, running with in-memory state only")
		return nil
	}
	rdb := redis.NewClient(opts)
	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, running with in-memory state only")
		_ = rdb.Close()
		return nil
	}
	log.Info().Msg("redis connected")
	return rdb
}
