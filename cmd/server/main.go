package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eshcamp/esh/internal/board"
	"github.com/eshcamp/esh/internal/config"
	"github.com/eshcamp/esh/internal/dbconfig"
	"github.com/eshcamp/esh/internal/events"
	"github.com/eshcamp/esh/internal/gateway"
	"github.com/eshcamp/esh/internal/httpapi"
	"github.com/eshcamp/esh/internal/ledger"
	"github.com/eshcamp/esh/internal/relay"
	"github.com/eshcamp/esh/internal/timer"
	"github.com/eshcamp/esh/internal/wallet"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := ledger.Open(ctx, dbconfig.NewConfigFromEnv().DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := ledger.RunMigrations(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	store := ledger.NewPostgresStore(db)
	if err := store.BootstrapAdmin(ctx, cfg.Admin.Key, cfg.Admin.Balance); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap admin user")
	}

	clock := clockwork.NewRealClock()
	hub := gateway.NewHub(gateway.DefaultConfig())

	var broadcaster events.Broadcaster = hub
	if cfg.RelayEnabled() {
		relayCfg := relay.DefaultConfig()
		relayCfg.URL = cfg.NATS.URL
		relayCfg.Subject = cfg.NATS.Subject
		r, err := relay.New(hub, relayCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start event relay")
		}
		defer r.Close()
		broadcaster = r
	}

	countdown := timer.New(clock, broadcaster)
	go countdown.Run(ctx)

	pinboard := board.New(broadcaster)
	walletSvc := wallet.NewService(store, broadcaster)
	wsHandler := gateway.NewHandler(hub, store, pinboard, countdown, wallet.LeaderboardSize)
	auth := httpapi.NewAuthenticator(store, clock)
	api := httpapi.New(store, walletSvc, countdown, pinboard, wsHandler, broadcaster, auth, cfg.Frontend.URL)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: c.Handler(api.Routes()),
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
