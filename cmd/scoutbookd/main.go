package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freeeve/scoutbook/internal/eco"
	"github.com/freeeve/scoutbook/internal/httpapi"
	"github.com/freeeve/scoutbook/internal/jobs"
	"github.com/freeeve/scoutbook/internal/logx"
	"github.com/freeeve/scoutbook/internal/query"
	"github.com/freeeve/scoutbook/internal/source"
	"github.com/freeeve/scoutbook/internal/store"
	"github.com/freeeve/scoutbook/internal/supervisor"
)

func main() {
	defaultToken := os.Getenv("SCOUTBOOK_TOKEN")

	var (
		// Data
		dbPath = flag.String("db", "./data/scoutbook.db", "SQLite database path")
		ecoDir = flag.String("eco-dir", "./data/eco", "Directory containing ECO .tsv files")

		// Server
		addr = flag.String("addr", ":8017", "listen address")

		// Remote source
		sourceURL = flag.String("source", "https://lichess.org", "game history source base URL")
		platform  = flag.String("platform", "lichess", "platform label stored with imported games")
		token     = flag.String("token", defaultToken, "source API token (or SCOUTBOOK_TOKEN)")
		user      = flag.String("user", "local", "local user owning imports")

		// Supervisor
		tick    = flag.Duration("tick", 5*time.Second, "supervisor poll interval")
		noSuper = flag.Bool("no-supervisor", false, "disable the background import supervisor")

		// Query cache
		cacheSize = flag.Int("cache-size", 256, "query cache entries")
		cacheTTL  = flag.Duration("cache-ttl", 60*time.Second, "query cache entry lifetime")

		logLevel = flag.String("log-level", "info", "log level (trace..error)")
	)
	flag.Parse()

	logger := logx.NewLogger(*logLevel)

	st, err := store.Open(*dbPath, logger.With().Str("component", "store").Logger())
	if err != nil {
		if errors.Is(err, store.ErrSchemaMigration) {
			logger.Fatal().Err(err).Str("db", *dbPath).
				Msg("database was written by an incompatible version; move it aside and reimport")
		}
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()
	logger.Info().Str("db", *dbPath).Msg("opened store")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load ECO opening database
	var ecoDB *eco.Database
	if *ecoDir != "" {
		ecoDB = eco.NewDatabase()
		if err := ecoDB.LoadDir(*ecoDir); err != nil {
			logger.Warn().Err(err).Str("dir", *ecoDir).Msg("failed to load ECO database")
			ecoDB = nil
		} else {
			logger.Info().Int("openings", ecoDB.Count()).Msg("ECO database loaded")
		}
	}

	src := source.NewClient(*sourceURL, *token, logger.With().Str("component", "source").Logger())
	machine := jobs.NewMachine(jobs.Config{}, st, src, ecoDB, logger.With().Str("component", "jobs").Logger())

	var sup *supervisor.Supervisor
	if !*noSuper {
		sup = supervisor.New(supervisor.Config{
			User:     *user,
			Interval: *tick,
			Logger:   logger.With().Str("component", "supervisor").Logger(),
		}, st, machine)
		go func() {
			if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("supervisor stopped")
			}
		}()
		logger.Info().Dur("tick", *tick).Msg("started supervisor")
	}

	qs := query.NewService(st, query.NewCache(*cacheSize, *cacheTTL), logger.With().Str("component", "query").Logger())

	srv := httpapi.Server(*addr, httpapi.NewRouter(logger, *user, *platform, machine, st, qs, sup))
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("api server")
		}
	}()

	// Opportunistic rating refresh for every known opponent, once at boot.
	go func() {
		jobList, err := st.ListJobs(ctx, *user)
		if err != nil {
			return
		}
		var names []string
		for _, j := range jobList {
			if j.TargetType == store.TargetOpponent {
				names = append(names, j.Username)
			}
		}
		if len(names) > 0 {
			_ = supervisor.RefreshRatings(ctx, src, st, *platform, names,
				logger.With().Str("component", "ratings").Logger())
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}
	logger.Info().Msg("shutdown complete")
}
