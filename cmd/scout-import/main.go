// scout-import streams one player's full history into the local database in
// a single run, without going through the job supervisor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freeeve/scoutbook/internal/eco"
	"github.com/freeeve/scoutbook/internal/importer"
	"github.com/freeeve/scoutbook/internal/logx"
	"github.com/freeeve/scoutbook/internal/source"
	"github.com/freeeve/scoutbook/internal/store"
)

func main() {
	var (
		dbPath    = flag.String("db", "./data/scoutbook.db", "SQLite database path")
		ecoDir    = flag.String("eco-dir", "./data/eco", "Directory containing ECO .tsv files")
		sourceURL = flag.String("source", "https://lichess.org", "game history source base URL")
		platform  = flag.String("platform", "lichess", "platform label stored with imported games")
		token     = flag.String("token", os.Getenv("SCOUTBOOK_TOKEN"), "source API token")
		user      = flag.String("user", "local", "local user owning the import")
		username  = flag.String("username", "", "player to import")
		sinceMs   = flag.Int64("since", 0, "history lower bound, unix millis (0 = everything)")
		untilMs   = flag.Int64("until", 0, "history upper bound, unix millis (0 = now)")
		maxGames  = flag.Int("max-games", 0, "maximum games to import (0 = unlimited)")
		logLevel  = flag.String("log-level", "info", "log level (trace..error)")
	)
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "Usage: scout-import --username <player> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logx.NewLogger(*logLevel)
	logger.Info().
		Str("username", *username).
		Str("db", *dbPath).
		Msg("starting stream import")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(*dbPath, logger.With().Str("component", "store").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	var ecoDB *eco.Database
	if *ecoDir != "" {
		ecoDB = eco.NewDatabase()
		if err := ecoDB.LoadDir(*ecoDir); err != nil {
			logger.Warn().Err(err).Str("dir", *ecoDir).Msg("failed to load ECO database")
			ecoDB = nil
		}
	}

	src := source.NewClient(*sourceURL, *token, logger.With().Str("component", "source").Logger())
	stream, err := src.Stream(ctx, source.Query{
		Username: *username,
		SinceMs:  *sinceMs,
		UntilMs:  *untilMs,
		Max:      *maxGames,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("open history stream")
	}

	worker := importer.NewWorker(importer.Config{
		User:     *user,
		Platform: *platform,
		Username: *username,
		Eco:      ecoDB,
		Logger:   logger.With().Str("component", "worker").Logger(),
	})
	applier := importer.NewApplier(st, *user, *platform, *username,
		logger.With().Str("component", "applier").Logger())

	start := time.Now()
	msgs := make(chan importer.Message, 8)
	go worker.Run(ctx, stream, msgs)

	done, err := applier.Drain(ctx, msgs)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error().Err(err).
			Int64("games", done.Games).
			Dur("elapsed", elapsed).
			Msg("import finished with errors")
		os.Exit(1)
	}
	logger.Info().
		Int64("games", done.Games).
		Int64("bytes", done.Bytes).
		Int64("newest_ms", done.NewestMs).
		Dur("elapsed", elapsed).
		Float64("games_per_sec", float64(done.Games)/elapsed.Seconds()).
		Msg("import complete")
}
