package importer

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/scoutbook/internal/eco"
	"github.com/freeeve/scoutbook/internal/graph"
	"github.com/freeeve/scoutbook/internal/source"
	"github.com/freeeve/scoutbook/internal/store"
)

// LineSource delivers a remote history one record line at a time.
// source.Stream implements it; tests feed synthetic slices.
type LineSource interface {
	Next(ctx context.Context) ([]byte, error) // io.EOF at end of history
	BytesRead() int64
	Close() error
}

// Message is one worker-to-consumer message. Progress and Flush may
// interleave; Done is always last, after which the channel is closed.
type Message interface{ isMessage() }

// Progress is a lightweight status update, independent of flush cadence.
type Progress struct {
	Games  int64
	Bytes  int64
	Status string
}

// Flush carries all currently-dirty aggregates and buffered move events.
// Consumers apply it with idempotent/merging upserts.
type Flush struct {
	Nodes  []graph.NodeDelta
	Events []store.MoveEvent
}

// Done carries final counts. It is emitted exactly once, after the final
// drain, even when the worker was stopped or hit a stream error.
type Done struct {
	Games    int64
	Bytes    int64
	NewestMs int64 // newest game timestamp observed; next incremental sync bound
	Err      error
}

func (Progress) isMessage() {}
func (Flush) isMessage()    {}
func (Done) isMessage()     {}

// Config configures a streaming import worker.
type Config struct {
	User     string
	Platform string
	Username string // the studied player

	FlushEvery       int           // flush every N games (default 50)
	FlushMinInterval time.Duration // wall-clock floor between flushes (default 500ms)
	ProgressEvery    int           // progress message every N games (default 200)
	TraceLen         int           // opening trace plies stored per game (default 24)

	Eco    *eco.Database // optional
	Logger zerolog.Logger
}

func (c *Config) defaults() {
	if c.FlushEvery == 0 {
		c.FlushEvery = 50
	}
	if c.FlushMinInterval == 0 {
		c.FlushMinInterval = 500 * time.Millisecond
	}
	if c.ProgressEvery == 0 {
		c.ProgressEvery = 200
	}
	if c.TraceLen == 0 {
		c.TraceLen = 24
	}
}

// Worker consumes one line-delimited game stream and emits
// Progress/Flush/Done messages. One worker serves one job at a time; it is
// single-threaded and owns its aggregator exclusively.
type Worker struct {
	cfg Config
	log zerolog.Logger
}

// NewWorker creates a streaming import worker.
func NewWorker(cfg Config) *Worker {
	cfg.defaults()
	return &Worker{cfg: cfg, log: cfg.Logger}
}

// Run consumes the source until exhaustion, cancellation, or a stream error,
// then drains every dirty aggregate and buffered event before emitting Done
// and closing out. The consumer must keep receiving until the channel
// closes; no buffered data is dropped on stop.
func (w *Worker) Run(ctx context.Context, src LineSource, out chan<- Message) {
	defer close(out)
	defer src.Close()

	agg := graph.NewAggregator()
	var events []store.MoveEvent

	var games, skipped int64
	var newestMs int64
	var streamErr error
	lastFlush := time.Now()

	for {
		// Cooperative stop, checked once per decoded line.
		if ctx.Err() != nil {
			w.log.Info().Int64("games", games).Msg("stop requested, draining")
			break
		}

		line, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			streamErr = err
			w.log.Warn().Err(err).Msg("stream read failed, draining what we have")
			break
		}

		rec, err := source.ParseGame(line)
		if err != nil {
			w.log.Warn().Err(err).Msg("skipping malformed game record")
			skipped++
			continue
		}

		ig, ok := IndexGame(InputFromRecord(rec), w.cfg.Username, w.cfg.Eco, w.cfg.TraceLen)
		if !ok {
			skipped++
			continue
		}
		for _, f := range ig.Facts() {
			agg.Record(ig.FilterKeys, f)
		}
		events = append(events, ig.Events(w.cfg.User, w.cfg.Platform, w.cfg.Username)...)

		if ts := ig.Input.PlayedAtMs; ts > newestMs {
			newestMs = ts
		}
		games++

		if games%int64(w.cfg.FlushEvery) == 0 && time.Since(lastFlush) >= w.cfg.FlushMinInterval {
			out <- Flush{Nodes: agg.Drain(), Events: events}
			events = nil
			lastFlush = time.Now()
		}
		if games%int64(w.cfg.ProgressEvery) == 0 {
			out <- Progress{Games: games, Bytes: src.BytesRead(), Status: "running"}
		}
	}

	// Final exhaustive flush: keep emitting until nothing is dirty and no
	// events remain buffered.
	for agg.DirtyCount() > 0 || len(events) > 0 {
		out <- Flush{Nodes: agg.Drain(), Events: events}
		events = nil
	}

	w.log.Info().
		Int64("games", games).
		Int64("skipped", skipped).
		Int64("bytes", src.BytesRead()).
		Msg("stream import finished")

	out <- Done{Games: games, Bytes: src.BytesRead(), NewestMs: newestMs, Err: streamErr}
}
