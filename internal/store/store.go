// Package store persists games, per-ply move events, aggregation graph
// nodes, and import job state in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a key is not found in the store.
var ErrNotFound = errors.New("not found")

// ErrSchemaMigration is returned when the on-disk schema does not match what
// this build expects. Callers surface it as a distinct migration-required
// condition, never as a generic failure.
var ErrSchemaMigration = errors.New("schema migration required")

// schemaVersion is stamped into PRAGMA user_version.
const schemaVersion = 1

// Store is the persisted keyed store. Raw game records are the source of
// truth; move events and graph nodes are derived, reconstructible state.
type Store struct {
	db      *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	log     zerolog.Logger

	reads  atomic.Uint64
	writes atomic.Uint64
}

// Open opens (creating if needed) a store at path. A database written by an
// incompatible schema version yields ErrSchemaMigration.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, encoder: encoder, decoder: decoder, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	switch version {
	case 0:
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return err
		}
	case schemaVersion:
		if err := s.checkColumns(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("user_version %d: %w", version, ErrSchemaMigration)
	}
	return nil
}

// requiredColumns lists columns whose absence indicates schema drift.
var requiredColumns = map[string][]string{
	"games":       {"platform", "game_id", "white", "black", "winner", "speed", "rated", "moves", "eco", "trace"},
	"move_events": {"user", "platform", "game_id", "ply", "position_key", "uci", "mover_is_subject", "outcome"},
	"graph_nodes": {"user", "platform", "username", "filter_key", "position_key", "node"},
	"import_jobs": {"id", "user", "platform", "target_type", "username", "status", "stage", "cursor", "ready", "last_error"},
}

func (s *Store) checkColumns() error {
	for table, cols := range requiredColumns {
		rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
		if err != nil {
			return err
		}
		present := make(map[string]bool)
		for rows.Next() {
			var cid int
			var name, ctype string
			var notnull, pk int
			var dflt sql.NullString
			if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
				rows.Close()
				return err
			}
			present[name] = true
		}
		rows.Close()
		for _, col := range cols {
			if !present[col] {
				return fmt.Errorf("table %s missing column %s: %w", table, col, ErrSchemaMigration)
			}
		}
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

// Stats holds row counts for the status/debug surface.
type Stats struct {
	Games       int64  `json:"games"`
	MoveEvents  int64  `json:"move_events"`
	GraphNodes  int64  `json:"graph_nodes"`
	ImportJobs  int64  `json:"import_jobs"`
	TotalReads  uint64 `json:"total_reads"`
	TotalWrites uint64 `json:"total_writes"`
}

// Stats counts rows across the main tables.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		TotalReads:  s.reads.Load(),
		TotalWrites: s.writes.Load(),
	}
	counts := []struct {
		table string
		dst   *int64
	}{
		{"games", &st.Games},
		{"move_events", &st.MoveEvents},
		{"graph_nodes", &st.GraphNodes},
		{"import_jobs", &st.ImportJobs},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return st, err
		}
	}
	return st, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS games (
	platform     TEXT NOT NULL,
	game_id      TEXT NOT NULL,
	white        TEXT NOT NULL DEFAULT '',
	black        TEXT NOT NULL DEFAULT '',
	white_rating INTEGER NOT NULL DEFAULT 0,
	black_rating INTEGER NOT NULL DEFAULT 0,
	winner       TEXT NOT NULL DEFAULT '',
	speed        TEXT NOT NULL DEFAULT '',
	rated        INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL DEFAULT 0,
	last_move_at INTEGER NOT NULL DEFAULT 0,
	moves        BLOB,
	eco          TEXT NOT NULL DEFAULT '',
	opening      TEXT NOT NULL DEFAULT '',
	trace        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (platform, game_id)
);
CREATE INDEX IF NOT EXISTS idx_games_players ON games(platform, white, black);
CREATE INDEX IF NOT EXISTS idx_games_last_move ON games(platform, last_move_at);

CREATE TABLE IF NOT EXISTS game_index (
	user     TEXT NOT NULL,
	platform TEXT NOT NULL,
	game_id  TEXT NOT NULL,
	PRIMARY KEY (user, platform, game_id)
);

CREATE TABLE IF NOT EXISTS move_events (
	user             TEXT NOT NULL,
	platform         TEXT NOT NULL,
	game_id          TEXT NOT NULL,
	ply              INTEGER NOT NULL,
	username         TEXT NOT NULL DEFAULT '',
	position_key     TEXT NOT NULL,
	uci              TEXT NOT NULL,
	san              TEXT NOT NULL DEFAULT '',
	mover_is_subject INTEGER NOT NULL,
	outcome          INTEGER NOT NULL,
	speed            TEXT NOT NULL DEFAULT '',
	rated            INTEGER NOT NULL DEFAULT 0,
	played_at        INTEGER NOT NULL DEFAULT 0,
	other_rating     INTEGER NOT NULL DEFAULT 0,
	eco              TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (user, platform, game_id, ply)
);
CREATE INDEX IF NOT EXISTS idx_move_events_position
	ON move_events(user, platform, username, position_key);

CREATE TABLE IF NOT EXISTS graph_nodes (
	user         TEXT NOT NULL,
	platform     TEXT NOT NULL,
	username     TEXT NOT NULL,
	filter_key   TEXT NOT NULL,
	position_key TEXT NOT NULL,
	node         TEXT NOT NULL,
	updated_at   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user, platform, username, filter_key, position_key)
);

CREATE TABLE IF NOT EXISTS rating_snapshots (
	platform   TEXT NOT NULL,
	username   TEXT NOT NULL,
	speed      TEXT NOT NULL,
	rating     INTEGER NOT NULL,
	fetched_at INTEGER NOT NULL,
	PRIMARY KEY (platform, username, speed)
);

CREATE TABLE IF NOT EXISTS import_jobs (
	id             TEXT NOT NULL,
	user           TEXT NOT NULL,
	platform       TEXT NOT NULL,
	target_type    TEXT NOT NULL,
	username       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'idle',
	stage          TEXT NOT NULL DEFAULT 'indexing',
	cursor         INTEGER NOT NULL DEFAULT 0,
	imported_count INTEGER NOT NULL DEFAULT 0,
	indexed_count  INTEGER NOT NULL DEFAULT 0,
	ready          INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT NOT NULL DEFAULT '',
	updated_at     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user, platform, target_type, username)
);
`
