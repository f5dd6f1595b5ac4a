package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Game is one persisted raw game record. Moves holds the uncompressed move
// text; it is stored zstd-compressed.
type Game struct {
	Platform    string `json:"platform"`
	ID          string `json:"id"`
	White       string `json:"white"`
	Black       string `json:"black"`
	WhiteRating int    `json:"white_rating,omitempty"`
	BlackRating int    `json:"black_rating,omitempty"`
	Winner      string `json:"winner,omitempty"` // "white", "black", "" = draw
	Speed       string `json:"speed,omitempty"`
	Rated       bool   `json:"rated"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	LastMoveAt  int64  `json:"last_move_at,omitempty"`
	Moves       string `json:"-"`
	ECO         string `json:"eco,omitempty"`
	Opening     string `json:"opening,omitempty"`
	Trace       string `json:"-"` // JSON opening trace, first N plies
}

// InsertGames upserts games keyed by (platform, game_id), silently ignoring
// duplicates. Returns the number of newly inserted rows.
func (s *Store) InsertGames(ctx context.Context, games []Game) (int, error) {
	if len(games) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO games
			(platform, game_id, white, black, white_rating, black_rating,
			 winner, speed, rated, created_at, last_move_at, moves, eco, opening, trace)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, g := range games {
		compressed := s.encoder.EncodeAll([]byte(g.Moves), nil)
		res, err := stmt.ExecContext(ctx,
			g.Platform, g.ID, g.White, g.Black, g.WhiteRating, g.BlackRating,
			g.Winner, g.Speed, boolInt(g.Rated), g.CreatedAt, g.LastMoveAt,
			compressed, g.ECO, g.Opening, g.Trace)
		if err != nil {
			return 0, fmt.Errorf("insert game %s/%s: %w", g.Platform, g.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.writes.Add(uint64(inserted))
	return inserted, nil
}

// UpdateGameOpening stamps a game's ECO classification and opening trace.
func (s *Store) UpdateGameOpening(ctx context.Context, platform, id, eco, opening, trace string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE games SET eco = ?, opening = ?, trace = ? WHERE platform = ? AND game_id = ?`,
		eco, opening, trace, platform, id)
	return err
}

// GetGame loads one game, decompressing its move text.
func (s *Store) GetGame(ctx context.Context, platform, id string) (*Game, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT platform, game_id, white, black, white_rating, black_rating,
		       winner, speed, rated, created_at, last_move_at, moves, eco, opening, trace
		FROM games WHERE platform = ? AND game_id = ?`, platform, id)
	g, err := scanGame(row, s)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.reads.Add(1)
	return g, nil
}

// CountGamesFor counts persisted games in which the named player took part.
func (s *Store) CountGamesFor(ctx context.Context, platform, username string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM games
		WHERE platform = ? AND (white = ? COLLATE NOCASE OR black = ? COLLATE NOCASE)`,
		platform, username, username).Scan(&n)
	return n, err
}

// GamesNeedingIndex returns up to limit persisted games for the named player
// that have not yet been event-indexed for the user, newest first.
func (s *Store) GamesNeedingIndex(ctx context.Context, user, platform, username string, limit int) ([]Game, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.platform, g.game_id, g.white, g.black, g.white_rating, g.black_rating,
		       g.winner, g.speed, g.rated, g.created_at, g.last_move_at, g.moves, g.eco, g.opening, g.trace
		FROM games g
		WHERE g.platform = ?
		  AND (g.white = ? COLLATE NOCASE OR g.black = ? COLLATE NOCASE)
		  AND NOT EXISTS (
			SELECT 1 FROM game_index gi
			WHERE gi.user = ? AND gi.platform = g.platform AND gi.game_id = g.game_id)
		ORDER BY g.last_move_at DESC
		LIMIT ?`,
		platform, username, username, user, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		g, err := scanGame(rows, s)
		if err != nil {
			return nil, err
		}
		games = append(games, *g)
	}
	s.reads.Add(uint64(len(games)))
	return games, rows.Err()
}

// MarkIndexed records that games have been event-indexed for the user.
func (s *Store) MarkIndexed(ctx context.Context, user, platform string, gameIDs []string) error {
	if len(gameIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO game_index (user, platform, game_id) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range gameIDs {
		if _, err := stmt.ExecContext(ctx, user, platform, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountIndexed counts games already event-indexed for the user and player.
func (s *Store) CountIndexed(ctx context.Context, user, platform, username string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM game_index gi
		JOIN games g ON g.platform = gi.platform AND g.game_id = gi.game_id
		WHERE gi.user = ? AND gi.platform = ?
		  AND (g.white = ? COLLATE NOCASE OR g.black = ? COLLATE NOCASE)`,
		user, platform, username, username).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dst ...any) error
}

func scanGame(row rowScanner, s *Store) (*Game, error) {
	var g Game
	var rated int
	var moves []byte
	if err := row.Scan(&g.Platform, &g.ID, &g.White, &g.Black,
		&g.WhiteRating, &g.BlackRating, &g.Winner, &g.Speed, &rated,
		&g.CreatedAt, &g.LastMoveAt, &moves, &g.ECO, &g.Opening, &g.Trace); err != nil {
		return nil, err
	}
	g.Rated = rated != 0
	if len(moves) > 0 {
		raw, err := s.decoder.DecodeAll(moves, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress moves for %s/%s: %w", g.Platform, g.ID, err)
		}
		g.Moves = string(raw)
	}
	return &g, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
