package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Journal on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS arena_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			area_id INTEGER NOT NULL,
			character_id INTEGER NOT NULL DEFAULT 0,
			player_id INTEGER NOT NULL DEFAULT 0,
			effect_id INTEGER NOT NULL DEFAULT 0,
			origin TEXT NOT NULL,
			impact TEXT NOT NULL,
			at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_arena_events_kind ON arena_events(kind, id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Record inserts an event.
func (s *SQLiteStore) Record(ctx context.Context, e Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	origin, err := json.Marshal(e.Origin)
	if err != nil {
		return err
	}
	impact, err := json.Marshal(e.Impact)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO arena_events (kind, area_id, character_id, player_id, effect_id, origin, impact, at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind), int64(e.AreaID), int64(e.CharacterID), int64(e.PlayerID), int64(e.EffectID),
		string(origin), string(impact), at.UnixMilli())
	return err
}

// Recent returns the newest events.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, area_id, character_id, player_id, effect_id, origin, impact, at_ms
		 FROM arena_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                                   Event
			kind, origin, impact                string
			areaID, characterID, playerID, fxID int64
			atMS                                int64
		)
		if err := rows.Scan(&e.ID, &kind, &areaID, &characterID, &playerID, &fxID, &origin, &impact, &atMS); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(origin), &e.Origin); err != nil {
			return nil, fmt.Errorf("event %d origin: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(impact), &e.Impact); err != nil {
			return nil, fmt.Errorf("event %d impact: %w", e.ID, err)
		}
		e.Kind = EventKind(kind)
		e.AreaID = uint64(areaID)
		e.CharacterID = uint64(characterID)
		e.PlayerID = uint64(playerID)
		e.EffectID = uint64(fxID)
		e.At = time.UnixMilli(atMS)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
