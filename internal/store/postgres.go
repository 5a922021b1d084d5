package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS arena_events (
    id BIGSERIAL PRIMARY KEY,
    kind TEXT NOT NULL,
    area_id BIGINT NOT NULL,
    character_id BIGINT NOT NULL DEFAULT 0,
    player_id BIGINT NOT NULL DEFAULT 0,
    effect_id BIGINT NOT NULL DEFAULT 0,
    origin DOUBLE PRECISION[] NOT NULL,
    impact DOUBLE PRECISION[] NOT NULL,
    at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_arena_events_at ON arena_events(at DESC);
`

// PostgresStore implements Journal using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and initializes the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Record inserts an event.
func (s *PostgresStore) Record(ctx context.Context, e Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO arena_events (kind, area_id, character_id, player_id, effect_id, origin, impact, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(e.Kind), int64(e.AreaID), int64(e.CharacterID), int64(e.PlayerID), int64(e.EffectID),
		e.Origin[:], e.Impact[:], at)
	return err
}

// Recent returns the newest events.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, area_id, character_id, player_id, effect_id, origin, impact, at
		 FROM arena_events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// Close releases database resources.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var (
		e                                   Event
		kind                                string
		areaID, characterID, playerID, fxID int64
		origin, impact                      []float64
	)
	err := row.Scan(&e.ID, &kind, &areaID, &characterID, &playerID, &fxID, &origin, &impact, &e.At)
	if err != nil {
		return nil, err
	}
	e.Kind = EventKind(kind)
	e.AreaID = uint64(areaID)
	e.CharacterID = uint64(characterID)
	e.PlayerID = uint64(playerID)
	e.EffectID = uint64(fxID)
	e.Origin = toVec(origin)
	e.Impact = toVec(impact)
	return &e, nil
}
