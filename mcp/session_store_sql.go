// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver, for migrate only
)

//go:embed session_store_sql_migrations
var sqlMigrationsFS embed.FS

// SQLSessionStore is the distributed SessionStore backend (spec §4.A
// "distributed SQL"), suitable for multiple server instances sharing one
// Postgres database. The per-session monotonic counter is advanced with a
// single atomic `UPDATE ... SET next_event_id = next_event_id + 1 ...
// RETURNING`, never a read-then-write round trip, so concurrent StoreEvent
// calls from different instances still produce strictly increasing,
// non-colliding ids (spec §9's distributed-counter design note).
type SQLSessionStore struct {
	pool *pgxpool.Pool
}

// NewSQLSessionStore connects to dsn, applies embedded migrations, and
// returns a ready SQLSessionStore.
func NewSQLSessionStore(ctx context.Context, dsn string) (*SQLSessionStore, error) {
	if err := runSQLMigrations(dsn); err != nil {
		return nil, fmt.Errorf("mcp: running postgres migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("mcp: connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("mcp: pinging postgres: %w", err)
	}
	return &SQLSessionStore{pool: pool}, nil
}

// runSQLMigrations applies embedded migrations through golang-migrate over
// a dedicated database/sql connection, matching the pattern this repo's
// other SQL-backed services use: migrations run once at startup through
// database/sql, ordinary traffic runs through the pgxpool pool.
func runSQLMigrations(dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer sqlDB.Close()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migration driver: %w", err)
	}
	sourceDriver, err := iofs.New(sqlMigrationsFS, "session_store_sql_migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func (s *SQLSessionStore) CreateSession(ctx context.Context, caps json.RawMessage) (*SessionRecord, error) {
	return s.CreateSessionWithID(ctx, newSessionID(), caps)
}

func (s *SQLSessionStore) CreateSessionWithID(ctx context.Context, id string, caps json.RawMessage) (*SessionRecord, error) {
	now := nowMillis()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, server_capabilities, created_at, last_activity) VALUES ($1, $2, $3, $4)`,
		id, nullableRaw(caps), now, now)
	if err != nil {
		return nil, newStoreErr(ErrBackend, id, err)
	}
	return &SessionRecord{
		ID:                 id,
		ServerCapabilities: caps,
		State:              make(map[string]json.RawMessage),
		Metadata:           make(map[string]json.RawMessage),
		CreatedAt:          now,
		LastActivity:       now,
	}, nil
}

func (s *SQLSessionStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, client_capabilities, server_capabilities, state, metadata, created_at, last_activity, is_initialized FROM sessions WHERE id = $1`, id)
	return scanPgxSessionRow(row, id)
}

func scanPgxSessionRow(row pgx.Row, id string) (*SessionRecord, error) {
	var clientCaps, serverCaps []byte
	var stateJSON, metaJSON []byte
	rec := &SessionRecord{ID: id}
	if err := row.Scan(&rec.ID, &clientCaps, &serverCaps, &stateJSON, &metaJSON, &rec.CreatedAt, &rec.LastActivity, &rec.IsInitialized); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newStoreErr(ErrSessionNotFound, id, nil)
		}
		return nil, newStoreErr(ErrBackend, id, err)
	}
	if clientCaps != nil {
		rec.ClientCapabilities = json.RawMessage(clientCaps)
	}
	if serverCaps != nil {
		rec.ServerCapabilities = json.RawMessage(serverCaps)
	}
	rec.State = make(map[string]json.RawMessage)
	rec.Metadata = make(map[string]json.RawMessage)
	if len(stateJSON) > 0 {
		if err := json.Unmarshal(stateJSON, &rec.State); err != nil {
			return nil, newStoreErr(ErrSerialization, id, err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
			return nil, newStoreErr(ErrSerialization, id, err)
		}
	}
	return rec, nil
}

func (s *SQLSessionStore) UpdateSession(ctx context.Context, rec *SessionRecord) error {
	stateJSON, err := json.Marshal(rec.State)
	if err != nil {
		return newStoreErr(ErrSerialization, rec.ID, err)
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return newStoreErr(ErrSerialization, rec.ID, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET client_capabilities=$1, server_capabilities=$2, state=$3, metadata=$4, last_activity=$5, is_initialized=$6 WHERE id=$7`,
		nullableRaw(rec.ClientCapabilities), nullableRaw(rec.ServerCapabilities), stateJSON, metaJSON, rec.LastActivity, rec.IsInitialized, rec.ID)
	if err != nil {
		return newStoreErr(ErrBackend, rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return newStoreErr(ErrSessionNotFound, rec.ID, nil)
	}
	return nil
}

func (s *SQLSessionStore) SetSessionState(ctx context.Context, id, key string, value json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET state = jsonb_set(state, $1, $2::jsonb, true) WHERE id = $3`,
		pgTextArray(key), string(value), id)
	if err != nil {
		return newStoreErr(ErrBackend, id, err)
	}
	if tag.RowsAffected() == 0 {
		return newStoreErr(ErrSessionNotFound, id, nil)
	}
	return nil
}

func (s *SQLSessionStore) GetSessionState(ctx context.Context, id, key string) (json.RawMessage, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT state -> $1 FROM sessions WHERE id = $2`, key, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newStoreErr(ErrSessionNotFound, id, nil)
		}
		return nil, newStoreErr(ErrBackend, id, err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

func (s *SQLSessionStore) RemoveSessionState(ctx context.Context, id, key string) (json.RawMessage, error) {
	prev, err := s.GetSessionState(ctx, id, key)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx, `UPDATE sessions SET state = state - $1 WHERE id = $2`, key, id)
	if err != nil {
		return nil, newStoreErr(ErrBackend, id, err)
	}
	return prev, nil
}

func (s *SQLSessionStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, newStoreErr(ErrBackend, id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *SQLSessionStore) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM sessions`)
	if err != nil {
		return nil, newStoreErr(ErrBackend, "", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, newStoreErr(ErrBackend, "", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StoreEvent assigns the next event id via a single atomic UPDATE ...
// RETURNING, never a separate read followed by a write (spec §9).
func (s *SQLSessionStore) StoreEvent(ctx context.Context, sessionID string, e Event) (Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Event{}, newStoreErr(ErrBackend, sessionID, err)
	}
	defer tx.Rollback(ctx)

	var nextID int64
	err = tx.QueryRow(ctx,
		`UPDATE sessions SET next_event_id = next_event_id + 1 WHERE id = $1 RETURNING next_event_id`,
		sessionID).Scan(&nextID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, newStoreErr(ErrSessionNotFound, sessionID, nil)
		}
		return Event{}, newStoreErr(ErrBackend, sessionID, err)
	}

	e.ID = nextID
	e.Timestamp = nowMillis()
	_, err = tx.Exec(ctx,
		`INSERT INTO events (session_id, event_id, timestamp, event_type, data, retry) VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID, e.ID, e.Timestamp, e.EventType, []byte(e.Data), e.Retry)
	if err != nil {
		return Event{}, newStoreErr(ErrBackend, sessionID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Event{}, newStoreErr(ErrBackend, sessionID, err)
	}
	return e, nil
}

func (s *SQLSessionStore) GetEventsAfter(ctx context.Context, sessionID string, afterID int64) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, timestamp, event_type, data, retry FROM events WHERE session_id = $1 AND event_id > $2 ORDER BY event_id ASC`,
		sessionID, afterID)
	if err != nil {
		return nil, newStoreErr(ErrBackend, sessionID, err)
	}
	defer rows.Close()
	return scanPgxEventRows(rows, sessionID)
}

func (s *SQLSessionStore) GetRecentEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, timestamp, event_type, data, retry FROM events WHERE session_id = $1 ORDER BY event_id DESC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, newStoreErr(ErrBackend, sessionID, err)
	}
	defer rows.Close()
	out, err := scanPgxEventRows(rows, sessionID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanPgxEventRows(rows pgx.Rows, sessionID string) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &data, &e.Retry); err != nil {
			return nil, newStoreErr(ErrBackend, sessionID, err)
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLSessionStore) DeleteEventsBefore(ctx context.Context, sessionID string, beforeID int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE session_id = $1 AND event_id < $2`, sessionID, beforeID)
	if err != nil {
		return 0, newStoreErr(ErrBackend, sessionID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *SQLSessionStore) ExpireSessions(ctx context.Context, olderThan int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `DELETE FROM sessions WHERE last_activity < $1 RETURNING id`, olderThan)
	if err != nil {
		return nil, newStoreErr(ErrBackend, "", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, newStoreErr(ErrBackend, "", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLSessionStore) SessionCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, newStoreErr(ErrBackend, "", err)
	}
	return n, nil
}

func (s *SQLSessionStore) EventCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, newStoreErr(ErrBackend, "", err)
	}
	return n, nil
}

func (s *SQLSessionStore) Close() error {
	s.pool.Close()
	return nil
}

func pgTextArray(key string) string {
	return "{" + key + "}"
}

var _ SessionStore = (*SQLSessionStore)(nil)
