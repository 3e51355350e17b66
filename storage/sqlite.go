package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"prism-board/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS board_slots (
	user_id    TEXT    NOT NULL,
	slot       TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, slot)
);
CREATE TABLE IF NOT EXISTS board_events (
	id          TEXT    PRIMARY KEY,
	user_id     TEXT    NOT NULL,
	entity_id   TEXT    NOT NULL,
	entity_type TEXT    NOT NULL,
	type        TEXT    NOT NULL,
	data        TEXT,
	time        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_board_events_user ON board_events(user_id, time);
`

// SQLite keeps board sessions in a local database file. Published events are
// appended to an outbox table.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" gives
// a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) LoadBoard(ctx context.Context, userID string) (domain.Snapshot, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slot, value FROM board_slots WHERE user_id = ?`, userID)
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	slots := map[string][]byte{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return domain.Snapshot{}, false, err
		}
		slots[name] = []byte(value)
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, false, err
	}
	return decodeSlots(slots)
}

func (s *SQLite) SaveBoard(ctx context.Context, userID string, snap domain.Snapshot) error {
	slots, err := encodeSlots(snap)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := s.now().UnixMilli()
	for _, name := range slotNames {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO board_slots (user_id, slot, value, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, slot) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			userID, name, string(slots[name]), ts)
		if err != nil {
			return fmt.Errorf("save slot %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) PublishEvents(ctx context.Context, userID string, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ev := range events {
		if ev.UserID == "" {
			ev.UserID = userID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO board_events (id, user_id, entity_id, entity_type, type, data, time)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.UserID, ev.EntityID, ev.EntityType, ev.Type, string(ev.Data), ev.Time)
		if err != nil {
			return fmt.Errorf("append event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}
