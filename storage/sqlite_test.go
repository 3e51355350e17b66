package storage

import (
	"context"
	"path/filepath"
	"testing"

	"prism-board/domain"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteLoadWithoutStateSeedsDefault(t *testing.T) {
	db := openTestSQLite(t)

	snap, found, err := db.LoadBoard(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatalf("expected no saved state")
	}
	if len(snap.Columns) != 4 || len(snap.Tasks) != 0 {
		t.Fatalf("expected default board, got %+v", snap)
	}
}

func TestSQLiteSaveOverwritesSlots(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()

	first := sampleSnapshot()
	if err := db.SaveBoard(ctx, "u1", first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := sampleSnapshot()
	second.Tasks = second.Tasks[:1]
	second.ActiveTaskID = ""
	if err := db.SaveBoard(ctx, "u1", second); err != nil {
		t.Fatalf("second save: %v", err)
	}

	var rows int
	if err := db.db.QueryRow(`SELECT COUNT(*) FROM board_slots WHERE user_id = ?`, "u1").Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != len(slotNames) {
		t.Fatalf("expected %d slot rows, got %d", len(slotNames), rows)
	}

	snap, found, err := db.LoadBoard(ctx, "u1")
	if err != nil || !found {
		t.Fatalf("load: %v, found=%v", err, found)
	}
	if len(snap.Tasks) != 1 || snap.ActiveTaskID != "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if err := domain.CheckPositions(snap.Tasks); err != nil {
		t.Fatalf("positions: %v", err)
	}

	other, found, err := db.LoadBoard(ctx, "u2")
	if err != nil || found || len(other.Tasks) != 0 {
		t.Fatalf("sessions must not leak: %+v, %v, %v", other, found, err)
	}
}

func TestSQLitePublishAppendsToOutbox(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	events := []domain.Event{
		{ID: "e1", EntityID: "task-1", EntityType: "task", Type: domain.TaskCreated, Data: []byte(`{"id":"task-1"}`), Time: 1},
		{ID: "e2", EntityID: "task-1", EntityType: "task", Type: domain.TaskMoved, Time: 2},
	}

	if err := db.PublishEvents(ctx, "u1", events); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Re-publishing the same ids is ignored.
	if err := db.PublishEvents(ctx, "u1", events[:1]); err != nil {
		t.Fatalf("republish: %v", err)
	}

	rows, err := db.db.Query(`SELECT id, user_id, type FROM board_events ORDER BY time`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	var got []string
	for rows.Next() {
		var id, user, typ string
		if err := rows.Scan(&id, &user, &typ); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if user != "u1" {
			t.Fatalf("unexpected user %q", user)
		}
		got = append(got, id+":"+typ)
	}
	if len(got) != 2 || got[0] != "e1:task-created" || got[1] != "e2:task-moved" {
		t.Fatalf("unexpected outbox %v", got)
	}
}
