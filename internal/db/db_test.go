package db

import (
	"database/sql"
	"encoding/json"
	"os"
	"testing"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB(t.TempDir() + "/nested/test.db")
	if err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitSchema(t *testing.T) {
	db := testDB(t)

	tables := map[string]bool{}
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('events','users')`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		tables[name] = true
	}

	for _, want := range []string{"events", "users"} {
		if !tables[want] {
			t.Errorf("table %q not created", want)
		}
	}

	// Idempotent.
	if err := InitSchema(db); err != nil {
		t.Fatalf("second InitSchema: %v", err)
	}
}

func TestLogEvent_Basic(t *testing.T) {
	db := testDB(t)

	id1, err := LogEvent(db, nil, EventProcessStarted, map[string]any{"role": "bot", "pid": 123})
	if err != nil {
		t.Fatal(err)
	}
	if id1 <= 0 {
		t.Errorf("expected positive id, got %d", id1)
	}

	id2, err := LogEvent(db, nil, EventUpdateHandled, map[string]any{"update_id": 456})
	if err != nil {
		t.Fatal(err)
	}
	if id2 <= id1 {
		t.Errorf("expected id2 > id1, got %d <= %d", id2, id1)
	}

	var ts int64
	if err := db.QueryRow(`SELECT timestamp FROM events WHERE id = ?`, id1).Scan(&ts); err != nil {
		t.Fatal(err)
	}
	if ts == 0 {
		t.Error("expected non-zero timestamp")
	}

	var payloadStr string
	if err := db.QueryRow(`SELECT payload FROM events WHERE id = ?`, id1).Scan(&payloadStr); err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
		t.Fatalf("invalid payload JSON: %v", err)
	}
	if payload["role"] != "bot" {
		t.Errorf("expected role=bot, got %v", payload["role"])
	}
}

func TestLogEvent_WithParent(t *testing.T) {
	db := testDB(t)

	parentID, err := LogEvent(db, nil, EventSessionStarted, map[string]any{"seq": 1})
	if err != nil {
		t.Fatal(err)
	}
	childID, err := LogEvent(db, &parentID, EventUpdateHandled, map[string]any{"update_id": 7})
	if err != nil {
		t.Fatal(err)
	}

	var storedParent int64
	if err := db.QueryRow(`SELECT parent_id FROM events WHERE id = ?`, childID).Scan(&storedParent); err != nil {
		t.Fatal(err)
	}
	if storedParent != parentID {
		t.Errorf("expected parent_id=%d, got %d", parentID, storedParent)
	}

	var nullParent sql.NullInt64
	if err := db.QueryRow(`SELECT parent_id FROM events WHERE id = ?`, parentID).Scan(&nullParent); err != nil {
		t.Fatal(err)
	}
	if nullParent.Valid {
		t.Errorf("expected NULL parent_id for root event, got %d", nullParent.Int64)
	}
}

func TestLogEvent_NilPayload(t *testing.T) {
	db := testDB(t)

	id, err := LogEvent(db, nil, EventSessionEnded, nil)
	if err != nil {
		t.Fatal(err)
	}

	var payload sql.NullString
	if err := db.QueryRow(`SELECT payload FROM events WHERE id = ?`, id).Scan(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Valid {
		t.Errorf("expected NULL payload, got %q", payload.String)
	}
}

func TestOpenReadOnly(t *testing.T) {
	path := t.TempDir() + "/ro.db"
	rw, err := OpenDB(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(rw); err != nil {
		t.Fatal(err)
	}
	if _, err := LogEvent(rw, nil, EventProcessStarted, nil); err != nil {
		t.Fatal(err)
	}
	rw.Close()

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()

	if _, err := LatestProcessRoot(ro); err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, err := LogEvent(ro, nil, EventProcessStarted, nil); err == nil {
		t.Fatal("expected write to read-only db to fail")
	}
}

func TestOpenReadOnly_MissingFile(t *testing.T) {
	path := t.TempDir() + "/typo.db"
	if ro, err := OpenReadOnly(path); err == nil {
		ro.Close()
		t.Fatal("expected error for missing database")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("read-only open must not create the file, stat err=%v", err)
	}
}
