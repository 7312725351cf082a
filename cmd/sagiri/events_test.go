package main

import (
	"bytes"
	"database/sql"
	"os"
	"strings"
	"testing"

	"github.com/PoiScript/sagiri/internal/db"
)

// testDB creates a temporary SQLite database with schema initialized.
func testDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := t.TempDir() + "/test.db"
	database, err := db.OpenDB(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InitSchema(database); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	return database, path
}

// seedRunTree inserts the events of one run and returns the root id.
//
//	process.started              id=1
//	├── session.started          id=2
//	│   ├── update.handled       id=3
//	│   ├── update.failed        id=4
//	│   └── session.ended        id=5
//	├── restart.scheduled        id=6
//	└── session.started          id=7
//	    └── update.handled       id=8
func seedRunTree(t *testing.T, database *sql.DB) int64 {
	t.Helper()

	rootID, _ := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{"pid": 100, "source": "dummy"})
	s1, _ := db.LogEvent(database, &rootID, db.EventSessionStarted, map[string]any{"session_id": "a", "seq": 1})
	db.LogEvent(database, &s1, db.EventUpdateHandled, map[string]any{"update_id": 10, "kind": "message"})
	db.LogEvent(database, &s1, db.EventUpdateFailed, map[string]any{"update_id": 11, "error": strings.Repeat("x", 100)})
	db.LogEvent(database, &s1, db.EventSessionEnded, map[string]any{"handled": 1, "failed": 1})
	db.LogEvent(database, &rootID, db.EventRestartScheduled, map[string]any{"delay_ms": 1000})
	s2, _ := db.LogEvent(database, &rootID, db.EventSessionStarted, map[string]any{"session_id": "b", "seq": 2})
	db.LogEvent(database, &s2, db.EventUpdateHandled, map[string]any{"update_id": 12, "kind": "callback_query"})

	return rootID
}

func loadTree(t *testing.T, database *sql.DB, rootID int64) *db.Event {
	t.Helper()
	events, err := db.QuerySubtree(database, rootID)
	if err != nil {
		t.Fatal(err)
	}
	root := db.BuildTree(events, rootID)
	if root == nil {
		t.Fatal("root is nil")
	}
	return root
}

func TestFormatEvent(t *testing.T) {
	ev := &db.Event{
		ID:        42,
		Timestamp: 1739781001,
		EventType: "update.handled",
		Payload:   sql.NullString{String: `{"update_id":123,"kind":"message"}`, Valid: true},
	}

	line := formatEvent(ev, false)
	for _, want := range []string{"[42]", "2025-02-17 08:30:01", "update.handled", "kind=message", "update_id=123"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in output: %s", want, line)
		}
	}
	if strings.Index(line, "kind=") > strings.Index(line, "update_id=") {
		t.Errorf("expected sorted keys: %s", line)
	}
}

func TestFormatEvent_NoPayload(t *testing.T) {
	ev := &db.Event{
		ID:        42,
		Timestamp: 1739781001,
		EventType: "update.handled",
		Payload:   sql.NullString{String: `{"update_id":123}`, Valid: true},
	}

	if line := formatEvent(ev, true); strings.Contains(line, "update_id") {
		t.Errorf("expected no payload in output: %s", line)
	}
}

func TestFormatEvent_NullPayload(t *testing.T) {
	ev := &db.Event{ID: 1, Timestamp: 1739781001, EventType: "session.ended"}
	if line := formatEvent(ev, false); !strings.HasSuffix(line, "session.ended") {
		t.Errorf("unexpected line: %s", line)
	}
}

func TestFormatValue(t *testing.T) {
	if v := formatValue(strings.Repeat("a", 100)); !strings.Contains(v, "...") {
		t.Errorf("expected truncation: %s", v)
	}
	if v := formatValue(float64(42)); v != "42" {
		t.Errorf("expected 42, got %s", v)
	}
	if v := formatValue(1.5); v != "1.5" {
		t.Errorf("expected 1.5, got %s", v)
	}
	if v := formatValue(true); v != "true" {
		t.Errorf("expected true, got %s", v)
	}
}

func TestPrintTree_Full(t *testing.T) {
	database, _ := testDB(t)
	root := loadTree(t, database, seedRunTree(t, database))

	var buf bytes.Buffer
	printTree(&buf, root, "", true, 1, 0, false)
	output := buf.String()

	for _, want := range []string{
		"process.started", "session.started", "update.handled",
		"update.failed", "session.ended", "restart.scheduled",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
	if !strings.Contains(output, "├── ") || !strings.Contains(output, "│   ") {
		t.Errorf("expected tree characters in output:\n%s", output)
	}
	if lines := strings.Split(strings.TrimSpace(output), "\n"); len(lines) != 8 {
		t.Errorf("expected 8 lines, got %d:\n%s", len(lines), output)
	}
}

func TestPrintTree_DepthLimit(t *testing.T) {
	database, _ := testDB(t)
	root := loadTree(t, database, seedRunTree(t, database))

	var buf bytes.Buffer
	printTree(&buf, root, "", true, 1, 2, false)
	output := buf.String()

	if !strings.Contains(output, "restart.scheduled") {
		t.Errorf("expected restart.scheduled at depth 2:\n%s", output)
	}
	if strings.Contains(output, "update.handled") {
		t.Errorf("update.handled should be truncated at -L 2:\n%s", output)
	}
	if !strings.Contains(output, "[...]") {
		t.Errorf("expected [...] indicator for truncated nodes:\n%s", output)
	}
}

func TestPrintTree_DepthLimit1(t *testing.T) {
	database, _ := testDB(t)
	root := loadTree(t, database, seedRunTree(t, database))

	var buf bytes.Buffer
	printTree(&buf, root, "", true, 1, 1, false)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 lines (root + [...]), got %d:\n%s", len(lines), buf.String())
	}
}

func TestPrintJSON(t *testing.T) {
	database, _ := testDB(t)
	root := loadTree(t, database, seedRunTree(t, database))

	var buf bytes.Buffer
	if err := printJSON(&buf, root, 0, false); err != nil {
		t.Fatal(err)
	}

	var je jsonEvent
	if err := json.Unmarshal(buf.Bytes(), &je); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, buf.String())
	}
	if je.EventType != db.EventProcessStarted {
		t.Errorf("expected process.started, got %s", je.EventType)
	}
	if je.Payload["source"] != "dummy" {
		t.Errorf("expected payload, got %v", je.Payload)
	}
	if len(je.Children) != 3 {
		t.Errorf("expected 3 children, got %d", len(je.Children))
	}
	if len(je.Children[0].Children) != 3 {
		t.Errorf("expected 3 grandchildren, got %d", len(je.Children[0].Children))
	}
}

func TestPrintJSON_DepthLimitAndNoPayload(t *testing.T) {
	database, _ := testDB(t)
	root := loadTree(t, database, seedRunTree(t, database))

	var buf bytes.Buffer
	if err := printJSON(&buf, root, 2, true); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), `"payload"`) {
		t.Errorf("expected no payload in output:\n%s", buf.String())
	}

	var je jsonEvent
	if err := json.Unmarshal(buf.Bytes(), &je); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, child := range je.Children {
		if len(child.Children) > 0 {
			t.Errorf("expected no grandchildren at -L 2, but %s (id=%d) has %d",
				child.EventType, child.ID, len(child.Children))
		}
	}
}

func TestShowEvents_SubtreeFromID(t *testing.T) {
	database, path := testDB(t)
	seedRunTree(t, database)

	var buf bytes.Buffer
	if err := showEvents(&buf, eventsOptions{dbPath: path, eventID: 7}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "session_id=b") {
		t.Errorf("unexpected subtree:\n%s", buf.String())
	}

	if err := showEvents(&buf, eventsOptions{dbPath: path, eventID: 999}); err == nil {
		t.Error("expected error for unknown event id")
	}
}

func TestShowEvents_PicksLatestRun(t *testing.T) {
	database, path := testDB(t)
	seedRunTree(t, database)
	latest, _ := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{"pid": 200})

	var buf bytes.Buffer
	if err := showEvents(&buf, eventsOptions{dbPath: path}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "[9]") || latest != 9 {
		t.Errorf("expected latest run (id=%d):\n%s", latest, buf.String())
	}
}

func TestShowEvents_EmptyDatabase(t *testing.T) {
	_, path := testDB(t)
	var buf bytes.Buffer
	err := showEvents(&buf, eventsOptions{dbPath: path})
	if err == nil || !strings.Contains(err.Error(), "no run recorded") {
		t.Fatalf("expected no run error, got %v", err)
	}
}

func TestShowEvents_MissingDatabase(t *testing.T) {
	path := t.TempDir() + "/typo.db"
	var buf bytes.Buffer
	if err := showEvents(&buf, eventsOptions{dbPath: path}); err == nil {
		t.Fatal("expected error for missing database")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("events must not create %s", path)
	}
}
