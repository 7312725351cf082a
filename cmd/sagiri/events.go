package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/PoiScript/sagiri/internal/db"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type eventsOptions struct {
	dbPath    string
	eventID   int64
	maxDepth  int
	jsonOut   bool
	noPayload bool
}

func (a *app) eventsCmd() *cobra.Command {
	var opts eventsOptions
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event tree of the latest run",
		Long: `Prints the events recorded by the latest "sagiri run" as a tree:
process, sessions, handled and failed updates, restarts and circuit changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.dbPath == "" {
				cfg, err := a.setup(false)
				if err != nil {
					return err
				}
				opts.dbPath = cfg.DBPath
			}
			return showEvents(a.out, opts)
		},
	}
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite database path (default $SAGIRI_DB_PATH)")
	cmd.Flags().Int64Var(&opts.eventID, "id", 0, "show subtree of a specific event ID")
	cmd.Flags().IntVarP(&opts.maxDepth, "depth", "L", 0, "limit display depth (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "output JSON format")
	cmd.Flags().BoolVar(&opts.noPayload, "no-payload", false, "hide payload details")
	return cmd
}

func showEvents(w io.Writer, opts eventsOptions) error {
	database, err := db.OpenReadOnly(opts.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	rootID := opts.eventID
	if rootID == 0 {
		rootID, err = db.LatestProcessRoot(database)
		if errors.Is(err, db.ErrNoProcessRoot) {
			return fmt.Errorf("no run recorded in %s", opts.dbPath)
		}
		if err != nil {
			return fmt.Errorf("find process root: %w", err)
		}
	}

	events, err := db.QuerySubtree(database, rootID)
	if err != nil {
		return err
	}
	root := db.BuildTree(events, rootID)
	if root == nil {
		return fmt.Errorf("event %d not found", rootID)
	}

	if opts.jsonOut {
		return printJSON(w, root, opts.maxDepth, opts.noPayload)
	}
	printTree(w, root, "", true, 1, opts.maxDepth, opts.noPayload)
	return nil
}

// printTree renders the event tree using box-drawing characters.
func printTree(w io.Writer, ev *db.Event, prefix string, isLast bool, depth, maxDepth int, noPayload bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	line := formatEvent(ev, noPayload)
	if depth == 1 {
		fmt.Fprintln(w, line)
	} else {
		fmt.Fprintln(w, prefix+connector+line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}

	if maxDepth > 0 && depth >= maxDepth {
		if len(ev.Children) > 0 {
			fmt.Fprintln(w, childPrefix+"└── [...]")
		}
		return
	}

	for i, child := range ev.Children {
		printTree(w, child, childPrefix, i == len(ev.Children)-1, depth+1, maxDepth, noPayload)
	}
}

// formatEvent formats a single event line: [id] timestamp  event_type  key=value ...
func formatEvent(ev *db.Event, noPayload bool) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%d] %s  %s", ev.ID, ts, ev.EventType)
	if noPayload {
		return line
	}

	m := decodePayload(ev)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf("  %s=%s", k, formatValue(m[k]))
	}
	return line
}

func decodePayload(ev *db.Event) map[string]any {
	if !ev.Payload.Valid || ev.Payload.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.UnmarshalFromString(ev.Payload.String, &m); err != nil {
		return nil
	}
	return m
}

// formatValue converts a payload value to a display string, truncating long text.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) > 80 {
			return fmt.Sprintf("%q", val[:80]+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Children  []jsonEvent    `json:"children,omitempty"`
}

func toJSONEvent(ev *db.Event, depth, maxDepth int, noPayload bool) jsonEvent {
	je := jsonEvent{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		EventType: ev.EventType,
	}
	if !noPayload {
		je.Payload = decodePayload(ev)
	}
	if maxDepth > 0 && depth >= maxDepth {
		return je
	}
	for _, child := range ev.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1, maxDepth, noPayload))
	}
	return je
}

func printJSON(w io.Writer, root *db.Event, maxDepth int, noPayload bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toJSONEvent(root, 1, maxDepth, noPayload)); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
