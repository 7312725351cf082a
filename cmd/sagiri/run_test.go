package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PoiScript/sagiri/internal/config"
	"github.com/PoiScript/sagiri/internal/db"
	"github.com/PoiScript/sagiri/internal/dummy"
)

const kitsuLibrary = `{
  "data": [
    {"id": "501", "type": "libraryEntries",
     "attributes": {"progress": 3, "status": "current"},
     "relationships": {"anime": {"data": {"id": "12", "type": "anime"}}}}
  ],
  "included": [
    {"id": "12", "type": "anime",
     "attributes": {"canonicalTitle": "One Piece", "titles": {"ja_jp": "ワンピース"}, "episodeCount": 1000, "subtype": "TV", "status": "current", "slug": "one-piece"}}
  ],
  "links": {}
}`

func testConfig(kitsuURL, dbPath string) config.Config {
	return config.Config{
		Source:                 "dummy",
		PollTimeoutSeconds:     1,
		KitsuAPIBase:           kitsuURL,
		KitsuPageLimit:         10,
		DBPath:                 dbPath,
		HandleTimeoutSeconds:   5,
		RestartDelaySeconds:    0,
		StableRunSeconds:       60,
		CrashWindowSeconds:     300,
		CrashThreshold:         3,
		CircuitCooldownSeconds: 300,
	}
}

func TestRunBot_ListAndPageWithDummyChat(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/library-entries", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("filter[user_id]"))
		_, _ = io.WriteString(w, kitsuLibrary)
	}))
	defer srv.Close()

	database, path := testDB(t)
	require.NoError(t, db.UpsertUsers(context.Background(), database, []db.User{{TelegramID: 1, KitsuID: 42}}))

	chat, err := dummy.NewCommander("msg:/list,cb:/42/offset/0/,msg:/help,ok", "ok",
		dummy.WithSender(1, 1),
		dummy.WithIdle(10*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runBot(ctx, testConfig(srv.URL, path), database, chat, zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		return len(chat.Sent()) == 2 && len(chat.Answers()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runBot did not stop after cancel")
	}

	sent := chat.Sent()
	assert.Contains(t, sent[0].Text, "One Piece")
	assert.Contains(t, sent[0].Text, "[3/1000]")
	require.NotNil(t, sent[0].ReplyMarkup)
	assert.True(t, strings.HasPrefix(sent[1].Text, "I keep track of your Kitsu library."))

	edits := chat.Edits()
	require.Len(t, edits, 1)
	assert.Equal(t, int64(1), edits[0].Target.ChatID)
	assert.NotZero(t, edits[0].Target.MessageID)
	assert.Contains(t, edits[0].Text, "One Piece")
	assert.Equal(t, int32(2), requests.Load())

	counts := map[string]int{}
	rows, err := database.Query(`SELECT event_type, COUNT(*) FROM events GROUP BY event_type`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		require.NoError(t, rows.Scan(&typ, &n))
		counts[typ] = n
	}
	assert.Equal(t, 1, counts[db.EventProcessStarted])
	assert.Equal(t, 1, counts[db.EventSessionStarted])
	assert.Equal(t, 3, counts[db.EventUpdateHandled])
	assert.Zero(t, counts[db.EventUpdateFailed])
}

func TestRunBot_RefresherRunsAlongside(t *testing.T) {
	var calls atomic.Int32
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"data":[{"telegram_id":5,"kitsu_id":6,"kitsu_token":"t"}]}`)
	}))
	defer registry.Close()

	database, path := testDB(t)
	cfg := testConfig("http://127.0.0.1:1", path)
	cfg.RegistryURL = registry.URL
	cfg.RegistryToken = "secret"
	cfg.RegistryRefreshMinutes = 1

	chat, err := dummy.NewCommander("ok", "ok", dummy.WithIdle(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, runBot(ctx, cfg, database, chat, zap.NewNop()))

	// The first tick is a minute away; shutting down must not wait for it.
	assert.Zero(t, calls.Load())
}

func TestNewCommander_Dummy(t *testing.T) {
	cfg := testConfig("", "")
	cfg.DummyPollScript = "msg:/start"
	cfg.DummySendScript = "ok"
	cfg.DummyChatID = 9
	cfg.DummySenderID = 8

	chat, err := newCommander(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	updates, err := chat.GetUpdates(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "message", updates[0].Kind())

	cfg.DummyPollScript = "bogus"
	_, err = newCommander(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNewCommander_TelegramChecksToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botgood/getMe" {
			_, _ = io.WriteString(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":{"id":77,"is_bot":true,"first_name":"sagiri","username":"sagiri_bot"}}`)
	}))
	defer srv.Close()

	cfg := testConfig("", "")
	cfg.Source = "telegram"
	cfg.TelegramAPIBase = srv.URL
	cfg.RequestTimeoutSeconds = 5
	cfg.SendRate = 25
	cfg.SendBurst = 5

	cfg.TelegramToken = "good"
	_, err := newCommander(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	cfg.TelegramToken = "bad"
	_, err = newCommander(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")
}
