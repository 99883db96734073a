package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slackTestSecrets = memSecrets{
	"slack/" + testConnectionID + "/bot_token": "xoxb-test",
}

func slackServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		q := r.URL.Query()
		if q.Get("channel") != "C1" {
			writeJSON(w, map[string]any{"ok": false, "error": "channel_not_found"})
			return
		}
		assert.Equal(t, "1767225600", q.Get("oldest"))
		writeJSON(w, map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"ts": "1767261600.000100", "thread_ts": "1767261600.000100", "user": "U1", "text": "Deploy failed\nlogs attached", "reply_count": 2},
				{"ts": "1767261700.000200", "user": "U3", "subtype": "channel_join", "text": "joined"},
				{"ts": "1767261800.000300", "user": "U2", "text": "lunch?"},
			},
			"has_more": false,
		})
	})
	mux.HandleFunc("/conversations.replies", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1767261600.000100", r.URL.Query().Get("ts"))
		writeJSON(w, map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"ts": "1767261600.000100", "user": "U1", "text": "Deploy failed\nlogs attached"},
				{"ts": "1767261660.000000", "user": "U2", "text": "rolling back"},
				{"ts": "1767261720.000000", "user": "U1", "text": "thanks"},
			},
		})
	})
	mux.HandleFunc("/users.info", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("user") {
		case "U1":
			writeJSON(w, map[string]any{"ok": true, "user": map[string]any{"id": "U1", "name": "ada", "real_name": "Ada Lovelace"}})
		case "U2":
			writeJSON(w, map[string]any{"ok": true, "user": map[string]any{"id": "U2", "name": "bob"}})
		default:
			writeJSON(w, map[string]any{"ok": false, "error": "user_not_found"})
		}
	})
	mux.HandleFunc("/auth.test", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSlack_Discover_ThreadsAndNames(t *testing.T) {
	srv := slackServer(t)
	deps := newTestDeps(t, SourceSlack, slackTestSecrets, map[string]any{
		"base_url": srv.URL,
		"channels": []string{"C1"},
	})

	items, err := NewSlack(deps).Discover(context.Background(), testOptions())
	require.NoError(t, err)
	require.Len(t, items, 2)

	thread := items[0]
	assert.Equal(t, "C1:1767261600.000100", thread.ExternalID)
	assert.Equal(t, "Deploy failed", thread.Title)
	assert.Equal(t,
		"[2026-01-01T10:00:00Z] Ada Lovelace: Deploy failed\nlogs attached\n"+
			"[2026-01-01T10:01:00Z] bob: rolling back\n"+
			"[2026-01-01T10:02:00Z] Ada Lovelace: thanks",
		thread.Content)
	assert.Equal(t, 2, thread.Metadata["reply_count"])
	assert.Equal(t, []string{"Ada Lovelace", "bob"}, thread.Metadata["participants"])
	assert.Equal(t, time.Date(2026, 1, 1, 10, 0, 0, 100000, time.UTC), thread.Metadata["posted_at"])

	lunch := items[1]
	assert.Equal(t, "lunch?", lunch.Title)
	assert.Equal(t, 0, lunch.Metadata["reply_count"])
}

func TestSlack_Discover_EnvelopeError(t *testing.T) {
	srv := slackServer(t)
	deps := newTestDeps(t, SourceSlack, slackTestSecrets, map[string]any{
		"base_url": srv.URL,
		"channels": "C1,C404",
	})

	_, err := NewSlack(deps).Discover(context.Background(), testOptions())
	require.ErrorIs(t, err, ErrSlackAPI)
	assert.ErrorContains(t, err, "channel_not_found")
}

func TestSlack_Discover_NoChannels(t *testing.T) {
	srv := slackServer(t)
	deps := newTestDeps(t, SourceSlack, slackTestSecrets, map[string]any{"base_url": srv.URL})

	items, err := NewSlack(deps).Discover(context.Background(), testOptions())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSlack_TestConnection(t *testing.T) {
	srv := slackServer(t)
	deps := newTestDeps(t, SourceSlack, slackTestSecrets, map[string]any{"base_url": srv.URL})

	res := NewSlack(deps).(ConnectionTester).TestConnection(context.Background(), testOptions())
	assert.True(t, res.Success)
}

func TestSlackTime(t *testing.T) {
	assert.Equal(t, time.Date(2026, 1, 1, 10, 0, 0, 500000000, time.UTC), slackTime("1767261600.5"))
	assert.True(t, slackTime("garbage").IsZero())
}
