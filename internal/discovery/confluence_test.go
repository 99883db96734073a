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

var confluenceTestSecrets = memSecrets{
	"confluence/" + testConnectionID + "/email":     "writer@acme.test",
	"confluence/" + testConnectionID + "/api_token": "wiki-token",
}

func confluenceServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/wiki/rest/api/content/search", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "writer@acme.test", user)
		assert.Equal(t, "wiki-token", pass)

		q := r.URL.Query()
		if q.Get("cursor") == "" {
			assert.Equal(t, `type=page AND lastmodified >= "2026-01-01 00:00" AND space in ("ENG") order by lastmodified asc`, q.Get("cql"))
			assert.Equal(t, confluenceExpand, q.Get("expand"))
			writeJSON(w, map[string]any{
				"results": []map[string]any{{
					"id": "11", "title": "Runbook",
					"space":   map[string]any{"key": "ENG", "name": "Engineering"},
					"version": map[string]any{"number": 4, "when": "2026-01-05T08:00:00Z", "by": map[string]any{"displayName": "Ada"}},
					"body":    map[string]any{"storage": map[string]any{"value": "<h1>Restart</h1><p>Run <b>make restart</b>.</p><ul><li>check logs</li></ul>"}},
					"_links":  map[string]any{"webui": "/spaces/ENG/pages/11"},
				}},
				"_links": map[string]any{"next": "/rest/api/content/search?cursor=abc"},
			})
			return
		}
		writeJSON(w, map[string]any{
			"results": []map[string]any{{
				"id": "12", "title": "Empty",
				"space": map[string]any{"key": "ENG"},
				"body":  map[string]any{"storage": map[string]any{"value": ""}},
			}},
		})
	})
	mux.HandleFunc("/wiki/rest/api/content/11/label", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"results": []map[string]any{{"name": "ops"}, {"name": "oncall"}}})
	})
	mux.HandleFunc("/wiki/rest/api/content/12/label", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	mux.HandleFunc("/wiki/rest/api/content/11", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "body.storage", r.URL.Query().Get("expand"))
		writeJSON(w, map[string]any{"id": "11", "body": map[string]any{"storage": map[string]any{"value": "<p>fresh</p>"}}})
	})
	mux.HandleFunc("/wiki/rest/api/user/current", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"accountId": "a1"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestConfluence_Discover(t *testing.T) {
	srv := confluenceServer(t)
	deps := newTestDeps(t, SourceConfluence, confluenceTestSecrets, map[string]any{
		"base_url": srv.URL + "/wiki/",
		"spaces":   []string{"ENG"},
	})

	items, err := NewConfluence(deps).Discover(context.Background(), testOptions())
	require.NoError(t, err)
	require.Len(t, items, 2)

	runbook := items[0]
	assert.Equal(t, "11", runbook.ExternalID)
	assert.Equal(t, "Runbook", runbook.Title)
	assert.Equal(t, "Restart\nRun make restart.\n- check logs", runbook.Content)
	assert.Equal(t, "ENG", runbook.Metadata["space_key"])
	assert.Equal(t, 4, runbook.Metadata["version"])
	assert.Equal(t, "Ada", runbook.Metadata["last_modified_by"])
	assert.Equal(t, []string{"ops", "oncall"}, runbook.Metadata["labels"])
	assert.Equal(t, srv.URL+"/wiki/spaces/ENG/pages/11", runbook.Metadata["url"])

	empty := items[1]
	assert.Empty(t, empty.Content)
	assert.Equal(t, []string{}, empty.Metadata["labels"])
}

func TestConfluence_FetchContentAndTest(t *testing.T) {
	srv := confluenceServer(t)
	deps := newTestDeps(t, SourceConfluence, confluenceTestSecrets, map[string]any{"base_url": srv.URL + "/wiki"})
	c := NewConfluence(deps).(*Confluence)

	content, err := c.FetchContent(context.Background(), testOptions(), "11")
	require.NoError(t, err)
	assert.Equal(t, "fresh", content)

	assert.True(t, c.TestConnection(context.Background(), testOptions()).Success)
}

func TestConfluenceCQL(t *testing.T) {
	assert.Equal(t, "type=page order by lastmodified asc", confluenceCQL(time.Time{}, nil))
	assert.Equal(t,
		`type=page AND lastmodified >= "2026-01-01 00:00" AND space in ("ENG","OPS") order by lastmodified asc`,
		confluenceCQL(testOptions().Since, []string{"ENG", "OPS"}))
}
