package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"specter/pkg/agent/types"
	"specter/pkg/config"
)

func newTestModule(t *testing.T, handler http.HandlerFunc) *Module {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default().Modules.News
	cfg.BaseURL = server.URL
	cfg.PageSize = 2

	return New(cfg, Options{APIKey: "news-key", HTTPClient: server.Client()})
}

func TestMatchModes(t *testing.T) {
	m := New(config.Default().Modules.News, Options{APIKey: "k"})

	tests := []struct {
		text     string
		mode     string
		category string
		topic    string
	}{
		{text: "what are the headlines", mode: "headlines"},
		{text: "tell me the news", mode: "headlines"},
		{text: "latest tech news", mode: "category", category: "technology"},
		{text: "any celebrity news?", mode: "category", category: "entertainment"},
		{text: "news about electric cars", mode: "search", topic: "electric cars"},
	}

	for _, tt := range tests {
		got := m.Match(types.NewUtterance(tt.text, types.SourceTyped), types.Snapshot{})
		require.Equal(t, ID, got.ModuleID, tt.text)
		require.Equal(t, tt.mode, got.Slot("mode"), tt.text)
		require.Equal(t, tt.category, got.Slot("category"), tt.text)
		require.Equal(t, tt.topic, got.Slot("topic"), tt.text)
	}

	require.Zero(t, m.Match(types.NewUtterance("what's the weather", types.SourceTyped), types.Snapshot{}).Confidence)
}

func TestExecuteHeadlines(t *testing.T) {
	m := newTestModule(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/top-headlines", r.URL.Path)
		require.Equal(t, "us", r.URL.Query().Get("country"))
		require.Equal(t, "news-key", r.Header.Get("X-Api-Key"))
		_, _ = w.Write([]byte(`{"status":"ok","articles":[
			{"title":"Gophers win the cup","source":{"name":"Daily Go"},"url":"https://example.com/1"},
			{"title":"[Removed]","source":{"name":"x"}},
			{"title":"Rust and Go sign treaty - Wire","source":{"name":"Wire"}},
			{"title":"Third story","source":{"name":"Other"}}
		]}`))
	})

	result := m.Execute(context.Background(), m.Match(types.NewUtterance("headlines", types.SourceTyped), types.Snapshot{}), types.Snapshot{})
	require.Equal(t, types.StatusSuccess, result.Status)
	require.Equal(t, "Top headlines:\n1. Gophers win the cup (Daily Go)\n2. Rust and Go sign treaty - Wire", result.Payload)
	require.Equal(t, "2", result.Data["articles"])
	require.Equal(t, "https://example.com/1", result.Data["first_url"])
}

func TestExecuteSearchAndCategory(t *testing.T) {
	var paths []string
	m := newTestModule(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path+"?"+r.URL.Query().Get("category")+r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"status":"ok","articles":[{"title":"Story","source":{"name":"S"}}]}`))
	})

	result := m.Execute(context.Background(), m.Match(types.NewUtterance("news about mars rovers", types.SourceTyped), types.Snapshot{}), types.Snapshot{})
	require.Equal(t, "Latest news about mars rovers:\n1. Story (S)", result.Payload)

	result = m.Execute(context.Background(), m.Match(types.NewUtterance("sports news", types.SourceTyped), types.Snapshot{}), types.Snapshot{})
	require.Equal(t, "Top sports news:\n1. Story (S)", result.Payload)

	require.Equal(t, []string{"/everything?mars rovers", "/top-headlines?sports"}, paths)
}

func TestExecuteEmptyResults(t *testing.T) {
	m := newTestModule(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","articles":[]}`))
	})

	result := m.Execute(context.Background(), m.Match(types.NewUtterance("news", types.SourceTyped), types.Snapshot{}), types.Snapshot{})
	require.Equal(t, types.StatusSuccess, result.Status)
	require.Equal(t, "I couldn't find any news for that right now.", result.Payload)
}

func TestExecuteUnauthorized(t *testing.T) {
	m := newTestModule(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	result := m.Execute(context.Background(), m.Match(types.NewUtterance("news", types.SourceTyped), types.Snapshot{}), types.Snapshot{})
	require.Equal(t, types.StatusFailure, result.Status)
	require.Equal(t, "The news service rejected the API key.", result.Payload)
}
