package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newEmbeddingServer(t *testing.T, vector []float32, seen *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*seen = append(*seen, body.Input...)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  body.Model,
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": vector},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientEmbed(t *testing.T) {
	t.Parallel()

	var seen []string
	srv := newEmbeddingServer(t, []float32{0.6, 0.8}, &seen)
	c, err := New(Config{BaseURL: srv.URL + "/v1/", Model: "test-model", MaxInputRunes: 5})
	require.NoError(t, err)

	vec, err := c.Embed(context.Background(), "abcdefghij")
	require.NoError(t, err)
	require.Equal(t, []float32{0.6, 0.8}, vec)
	require.Equal(t, []string{"abcde"}, seen)
}

func TestClientEmbedRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	c, err := New(Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "   ")
	require.Error(t, err)
}

func TestClientEmbedServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "text")
	require.Error(t, err)
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "héllo", truncate("héllo wörld", 5))
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, strings.Repeat("a", 3), truncate("aaaa", 3))
}
