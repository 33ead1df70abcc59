package embed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEmbeddingServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[i%dim] = 1
			data[i] = item{Object: "embedding", Embedding: vec, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenAIEmbedder_EmbedDocuments(t *testing.T) {
	srv := fakeEmbeddingServer(t, 4)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Config{BaseURL: srv.URL, Model: "test-embed", Dimension: 4}, testLogger())
	require.NoError(t, err)

	vecs, err := e.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 4)
	assert.Equal(t, 4, e.Dimension())

	q, err := e.EmbedQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.Len(t, q, 4)
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	srv := fakeEmbeddingServer(t, 3)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Config{BaseURL: srv.URL, Model: "test-embed", Dimension: 8}, testLogger())
	require.NoError(t, err)

	_, err = e.EmbedDocuments(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestNewOpenAIEmbedder_RequiresEndpoint(t *testing.T) {
	_, err := NewOpenAIEmbedder(Config{Model: "m"}, testLogger())
	require.Error(t, err)

	_, err = NewOpenAIEmbedder(Config{BaseURL: "http://localhost"}, testLogger())
	require.Error(t, err)
}
