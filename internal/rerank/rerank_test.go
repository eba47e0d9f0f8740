package rerank

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptoria/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.RerankConfig{BaseURL: srv.URL + "/", Model: "bge-reranker", Key: "secret"})
	require.NoError(t, err)
	return c
}

func TestClient_Score(t *testing.T) {
	var got rerankRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, sonic.Unmarshal(body, &got))
		// results come back sorted by score, not by index
		_, _ = w.Write([]byte(`{"id":"x","results":[{"index":2,"relevance_score":0.9},{"index":0,"relevance_score":0.4},{"index":1,"relevance_score":0.1}]}`))
	})

	scores, err := c.Score(context.Background(), "what is energy", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.1, 0.9}, scores)
	assert.Equal(t, "bge-reranker", got.Model)
	assert.Equal(t, "what is energy", got.Query)
	assert.Equal(t, []string{"a", "b", "c"}, got.Documents)
	assert.Equal(t, 3, got.TopN)
}

func TestClient_ScoreErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"api error", http.StatusBadRequest, `{"error":{"message":"bad model"}}`, "bad model"},
		{"plain status", http.StatusInternalServerError, `oops`, "status 500"},
		{"bad json", http.StatusOK, `{`, "decode response"},
		{"index out of range", http.StatusOK, `{"results":[{"index":5,"relevance_score":1}]}`, "out of range"},
		{"missing score", http.StatusOK, `{"results":[{"index":0,"relevance_score":1}]}`, "no score for passage 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Score(context.Background(), "q", []string{"a", "b"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRerank)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestClient_ScoreNoPassages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	scores, err := c.Score(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(config.RerankConfig{Model: "m"})
	assert.ErrorIs(t, err, ErrRerank)
	_, err = NewClient(config.RerankConfig{BaseURL: "http://localhost"})
	assert.ErrorIs(t, err, ErrRerank)
}
