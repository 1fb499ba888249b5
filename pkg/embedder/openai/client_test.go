package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tiermem-go/pkg/embedder"
	"github.com/oceanbase/tiermem-go/pkg/embedder/openai"
)

func fakeAPI(t *testing.T, status int, handle func(req map[string]any) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(handle(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Embed(t *testing.T) {
	srv := fakeAPI(t, http.StatusOK, func(req map[string]any) any {
		assert.Equal(t, "text-embedding-3-small", req["model"])
		assert.EqualValues(t, 3, req["dimensions"])
		return map[string]any{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float32{0.5, -0.25, 1}},
			},
		}
	})

	c, err := openai.NewClient(&openai.Config{APIKey: "test-key", BaseURL: srv.URL, Dimensions: 3})
	require.NoError(t, err)

	e, err := c.Embed(context.Background(), "User works at DNB")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, -0.25, 1}, e.Vector)
	assert.Equal(t, openai.DefaultModel, e.Model)
	assert.NoError(t, embedder.CheckDimension(c, e))
}

func TestClient_APIError(t *testing.T) {
	srv := fakeAPI(t, http.StatusUnauthorized, func(map[string]any) any {
		return map[string]any{"error": map[string]any{"message": "bad key", "type": "invalid_request_error"}}
	})

	c, err := openai.NewClient(&openai.Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestNewClient_Validation(t *testing.T) {
	_, err := openai.NewClient(nil)
	assert.Error(t, err)
	_, err = openai.NewClient(&openai.Config{APIKey: "k", Dimensions: -1})
	assert.Error(t, err)

	c, err := openai.NewClient(&openai.Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, openai.DefaultDimensions, c.Dimensions())

	_, err = c.Embed(context.Background(), "  ")
	assert.ErrorIs(t, err, embedder.ErrEmptyText)
}
