package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedtime-stories/server/internal/config"
	"bedtime-stories/server/internal/interfaces"
)

func newOllamaServer(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewOllamaClient(config.OllamaConfig{BaseURL: server.URL, Model: "llama3"}, "nomic-embed-text", nil)
	require.NoError(t, err)
	return client
}

func TestOllamaClient_Complete(t *testing.T) {
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3", body["model"])
		assert.Equal(t, false, body["stream"])
		assert.EqualValues(t, 300, body["options"].(map[string]any)["num_predict"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"The owl hooted."},"done":true,"prompt_eval_count":12,"eval_count":8}`))
	})

	completion, err := client.Complete(context.Background(), []interfaces.Message{
		{Role: interfaces.RoleSystem, Content: "framing"},
	}, 300)
	require.NoError(t, err)
	assert.Equal(t, "The owl hooted.", completion.Text)
	assert.Equal(t, 20, completion.TokensUsed)
}

func TestOllamaClient_CompleteEmpty(t *testing.T) {
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":""},"done":true}`))
	})

	_, err := client.Complete(context.Background(), []interfaces.Message{{Role: interfaces.RoleUser, Content: "hi"}}, 10)
	assert.ErrorIs(t, err, interfaces.ErrGenerationUnavailable)
}

func TestOllamaClient_CompleteServerError(t *testing.T) {
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	})

	_, err := client.Complete(context.Background(), []interfaces.Message{{Role: interfaces.RoleUser, Content: "hi"}}, 10)
	assert.ErrorIs(t, err, interfaces.ErrGenerationUnavailable)
}

func TestOllamaClient_Embed(t *testing.T) {
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nomic-embed-text", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[0.1,0.2,0.3]]}`))
	})

	vec, err := client.Embed(context.Background(), "a story")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOllamaClient_EmbedFailure(t *testing.T) {
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	})

	_, err := client.Embed(context.Background(), "a story")
	assert.ErrorIs(t, err, interfaces.ErrEmbeddingUnavailable)
}
