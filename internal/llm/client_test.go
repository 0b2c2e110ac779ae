package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acmetech/docchat/internal/log"
)

// newStubClient returns a Client talking to an httptest server driven by
// handler, with retries disabled.
func newStubClient(t *testing.T, cfg Config, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(cfg, log.NewNop(),
		option.WithBaseURL(srv.URL+"/v1/"),
		option.WithMaxRetries(0),
	)
}

func embeddingsResponse(items ...map[string]any) []byte {
	body, _ := json.Marshal(map[string]any{
		"object": "list",
		"data":   items,
		"model":  "text-embedding-3-small",
		"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
	})
	return body
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	client := newStubClient(t, Config{APIKey: "test", EmbeddingModel: "text-embedding-3-small", EmbeddingDimension: 3},
		func(w http.ResponseWriter, r *http.Request) {
			require.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(embeddingsResponse(
				map[string]any{"object": "embedding", "index": 0, "embedding": []float64{0.1, 0.2, 0.3}},
			))
		})

	vec, err := client.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "hello world", gotBody["input"])
	assert.Equal(t, "text-embedding-3-small", gotBody["model"])
	assert.EqualValues(t, 3, gotBody["dimensions"])
}

func TestEmbedBatch_OrderPreserving(t *testing.T) {
	t.Parallel()

	// Respond with embeddings out of order; the client must place them by
	// index so result[i] corresponds to texts[i].
	client := newStubClient(t, Config{APIKey: "test", EmbeddingModel: "text-embedding-3-small"},
		func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(embeddingsResponse(
				map[string]any{"object": "embedding", "index": 1, "embedding": []float64{2, 2}},
				map[string]any{"object": "embedding", "index": 0, "embedding": []float64{1, 1}},
			))
		})

	vectors, err := client.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	assert.Equal(t, []float32{1, 1}, vectors[0])
	assert.Equal(t, []float32{2, 2}, vectors[1])
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	t.Parallel()

	client := New(Config{APIKey: "test"}, log.NewNop())

	vectors, err := client.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	t.Parallel()

	client := newStubClient(t, Config{APIKey: "test", EmbeddingModel: "text-embedding-3-small"},
		func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(embeddingsResponse(
				map[string]any{"object": "embedding", "index": 0, "embedding": []float64{1}},
			))
		})

	_, err := client.EmbedBatch(context.Background(), []string{"a", "b", "c"})

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "embed_batch", svcErr.Op)
}

func TestEmbed_UpstreamFailure(t *testing.T) {
	t.Parallel()

	client := newStubClient(t, Config{APIKey: "test", EmbeddingModel: "text-embedding-3-small"},
		func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
		})

	_, err := client.Embed(context.Background(), "text")

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "embed", svcErr.Op)
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	client := newStubClient(t, Config{APIKey: "test", ChatModel: "gpt-4o-mini", Temperature: 0.3, MaxAnswerTokens: 1000},
		func(w http.ResponseWriter, r *http.Request) {
			require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"choices": [{"index": 0, "finish_reason": "stop",
					"message": {"role": "assistant", "content": "Paris, per company_history.txt."}}]
			}`))
		})

	answer, err := client.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "answer only from context"},
		{Role: RoleUser, Content: "where is the HQ?"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Paris, per company_history.txt.", answer)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	assert.EqualValues(t, 0.3, gotBody["temperature"])
	assert.EqualValues(t, 1000, gotBody["max_tokens"])

	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
}

func TestGenerate_NoChoices(t *testing.T) {
	t.Parallel()

	client := newStubClient(t, Config{APIKey: "test", ChatModel: "gpt-4o-mini"},
		func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"chatcmpl-2","object":"chat.completion","choices":[]}`))
		})

	_, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "q"}})

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "generate", svcErr.Op)
}

func TestServiceError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := assert.AnError
	err := &ServiceError{Op: "embed", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "embed")
}
