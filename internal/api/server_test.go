package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/acmetech/docchat/internal/answer"
	"github.com/acmetech/docchat/internal/log"
	"github.com/acmetech/docchat/internal/rag"
	"github.com/acmetech/docchat/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubEngine struct {
	question string
	history  []answer.Turn
	result   rag.Result
	err      error
}

func (s *stubEngine) Chat(_ context.Context, question string, history []answer.Turn) (rag.Result, error) {
	s.question = question
	s.history = history
	if s.err != nil {
		return rag.Result{}, s.err
	}
	return s.result, nil
}

type stubHealthStore struct {
	stats store.Stats
	err   error
}

func (s *stubHealthStore) Stats(_ context.Context) (store.Stats, error) {
	return s.stats, s.err
}

func newTestServer(engine ChatEngine, hs HealthStore) *Server {
	return NewServer(ServerConfig{
		Logger:      log.NewNop(),
		Engine:      engine,
		Store:       hs,
		Version:     "1.2.3",
		ChatModel:   "gpt-4o-mini",
		CORSOrigins: []string{"http://localhost:3000"},
		RateBurst:   100,
	})
}

func TestIdentityEndpoint(t *testing.T) {
	srv := newTestServer(&stubEngine{}, &stubHealthStore{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body identityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body.Status)
	assert.Equal(t, "docchat", body.Service)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, "pgvector", body.VectorStore)
	assert.Equal(t, "gpt-4o-mini", body.LLM)
}

func TestIdentityEndpointNotCatchAll(t *testing.T) {
	srv := newTestServer(&stubEngine{}, &stubHealthStore{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&stubEngine{}, &stubHealthStore{stats: store.Stats{TotalVectors: 42, Dimension: 1536}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, int64(42), body.VectorCount)
	assert.NotEmpty(t, body.Timestamp)
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	srv := newTestServer(&stubEngine{}, &stubHealthStore{err: errors.New("db down")})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	// Still 200 so load balancers can read the payload.
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Zero(t, body.VectorCount)
}

func TestChatSuccess(t *testing.T) {
	engine := &stubEngine{result: rag.Result{
		Success:   true,
		Answer:    "Berlin",
		Sources:   []rag.Source{{DocumentName: "geo.txt", ChunkText: "Berlin is the capital.", Similarity: 0.91}},
		Timestamp: "2025-06-01T12:30:00Z",
	}}
	srv := newTestServer(engine, &stubHealthStore{})

	reqBody := `{"question":"capital of Germany?","conversation_history":[{"question":"hi","answer":"hello"}]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(reqBody)))

	require.Equal(t, http.StatusOK, rec.Code)

	var body rag.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Berlin", body.Answer)
	require.Len(t, body.Sources, 1)
	assert.Equal(t, "geo.txt", body.Sources[0].DocumentName)

	assert.Equal(t, "capital of Germany?", engine.question)
	require.Len(t, engine.history, 1)
	assert.Equal(t, answer.Turn{Question: "hi", Answer: "hello"}, engine.history[0])
}

func TestChatSoftFailureIsOK(t *testing.T) {
	engine := &stubEngine{result: rag.Result{
		Success:   false,
		Sources:   []rag.Source{},
		Error:     "No relevant content found in documents",
		Timestamp: "2025-06-01T12:30:00Z",
	}}
	srv := newTestServer(engine, &stubHealthStore{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"question":"q"}`)))

	require.Equal(t, http.StatusOK, rec.Code)

	var body rag.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "No relevant content found in documents", body.Error)
}

func TestChatEmptyQuestion(t *testing.T) {
	engine := &stubEngine{err: rag.ErrEmptyQuestion}
	srv := newTestServer(engine, &stubHealthStore{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"question":"   "}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "empty_question", body.Error)
}

func TestChatInvalidJSON(t *testing.T) {
	srv := newTestServer(&stubEngine{}, &stubHealthStore{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{not json`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatEngineFailure(t *testing.T) {
	engine := &stubEngine{err: errors.New("pg: connection refused")}
	srv := newTestServer(engine, &stubHealthStore{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"question":"q"}`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// Internal details never leak to the client.
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(&stubEngine{}, &stubHealthStore{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	id := rec.Header().Get("X-Request-ID")
	_, err := uuid.Parse(id)
	assert.NoError(t, err, "X-Request-ID should be a valid UUID")

	// A valid caller-supplied ID is echoed back.
	want := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", want)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, want, rec.Header().Get("X-Request-ID"))
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(&stubEngine{}, &stubHealthStore{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	// Unknown origins get no CORS headers.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(&stubEngine{}, &stubHealthStore{})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	srv := NewServer(ServerConfig{
		Logger:    log.NewNop(),
		Engine:    &stubEngine{},
		Store:     &stubHealthStore{},
		RateBurst: 1,
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Health stays reachable regardless of rate limiting.
	rec = httptest.NewRecorder()
	healthReq := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthReq.RemoteAddr = "198.51.100.7:1234"
	srv.Handler().ServeHTTP(rec, healthReq)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := log.NewNop()
	handler := recoveryMiddleware(logger)(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xRealIP    string
		xff        string
		trustProxy bool
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.1:5000", want: "192.0.2.1"},
		{name: "proxy headers ignored when untrusted", remoteAddr: "192.0.2.1:5000", xRealIP: "203.0.113.9", want: "192.0.2.1"},
		{name: "x-real-ip preferred", remoteAddr: "10.0.0.1:80", xRealIP: "203.0.113.9", trustProxy: true, want: "203.0.113.9"},
		{name: "xff first hop", remoteAddr: "10.0.0.1:80", xff: "203.0.113.9, 10.0.0.2", trustProxy: true, want: "203.0.113.9"},
		{name: "invalid header falls back", remoteAddr: "10.0.0.1:80", xRealIP: "not-an-ip", trustProxy: true, want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.trustProxy))
		})
	}
}
