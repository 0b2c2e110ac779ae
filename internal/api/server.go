// Package api exposes the document Q&A pipeline over HTTP as a small JSON
// API: a service identity endpoint, a health probe, and the chat endpoint.
package api

import (
	"net/http"

	"github.com/acmetech/docchat/internal/log"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      log.Logger
	Engine      ChatEngine  // Required
	Store       HealthStore // Required: backs the health probe
	Version     string
	ChatModel   string   // Reported by the identity endpoint
	CORSOrigins []string // Allowed origins for CORS
	TrustProxy  bool     // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int      // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// identityResponse is the GET / payload.
type identityResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Version     string `json:"version"`
	VectorStore string `json:"vector_store"`
	LLM         string `json:"llm"`
}

// NewServer creates the API server with all routes and middleware configured.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{engine: cfg.Engine, logger: logger}
	hh := &healthHandler{store: cfg.Store, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", ch.send)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, identityResponse{
			Status:      "running",
			Service:     "docchat",
			Version:     cfg.Version,
			VectorStore: "pgvector",
			LLM:         cfg.ChatModel,
		}, logger)
	})

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Top-level mux keeps the health probe outside the middleware stack so
	// load balancers are never rate limited.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", hh.get)
	topMux.Handle("/", handler)

	return &Server{mux: topMux}
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
