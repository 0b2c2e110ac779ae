// Package rag coordinates one question/answer round: retrieve relevant
// fragments, compose a grounded answer, and package the outcome for clients.
// Soft failures (nothing indexed, nothing relevant enough) become structured
// results; infrastructure failures propagate as errors.
package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/acmetech/docchat/internal/answer"
	"github.com/acmetech/docchat/internal/log"
	"github.com/acmetech/docchat/internal/retrieval"
	"github.com/acmetech/docchat/internal/store"
)

var tracer = otel.Tracer("docchat/rag")

// ErrEmptyQuestion reports a question that is empty after trimming. No
// retrieval or generation happens in that case.
var ErrEmptyQuestion = errors.New("question must not be empty")

// Client-facing messages for the two soft-failure outcomes.
const (
	msgNoResults  = "No relevant content found in documents"
	msgNoRelevant = "No sufficiently relevant content found. Try rephrasing your question."
)

// Retriever finds the fragments relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]store.Match, error)
}

// Composer produces the final answer from the question, retrieved matches, and
// conversation history.
type Composer interface {
	Compose(ctx context.Context, question string, matches []store.Match, history []answer.Turn) (string, error)
}

// Source describes one fragment that grounded the answer.
type Source struct {
	DocumentName string  `json:"document_name"`
	ChunkText    string  `json:"chunk_text"`
	Similarity   float64 `json:"similarity"`
}

// Result is the outcome of one chat round. Success distinguishes an answered
// question from the soft-failure outcomes; Error carries the client-facing
// message for the latter.
type Result struct {
	Success   bool     `json:"success"`
	Answer    string   `json:"answer,omitempty"`
	Sources   []Source `json:"sources"`
	Error     string   `json:"error,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// Engine runs the retrieve-then-compose pipeline.
type Engine struct {
	retriever Retriever
	composer  Composer
	logger    log.Logger
	now       func() time.Time
}

// New creates an Engine.
func New(retriever Retriever, composer Composer, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{
		retriever: retriever,
		composer:  composer,
		logger:    logger,
		now:       time.Now,
	}
}

// Chat answers one question against the indexed documents. History is the
// caller-supplied prior exchange; the engine itself keeps no state between
// calls.
func (e *Engine) Chat(ctx context.Context, question string, history []answer.Turn) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}

	ctx, span := tracer.Start(ctx, "rag.chat")
	defer span.End()

	matches, err := e.retriever.Retrieve(ctx, question)
	if err != nil {
		switch {
		case errors.Is(err, retrieval.ErrNoResults):
			e.logger.Info("no matches for question")
			return e.failure(msgNoResults), nil
		case errors.Is(err, retrieval.ErrNoRelevantContent):
			e.logger.Info("no matches above threshold")
			return e.failure(msgNoRelevant), nil
		default:
			return Result{}, fmt.Errorf("retrieving context: %w", err)
		}
	}

	span.SetAttributes(attribute.Int("rag.matches", len(matches)))

	text, err := e.composer.Compose(ctx, question, matches, history)
	if err != nil {
		return Result{}, fmt.Errorf("composing answer: %w", err)
	}

	e.logger.Info("question answered", "sources", len(matches))
	return Result{
		Success:   true,
		Answer:    text,
		Sources:   toSources(matches),
		Timestamp: e.timestamp(),
	}, nil
}

func (e *Engine) failure(msg string) Result {
	return Result{
		Success:   false,
		Sources:   []Source{},
		Error:     msg,
		Timestamp: e.timestamp(),
	}
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func toSources(matches []store.Match) []Source {
	sources := make([]Source, len(matches))
	for i, m := range matches {
		sources[i] = Source{
			DocumentName: m.DocumentName,
			ChunkText:    m.Content,
			Similarity:   roundSimilarity(m.Similarity),
		}
	}
	return sources
}

// roundSimilarity rounds to two decimals for client display.
func roundSimilarity(s float32) float64 {
	return math.Round(float64(s)*100) / 100
}
