// Package store persists document fragments and their embedding vectors in
// PostgreSQL with the pgvector extension, and serves cosine-similarity search
// over them.
//
// One row per fragment, keyed by "{document_name}_{chunk_index}". Similarity
// is computed as 1 - cosine distance, so scores fall in [-1, 1] with 1 being
// identical direction.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/acmetech/docchat/internal/chunk"
	"github.com/acmetech/docchat/internal/log"
)

// upsertBatchSize bounds the number of rows per database round trip, keeping
// individual batches within upstream payload limits.
const upsertBatchSize = 100

// DB is the subset of pgxpool.Pool the store depends on. Defined here, by the
// consumer, so tests can substitute fakes.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Match is a search hit: the fragment fields plus its similarity to the query
// vector. Ephemeral, produced per query, never persisted.
type Match struct {
	DocumentName string
	ChunkIndex   int
	WordCount    int
	Content      string
	Similarity   float32
}

// Stats describes the index for observability. Not used in retrieval logic.
type Stats struct {
	TotalVectors int64
	Dimension    int
}

// SearchOption configures search behavior.
type SearchOption func(*searchConfig)

type searchConfig struct {
	documentName string
}

// WithDocument restricts search results to fragments of a single document.
func WithDocument(name string) SearchOption {
	return func(c *searchConfig) {
		c.documentName = name
	}
}

// Store manages fragments with vector search capabilities.
// Safe for concurrent use; writes are expected to come from a single
// ingestion process at a time.
type Store struct {
	db        DB
	dimension int
	logger    log.Logger
}

// New creates a Store over the given database handle. dimension is the
// process-wide embedding vector length.
func New(db DB, dimension int, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Store{
		db:        db,
		dimension: dimension,
		logger:    logger,
	}
}

// Provision creates the vector extension, the fragments table with the
// configured dimension, and the cosine HNSW index if they do not exist.
// One-time startup step; safe to call repeatedly.
func (s *Store) Provision(ctx context.Context) error {
	if s.dimension < 1 {
		return fmt.Errorf("provision: dimension must be positive, got %d", s.dimension)
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS fragments (
			id            text PRIMARY KEY,
			document_name text NOT NULL,
			chunk_index   integer NOT NULL,
			word_count    integer NOT NULL,
			content       text NOT NULL,
			embedding     vector(%d) NOT NULL
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS fragments_embedding_idx
			ON fragments USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS fragments_document_name_idx
			ON fragments (document_name)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("provisioning fragment store: %w", err)
		}
	}

	s.logger.Info("fragment store provisioned", "dimension", s.dimension, "metric", "cosine")
	return nil
}

// Upsert writes fragments and their vectors for a document. Rows are written
// in batches inside a single transaction: a failure in any batch aborts the
// whole upsert. Returns the number of fragments written.
func (s *Store) Upsert(ctx context.Context, documentName string, fragments []chunk.Fragment, vectors [][]float32) (int, error) {
	if len(fragments) != len(vectors) {
		return 0, fmt.Errorf("upsert %q: %d fragments but %d vectors", documentName, len(fragments), len(vectors))
	}
	if len(fragments) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("upsert %q: begin: %w", documentName, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertSQL = `
		INSERT INTO fragments (id, document_name, chunk_index, word_count, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			document_name = EXCLUDED.document_name,
			chunk_index   = EXCLUDED.chunk_index,
			word_count    = EXCLUDED.word_count,
			content       = EXCLUDED.content,
			embedding     = EXCLUDED.embedding`

	for start := 0; start < len(fragments); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(fragments))

		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			frag := fragments[i]
			batch.Queue(insertSQL,
				FragmentID(documentName, frag.Index),
				documentName,
				frag.Index,
				frag.WordCount,
				frag.Content,
				pgvector.NewVector(vectors[i]),
			)
		}

		if err := flushBatch(ctx, tx, batch); err != nil {
			return 0, fmt.Errorf("upsert %q: batch starting at %d: %w", documentName, start, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("upsert %q: commit: %w", documentName, err)
	}

	s.logger.Debug("fragments upserted", "document", documentName, "count", len(fragments))
	return len(fragments), nil
}

// flushBatch sends a batch and drains every queued result.
func flushBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

// Search returns up to topK fragments ordered by descending cosine similarity
// to the query vector. Ties keep the underlying row order, which is stable for
// a given store state.
func (s *Store) Search(ctx context.Context, vector []float32, topK int, opts ...SearchOption) ([]Match, error) {
	if topK < 1 {
		return nil, fmt.Errorf("search: topK must be positive, got %d", topK)
	}

	var cfg searchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	query := `
		SELECT document_name, chunk_index, word_count, content,
		       1 - (embedding <=> $1) AS similarity
		FROM fragments
		ORDER BY embedding <=> $1
		LIMIT $2`
	args := []any{pgvector.NewVector(vector), topK}

	if cfg.documentName != "" {
		query = `
			SELECT document_name, chunk_index, word_count, content,
			       1 - (embedding <=> $1) AS similarity
			FROM fragments
			WHERE document_name = $3
			ORDER BY embedding <=> $1
			LIMIT $2`
		args = append(args, cfg.documentName)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m          Match
			chunkIndex int32
			wordCount  int32
			similarity float64
		)
		if err := rows.Scan(&m.DocumentName, &chunkIndex, &wordCount, &m.Content, &similarity); err != nil {
			return nil, fmt.Errorf("search: scanning row: %w", err)
		}
		m.ChunkIndex = int(chunkIndex)
		m.WordCount = int(wordCount)
		m.Similarity = float32(similarity)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	return matches, nil
}

// DeleteDocument removes every fragment of the named document. Deleting a
// document with no fragments is not an error.
func (s *Store) DeleteDocument(ctx context.Context, documentName string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM fragments WHERE document_name = $1`, documentName)
	if err != nil {
		return fmt.Errorf("delete document %q: %w", documentName, err)
	}

	s.logger.Debug("document deleted", "document", documentName, "fragments", tag.RowsAffected())
	return nil
}

// Stats returns the total vector count and the configured dimension.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM fragments`).Scan(&total); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}

	return Stats{TotalVectors: total, Dimension: s.dimension}, nil
}

// FragmentID derives the unique row identifier for a fragment.
func FragmentID(documentName string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", documentName, chunkIndex)
}
