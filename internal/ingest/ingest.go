// Package ingest turns document files into indexed fragments: load the text,
// split it into fragments, embed them, and upsert the result into the vector
// store. A directory pass skips unreadable or empty files and keeps going.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/acmetech/docchat/internal/chunk"
	"github.com/acmetech/docchat/internal/log"
)

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the slice of the fragment store the ingester needs.
type Store interface {
	Upsert(ctx context.Context, documentName string, fragments []chunk.Fragment, vectors [][]float32) (int, error)
	DeleteDocument(ctx context.Context, documentName string) error
}

// Config holds the ingester knobs.
type Config struct {
	// ChunkSize is the per-fragment word budget.
	ChunkSize int

	// EmbedTimeout bounds each embedding batch call.
	EmbedTimeout time.Duration
}

// Summary reports the outcome of a directory ingestion pass.
type Summary struct {
	Documents int
	Fragments int
	Skipped   int
}

// Ingester indexes documents into the fragment store.
type Ingester struct {
	embedder Embedder
	store    Store
	cfg      Config
	logger   log.Logger
}

// New creates an Ingester. Zero config fields fall back to defaults
// (512-word fragments, 15s embed timeout).
func New(embedder Embedder, store Store, cfg Config, logger log.Logger) *Ingester {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Ingester{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// IngestFile indexes a single document. Any previously indexed fragments for
// the same document name are removed first, so re-ingesting a changed file
// never leaves stale fragments behind. Returns the number of fragments
// indexed.
func (ing *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	name := filepath.Base(path)

	text, err := Load(path)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("document %s has no text content", name)
	}

	fragments, err := chunk.SplitWords(text, ing.cfg.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("splitting %s: %w", name, err)
	}

	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Content
	}

	embedCtx, cancel := context.WithTimeout(ctx, ing.cfg.EmbedTimeout)
	vectors, err := ing.embedder.EmbedBatch(embedCtx, texts)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("embedding %s: %w", name, err)
	}

	if err := ing.store.DeleteDocument(ctx, name); err != nil {
		return 0, fmt.Errorf("clearing previous fragments of %s: %w", name, err)
	}

	n, err := ing.store.Upsert(ctx, name, fragments, vectors)
	if err != nil {
		return 0, fmt.Errorf("indexing %s: %w", name, err)
	}

	ing.logger.Info("document ingested", "document", name, "fragments", n)
	return n, nil
}

// IngestDir indexes every supported document directly under dir. Files that
// cannot be loaded, are empty, or fail to index are logged and skipped; the
// pass continues with the remaining files. Only infrastructure-level problems
// (the directory itself being unreadable) abort the pass.
func (ing *Ingester) IngestDir(ctx context.Context, dir string) (Summary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Summary{}, fmt.Errorf("reading documents directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !Supported(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var summary Summary
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		n, err := ing.IngestFile(ctx, filepath.Join(dir, name))
		if err != nil {
			ing.logger.Warn("skipping document", "document", name, "error", err)
			summary.Skipped++
			continue
		}
		summary.Documents++
		summary.Fragments += n
	}

	ing.logger.Info("ingestion pass complete",
		"documents", summary.Documents,
		"fragments", summary.Fragments,
		"skipped", summary.Skipped)
	return summary, nil
}

// Remove deletes every indexed fragment of the named document.
func (ing *Ingester) Remove(ctx context.Context, documentName string) error {
	if err := ing.store.DeleteDocument(ctx, documentName); err != nil {
		return fmt.Errorf("removing %s: %w", documentName, err)
	}
	ing.logger.Info("document removed", "document", documentName)
	return nil
}
