// Package retrieval decides which stored fragments are relevant to a
// question: embed the question, fetch the nearest fragments, drop everything
// below the similarity threshold, and keep the store's descending order.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acmetech/docchat/internal/log"
	"github.com/acmetech/docchat/internal/store"
)

var (
	// ErrNoResults signals that the store returned no matches at all.
	ErrNoResults = errors.New("no matches in fragment store")

	// ErrNoRelevantContent signals that matches came back but none cleared
	// the similarity threshold. Distinct from ErrNoResults; both surface to
	// the caller as "nothing sufficiently relevant".
	ErrNoRelevantContent = errors.New("no sufficiently relevant content")
)

// Embedder turns a question into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher performs nearest-neighbor search over stored fragments.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, opts ...store.SearchOption) ([]store.Match, error)
}

// Config holds the retrieval knobs. Threshold is corpus-shape-dependent and
// must stay configurable: a corpus of whole documents stored as single large
// fragments produces much lower cosine scores than finely chunked text.
type Config struct {
	TopK          int
	Threshold     float32
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
}

// Policy issues queries against the fragment store and filters the results.
type Policy struct {
	embedder Embedder
	searcher Searcher
	cfg      Config
	logger   log.Logger
}

// New creates a Policy. Non-positive TopK and timeouts fall back to defaults
// (topK 5, 15s/10s). Threshold is taken as configured: 0 is a legal cosine
// threshold meaning "keep every non-negative match", so no default is
// substituted here — the 0.25 default lives in the config layer.
func New(embedder Embedder, searcher Searcher, cfg Config, logger log.Logger) *Policy {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 15 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Policy{
		embedder: embedder,
		searcher: searcher,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve returns the fragments relevant to the question, ordered by
// descending similarity as delivered by the store (no re-sort). Returns
// ErrNoResults or ErrNoRelevantContent when nothing qualifies.
func (p *Policy) Retrieve(ctx context.Context, question string) ([]store.Match, error) {
	embedCtx, cancelEmbed := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
	defer cancelEmbed()

	vector, err := p.embedder.Embed(embedCtx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	searchCtx, cancelSearch := context.WithTimeout(ctx, p.cfg.SearchTimeout)
	defer cancelSearch()

	matches, err := p.searcher.Search(searchCtx, vector, p.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("searching fragments: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrNoResults
	}

	relevant := Filter(matches, p.cfg.Threshold)
	if len(relevant) == 0 {
		p.logger.Debug("all matches below threshold",
			"matches", len(matches),
			"threshold", p.cfg.Threshold,
			"best", matches[0].Similarity)
		return nil, ErrNoRelevantContent
	}

	p.logger.Debug("fragments retrieved",
		"matches", len(matches),
		"relevant", len(relevant),
		"top_similarity", relevant[0].Similarity)
	return relevant, nil
}

// Filter keeps matches with similarity at or above threshold, preserving the
// incoming order.
func Filter(matches []store.Match, threshold float32) []store.Match {
	relevant := make([]store.Match, 0, len(matches))
	for _, m := range matches {
		if m.Similarity >= threshold {
			relevant = append(relevant, m)
		}
	}
	return relevant
}
