package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
	"github.com/soulvan/soulvan-backend/internal/platform/embedding"
	"github.com/soulvan/soulvan-backend/internal/platform/vecstore"
)

const (
	// DefaultTopK bounds the reference matches consulted per audit.
	DefaultTopK = 5

	// DefaultNamespace holds the reference corpus shared by all kinds.
	DefaultNamespace = "reference"
)

// Result reports how close an artifact sits to the reference corpus.
// Score is 1 minus the best similarity, clamped to [0, 1]; an empty corpus
// yields a perfect 1.0 because there is nothing to resemble.
type Result struct {
	Score   float64
	Matches []vecstore.Match
}

type Auditor struct {
	log      *logger.Logger
	provider embedding.Provider
	store    vecstore.VectorStore
	topK     int
}

func New(log *logger.Logger, provider embedding.Provider, store vecstore.VectorStore, topK int) (*Auditor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if provider == nil {
		return nil, fmt.Errorf("audit: embedding provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("audit: vector store is required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Auditor{
		log:      log.With("service", "OriginalityAuditor"),
		provider: provider,
		store:    store,
		topK:     topK,
	}, nil
}

// Audit embeds the artifact and scores it against the reference corpus.
func (a *Auditor) Audit(ctx context.Context, artifactRef string) (Result, error) {
	vector, err := a.provider.Embed(ctx, artifactRef)
	if err != nil {
		return Result{}, err
	}

	matches, err := a.store.QueryMatches(ctx, DefaultNamespace, vector, a.topK)
	if err != nil {
		return Result{}, fmt.Errorf("audit: query matches: %w", err)
	}

	score := 1.0
	if len(matches) > 0 {
		best := matches[0].Score
		for _, m := range matches[1:] {
			if m.Score > best {
				best = m.Score
			}
		}
		if best > 1 {
			best = 1
		}
		if best < 0 {
			best = 0
		}
		score = 1 - best
	}

	a.log.Debug("artifact audited",
		"artifact_ref", artifactRef,
		"matches", len(matches),
		"score", score)
	return Result{Score: score, Matches: matches}, nil
}

// Index embeds a reference artifact and adds it to the corpus, returning
// the stored vector so callers can persist it alongside their own records.
func (a *Auditor) Index(ctx context.Context, id, artifactRef string, metadata map[string]any) ([]float32, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("audit: reference id is required")
	}
	vector, err := a.provider.Embed(ctx, artifactRef)
	if err != nil {
		return nil, err
	}
	err = a.store.Upsert(ctx, DefaultNamespace, []vecstore.Vector{{
		ID:       id,
		Values:   vector,
		Metadata: metadata,
	}})
	if err != nil {
		return nil, fmt.Errorf("audit: index reference: %w", err)
	}
	return vector, nil
}

// Remove drops reference entries from the corpus.
func (a *Auditor) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := a.store.DeleteIDs(ctx, DefaultNamespace, ids); err != nil {
		return fmt.Errorf("audit: remove references: %w", err)
	}
	return nil
}
