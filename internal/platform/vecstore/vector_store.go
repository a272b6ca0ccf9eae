package vecstore

import (
	"context"
)

// Vector is a reference corpus entry held by the embedding store.
type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Match is a similarity query hit. Score is cosine similarity, higher is
// closer.
type Match struct {
	ID    string
	Score float64
}

// VectorStore is the embedding store contract. Namespaces partition the
// corpus per submission kind. An empty namespace queries the default corpus.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	// QueryMatches returns up to topK nearest entries by cosine similarity,
	// best first. An empty corpus yields an empty slice, not an error.
	QueryMatches(ctx context.Context, namespace string, q []float32, topK int) ([]Match, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error
}
