package vecstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process VectorStore for development and tests.
// It is read-heavy safe: queries take a read lock, indexing a write lock.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Vector
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{namespaces: map[string]map[string]Vector{}}
}

func (s *MemoryStore) Upsert(_ context.Context, namespace string, vectors []Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = map[string]Vector{}
		s.namespaces[namespace] = ns
	}
	for _, v := range vectors {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return fmt.Errorf("vector id is required")
		}
		if len(v.Values) == 0 {
			return fmt.Errorf("vector %q has empty values", id)
		}
		ns[id] = v
	}
	return nil
}

func (s *MemoryStore) QueryMatches(_ context.Context, namespace string, q []float32, topK int) ([]Match, error) {
	if len(q) == 0 {
		return nil, fmt.Errorf("query vector required")
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaces[namespace]
	out := make([]Match, 0, len(ns))
	for id, v := range ns {
		out = append(out, Match{ID: id, Score: cosine(q, v.Values)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *MemoryStore) DeleteIDs(_ context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaces[namespace]
	for _, id := range ids {
		delete(ns, id)
	}
	return nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
