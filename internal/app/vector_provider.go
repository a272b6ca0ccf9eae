package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
	"github.com/soulvan/soulvan-backend/internal/platform/qdrant"
	"github.com/soulvan/soulvan-backend/internal/platform/vecstore"
)

type VectorProvider string

const (
	VectorProviderMemory VectorProvider = "memory"
	VectorProviderQdrant VectorProvider = "qdrant"
)

// newVectorStore selects the embedding store backend from VECTOR_PROVIDER.
// The in-memory store serves single-node and test setups; qdrant is the
// production path.
func newVectorStore(log *logger.Logger) (vecstore.VectorStore, VectorProvider, error) {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("VECTOR_PROVIDER")))
	switch VectorProvider(raw) {
	case VectorProviderQdrant:
		cfg, err := qdrant.ResolveConfigFromEnv()
		if err != nil {
			return nil, VectorProviderQdrant, fmt.Errorf("resolve qdrant config: %w", err)
		}
		store, err := qdrant.NewStore(cfg, log)
		if err != nil {
			return nil, VectorProviderQdrant, fmt.Errorf("init qdrant store: %w", err)
		}
		return store, VectorProviderQdrant, nil
	case VectorProviderMemory, "":
		return vecstore.NewMemoryStore(), VectorProviderMemory, nil
	default:
		return nil, VectorProvider(raw), fmt.Errorf("unknown VECTOR_PROVIDER %q (expected memory or qdrant)", raw)
	}
}
