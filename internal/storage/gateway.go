package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
)

// StoreRequest carries everything a backend needs to persist one artifact.
// Byte-oriented backends read ArtifactRef; the chain anchor only needs the
// digest.
type StoreRequest struct {
	SubmissionID   string
	Kind           string
	ArtifactRef    string
	ArtifactSHA256 string
}

// Backend persists an artifact somewhere durable and returns an opaque
// locator for it (a gs:// URL, an ipfs:// CID, a chain tx id).
type Backend interface {
	Name() string
	Store(ctx context.Context, req StoreRequest) (string, error)
}

// Gateway fans a submission out to every configured backend. Replication
// is all-or-nothing per call: if any backend fails, the successful
// locators are still reported so a retry only re-runs the failed ones.
type Gateway struct {
	log      *logger.Logger
	backends []Backend
	timeout  time.Duration
}

func NewGateway(log *logger.Logger, backends []Backend, timeout time.Duration) (*Gateway, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("storage: at least one backend is required")
	}
	seen := map[string]bool{}
	for _, b := range backends {
		if b == nil || b.Name() == "" {
			return nil, fmt.Errorf("storage: backend with empty name")
		}
		if seen[b.Name()] {
			return nil, fmt.Errorf("storage: duplicate backend %q", b.Name())
		}
		seen[b.Name()] = true
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Gateway{
		log:      log.With("service", "StorageGateway"),
		backends: backends,
		timeout:  timeout,
	}, nil
}

// Names returns the configured backend names in registration order.
func (g *Gateway) Names() []string {
	out := make([]string, 0, len(g.backends))
	for _, b := range g.backends {
		out = append(out, b.Name())
	}
	return out
}

// StoreAll replicates the artifact to every backend not already present in
// existing. It returns the merged locator map. When some backends fail the
// map still contains every success and the error is a
// *domain.PartialStorageError naming the failures.
func (g *Gateway) StoreAll(ctx context.Context, req StoreRequest, existing map[string]string) (map[string]string, error) {
	locators := make(map[string]string, len(g.backends))
	for k, v := range existing {
		locators[k] = v
	}

	var mu sync.Mutex
	failed := map[string]error{}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, b := range g.backends {
		if _, ok := locators[b.Name()]; ok {
			continue
		}
		backend := b
		eg.Go(func() error {
			callCtx, cancel := context.WithTimeout(egCtx, g.timeout)
			defer cancel()

			locator, err := backend.Store(callCtx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[backend.Name()] = err
				g.log.Warn("backend store failed",
					"backend", backend.Name(),
					"submission_id", req.SubmissionID,
					"error", err)
				return nil
			}
			locators[backend.Name()] = locator
			return nil
		})
	}
	// goroutines only record failures, never return errors
	_ = eg.Wait()

	if len(failed) > 0 {
		stored := make(map[string]string, len(locators))
		for k, v := range locators {
			stored[k] = v
		}
		return locators, &domain.PartialStorageError{Stored: stored, Failed: failed}
	}
	return locators, nil
}
