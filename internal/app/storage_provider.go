package app

import (
	"context"
	"fmt"

	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
	"github.com/soulvan/soulvan-backend/internal/storage"
)

// newStorageGateway assembles the replication fan-out from whatever
// backends the environment configures. At least one must be present; the
// chain anchor is optional and only ever a mirror.
func newStorageGateway(ctx context.Context, log *logger.Logger, cfg Config) (*storage.Gateway, error) {
	var backends []storage.Backend

	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCSBackend(ctx, log, cfg.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("init gcs backend: %w", err)
		}
		backends = append(backends, gcs)
	}
	if cfg.IPFSPinURL != "" {
		ipfs, err := storage.NewIPFSBackend(log, cfg.IPFSPinURL, cfg.IPFSPinToken)
		if err != nil {
			return nil, fmt.Errorf("init ipfs backend: %w", err)
		}
		backends = append(backends, ipfs)
	}
	if cfg.ChainRPCURL != "" {
		chain, err := storage.NewChainBackend(log, cfg.ChainRPCURL, cfg.ChainRPCUser, cfg.ChainRPCPass)
		if err != nil {
			return nil, fmt.Errorf("init chain backend: %w", err)
		}
		backends = append(backends, chain)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no storage backends configured; set at least one of ARTIFACT_GCS_BUCKET_NAME, IPFS_PIN_URL, CHAIN_RPC_URL")
	}
	return storage.NewGateway(log, backends, cfg.StageTimeout)
}
