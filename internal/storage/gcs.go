package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
)

// GCSBackend uploads artifacts to a Cloud Storage bucket, keyed by
// submission id so re-stores overwrite rather than duplicate.
type GCSBackend struct {
	log    *logger.Logger
	client *gcstorage.Client
	bucket string
}

func NewGCSBackend(ctx context.Context, log *logger.Logger, bucket string) (*GCSBackend, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("storage: gcs bucket name is required")
	}

	var opts []option.ClientOption
	if host := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")); host != "" {
		opts = append(opts, option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithScopes(gcstorage.ScopeReadWrite))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create gcs client: %w", err)
	}

	return &GCSBackend{
		log:    log.With("service", "GCSBackend"),
		client: client,
		bucket: bucket,
	}, nil
}

func (b *GCSBackend) Name() string { return "gcs" }

func (b *GCSBackend) Store(ctx context.Context, req StoreRequest) (string, error) {
	f, err := os.Open(req.ArtifactRef)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	key := objectKey(req)
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer: %w", err)
	}

	return "gs://" + b.bucket + "/" + key, nil
}

func (b *GCSBackend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

func objectKey(req StoreRequest) string {
	ext := path.Ext(req.ArtifactRef)
	return fmt.Sprintf("submissions/%s/%s%s", req.Kind, req.SubmissionID, ext)
}
