package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
)

// Provider turns an artifact reference into an embedding vector.
type Provider interface {
	Embed(ctx context.Context, artifactRef string) ([]float32, error)
}

// Client calls an external embedding service. The service accepts the
// artifact reference and returns a dense vector; the media decoding lives
// on the service side so renders, replays and voice clips all go through
// the same endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("embedding: base url is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}, nil
}

func (c *Client) Embed(ctx context.Context, artifactRef string) ([]float32, error) {
	if strings.TrimSpace(artifactRef) == "" {
		return nil, fmt.Errorf("%w: empty artifact ref", domain.ErrInvalidArtifact)
	}

	body, err := json.Marshal(map[string]string{"path": artifactRef})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", domain.ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrEmbedding, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status=%d body=%s", domain.ErrEmbedding, resp.StatusCode, snippet(raw))
	}

	var decoded struct {
		Vector []float32 `json:"vector"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrEmbedding, err)
	}
	if len(decoded.Vector) == 0 {
		return nil, fmt.Errorf("%w: service returned empty vector", domain.ErrEmbedding)
	}
	return decoded.Vector, nil
}

func snippet(raw []byte) string {
	s := string(raw)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
