package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
)

// IPFSBackend pins artifacts through a pinning service (pinata-compatible
// API) and returns an ipfs:// locator built from the reported CID.
type IPFSBackend struct {
	log     *logger.Logger
	baseURL string
	token   string
	http    *http.Client
}

func NewIPFSBackend(log *logger.Logger, baseURL, token string) (*IPFSBackend, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("storage: ipfs pin service url is required")
	}
	return &IPFSBackend{
		log:     log.With("service", "IPFSBackend"),
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (b *IPFSBackend) Name() string { return "ipfs" }

func (b *IPFSBackend) Store(ctx context.Context, req StoreRequest) (string, error) {
	f, err := os.Open(req.ArtifactRef)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(req.ArtifactRef))
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish multipart: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/pinning/pinFileToIPFS", &buf)
	if err != nil {
		return "", fmt.Errorf("build pin request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if b.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("pin artifact: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read pin response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pin service status=%d body=%s", resp.StatusCode, snippet(raw))
	}

	var decoded struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode pin response: %w", err)
	}
	if decoded.IpfsHash == "" {
		return "", fmt.Errorf("pin service returned empty hash")
	}
	return "ipfs://" + decoded.IpfsHash, nil
}

func snippet(raw []byte) string {
	s := string(raw)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
