package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
)

// ChainBackend anchors the artifact digest on-chain via a JSON-RPC node
// that exposes a data-carrier (OP_RETURN style) call. It never stores the
// artifact bytes; the locator is the anchoring transaction id.
type ChainBackend struct {
	log     *logger.Logger
	rpcURL  string
	rpcUser string
	rpcPass string
	http    *http.Client
}

func NewChainBackend(log *logger.Logger, rpcURL, rpcUser, rpcPass string) (*ChainBackend, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("storage: chain rpc url is required")
	}
	return &ChainBackend{
		log:     log.With("service", "ChainBackend"),
		rpcURL:  rpcURL,
		rpcUser: rpcUser,
		rpcPass: rpcPass,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (b *ChainBackend) Name() string { return "chain" }

func (b *ChainBackend) Store(ctx context.Context, req StoreRequest) (string, error) {
	if strings.TrimSpace(req.ArtifactSHA256) == "" {
		return "", fmt.Errorf("artifact digest is required for chain anchoring")
	}

	txid, err := b.call(ctx, "senddata", []any{req.ArtifactSHA256})
	if err != nil {
		return "", err
	}
	return "chain:" + txid, nil
}

func (b *ChainBackend) call(ctx context.Context, method string, params []any) (string, error) {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "1.0",
		"id":      "soulvan",
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return "", fmt.Errorf("encode rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.rpcURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.rpcUser != "" {
		httpReq.SetBasicAuth(b.rpcUser, b.rpcPass)
	}

	resp, err := b.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read rpc response: %w", err)
	}

	var decoded struct {
		Result string `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode rpc response (status=%d): %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("rpc %s failed: code=%d %s", method, decoded.Error.Code, decoded.Error.Message)
	}
	if decoded.Result == "" {
		return "", fmt.Errorf("rpc %s returned empty result", method)
	}
	return decoded.Result, nil
}
