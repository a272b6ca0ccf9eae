package qdrant

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
	"github.com/soulvan/soulvan-backend/internal/platform/vecstore"
)

// Store talks to a qdrant collection over its HTTP API. All entries carry
// a namespace payload field so multiple logical corpora can share one
// collection; queries always filter on it.
type Store struct {
	cfg    Config
	http   *http.Client
	log    *logger.Logger
	inited bool
}

func NewStore(cfg Config, log *logger.Logger) (*Store, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Store{
		cfg:  cfg,
		http: &http.Client{Timeout: 20 * time.Second},
		log:  log,
	}, nil
}

func (s *Store) qualify(namespace string) string {
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		ns = "default"
	}
	if s.cfg.NamespacePrefix == "" {
		return ns
	}
	return s.cfg.NamespacePrefix + ":" + ns
}

// pointID maps an arbitrary caller id to a stable UUID, which qdrant
// requires as point id. The raw id is preserved in the payload.
func pointID(namespace, id string) string {
	sum := sha1.Sum([]byte(namespace + "\x00" + id))
	u, err := uuid.FromBytes(sum[:16])
	if err != nil {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace+"\x00"+id)).String()
	}
	return u.String()
}

func (s *Store) ensureCollection(ctx context.Context, dim int) error {
	if s.inited {
		return nil
	}
	if s.cfg.VectorDim > 0 {
		dim = s.cfg.VectorDim
	}
	if dim <= 0 {
		return opErr("ensure_collection", OperationErrorValidation, "vector dimension unknown", nil)
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	status, raw, err := s.do(ctx, http.MethodPut, "/collections/"+s.cfg.Collection, body)
	if err != nil {
		return err
	}
	// 409 means the collection already exists, which is fine.
	if status != http.StatusOK && status != http.StatusConflict {
		return opErr("ensure_collection", OperationErrorQueryFailed,
			fmt.Sprintf("status=%d body=%s", status, truncate(raw, 256)), nil)
	}
	s.log.Debug("qdrant collection ready", "collection", s.cfg.Collection, "dim", dim)
	s.inited = true
	return nil
}

func (s *Store) Upsert(ctx context.Context, namespace string, vectors []vecstore.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	for _, v := range vectors {
		if strings.TrimSpace(v.ID) == "" {
			return opErr("upsert", OperationErrorValidation, "vector id is required", nil)
		}
		if len(v.Values) == 0 {
			return opErr("upsert", OperationErrorValidation, "vector values are required for id="+v.ID, nil)
		}
	}
	if err := s.ensureCollection(ctx, len(vectors[0].Values)); err != nil {
		return err
	}

	ns := s.qualify(namespace)
	points := make([]map[string]any, 0, len(vectors))
	for _, v := range vectors {
		payload := map[string]any{"namespace": ns, "source_id": v.ID}
		for k, val := range v.Metadata {
			if k == "namespace" || k == "source_id" {
				continue
			}
			payload[k] = val
		}
		points = append(points, map[string]any{
			"id":      pointID(ns, v.ID),
			"vector":  v.Values,
			"payload": payload,
		})
	}

	status, raw, err := s.do(ctx, http.MethodPut,
		"/collections/"+s.cfg.Collection+"/points?wait=true",
		map[string]any{"points": points})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return opErr("upsert", OperationErrorQueryFailed,
			fmt.Sprintf("status=%d body=%s", status, truncate(raw, 256)), nil)
	}
	return nil
}

func (s *Store) QueryMatches(ctx context.Context, namespace string, values []float32, topK int) ([]vecstore.Match, error) {
	if len(values) == 0 {
		return nil, opErr("query", OperationErrorValidation, "query vector is required", nil)
	}
	if topK <= 0 {
		topK = 5
	}
	if err := s.ensureCollection(ctx, len(values)); err != nil {
		return nil, err
	}

	ns := s.qualify(namespace)
	body := map[string]any{
		"vector":       values,
		"limit":        topK,
		"with_payload": []string{"source_id"},
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "namespace", "match": map[string]any{"value": ns}},
			},
		},
	}
	status, raw, err := s.do(ctx, http.MethodPost,
		"/collections/"+s.cfg.Collection+"/points/search", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, opErr("query", OperationErrorQueryFailed,
			fmt.Sprintf("status=%d body=%s", status, truncate(raw, 256)), nil)
	}

	var envelope struct {
		Result []struct {
			ID      any                    `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, opErr("query", OperationErrorDecodeFailed, "", err)
	}

	matches := make([]vecstore.Match, 0, len(envelope.Result))
	for _, r := range envelope.Result {
		id := ""
		if r.Payload != nil {
			if v, ok := r.Payload["source_id"].(string); ok {
				id = v
			}
		}
		if id == "" {
			id = fmt.Sprintf("%v", r.ID)
		}
		matches = append(matches, vecstore.Match{ID: id, Score: clampScore(r.Score)})
	}
	return matches, nil
}

func (s *Store) DeleteIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ns := s.qualify(namespace)
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		points = append(points, pointID(ns, id))
	}
	if len(points) == 0 {
		return nil
	}

	status, raw, err := s.do(ctx, http.MethodPost,
		"/collections/"+s.cfg.Collection+"/points/delete?wait=true",
		map[string]any{"points": points})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return opErr("delete", OperationErrorQueryFailed,
			fmt.Sprintf("status=%d body=%s", status, truncate(raw, 256)), nil)
	}
	return nil
}

func (s *Store) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, opErr(method+" "+path, OperationErrorEncodeFailed, "", err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.cfg.URL, "/")+path, payload)
	if err != nil {
		return 0, nil, opErr(method+" "+path, OperationErrorTransportFailed, "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		code := OperationErrorTransportFailed
		if errors.Is(err, context.DeadlineExceeded) {
			code = OperationErrorTimeout
		}
		return 0, nil, opErr(method+" "+path, code, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, opErr(method+" "+path, OperationErrorDecodeFailed, "", err)
	}
	return resp.StatusCode, raw, nil
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func truncate(raw []byte, max int) string {
	s := string(raw)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
