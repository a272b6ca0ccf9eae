package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/soulvan/soulvan-backend/internal/audit"
	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/pkg/dbctx"
	"github.com/soulvan/soulvan-backend/internal/provenance"
	"github.com/soulvan/soulvan-backend/internal/repos"
	"github.com/soulvan/soulvan-backend/internal/storage"
)

// memSubmissionRepo is an in-memory stand-in for the Postgres repo so the
// coordinator's sequencing can be exercised without a database.
type memSubmissionRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.Submission
}

func newMemSubmissionRepo() *memSubmissionRepo {
	return &memSubmissionRepo{rows: map[uuid.UUID]*domain.Submission{}}
}

func cloneSubmission(s *domain.Submission) *domain.Submission {
	cp := *s
	cp.StorageLocators = append(datatypes.JSON(nil), s.StorageLocators...)
	cp.Counters = append(datatypes.JSON(nil), s.Counters...)
	cp.AppliedEffects = append(datatypes.JSON(nil), s.AppliedEffects...)
	return &cp
}

func (r *memSubmissionRepo) Create(_ dbctx.Context, sub *domain.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	r.rows[sub.ID] = cloneSubmission(sub)
	return nil
}

func (r *memSubmissionRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSubmission(row), nil
}

func (r *memSubmissionRepo) ListByKindStates(_ dbctx.Context, kind domain.SubmissionKind, states []domain.SubmissionState, limit int) ([]*domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Submission
	for _, row := range r.rows {
		if kind != "" && row.Kind != kind {
			continue
		}
		if len(states) > 0 {
			found := false
			for _, s := range states {
				if row.State == s {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, cloneSubmission(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func applyUpdates(row *domain.Submission, updates map[string]interface{}) error {
	for k, v := range updates {
		switch k {
		case "state":
			row.State = v.(domain.SubmissionState)
		case "attempts":
			row.Attempts = v.(int)
		case "originality_score":
			f := v.(float64)
			row.OriginalityScore = &f
		case "artifact_hash":
			row.ArtifactHash = v.(string)
		case "signature":
			row.Signature = v.(string)
		case "storage_locators":
			row.StorageLocators = v.(datatypes.JSON)
		case "counters":
			row.Counters = v.(datatypes.JSON)
		case "applied_effects":
			row.AppliedEffects = v.(datatypes.JSON)
		case "last_error":
			row.LastError = v.(string)
		case "last_error_at":
			if v == nil {
				row.LastErrorAt = nil
			} else {
				row.LastErrorAt = v.(*time.Time)
			}
		case "updated_at":
		default:
			return fmt.Errorf("unexpected update field %q", k)
		}
	}
	row.UpdatedAt = time.Now()
	return nil
}

func (r *memSubmissionRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil
	}
	return applyUpdates(row, updates)
}

func (r *memSubmissionRepo) UpdateFieldsIfState(_ dbctx.Context, id uuid.UUID, expectState domain.SubmissionState, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.State != expectState {
		return false, nil
	}
	if err := applyUpdates(row, updates); err != nil {
		return false, err
	}
	return true, nil
}

func (r *memSubmissionRepo) ClaimNextAdvancable(_ dbctx.Context, maxAttempts int, retryDelay time.Duration) (*domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-retryDelay)
	var best *domain.Submission
	for _, row := range r.rows {
		switch row.State {
		case domain.StatePending, domain.StateAudited, domain.StateSigned, domain.StateStored:
		default:
			continue
		}
		if row.Attempts >= maxAttempts {
			continue
		}
		if row.LastErrorAt != nil && !row.LastErrorAt.Before(cutoff) {
			continue
		}
		if best == nil || row.CreatedAt.Before(best.CreatedAt) {
			best = row
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Attempts++
	return cloneSubmission(best), nil
}

func (r *memSubmissionRepo) CountsByKindState(_ dbctx.Context) ([]repos.KindStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]*repos.KindStat{}
	for _, row := range r.rows {
		key := string(row.Kind) + "/" + string(row.State)
		if counts[key] == nil {
			counts[key] = &repos.KindStat{Kind: row.Kind, State: row.State}
		}
		counts[key].Count++
	}
	var out []repos.KindStat
	for _, s := range counts {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].State < out[j].State
	})
	return out, nil
}

type memVoteRepo struct {
	mu     sync.Mutex
	voters map[uuid.UUID][]string
}

func newMemVoteRepo() *memVoteRepo {
	return &memVoteRepo{voters: map[uuid.UUID][]string{}}
}

func (r *memVoteRepo) InsertIfAbsent(_ dbctx.Context, submissionID uuid.UUID, voterIdentity string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.voters[submissionID] {
		if v == voterIdentity {
			return false, nil
		}
	}
	r.voters[submissionID] = append(r.voters[submissionID], voterIdentity)
	return true, nil
}

func (r *memVoteRepo) ListVoters(_ dbctx.Context, submissionID uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.voters[submissionID]...), nil
}

func (r *memVoteRepo) CountBySubmission(_ dbctx.Context, submissionID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.voters[submissionID])), nil
}

type memEffectRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID][]*domain.EffectRecord
}

func newMemEffectRepo() *memEffectRepo {
	return &memEffectRepo{rows: map[uuid.UUID][]*domain.EffectRecord{}}
}

func (r *memEffectRepo) RecordOnce(_ dbctx.Context, submissionID uuid.UUID, effect string, amount int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.rows[submissionID] {
		if rec.Effect == effect {
			return false, nil
		}
	}
	r.rows[submissionID] = append(r.rows[submissionID], &domain.EffectRecord{
		ID:           uuid.New(),
		SubmissionID: submissionID,
		Effect:       effect,
		Amount:       amount,
		CreatedAt:    time.Now(),
	})
	return true, nil
}

func (r *memEffectRepo) ListBySubmission(_ dbctx.Context, submissionID uuid.UUID) ([]*domain.EffectRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.EffectRecord(nil), r.rows[submissionID]...), nil
}

// fakeAuditor returns a fixed score, or an error when set.
type fakeAuditor struct {
	score float64
	err   error
	calls int
}

func (f *fakeAuditor) Audit(_ context.Context, _ string) (audit.Result, error) {
	f.calls++
	if f.err != nil {
		return audit.Result{}, f.err
	}
	return audit.Result{Score: f.score}, nil
}

type fakeSigner struct {
	err   error
	calls int
}

func (f *fakeSigner) Sign(artifactRef, submitter, kind string) (provenance.Attestation, error) {
	f.calls++
	if f.err != nil {
		return provenance.Attestation{}, f.err
	}
	return provenance.Attestation{
		ArtifactSHA256: "digest-of-" + artifactRef,
		Signature:      "sig-" + submitter + "-" + kind,
	}, nil
}

// fakeStorer replays a scripted sequence of gateway outcomes.
type fakeStorer struct {
	mu      sync.Mutex
	outcome func(existing map[string]string) (map[string]string, error)
	calls   int
}

func (f *fakeStorer) StoreAll(_ context.Context, _ storage.StoreRequest, existing map[string]string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.outcome(existing)
}

func allBackendsSucceed(existing map[string]string) (map[string]string, error) {
	out := map[string]string{"gcs": "gs://bucket/x", "ipfs": "ipfs://cid-x"}
	for k, v := range existing {
		out[k] = v
	}
	return out, nil
}
