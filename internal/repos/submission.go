package repos

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/pkg/dbctx"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
)

// KindStat aggregates submission counts per kind and state.
type KindStat struct {
	Kind  domain.SubmissionKind  `json:"kind"`
	State domain.SubmissionState `json:"state"`
	Count int64                  `json:"count"`
}

type SubmissionRepo interface {
	Create(dbc dbctx.Context, sub *domain.Submission) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Submission, error)
	ListByKindStates(dbc dbctx.Context, kind domain.SubmissionKind, states []domain.SubmissionState, limit int) ([]*domain.Submission, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsIfState applies updates only while the row is still in
	// expectState; it reports whether a row matched.
	UpdateFieldsIfState(dbc dbctx.Context, id uuid.UUID, expectState domain.SubmissionState, updates map[string]interface{}) (bool, error)
	// ClaimNextAdvancable picks the oldest submission sitting in a
	// non-terminal pipeline state whose retry delay has elapsed, locking it
	// against concurrent claimers. Returns nil when nothing is runnable.
	ClaimNextAdvancable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration) (*domain.Submission, error)
	CountsByKindState(dbc dbctx.Context) ([]KindStat, error)
}

type submissionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubmissionRepo(db *gorm.DB, baseLog *logger.Logger) SubmissionRepo {
	return &submissionRepo{
		db:  db,
		log: baseLog.With("repo", "SubmissionRepo"),
	}
}

func (r *submissionRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *submissionRepo) Create(dbc dbctx.Context, sub *domain.Submission) error {
	if sub == nil {
		return fmt.Errorf("submission required")
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	return r.conn(dbc).WithContext(dbc.Ctx).Create(sub).Error
}

func (r *submissionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Submission, error) {
	if id == uuid.Nil {
		return nil, domain.ErrNotFound
	}
	var sub domain.Submission
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *submissionRepo) ListByKindStates(dbc dbctx.Context, kind domain.SubmissionKind, states []domain.SubmissionState, limit int) ([]*domain.Submission, error) {
	q := r.conn(dbc).WithContext(dbc.Ctx).Model(&domain.Submission{})
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*domain.Submission
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *submissionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.Submission{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *submissionRepo) UpdateFieldsIfState(dbc dbctx.Context, id uuid.UUID, expectState domain.SubmissionState, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.Submission{}).
		Where("id = ? AND state = ?", id, expectState).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// pipelineStates are the states the advancer drives forward on its own.
var pipelineStates = []domain.SubmissionState{
	domain.StatePending,
	domain.StateAudited,
	domain.StateSigned,
	domain.StateStored,
}

func (r *submissionRepo) ClaimNextAdvancable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration) (*domain.Submission, error) {
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	var claimed *domain.Submission
	err := r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var sub domain.Submission
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				state IN ?
				AND attempts < ?
				AND (last_error_at IS NULL OR last_error_at < ?)
			`, pipelineStates, maxAttempts, retryCutoff).
			Order("created_at ASC")
		qErr := q.First(&sub).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := tx.Model(&domain.Submission{}).
			Where("id = ?", sub.ID).
			Updates(map[string]interface{}{
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": now,
			}).Error
		if uErr != nil {
			return uErr
		}
		sub.Attempts++
		claimed = &sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *submissionRepo) CountsByKindState(dbc dbctx.Context) ([]KindStat, error) {
	var out []KindStat
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.Submission{}).
		Select("kind, state, COUNT(*) AS count").
		Group("kind, state").
		Order("kind, state").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
