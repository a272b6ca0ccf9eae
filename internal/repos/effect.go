package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/pkg/dbctx"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
)

type EffectRepo interface {
	// RecordOnce files the effect for the submission, reporting false when
	// the same effect was already recorded.
	RecordOnce(dbc dbctx.Context, submissionID uuid.UUID, effect string, amount int64) (bool, error)
	ListBySubmission(dbc dbctx.Context, submissionID uuid.UUID) ([]*domain.EffectRecord, error)
}

type effectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEffectRepo(db *gorm.DB, baseLog *logger.Logger) EffectRepo {
	return &effectRepo{
		db:  db,
		log: baseLog.With("repo", "EffectRepo"),
	}
}

func (r *effectRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *effectRepo) RecordOnce(dbc dbctx.Context, submissionID uuid.UUID, effect string, amount int64) (bool, error) {
	if submissionID == uuid.Nil || effect == "" {
		return false, nil
	}
	rec := domain.EffectRecord{
		ID:           uuid.New(),
		SubmissionID: submissionID,
		Effect:       effect,
		Amount:       amount,
	}
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "submission_id"}, {Name: "effect"}},
			DoNothing: true,
		}).
		Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *effectRepo) ListBySubmission(dbc dbctx.Context, submissionID uuid.UUID) ([]*domain.EffectRecord, error) {
	var out []*domain.EffectRecord
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
