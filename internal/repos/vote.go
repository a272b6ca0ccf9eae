package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/pkg/dbctx"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
)

type VoteRepo interface {
	// InsertIfAbsent records the vote, reporting false without error when
	// this identity already voted on the submission.
	InsertIfAbsent(dbc dbctx.Context, submissionID uuid.UUID, voterIdentity string) (bool, error)
	ListVoters(dbc dbctx.Context, submissionID uuid.UUID) ([]string, error)
	CountBySubmission(dbc dbctx.Context, submissionID uuid.UUID) (int64, error)
}

type voteRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVoteRepo(db *gorm.DB, baseLog *logger.Logger) VoteRepo {
	return &voteRepo{
		db:  db,
		log: baseLog.With("repo", "VoteRepo"),
	}
}

func (r *voteRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *voteRepo) InsertIfAbsent(dbc dbctx.Context, submissionID uuid.UUID, voterIdentity string) (bool, error) {
	if submissionID == uuid.Nil || voterIdentity == "" {
		return false, nil
	}
	rec := domain.VoteRecord{
		ID:            uuid.New(),
		SubmissionID:  submissionID,
		VoterIdentity: voterIdentity,
	}
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "submission_id"}, {Name: "voter_identity"}},
			DoNothing: true,
		}).
		Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *voteRepo) ListVoters(dbc dbctx.Context, submissionID uuid.UUID) ([]string, error) {
	var out []string
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.VoteRecord{}).
		Where("submission_id = ?", submissionID).
		Order("created_at ASC").
		Pluck("voter_identity", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *voteRepo) CountBySubmission(dbc dbctx.Context, submissionID uuid.UUID) (int64, error) {
	var count int64
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.VoteRecord{}).
		Where("submission_id = ?", submissionID).
		Count(&count).Error
	return count, err
}
