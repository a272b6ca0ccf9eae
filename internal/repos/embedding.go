package repos

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/pkg/dbctx"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
)

type EmbeddingRepo interface {
	Upsert(dbc dbctx.Context, id string, vector []float32, metadata map[string]any) error
	Remove(dbc dbctx.Context, ids []string) error
	ListAll(dbc dbctx.Context) ([]*domain.ReferenceEmbedding, error)
}

type embeddingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingRepo {
	return &embeddingRepo{
		db:  db,
		log: baseLog.With("repo", "EmbeddingRepo"),
	}
}

func (r *embeddingRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *embeddingRepo) Upsert(dbc dbctx.Context, id string, vector []float32, metadata map[string]any) error {
	if id == "" {
		return nil
	}
	rawVector, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	rec := domain.ReferenceEmbedding{
		ID:        id,
		Vector:    datatypes.JSON(rawVector),
		IndexedAt: time.Now(),
	}
	if metadata != nil {
		rawMeta, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		rec.Metadata = datatypes.JSON(rawMeta)
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
}

func (r *embeddingRepo) Remove(dbc dbctx.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Delete(&domain.ReferenceEmbedding{}).Error
}

func (r *embeddingRepo) ListAll(dbc dbctx.Context) ([]*domain.ReferenceEmbedding, error) {
	var out []*domain.ReferenceEmbedding
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
