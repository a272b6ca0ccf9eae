package domain

import (
	"time"

	"gorm.io/datatypes"
)

// ReferenceEmbedding mirrors the reference corpus in Postgres so the vector
// store can be rebuilt; similarity queries go through the vector store.
type ReferenceEmbedding struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	Vector    datatypes.JSON `gorm:"column:vector;type:jsonb;not null" json:"vector"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	IndexedAt time.Time      `gorm:"not null" json:"indexed_at"`
}

func (ReferenceEmbedding) TableName() string { return "reference_embeddings" }
