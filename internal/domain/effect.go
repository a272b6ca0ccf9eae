package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EffectApprove = "approve"
	EffectFeature = "feature"
	EffectReward  = "reward"
)

// EffectRecord is the audit trail of threshold-crossing effects. The unique
// index doubles as a backstop for the once-per-submission invariant.
type EffectRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SubmissionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_submission_effect" json:"submission_id"`
	Effect       string    `gorm:"column:effect;not null;uniqueIndex:uq_submission_effect" json:"effect"`
	Amount       int64     `gorm:"column:amount;not null;default:0" json:"amount"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

func (EffectRecord) TableName() string { return "submission_effects" }
