package domain

import (
	"time"

	"github.com/google/uuid"
)

// VoteRecord is the voter ledger: one row per counted vote. The unique index
// over (submission_id, voter_identity) enforces at-most-one-vote per identity.
type VoteRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SubmissionID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_submission_voter" json:"submission_id"`
	VoterIdentity string    `gorm:"column:voter_identity;not null;uniqueIndex:uq_submission_voter" json:"voter_identity"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

func (VoteRecord) TableName() string { return "submission_votes" }
