package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SubmissionKind string

const (
	KindRenderJob SubmissionKind = "render_job"
	KindReplay    SubmissionKind = "replay"
	KindRemix     SubmissionKind = "remix"
	KindTuningKit SubmissionKind = "tuning_kit"
	KindVoiceClip SubmissionKind = "voice_clip"
)

func (k SubmissionKind) Valid() bool {
	switch k {
	case KindRenderJob, KindReplay, KindRemix, KindTuningKit, KindVoiceClip:
		return true
	}
	return false
}

type SubmissionState string

const (
	StatePending  SubmissionState = "pending"
	StateAudited  SubmissionState = "audited"
	StateRejected SubmissionState = "rejected"
	StateSigned   SubmissionState = "signed"
	StateStored   SubmissionState = "stored"
	StateOpen     SubmissionState = "open"
	StateApproved SubmissionState = "approved"
	StateFeatured SubmissionState = "featured"
	StateRewarded SubmissionState = "rewarded"
	StateFailed   SubmissionState = "failed"
)

// stateRank orders states along the lifecycle so "open or later" checks stay
// cheap. Terminal branches rank negative and never compare as votable.
var stateRank = map[SubmissionState]int{
	StatePending:  0,
	StateAudited:  1,
	StateSigned:   2,
	StateStored:   3,
	StateOpen:     4,
	StateApproved: 5,
	StateFeatured: 6,
	StateRewarded: 7,
	StateRejected: -1,
	StateFailed:   -2,
}

func (s SubmissionState) Terminal() bool {
	return s == StateRejected || s == StateFailed
}

// Votable reports whether the submission accepts vote/play/view events.
func (s SubmissionState) Votable() bool {
	return stateRank[s] >= stateRank[StateOpen]
}

// transitions encodes the lifecycle DAG. Failed is reachable from every
// non-terminal state and is handled separately in CanTransition.
var transitions = map[SubmissionState][]SubmissionState{
	StatePending:  {StateAudited, StateRejected},
	StateAudited:  {StateSigned, StateRejected},
	StateSigned:   {StateStored},
	StateStored:   {StateOpen},
	StateOpen:     {StateApproved, StateFeatured, StateRewarded},
	StateApproved: {StateFeatured, StateRewarded},
	StateFeatured: {StateRewarded},
}

// CanTransition reports whether from -> to follows a lifecycle edge.
// Terminal states are absorbing.
func CanTransition(from, to SubmissionState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const (
	CounterVotes = "votes"
	CounterPlays = "plays"
	CounterViews = "views"
)

type Submission struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Kind              SubmissionKind  `gorm:"column:kind;not null;index" json:"kind"`
	SubmitterIdentity string          `gorm:"column:submitter_identity;not null;index" json:"submitter_identity"`
	ArtifactRef       string          `gorm:"column:artifact_ref;not null" json:"artifact_ref"`
	State             SubmissionState `gorm:"column:state;not null;index:idx_submissions_kind_state" json:"state"`
	OriginalityScore  *float64        `gorm:"column:originality_score" json:"originality_score,omitempty"`
	ArtifactHash      string          `gorm:"column:artifact_hash" json:"artifact_hash,omitempty"`
	Signature         string          `gorm:"column:signature" json:"signature,omitempty"`
	StorageLocators   datatypes.JSON  `gorm:"column:storage_locators;type:jsonb" json:"storage_locators"`
	Counters          datatypes.JSON  `gorm:"column:counters;type:jsonb" json:"counters"`
	AppliedEffects    datatypes.JSON  `gorm:"column:applied_effects;type:jsonb" json:"applied_effects"`
	Attempts          int             `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError         string          `gorm:"column:last_error" json:"last_error,omitempty"`
	LastErrorAt       *time.Time      `gorm:"column:last_error_at;index" json:"last_error_at,omitempty"`
	CreatedAt         time.Time       `gorm:"not null;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"not null" json:"updated_at"`
}

func (Submission) TableName() string { return "submissions" }

func (s *Submission) Locators() map[string]string {
	out := map[string]string{}
	if len(s.StorageLocators) > 0 {
		_ = json.Unmarshal(s.StorageLocators, &out)
	}
	return out
}

func (s *Submission) SetLocators(locators map[string]string) {
	raw, _ := json.Marshal(locators)
	s.StorageLocators = datatypes.JSON(raw)
}

func (s *Submission) CounterMap() map[string]int64 {
	out := map[string]int64{}
	if len(s.Counters) > 0 {
		_ = json.Unmarshal(s.Counters, &out)
	}
	return out
}

func (s *Submission) SetCounterMap(counters map[string]int64) {
	raw, _ := json.Marshal(counters)
	s.Counters = datatypes.JSON(raw)
}

func (s *Submission) Applied() []string {
	var out []string
	if len(s.AppliedEffects) > 0 {
		_ = json.Unmarshal(s.AppliedEffects, &out)
	}
	return out
}

func (s *Submission) SetApplied(effects []string) {
	raw, _ := json.Marshal(effects)
	s.AppliedEffects = datatypes.JSON(raw)
}

func (s *Submission) HasApplied(effect string) bool {
	for _, e := range s.Applied() {
		if e == effect {
			return true
		}
	}
	return false
}
