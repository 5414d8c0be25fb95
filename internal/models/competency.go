package models

import (
	"time"
)

// CompetencyScore is the running mastery estimate for one student in
// one competency within a subject. Updated on every session finalize
// via a recency-weighted blend.
type CompetencyScore struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	StudentID  string `json:"student_id" gorm:"not null;uniqueIndex:idx_student_subject_competency;size:255"`
	SubjectID  string `json:"subject_id" gorm:"not null;uniqueIndex:idx_student_subject_competency;size:100"`
	Competency string `json:"competency" gorm:"not null;uniqueIndex:idx_student_subject_competency;size:100"`

	// Mastery in [0, 1]
	Mastery float64 `json:"mastery" gorm:"not null"`

	// Number of finalized sessions blended into Mastery
	SessionCount int `json:"session_count" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CompetencyScore) TableName() string {
	return "competency_scores"
}

// MasteryTier buckets a mastery value for the cross-sectional report.
type MasteryTier string

const (
	TierBeginning  MasteryTier = "beginning"
	TierDeveloping MasteryTier = "developing"
	TierProficient MasteryTier = "proficient"
	TierAdvanced   MasteryTier = "advanced"
)

// TierFor maps a mastery value to its tier.
func TierFor(mastery float64) MasteryTier {
	switch {
	case mastery >= 0.85:
		return TierAdvanced
	case mastery >= 0.65:
		return TierProficient
	case mastery >= 0.4:
		return TierDeveloping
	default:
		return TierBeginning
	}
}
