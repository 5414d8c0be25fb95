package models

import (
	"time"
)

// Assessment is the immutable record produced when a session completes.
// All analytics read from this table; rows are never updated.
type Assessment struct {
	ID        uint             `json:"id" gorm:"primaryKey"`
	SessionID uint             `json:"session_id" gorm:"not null;uniqueIndex"`
	StudentID string           `json:"student_id" gorm:"not null;index:idx_assessment_student;size:255"`
	SubjectID string           `json:"subject_id" gorm:"not null;index:idx_assessment_student;size:100"`
	Period    AssessmentPeriod `json:"period" gorm:"not null;size:10"`
	Year      int              `json:"year" gorm:"not null;index"`

	FinalScore     int `json:"final_score" gorm:"not null"`
	CorrectCount   int `json:"correct_count" gorm:"not null"`
	TotalQuestions int `json:"total_questions" gorm:"not null"`

	DurationSeconds int    `json:"duration_seconds" gorm:"not null"`
	EndReason       string `json:"end_reason" gorm:"size:50"`

	// Denormalized from the student at finalize time so gap reports do
	// not depend on the identity provider
	SchoolID   string `json:"school_id" gorm:"index;size:255"`
	GradeLevel int    `json:"grade_level" gorm:"index"`

	FinalizedAt time.Time `json:"finalized_at" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Assessment) TableName() string {
	return "assessments"
}
