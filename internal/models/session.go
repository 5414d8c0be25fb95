package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

type AssessmentPeriod string

const (
	PeriodFall   AssessmentPeriod = "fall"
	PeriodWinter AssessmentPeriod = "winter"
	PeriodSpring AssessmentPeriod = "spring"
)

// PeriodOrder returns the within-year ordering of a period, used to
// sort assessments chronologically for growth computation.
func PeriodOrder(p AssessmentPeriod) int {
	switch p {
	case PeriodFall:
		return 0
	case PeriodWinter:
		return 1
	case PeriodSpring:
		return 2
	default:
		return 3
	}
}

// AssessmentSession is one in-progress adaptive test. Mutated only
// through the session service; superseded by an Assessment on finalize.
type AssessmentSession struct {
	ID        uint             `json:"id" gorm:"primaryKey"`
	StudentID string           `json:"student_id" gorm:"not null;index:idx_student_subject;size:255"`
	SubjectID string           `json:"subject_id" gorm:"not null;index:idx_student_subject;size:100"`
	Period    AssessmentPeriod `json:"period" gorm:"not null;size:10"`
	Year      int              `json:"year" gorm:"not null"`
	Status    SessionStatus    `json:"status" gorm:"default:active;index"`

	// Adaptive state
	CurrentDifficulty int     `json:"current_difficulty" gorm:"not null"`
	CurrentAbility    float64 `json:"current_ability" gorm:"not null"`
	ObservationCount  int     `json:"observation_count" gorm:"not null;default:0"`

	// The question the student must answer next; nil only before the
	// first question is served or after the session terminates
	PendingQuestionID *uint `json:"pending_question_id"`

	// Consecutive observations whose ability delta stayed below the
	// convergence threshold
	ConvergenceStreak int `json:"convergence_streak" gorm:"not null;default:0"`

	// Cached outcome of the most recent answer, returned verbatim when a
	// client retries the same (question, option) submission
	LastAnswer datatypes.JSON `json:"-" gorm:"type:jsonb"`

	// Optimistic concurrency guard: every state transition increments
	// Version and is applied with a version-checked update
	Version int `json:"-" gorm:"not null;default:1"`

	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	LastActivityAt time.Time  `json:"last_activity_at" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Student      User          `json:"-" gorm:"foreignKey:StudentID"`
	Observations []Observation `json:"observations,omitempty" gorm:"foreignKey:SessionID"`
}

func (AssessmentSession) TableName() string {
	return "assessment_sessions"
}

// LastAnswerCache is the JSON payload stored in
// AssessmentSession.LastAnswer.
type LastAnswerCache struct {
	QuestionID     uint `json:"question_id"`
	SelectedOption int  `json:"selected_option"`
	Correct        bool `json:"correct"`
	NextQuestionID uint `json:"next_question_id,omitempty"`
}

// Observation is one answered question within a session. Append-only;
// the unique indexes enforce no-repeat questions and a gapless sequence.
type Observation struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	SessionID uint `json:"session_id" gorm:"not null;uniqueIndex:idx_session_question;uniqueIndex:idx_session_seq"`

	SequenceIndex int  `json:"sequence_index" gorm:"not null;uniqueIndex:idx_session_seq"`
	QuestionID    uint `json:"question_id" gorm:"not null;uniqueIndex:idx_session_question"`

	// Difficulty at the time of asking; the question row may have been
	// versioned since
	Difficulty int  `json:"difficulty" gorm:"not null"`
	Correct    bool `json:"correct" gorm:"not null"`

	// Snapshot of the question's competency tags ([]string)
	CompetencyTags datatypes.JSON `json:"competency_tags" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
}

func (Observation) TableName() string {
	return "observations"
}

// TagList decodes the snapshot of competency tags; empty when the
// question carried none.
func (o *Observation) TagList() []string {
	var tags []string
	if len(o.CompetencyTags) == 0 {
		return nil
	}
	_ = json.Unmarshal(o.CompetencyTags, &tags)
	return tags
}
