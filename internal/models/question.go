package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Question is a published multiple-choice item. Once referenced by an
// active session a question is frozen: updates are rejected while any
// in-progress session holds it and otherwise bump Version so finalized
// observations keep pointing at the content they were asked against.
type Question struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	SubjectID string `json:"subject_id" gorm:"not null;index;size:100" validate:"required"`
	Text      string `json:"text" gorm:"type:text;not null" validate:"required"`

	// Options stored as JSONB ([]string); CorrectOption indexes into it
	Options       datatypes.JSON `json:"options" gorm:"type:jsonb;not null"`
	CorrectOption int            `json:"correct_option" gorm:"not null"`

	// Difficulty on the configured integer scale
	Difficulty int `json:"difficulty" gorm:"not null;index"`

	// Competency tags as JSONB ([]string); may be empty
	CompetencyTags datatypes.JSON `json:"competency_tags" gorm:"type:jsonb"`

	// Exposure tracking: selection ties at equal difficulty distance are
	// broken toward the least recently used question
	LastUsedAt *time.Time `json:"last_used_at" gorm:"index"`

	Version   int       `json:"version" gorm:"default:1"`
	CreatedBy string    `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Creator User `json:"creator" gorm:"foreignKey:CreatedBy"`
}

func (Question) TableName() string {
	return "questions"
}

// OptionList decodes the JSONB options column.
func (q *Question) OptionList() ([]string, error) {
	var options []string
	if len(q.Options) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(q.Options, &options); err != nil {
		return nil, err
	}
	return options, nil
}

// TagList decodes the JSONB competency tags column; empty when the
// question is untagged.
func (q *Question) TagList() []string {
	var tags []string
	if len(q.CompetencyTags) == 0 {
		return nil
	}
	_ = json.Unmarshal(q.CompetencyTags, &tags)
	return tags
}

// AssessmentConfig supplies per subject/grade engine parameters. Rows
// are optional; the engine falls back to environment defaults.
type AssessmentConfig struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	SubjectID  string `json:"subject_id" gorm:"not null;uniqueIndex:idx_subject_grade;size:100"`
	GradeLevel int    `json:"grade_level" gorm:"not null;uniqueIndex:idx_subject_grade"`

	MaxQuestions  int `json:"max_questions" gorm:"not null" validate:"required,min=1,max=200"`
	DifficultyMin int `json:"difficulty_min" gorm:"not null" validate:"required,min=1"`
	DifficultyMax int `json:"difficulty_max" gorm:"not null" validate:"required,gtfield=DifficultyMin"`

	// Convergence criterion: finalize once the ability estimate moves less
	// than Threshold for Window consecutive observations (0 disables)
	ConvergenceThreshold float64 `json:"convergence_threshold"`
	ConvergenceWindow    int     `json:"convergence_window"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AssessmentConfig) TableName() string {
	return "assessment_configs"
}
