package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/edmetrics/assessment-engine/internal/models"
)

// IsNotFoundError reports whether err means the requested row does not
// exist, regardless of which layer produced it.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ErrVersionConflict is returned by version-checked session updates when
// another writer advanced the session first.
var ErrVersionConflict = errors.New("session version conflict")

// ===== SHARED FILTER STRUCTS =====

type QuestionFilters struct {
	SubjectID  *string  `json:"subject_id"`
	Difficulty *int     `json:"difficulty"`
	Tags       []string `json:"tags"`
	CreatedBy  *string  `json:"created_by"`
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
	SortBy     string   `json:"sort_by"`    // "created_at", "difficulty", "last_used_at"
	SortOrder  string   `json:"sort_order"` // "asc", "desc"
}

// QuestionSelection describes one adaptive pick from the bank.
type QuestionSelection struct {
	SubjectID        string   `json:"subject_id"`
	TargetDifficulty int      `json:"target_difficulty"`
	Tolerance        int      `json:"tolerance"`
	ExcludeIDs       []uint   `json:"exclude_ids"`
	CompetencyTags   []string `json:"competency_tags"`
}

type SessionFilters struct {
	Status    *models.SessionStatus `json:"status"`
	StudentID *string               `json:"student_id"`
	SubjectID *string               `json:"subject_id"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
}

type AssessmentFilters struct {
	StudentID *string                  `json:"student_id"`
	SubjectID *string                  `json:"subject_id"`
	Period    *models.AssessmentPeriod `json:"period"`
	Year      *int                     `json:"year"`
	SchoolID  *string                  `json:"school_id"`
	Grade     *int                     `json:"grade"`
	Limit     int                      `json:"limit"`
	Offset    int                      `json:"offset"`
}

type CompetencyScoreFilters struct {
	SubjectID  *string  `json:"subject_id"`
	Competency *string  `json:"competency"`
	StudentIDs []string `json:"student_ids"`
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
}

// ===== ENTITY REPOSITORIES =====

// QuestionRepository provides question bank access. Select is the
// adaptive lookup: it returns the eligible question whose difficulty is
// closest to the target within the tolerance band, ties broken toward
// the least recently used question, and gorm.ErrRecordNotFound when the
// bank is exhausted.
type QuestionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, question *models.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	Update(ctx context.Context, tx *gorm.DB, question *models.Question) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	List(ctx context.Context, tx *gorm.DB, filters QuestionFilters) ([]*models.Question, int64, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error)

	// Adaptive selection
	Select(ctx context.Context, tx *gorm.DB, sel QuestionSelection) (*models.Question, error)
	MarkUsed(ctx context.Context, tx *gorm.DB, id uint, usedAt time.Time) error

	// Immutability guard: true while any active session has asked or is
	// pending on this question
	IsReferencedByActiveSession(ctx context.Context, tx *gorm.DB, id uint) (bool, error)
}

// SessionRepository persists in-progress sessions.
type SessionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, session *models.AssessmentSession) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentSession, error)
	GetByIDWithObservations(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentSession, error)
	GetActive(ctx context.Context, tx *gorm.DB, studentID, subjectID string) (*models.AssessmentSession, error)
	List(ctx context.Context, tx *gorm.DB, filters SessionFilters) ([]*models.AssessmentSession, int64, error)

	// UpdateVersioned applies the session's new state iff the stored row
	// still carries expectedVersion; ErrVersionConflict otherwise. The
	// session's Version field must already hold expectedVersion+1.
	UpdateVersioned(ctx context.Context, tx *gorm.DB, session *models.AssessmentSession, expectedVersion int) error

	// GetIdle returns active sessions with no activity since the cutoff,
	// for the abandon sweep.
	GetIdle(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]*models.AssessmentSession, error)
}

// ObservationRepository stores the append-only answer log.
type ObservationRepository interface {
	Create(ctx context.Context, tx *gorm.DB, obs *models.Observation) error
	GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.Observation, error)
}

// AssessmentRepository stores immutable finalized results.
type AssessmentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error)
	GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) (*models.Assessment, error)
	List(ctx context.Context, tx *gorm.DB, filters AssessmentFilters) ([]*models.Assessment, int64, error)

	// GetLatestCompleted returns the student's most recent finalized
	// assessment in a subject (prior ability source for seeding).
	GetLatestCompleted(ctx context.Context, tx *gorm.DB, studentID, subjectID string) (*models.Assessment, error)

	// GetByStudentSubject returns all finalized assessments ordered
	// chronologically by (year, period) for growth computation.
	GetByStudentSubject(ctx context.Context, tx *gorm.DB, studentID, subjectID string) ([]*models.Assessment, error)
}

// CompetencyScoreRepository stores running mastery estimates.
type CompetencyScoreRepository interface {
	Get(ctx context.Context, tx *gorm.DB, studentID, subjectID, competency string) (*models.CompetencyScore, error)
	Upsert(ctx context.Context, tx *gorm.DB, score *models.CompetencyScore) error
	GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, subjectID *string) ([]*models.CompetencyScore, error)
	List(ctx context.Context, tx *gorm.DB, filters CompetencyScoreFilters) ([]*models.CompetencyScore, int64, error)
}

// AssessmentConfigRepository looks up per subject/grade engine
// parameters; gorm.ErrRecordNotFound means "use defaults".
type AssessmentConfigRepository interface {
	Get(ctx context.Context, tx *gorm.DB, subjectID string, gradeLevel int) (*models.AssessmentConfig, error)
	Upsert(ctx context.Context, tx *gorm.DB, cfg *models.AssessmentConfig) error
}

// UserRepository is the read-only identity view.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
}

// ===== SHARED STATISTICS STRUCTS =====

// GrowthPoint is one finalized score in a student's growth series.
type GrowthPoint struct {
	Period models.AssessmentPeriod `json:"period"`
	Year   int                     `json:"year"`
	Score  int                     `json:"score"`
	Growth *int                    `json:"growth,omitempty"` // delta vs previous point; nil for the first
}

// GroupStats holds distributional statistics for one group in an
// achievement-gap comparison.
type GroupStats struct {
	Group        string  `json:"group"`
	Count        int     `json:"count"`
	MeanScore    float64 `json:"mean_score"`
	Percentile25 int     `json:"percentile_25"`
	Percentile50 int     `json:"percentile_50"`
	Percentile75 int     `json:"percentile_75"`
}

// MasteryBucket counts students per mastery tier for one competency.
type MasteryBucket struct {
	Competency string                     `json:"competency"`
	Tiers      map[models.MasteryTier]int `json:"tiers"`
	Mean       float64                    `json:"mean"`
	Students   int                        `json:"students"`
}
