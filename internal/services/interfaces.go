package services

import (
	"context"
	"time"

	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
	"github.com/edmetrics/assessment-engine/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Request shapes validated by the business validator
type StartSessionRequest = validator.SessionStartRequest
type SubmitAnswerRequest = validator.SubmitAnswerRequest
type CreateQuestionRequest = validator.QuestionCreateRequest
type UpdateQuestionRequest = validator.QuestionUpdateRequest
type UpsertConfigRequest = validator.ConfigUpsertRequest

// QuestionView is the student-facing projection of a question: the
// correct option index never leaves the service layer mid-session.
type QuestionView struct {
	ID         uint     `json:"id"`
	SubjectID  string   `json:"subject_id"`
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Difficulty int      `json:"difficulty"`
}

type StartSessionResponse struct {
	SessionID uint                    `json:"session_id"`
	Period    models.AssessmentPeriod `json:"period"`
	Year      int                     `json:"year"`
	Question  *QuestionView           `json:"question"`
}

// SubmitAnswerResponse carries either the next question or the final
// result, never both.
type SubmitAnswerResponse struct {
	Correct      bool          `json:"correct"`
	Completed    bool          `json:"completed"`
	NextQuestion *QuestionView `json:"next_question,omitempty"`

	// Set only when Completed
	FinalScore     *int   `json:"final_score,omitempty"`
	CorrectCount   *int   `json:"correct_count,omitempty"`
	TotalQuestions *int   `json:"total_questions,omitempty"`
	EndReason      string `json:"end_reason,omitempty"`
}

// Termination reasons recorded on completion.
const (
	EndReasonMaxQuestions  = "max_questions"
	EndReasonBankExhausted = "bank_exhausted"
	EndReasonConverged     = "converged"
)

type SessionResponse struct {
	*models.AssessmentSession
	PendingQuestion *QuestionView `json:"pending_question,omitempty"`
}

type QuestionResponse struct {
	*models.Question
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
}

type QuestionListResponse struct {
	Questions []*QuestionResponse `json:"questions"`
	Total     int64               `json:"total"`
	Page      int                 `json:"page"`
	Size      int                 `json:"size"`
}

type AssessmentListResponse struct {
	Assessments []*models.Assessment `json:"assessments"`
	Total       int64                `json:"total"`
	Page        int                  `json:"page"`
	Size        int                  `json:"size"`
}

// GapReportRequest groups finalized assessments by an organizational
// dimension and compares score distributions.
type GapReportRequest struct {
	SubjectID string                   `json:"subject_id" validate:"required"`
	Period    *models.AssessmentPeriod `json:"period"`
	Year      *int                     `json:"year"`
	GroupBy   string                   `json:"group_by" validate:"required,oneof=school grade"`
}

// MasteryReportRequest snapshots competency mastery across a cohort.
type MasteryReportRequest struct {
	SubjectID  string   `json:"subject_id" validate:"required"`
	StudentIDs []string `json:"student_ids"`
}

// ===== SERVICE INTERFACES =====

// SessionService owns the adaptive session lifecycle.
type SessionService interface {
	Start(ctx context.Context, req *StartSessionRequest, studentID string) (*StartSessionResponse, error)
	SubmitAnswer(ctx context.Context, sessionID uint, req *SubmitAnswerRequest, studentID string) (*SubmitAnswerResponse, error)
	GetByID(ctx context.Context, sessionID uint, userID string) (*SessionResponse, error)
	Abandon(ctx context.Context, sessionID uint, userID string) error

	// SweepIdle abandons sessions idle since before the cutoff; returns
	// the number abandoned. Runs from the background sweeper.
	SweepIdle(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// QuestionService manages the question bank.
type QuestionService interface {
	Create(ctx context.Context, req *CreateQuestionRequest, creatorID string) (*QuestionResponse, error)
	GetByID(ctx context.Context, id uint, userID string) (*QuestionResponse, error)
	Update(ctx context.Context, id uint, req *UpdateQuestionRequest, userID string) (*QuestionResponse, error)
	Delete(ctx context.Context, id uint, userID string) error
	List(ctx context.Context, filters repositories.QuestionFilters, userID string) (*QuestionListResponse, error)
}

// CompetencyService maintains per-student mastery estimates.
type CompetencyService interface {
	// RecordFinalizedSession blends one finished session's per-competency
	// correctness into the student's running mastery. Called inside the
	// finalize transaction; repo must be the transaction-bound instance.
	RecordFinalizedSession(ctx context.Context, repo repositories.Repository, assessment *models.Assessment, observations []*models.Observation) error

	GetStudentMastery(ctx context.Context, studentID string, subjectID *string, requesterID string) ([]*models.CompetencyScore, error)
}

// AnalyticsService exposes read-side projections over finalized data.
type AnalyticsService interface {
	GetGrowth(ctx context.Context, studentID, subjectID string, requesterID string) ([]repositories.GrowthPoint, error)
	GetAchievementGaps(ctx context.Context, req *GapReportRequest, requesterID string) ([]repositories.GroupStats, error)
	GetMasteryReport(ctx context.Context, req *MasteryReportRequest, requesterID string) ([]repositories.MasteryBucket, error)
	ListAssessments(ctx context.Context, filters repositories.AssessmentFilters, requesterID string) (*AssessmentListResponse, error)
}

// ExportService renders analytics projections as xlsx workbooks.
type ExportService interface {
	ExportGrowthReport(ctx context.Context, studentID, subjectID string, requesterID string) ([]byte, string, error)
	ExportGapReport(ctx context.Context, req *GapReportRequest, requesterID string) ([]byte, string, error)
}

// ConfigService manages per subject/grade engine parameters.
type ConfigService interface {
	Get(ctx context.Context, subjectID string, gradeLevel int) (*models.AssessmentConfig, error)
	Upsert(ctx context.Context, req *UpsertConfigRequest, userID string) (*models.AssessmentConfig, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	Session() SessionService
	Question() QuestionService
	Competency() CompetencyService
	Analytics() AnalyticsService
	Export() ExportService
	Config() ConfigService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// engineParams are the resolved adaptive parameters for one session,
// from the per subject/grade configuration row with environment
// defaults filling the gaps.
type engineParams struct {
	MaxQuestions         int
	DifficultyMin        int
	DifficultyMax        int
	DifficultyTolerance  int
	ConvergenceThreshold float64
	ConvergenceWindow    int
}

func (p engineParams) estimator() Estimator {
	return NewEstimator(p.DifficultyMin, p.DifficultyMax)
}
