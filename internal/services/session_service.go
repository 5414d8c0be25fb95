package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/edmetrics/assessment-engine/internal/config"
	"github.com/edmetrics/assessment-engine/internal/events"
	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
	"github.com/edmetrics/assessment-engine/internal/validator"
)

type sessionService struct {
	repo       repositories.Repository
	db         *gorm.DB
	logger     *slog.Logger
	validator  *validator.Validator
	engineCfg  config.EngineConfig
	competency CompetencyService
	publisher  events.EventPublisher
}

func NewSessionService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, engineCfg config.EngineConfig, competency CompetencyService, publisher events.EventPublisher) SessionService {
	return &sessionService{
		repo:       repo,
		db:         db,
		logger:     logger,
		validator:  validator,
		engineCfg:  engineCfg,
		competency: competency,
		publisher:  publisher,
	}
}

// ===== START =====

func (s *sessionService) Start(ctx context.Context, req *StartSessionRequest, studentID string) (*StartSessionResponse, error) {
	s.logger.Info("Starting adaptive session",
		"student_id", studentID,
		"subject_id", req.SubjectID,
		"period", req.Period,
		"year", req.Year)

	if errs := s.validator.ValidateSessionStart(req); len(errs) > 0 {
		return nil, fmt.Errorf("validation failed: %w", errs)
	}

	// At most one active session per (student, subject)
	if _, err := s.repo.Session().GetActive(ctx, nil, studentID, req.SubjectID); err == nil {
		return nil, ErrSessionAlreadyActive
	} else if !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}

	params, err := s.resolveParams(ctx, req.SubjectID, studentID)
	if err != nil {
		return nil, err
	}
	est := params.estimator()

	// Seed from the student's most recent finalized score in the subject
	var priorScore *int
	if prior, err := s.repo.Assessment().GetLatestCompleted(ctx, nil, studentID, req.SubjectID); err == nil {
		priorScore = &prior.FinalScore
	} else if !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to load prior assessment: %w", err)
	}

	difficulty := est.InitialDifficulty(priorScore)

	question, err := s.repo.Question().Select(ctx, nil, repositories.QuestionSelection{
		SubjectID:        req.SubjectID,
		TargetDifficulty: difficulty,
		Tolerance:        params.DifficultyTolerance,
	})
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionBankExhausted
		}
		return nil, fmt.Errorf("failed to select first question: %w", err)
	}

	now := time.Now()
	session := &models.AssessmentSession{
		StudentID:         studentID,
		SubjectID:         req.SubjectID,
		Period:            models.AssessmentPeriod(req.Period),
		Year:              req.Year,
		Status:            models.SessionActive,
		CurrentDifficulty: difficulty,
		CurrentAbility:    float64(difficulty),
		PendingQuestionID: &question.ID,
		Version:           1,
		StartedAt:         now,
		LastActivityAt:    now,
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Session().Create(ctx, nil, session); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		if err := txRepo.Question().MarkUsed(ctx, nil, question.ID, now); err != nil {
			return fmt.Errorf("failed to mark question used: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.NewAssessmentEvent(events.EventSessionStarted, events.SessionStartedData{
		SessionID: session.ID,
		StudentID: studentID,
		SubjectID: req.SubjectID,
		Period:    req.Period,
		Year:      req.Year,
	}))

	s.logger.Info("Adaptive session started",
		"session_id", session.ID,
		"student_id", studentID,
		"initial_difficulty", difficulty)

	view, err := questionView(question)
	if err != nil {
		return nil, err
	}
	return &StartSessionResponse{
		SessionID: session.ID,
		Period:    session.Period,
		Year:      session.Year,
		Question:  view,
	}, nil
}

// ===== SUBMIT ANSWER =====

func (s *sessionService) SubmitAnswer(ctx context.Context, sessionID uint, req *SubmitAnswerRequest, studentID string) (*SubmitAnswerResponse, error) {
	if errs := s.validator.ValidateSubmitAnswer(req); len(errs) > 0 {
		return nil, fmt.Errorf("validation failed: %w", errs)
	}

	session, err := s.loadOwnedActiveSession(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}

	if session.PendingQuestionID == nil {
		return nil, ErrStaleQuestion
	}
	pendingID := *session.PendingQuestionID

	if req.QuestionID != pendingID {
		// A retry of the previous (question, option) pair is replayed
		// from the cached outcome instead of being rejected
		if resp, ok, err := s.replayCachedAnswer(ctx, session, req); err != nil {
			return nil, err
		} else if ok {
			return resp, nil
		}
		return nil, ErrStaleQuestion
	}

	question, err := s.repo.Question().GetByID(ctx, nil, pendingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending question: %w", err)
	}

	options, err := question.OptionList()
	if err != nil {
		return nil, fmt.Errorf("failed to decode question options: %w", err)
	}
	if req.SelectedOption < 0 || req.SelectedOption >= len(options) {
		return nil, ErrInvalidAnswerIndex
	}

	correct := req.SelectedOption == question.CorrectOption

	params, err := s.resolveParams(ctx, session.SubjectID, studentID)
	if err != nil {
		return nil, err
	}
	est := params.estimator()

	// The update is driven by the difficulty of the question actually
	// asked, which can differ from the session's target when the bank
	// had no exact match
	newAbility, nextDifficulty := est.Update(session.CurrentAbility, question.Difficulty, correct, session.ObservationCount)

	streak := 0
	if params.ConvergenceWindow > 0 && math.Abs(newAbility-session.CurrentAbility) < params.ConvergenceThreshold {
		streak = session.ConvergenceStreak + 1
	}

	observation := &models.Observation{
		SessionID:      session.ID,
		SequenceIndex:  session.ObservationCount,
		QuestionID:     question.ID,
		Difficulty:     question.Difficulty,
		Correct:        correct,
		CompetencyTags: question.CompetencyTags,
	}

	answered := session.ObservationCount + 1

	// Termination checks, in documented priority order
	endReason := ""
	switch {
	case answered >= params.MaxQuestions:
		endReason = EndReasonMaxQuestions
	case params.ConvergenceWindow > 0 && streak >= params.ConvergenceWindow:
		endReason = EndReasonConverged
	}

	var nextQuestion *models.Question
	if endReason == "" {
		excluded, err := s.askedQuestionIDs(ctx, session, pendingID)
		if err != nil {
			return nil, err
		}
		nextQuestion, err = s.repo.Question().Select(ctx, nil, repositories.QuestionSelection{
			SubjectID:        session.SubjectID,
			TargetDifficulty: nextDifficulty,
			Tolerance:        params.DifficultyTolerance,
			ExcludeIDs:       excluded,
		})
		if err != nil {
			if !repositories.IsNotFoundError(err) {
				return nil, fmt.Errorf("failed to select next question: %w", err)
			}
			// Exhausted bank terminates the session early instead of
			// failing the request
			endReason = EndReasonBankExhausted
			nextQuestion = nil
		}
	}

	var resp *SubmitAnswerResponse
	if endReason != "" {
		resp, err = s.finalize(ctx, session, observation, newAbility, nextDifficulty, streak, req, correct, endReason, est)
	} else {
		resp, err = s.advance(ctx, session, observation, newAbility, nextDifficulty, streak, req, correct, nextQuestion)
	}
	if errors.Is(err, ErrSubmissionConflict) {
		// The losing racer of a duplicate submission re-reads the session
		// and returns the winner's stored outcome when the pair matches
		if replayed, ok, rerr := s.replayConflict(ctx, sessionID, studentID, req); rerr == nil && ok {
			return replayed, nil
		}
		return nil, ErrSubmissionConflict
	}
	return resp, err
}

// advance records the observation and moves the session to the next
// question in one version-checked transaction.
func (s *sessionService) advance(ctx context.Context, session *models.AssessmentSession, observation *models.Observation, newAbility float64, nextDifficulty, streak int, req *SubmitAnswerRequest, correct bool, nextQuestion *models.Question) (*SubmitAnswerResponse, error) {
	now := time.Now()
	expectedVersion := session.Version

	lastAnswer, err := encodeLastAnswer(models.LastAnswerCache{
		QuestionID:     req.QuestionID,
		SelectedOption: req.SelectedOption,
		Correct:        correct,
		NextQuestionID: nextQuestion.ID,
	})
	if err != nil {
		return nil, err
	}

	session.ObservationCount++
	session.CurrentAbility = newAbility
	session.CurrentDifficulty = nextDifficulty
	session.ConvergenceStreak = streak
	session.PendingQuestionID = &nextQuestion.ID
	session.LastAnswer = lastAnswer
	session.LastActivityAt = now
	session.Version = expectedVersion + 1

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Observation().Create(ctx, nil, observation); err != nil {
			return fmt.Errorf("failed to record observation: %w", err)
		}
		if err := txRepo.Session().UpdateVersioned(ctx, nil, session, expectedVersion); err != nil {
			return err
		}
		if err := txRepo.Question().MarkUsed(ctx, nil, nextQuestion.ID, now); err != nil {
			return fmt.Errorf("failed to mark question used: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return nil, ErrSubmissionConflict
		}
		return nil, err
	}

	view, err := questionView(nextQuestion)
	if err != nil {
		return nil, err
	}
	return &SubmitAnswerResponse{
		Correct:      correct,
		Completed:    false,
		NextQuestion: view,
	}, nil
}

// finalize turns the session into an immutable assessment. Writing the
// assessment, blending competency mastery and marking the session
// completed happen in one transaction: a failure leaves the session
// active so a retry is safe.
func (s *sessionService) finalize(ctx context.Context, session *models.AssessmentSession, observation *models.Observation, newAbility float64, nextDifficulty, streak int, req *SubmitAnswerRequest, correct bool, endReason string, est Estimator) (*SubmitAnswerResponse, error) {
	now := time.Now()
	expectedVersion := session.Version

	observations, err := s.repo.Observation().GetBySession(ctx, nil, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load observations: %w", err)
	}
	observations = append(observations, observation)

	finalScore := est.FinalScore(observations)
	correctCount := 0
	for _, obs := range observations {
		if obs.Correct {
			correctCount++
		}
	}

	schoolID, gradeLevel := s.studentPlacement(ctx, session.StudentID)

	assessment := &models.Assessment{
		SessionID:       session.ID,
		StudentID:       session.StudentID,
		SubjectID:       session.SubjectID,
		Period:          session.Period,
		Year:            session.Year,
		FinalScore:      finalScore,
		CorrectCount:    correctCount,
		TotalQuestions:  len(observations),
		DurationSeconds: int(now.Sub(session.StartedAt).Seconds()),
		EndReason:       endReason,
		SchoolID:        schoolID,
		GradeLevel:      gradeLevel,
		FinalizedAt:     now,
	}

	lastAnswer, err := encodeLastAnswer(models.LastAnswerCache{
		QuestionID:     req.QuestionID,
		SelectedOption: req.SelectedOption,
		Correct:        correct,
	})
	if err != nil {
		return nil, err
	}

	session.ObservationCount = len(observations)
	session.CurrentAbility = newAbility
	session.CurrentDifficulty = nextDifficulty
	session.ConvergenceStreak = streak
	session.Status = models.SessionCompleted
	session.PendingQuestionID = nil
	session.LastAnswer = lastAnswer
	session.EndedAt = &now
	session.LastActivityAt = now
	session.Version = expectedVersion + 1

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Observation().Create(ctx, nil, observation); err != nil {
			return fmt.Errorf("failed to record observation: %w", err)
		}
		if err := txRepo.Assessment().Create(ctx, nil, assessment); err != nil {
			return fmt.Errorf("failed to create assessment: %w", err)
		}
		if err := s.competency.RecordFinalizedSession(ctx, txRepo, assessment, observations); err != nil {
			return fmt.Errorf("failed to update competency mastery: %w", err)
		}
		if err := txRepo.Session().UpdateVersioned(ctx, nil, session, expectedVersion); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return nil, ErrSubmissionConflict
		}
		return nil, err
	}

	s.publish(ctx, events.NewAssessmentEvent(events.EventAssessmentCompleted, events.AssessmentCompletedData{
		AssessmentID:   assessment.ID,
		SessionID:      session.ID,
		StudentID:      session.StudentID,
		SubjectID:      session.SubjectID,
		Period:         string(session.Period),
		Year:           session.Year,
		FinalScore:     finalScore,
		CorrectCount:   correctCount,
		TotalQuestions: len(observations),
		Reason:         endReason,
	}))

	s.logger.Info("Session finalized",
		"session_id", session.ID,
		"student_id", session.StudentID,
		"final_score", finalScore,
		"questions", len(observations),
		"reason", endReason)

	total := len(observations)
	return &SubmitAnswerResponse{
		Correct:        correct,
		Completed:      true,
		FinalScore:     &finalScore,
		CorrectCount:   &correctCount,
		TotalQuestions: &total,
		EndReason:      endReason,
	}, nil
}

// ===== READ / ABANDON =====

func (s *sessionService) GetByID(ctx context.Context, sessionID uint, userID string) (*SessionResponse, error) {
	session, err := s.repo.Session().GetByIDWithObservations(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.StudentID != userID {
		return nil, ErrSessionNotFound
	}

	resp := &SessionResponse{AssessmentSession: session}
	if session.Status == models.SessionActive && session.PendingQuestionID != nil {
		question, err := s.repo.Question().GetByID(ctx, nil, *session.PendingQuestionID)
		if err == nil {
			if view, err := questionView(question); err == nil {
				resp.PendingQuestion = view
			}
		}
	}
	return resp, nil
}

func (s *sessionService) Abandon(ctx context.Context, sessionID uint, userID string) error {
	session, err := s.loadOwnedActiveSession(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	return s.abandon(ctx, session)
}

func (s *sessionService) SweepIdle(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	sessions, err := s.repo.Session().GetIdle(ctx, nil, cutoff, limit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, session := range sessions {
		if err := s.abandon(ctx, session); err != nil {
			// A conflict here means the student answered between the
			// query and the sweep; skip, the session is live again
			if errors.Is(err, ErrSubmissionConflict) {
				continue
			}
			s.logger.Error("Failed to abandon idle session",
				"session_id", session.ID,
				"error", err)
			continue
		}
		swept++
	}
	return swept, nil
}

func (s *sessionService) abandon(ctx context.Context, session *models.AssessmentSession) error {
	now := time.Now()
	expectedVersion := session.Version

	session.Status = models.SessionAbandoned
	session.PendingQuestionID = nil
	session.EndedAt = &now
	session.LastActivityAt = now
	session.Version = expectedVersion + 1

	if err := s.repo.Session().UpdateVersioned(ctx, nil, session, expectedVersion); err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return ErrSubmissionConflict
		}
		return fmt.Errorf("failed to abandon session: %w", err)
	}

	s.publish(ctx, events.NewAssessmentEvent(events.EventSessionAbandoned, events.SessionAbandonedData{
		SessionID: session.ID,
		StudentID: session.StudentID,
		SubjectID: session.SubjectID,
		Answered:  session.ObservationCount,
	}))

	s.logger.Info("Session abandoned",
		"session_id", session.ID,
		"student_id", session.StudentID,
		"answered", session.ObservationCount)
	return nil
}
