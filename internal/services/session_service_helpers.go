package services

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/edmetrics/assessment-engine/internal/events"
	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
)

// loadOwnedActiveSession fetches the session and enforces ownership and
// liveness. Unknown, foreign and terminal sessions are all NotFound.
func (s *sessionService) loadOwnedActiveSession(ctx context.Context, sessionID uint, studentID string) (*models.AssessmentSession, error) {
	session, err := s.repo.Session().GetByID(ctx, nil, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.StudentID != studentID {
		return nil, ErrSessionNotFound
	}
	if session.Status != models.SessionActive {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// replayCachedAnswer returns the stored outcome when the request
// repeats the most recently answered (question, option) pair. A retry
// with the same question but a different option is not replayable.
func (s *sessionService) replayCachedAnswer(ctx context.Context, session *models.AssessmentSession, req *SubmitAnswerRequest) (*SubmitAnswerResponse, bool, error) {
	if len(session.LastAnswer) == 0 {
		return nil, false, nil
	}

	var cached models.LastAnswerCache
	if err := json.Unmarshal(session.LastAnswer, &cached); err != nil {
		return nil, false, fmt.Errorf("failed to decode answer cache: %w", err)
	}
	if cached.QuestionID != req.QuestionID || cached.SelectedOption != req.SelectedOption {
		return nil, false, nil
	}
	if cached.NextQuestionID == 0 {
		// Only finalize caches a terminal answer, and finalized sessions
		// never reach this path
		return nil, false, nil
	}

	question, err := s.repo.Question().GetByID(ctx, nil, cached.NextQuestionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load cached next question: %w", err)
	}
	view, err := questionView(question)
	if err != nil {
		return nil, false, err
	}
	return &SubmitAnswerResponse{
		Correct:      cached.Correct,
		Completed:    false,
		NextQuestion: view,
	}, true, nil
}

// replayConflict resolves a lost version race. The session is re-read
// after the conflict; when the winning submission committed the same
// (question, option) pair, its stored outcome is replayed so the retry
// and the original return the same response.
func (s *sessionService) replayConflict(ctx context.Context, sessionID uint, studentID string, req *SubmitAnswerRequest) (*SubmitAnswerResponse, bool, error) {
	session, err := s.repo.Session().GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, false, nil
	}
	if session.StudentID != studentID {
		return nil, false, nil
	}

	switch session.Status {
	case models.SessionActive:
		return s.replayCachedAnswer(ctx, session, req)
	case models.SessionCompleted:
		if len(session.LastAnswer) == 0 {
			return nil, false, nil
		}
		var cached models.LastAnswerCache
		if err := json.Unmarshal(session.LastAnswer, &cached); err != nil {
			return nil, false, fmt.Errorf("failed to decode answer cache: %w", err)
		}
		if cached.QuestionID != req.QuestionID || cached.SelectedOption != req.SelectedOption {
			return nil, false, nil
		}
		assessment, err := s.repo.Assessment().GetBySession(ctx, nil, session.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load assessment: %w", err)
		}
		return &SubmitAnswerResponse{
			Correct:        cached.Correct,
			Completed:      true,
			FinalScore:     &assessment.FinalScore,
			CorrectCount:   &assessment.CorrectCount,
			TotalQuestions: &assessment.TotalQuestions,
			EndReason:      assessment.EndReason,
		}, true, nil
	}
	return nil, false, nil
}

// askedQuestionIDs lists every question the session has already used,
// including the currently pending one.
func (s *sessionService) askedQuestionIDs(ctx context.Context, session *models.AssessmentSession, pendingID uint) ([]uint, error) {
	observations, err := s.repo.Observation().GetBySession(ctx, nil, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load observations: %w", err)
	}

	ids := make([]uint, 0, len(observations)+1)
	for _, obs := range observations {
		ids = append(ids, obs.QuestionID)
	}
	ids = append(ids, pendingID)
	return ids, nil
}

// resolveParams merges the subject/grade configuration row over the
// environment defaults. Grade placement comes from the identity
// provider; a lookup failure falls back to the ungraded row.
func (s *sessionService) resolveParams(ctx context.Context, subjectID, studentID string) (engineParams, error) {
	params := engineParams{
		MaxQuestions:         s.engineCfg.MaxQuestions,
		DifficultyMin:        s.engineCfg.DifficultyMin,
		DifficultyMax:        s.engineCfg.DifficultyMax,
		DifficultyTolerance:  s.engineCfg.DifficultyTolerance,
		ConvergenceThreshold: s.engineCfg.ConvergenceThreshold,
		ConvergenceWindow:    s.engineCfg.ConvergenceWindow,
	}

	gradeLevel := 0
	if user, err := s.repo.User().GetByID(ctx, studentID); err == nil {
		gradeLevel = user.GradeLevel
	}

	cfg, err := s.repo.AssessmentConfig().Get(ctx, nil, subjectID, gradeLevel)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return params, nil
		}
		return params, fmt.Errorf("failed to load assessment config: %w", err)
	}

	params.MaxQuestions = cfg.MaxQuestions
	params.DifficultyMin = cfg.DifficultyMin
	params.DifficultyMax = cfg.DifficultyMax
	if cfg.ConvergenceWindow > 0 {
		params.ConvergenceThreshold = cfg.ConvergenceThreshold
		params.ConvergenceWindow = cfg.ConvergenceWindow
	}
	return params, nil
}

// studentPlacement denormalizes school and grade onto the assessment
// row so gap reports never depend on the identity provider. Lookup
// failures degrade to empty placement rather than failing finalize.
func (s *sessionService) studentPlacement(ctx context.Context, studentID string) (string, int) {
	user, err := s.repo.User().GetByID(ctx, studentID)
	if err != nil {
		s.logger.Warn("Failed to resolve student placement",
			"student_id", studentID,
			"error", err)
		return "", 0
	}
	return user.SchoolID, user.GradeLevel
}

// publish delivers an event best-effort; delivery failures are logged,
// never surfaced to the student.
func (s *sessionService) publish(ctx context.Context, event events.AssessmentEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish event",
			"event_type", event.Type,
			"error", err)
	}
}

// questionView strips the correct option from a question.
func questionView(q *models.Question) (*QuestionView, error) {
	options, err := q.OptionList()
	if err != nil {
		return nil, fmt.Errorf("failed to decode question options: %w", err)
	}
	return &QuestionView{
		ID:         q.ID,
		SubjectID:  q.SubjectID,
		Text:       q.Text,
		Options:    options,
		Difficulty: q.Difficulty,
	}, nil
}

func encodeLastAnswer(cache models.LastAnswerCache) (datatypes.JSON, error) {
	data, err := json.Marshal(cache)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answer cache: %w", err)
	}
	return data, nil
}
