package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
	"github.com/edmetrics/assessment-engine/internal/validator"
)

type questionService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewQuestionService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator) QuestionService {
	return &questionService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
	}
}

func (s *questionService) Create(ctx context.Context, req *CreateQuestionRequest, creatorID string) (*QuestionResponse, error) {
	if errs := s.validator.ValidateQuestionCreate(req); len(errs) > 0 {
		return nil, fmt.Errorf("validation failed: %w", errs)
	}

	options, err := json.Marshal(req.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}
	tags, err := json.Marshal(normalizeTags(req.CompetencyTags))
	if err != nil {
		return nil, fmt.Errorf("failed to encode competency tags: %w", err)
	}

	question := &models.Question{
		SubjectID:      req.SubjectID,
		Text:           req.Text,
		Options:        options,
		CorrectOption:  req.CorrectOption,
		Difficulty:     req.Difficulty,
		CompetencyTags: tags,
		Version:        1,
		CreatedBy:      creatorID,
	}

	if err := s.repo.Question().Create(ctx, nil, question); err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}

	s.logger.Info("Question created",
		"question_id", question.ID,
		"subject_id", question.SubjectID,
		"difficulty", question.Difficulty,
		"created_by", creatorID)

	return &QuestionResponse{Question: question, CanEdit: true, CanDelete: true}, nil
}

func (s *questionService) GetByID(ctx context.Context, id uint, userID string) (*QuestionResponse, error) {
	question, err := s.repo.Question().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}

	inUse, err := s.repo.Question().IsReferencedByActiveSession(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check question usage: %w", err)
	}

	editable := !inUse && question.CreatedBy == userID
	return &QuestionResponse{Question: question, CanEdit: editable, CanDelete: editable}, nil
}

// Update rejects edits while any active session references the
// question; otherwise it applies the changes and bumps the content
// version so past observations stay attributable.
func (s *questionService) Update(ctx context.Context, id uint, req *UpdateQuestionRequest, userID string) (*QuestionResponse, error) {
	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, fmt.Errorf("validation failed: %w", errs)
	}

	question, err := s.repo.Question().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}

	if question.CreatedBy != userID {
		return nil, NewPermissionError(userID, "update this question")
	}

	inUse, err := s.repo.Question().IsReferencedByActiveSession(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check question usage: %w", err)
	}
	if inUse {
		return nil, ErrQuestionInUse
	}

	if req.Text != nil {
		question.Text = *req.Text
	}
	if req.Options != nil {
		options, err := json.Marshal(req.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to encode options: %w", err)
		}
		question.Options = options
	}
	if req.CorrectOption != nil {
		question.CorrectOption = *req.CorrectOption
	}
	if req.Difficulty != nil {
		question.Difficulty = *req.Difficulty
	}
	if req.CompetencyTags != nil {
		tags, err := json.Marshal(normalizeTags(req.CompetencyTags))
		if err != nil {
			return nil, fmt.Errorf("failed to encode competency tags: %w", err)
		}
		question.CompetencyTags = tags
	}

	options, err := question.OptionList()
	if err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	if question.CorrectOption < 0 || question.CorrectOption >= len(options) {
		return nil, ErrInvalidAnswerIndex
	}

	question.Version++

	if err := s.repo.Question().Update(ctx, nil, question); err != nil {
		return nil, fmt.Errorf("failed to update question: %w", err)
	}

	s.logger.Info("Question updated",
		"question_id", question.ID,
		"version", question.Version,
		"updated_by", userID)

	return &QuestionResponse{Question: question, CanEdit: true, CanDelete: true}, nil
}

func (s *questionService) Delete(ctx context.Context, id uint, userID string) error {
	question, err := s.repo.Question().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("failed to get question: %w", err)
	}

	if question.CreatedBy != userID {
		return NewPermissionError(userID, "delete this question")
	}

	inUse, err := s.repo.Question().IsReferencedByActiveSession(ctx, nil, id)
	if err != nil {
		return fmt.Errorf("failed to check question usage: %w", err)
	}
	if inUse {
		return ErrQuestionInUse
	}

	if err := s.repo.Question().Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to delete question: %w", err)
	}

	s.logger.Info("Question deleted", "question_id", id, "deleted_by", userID)
	return nil
}

func (s *questionService) List(ctx context.Context, filters repositories.QuestionFilters, userID string) (*QuestionListResponse, error) {
	questions, total, err := s.repo.Question().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}

	responses := make([]*QuestionResponse, 0, len(questions))
	for _, q := range questions {
		editable := q.CreatedBy == userID
		responses = append(responses, &QuestionResponse{Question: q, CanEdit: editable, CanDelete: editable})
	}

	page := 1
	size := len(responses)
	if filters.Limit > 0 {
		size = filters.Limit
		page = (filters.Offset / filters.Limit) + 1
	}

	return &QuestionListResponse{
		Questions: responses,
		Total:     total,
		Page:      page,
		Size:      size,
	}, nil
}

// normalizeTags drops empty entries so an all-blank tag list stores as
// an empty array instead of junk.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
