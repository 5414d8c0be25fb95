package services

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
	"github.com/edmetrics/assessment-engine/internal/validator"
)

type configService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewConfigService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator) ConfigService {
	return &configService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
	}
}

func (s *configService) Get(ctx context.Context, subjectID string, gradeLevel int) (*models.AssessmentConfig, error) {
	cfg, err := s.repo.AssessmentConfig().Get(ctx, nil, subjectID, gradeLevel)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to get assessment config: %w", err)
	}
	return cfg, nil
}

func (s *configService) Upsert(ctx context.Context, req *UpsertConfigRequest, userID string) (*models.AssessmentConfig, error) {
	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, fmt.Errorf("validation failed: %w", errs)
	}
	if req.DifficultyMax <= req.DifficultyMin {
		return nil, fmt.Errorf("validation failed: difficulty_max must exceed difficulty_min")
	}

	cfg := &models.AssessmentConfig{
		SubjectID:            req.SubjectID,
		GradeLevel:           req.GradeLevel,
		MaxQuestions:         req.MaxQuestions,
		DifficultyMin:        req.DifficultyMin,
		DifficultyMax:        req.DifficultyMax,
		ConvergenceThreshold: req.ConvergenceThreshold,
		ConvergenceWindow:    req.ConvergenceWindow,
	}

	if err := s.repo.AssessmentConfig().Upsert(ctx, nil, cfg); err != nil {
		return nil, fmt.Errorf("failed to upsert assessment config: %w", err)
	}

	s.logger.Info("Assessment config updated",
		"subject_id", req.SubjectID,
		"grade_level", req.GradeLevel,
		"max_questions", req.MaxQuestions,
		"updated_by", userID)

	return cfg, nil
}
