package services

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
)

type competencyService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger

	// Weight of the newest session in the mastery blend: 0 freezes the
	// estimate on history, 1 replaces it with the latest session.
	blend float64
}

func NewCompetencyService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, blend float64) CompetencyService {
	if blend < 0 {
		blend = 0
	}
	if blend > 1 {
		blend = 1
	}
	return &competencyService{
		repo:   repo,
		db:     db,
		logger: logger,
		blend:  blend,
	}
}

// RecordFinalizedSession computes a per-competency correctness ratio
// for the finished session and blends it into each running mastery
// score. Recent sessions carry more weight than old ones so mastery
// tracks current standing. Untagged questions contribute to nothing;
// multi-tagged questions contribute to every tag.
func (s *competencyService) RecordFinalizedSession(ctx context.Context, repo repositories.Repository, assessment *models.Assessment, observations []*models.Observation) error {
	type tally struct {
		correct int
		total   int
	}
	tallies := make(map[string]*tally)

	for _, obs := range observations {
		for _, tag := range obs.TagList() {
			t, ok := tallies[tag]
			if !ok {
				t = &tally{}
				tallies[tag] = t
			}
			t.total++
			if obs.Correct {
				t.correct++
			}
		}
	}

	for competency, t := range tallies {
		sessionRatio := float64(t.correct) / float64(t.total)

		existing, err := repo.CompetencyScore().Get(ctx, nil, assessment.StudentID, assessment.SubjectID, competency)
		if err != nil && !repositories.IsNotFoundError(err) {
			return fmt.Errorf("failed to load competency score: %w", err)
		}

		score := &models.CompetencyScore{
			StudentID:    assessment.StudentID,
			SubjectID:    assessment.SubjectID,
			Competency:   competency,
			Mastery:      sessionRatio,
			SessionCount: 1,
		}
		if existing != nil {
			score.Mastery = s.blend*sessionRatio + (1.0-s.blend)*existing.Mastery
			score.SessionCount = existing.SessionCount + 1
		}

		if err := repo.CompetencyScore().Upsert(ctx, nil, score); err != nil {
			return fmt.Errorf("failed to upsert competency score: %w", err)
		}
	}

	return nil
}

func (s *competencyService) GetStudentMastery(ctx context.Context, studentID string, subjectID *string, requesterID string) ([]*models.CompetencyScore, error) {
	// Students read their own mastery; staff access is enforced by the
	// role middleware before this call
	scores, err := s.repo.CompetencyScore().GetByStudent(ctx, nil, studentID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mastery scores: %w", err)
	}
	return scores, nil
}
