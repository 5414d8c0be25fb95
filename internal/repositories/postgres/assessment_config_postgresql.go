package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/edmetrics/assessment-engine/internal/cache"
	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
)

type AssessmentConfigPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewAssessmentConfigPostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager) repositories.AssessmentConfigRepository {
	return &AssessmentConfigPostgreSQL{
		db:           db,
		cacheManager: cacheManager,
	}
}

func (a *AssessmentConfigPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

func (a *AssessmentConfigPostgreSQL) Get(ctx context.Context, tx *gorm.DB, subjectID string, gradeLevel int) (*models.AssessmentConfig, error) {
	db := a.getDB(tx)

	fetch := func() (*models.AssessmentConfig, error) {
		var cfg models.AssessmentConfig
		err := db.WithContext(ctx).
			Where("subject_id = ? AND grade_level = ?", subjectID, gradeLevel).
			First(&cfg).Error
		if err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	// Inside a transaction, or with no cache configured, hit the table
	// directly. Not-found is a meaningful answer here so it is never
	// cached.
	if tx != nil || a.cacheManager == nil {
		return fetch()
	}

	cacheKey := fmt.Sprintf("engine_config:%s:%d", subjectID, gradeLevel)
	var cfg models.AssessmentConfig
	err := a.cacheManager.Question.CacheOrExecute(ctx, cacheKey, &cfg, cache.QuestionCacheConfig.TTL, func() (interface{}, error) {
		return fetch()
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (a *AssessmentConfigPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, cfg *models.AssessmentConfig) error {
	db := a.getDB(tx)
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subject_id"},
			{Name: "grade_level"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"max_questions", "difficulty_min", "difficulty_max",
			"convergence_threshold", "convergence_window", "updated_at",
		}),
	}).Create(cfg).Error
	if err != nil {
		return fmt.Errorf("failed to upsert assessment config: %w", err)
	}

	if a.cacheManager != nil {
		cacheKey := fmt.Sprintf("engine_config:%s:%d", cfg.SubjectID, cfg.GradeLevel)
		cache.SafeDelete(ctx, a.cacheManager.Question, cacheKey)
	}
	return nil
}
