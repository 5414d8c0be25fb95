package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/edmetrics/assessment-engine/internal/cache"
	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
)

// periodOrderExpr sorts fall before winter before spring within a year.
const periodOrderExpr = "CASE period WHEN 'fall' THEN 0 WHEN 'winter' THEN 1 ELSE 2 END"

type AssessmentPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewAssessmentPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AssessmentRepository {
	return &AssessmentPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (a *AssessmentPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

func (a *AssessmentPostgreSQL) Create(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Create(assessment).Error; err != nil {
		return fmt.Errorf("failed to create assessment: %w", err)
	}
	cache.InvalidateGrowthCache(ctx, a.cacheManager, assessment.StudentID, assessment.SubjectID)
	return nil
}

func (a *AssessmentPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error) {
	db := a.getDB(tx)
	var assessment models.Assessment
	if err := db.WithContext(ctx).First(&assessment, id).Error; err != nil {
		return nil, err
	}
	return &assessment, nil
}

func (a *AssessmentPostgreSQL) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) (*models.Assessment, error) {
	db := a.getDB(tx)
	var assessment models.Assessment
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&assessment).Error; err != nil {
		return nil, err
	}
	return &assessment, nil
}

func (a *AssessmentPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AssessmentFilters) ([]*models.Assessment, int64, error) {
	db := a.getDB(tx)
	var assessments []*models.Assessment
	var total int64

	query := db.WithContext(ctx).Model(&models.Assessment{})
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.SubjectID != nil {
		query = query.Where("subject_id = ?", *filters.SubjectID)
	}
	if filters.Period != nil {
		query = query.Where("period = ?", *filters.Period)
	}
	if filters.Year != nil {
		query = query.Where("year = ?", *filters.Year)
	}
	if filters.SchoolID != nil {
		query = query.Where("school_id = ?", *filters.SchoolID)
	}
	if filters.Grade != nil {
		query = query.Where("grade_level = ?", *filters.Grade)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("year DESC").Order(periodOrderExpr + " DESC")
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Find(&assessments).Error; err != nil {
		return nil, 0, err
	}

	return assessments, total, nil
}

func (a *AssessmentPostgreSQL) GetLatestCompleted(ctx context.Context, tx *gorm.DB, studentID, subjectID string) (*models.Assessment, error) {
	db := a.getDB(tx)
	var assessment models.Assessment
	err := db.WithContext(ctx).
		Where("student_id = ? AND subject_id = ?", studentID, subjectID).
		Order("year DESC").
		Order(periodOrderExpr + " DESC").
		First(&assessment).Error
	if err != nil {
		return nil, err
	}
	return &assessment, nil
}

func (a *AssessmentPostgreSQL) GetByStudentSubject(ctx context.Context, tx *gorm.DB, studentID, subjectID string) ([]*models.Assessment, error) {
	db := a.getDB(tx)
	var assessments []*models.Assessment
	err := db.WithContext(ctx).
		Where("student_id = ? AND subject_id = ?", studentID, subjectID).
		Order("year ASC").
		Order(periodOrderExpr + " ASC").
		Find(&assessments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get assessments: %w", err)
	}
	return assessments, nil
}
