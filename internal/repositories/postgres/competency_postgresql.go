package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
)

type CompetencyScorePostgreSQL struct {
	db *gorm.DB
}

func NewCompetencyScorePostgreSQL(db *gorm.DB) repositories.CompetencyScoreRepository {
	return &CompetencyScorePostgreSQL{db: db}
}

func (c *CompetencyScorePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return c.db
}

func (c *CompetencyScorePostgreSQL) Get(ctx context.Context, tx *gorm.DB, studentID, subjectID, competency string) (*models.CompetencyScore, error) {
	db := c.getDB(tx)
	var score models.CompetencyScore
	err := db.WithContext(ctx).
		Where("student_id = ? AND subject_id = ? AND competency = ?",
			studentID, subjectID, competency).
		First(&score).Error
	if err != nil {
		return nil, err
	}
	return &score, nil
}

func (c *CompetencyScorePostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, score *models.CompetencyScore) error {
	db := c.getDB(tx)
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "student_id"},
			{Name: "subject_id"},
			{Name: "competency"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"mastery", "session_count", "updated_at"}),
	}).Create(score).Error
	if err != nil {
		return fmt.Errorf("failed to upsert competency score: %w", err)
	}
	return nil
}

func (c *CompetencyScorePostgreSQL) GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, subjectID *string) ([]*models.CompetencyScore, error) {
	db := c.getDB(tx)
	query := db.WithContext(ctx).Where("student_id = ?", studentID)
	if subjectID != nil {
		query = query.Where("subject_id = ?", *subjectID)
	}
	var scores []*models.CompetencyScore
	if err := query.Order("competency ASC").Find(&scores).Error; err != nil {
		return nil, fmt.Errorf("failed to get competency scores: %w", err)
	}
	return scores, nil
}

func (c *CompetencyScorePostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.CompetencyScoreFilters) ([]*models.CompetencyScore, int64, error) {
	db := c.getDB(tx)
	var scores []*models.CompetencyScore
	var total int64

	query := db.WithContext(ctx).Model(&models.CompetencyScore{})
	if filters.SubjectID != nil {
		query = query.Where("subject_id = ?", *filters.SubjectID)
	}
	if filters.Competency != nil {
		query = query.Where("competency = ?", *filters.Competency)
	}
	if len(filters.StudentIDs) > 0 {
		query = query.Where("student_id IN ?", filters.StudentIDs)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("student_id ASC").Order("competency ASC")
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Find(&scores).Error; err != nil {
		return nil, 0, err
	}

	return scores, total, nil
}
