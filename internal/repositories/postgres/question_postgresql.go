package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/edmetrics/assessment-engine/internal/cache"
	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
)

type QuestionPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewQuestionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.QuestionRepository {
	return &QuestionPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (q *QuestionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return q.db
}

func (q *QuestionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	db := q.getDB(tx)
	return db.WithContext(ctx).Create(question).Error
}

func (q *QuestionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	db := q.getDB(tx)
	// Question content is immutable once published; safe to cache
	cacheKey := fmt.Sprintf("id:%d", id)
	var question models.Question

	err := q.cacheManager.Question.CacheOrExecute(ctx, cacheKey, &question, cache.QuestionCacheConfig.TTL, func() (interface{}, error) {
		var dbQuestion models.Question
		if err := db.WithContext(ctx).First(&dbQuestion, id).Error; err != nil {
			return nil, err
		}
		return &dbQuestion, nil
	})
	if err != nil {
		return nil, err
	}

	return &question, nil
}

func (q *QuestionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	db := q.getDB(tx)
	if err := db.WithContext(ctx).Save(question).Error; err != nil {
		return err
	}

	cache.InvalidateQuestionCache(ctx, q.cacheManager, question.ID, question.SubjectID)
	return nil
}

func (q *QuestionPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := q.getDB(tx)
	if err := db.WithContext(ctx).Delete(&models.Question{}, id).Error; err != nil {
		return err
	}

	cache.SafeDelete(ctx, q.cacheManager.Question, fmt.Sprintf("id:%d", id))
	return nil
}

func (q *QuestionPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.QuestionFilters) ([]*models.Question, int64, error) {
	db := q.getDB(tx)
	var questions []*models.Question
	var total int64

	// apply filter first
	query := db.WithContext(ctx).Model(&models.Question{})
	query = q.applyFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = q.applyPaginationAndSort(query, filters)

	if err := query.Find(&questions).Error; err != nil {
		return nil, 0, err
	}

	return questions, total, nil
}

func (q *QuestionPostgreSQL) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	db := q.getDB(tx)
	var questions []*models.Question
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("failed to get questions by ids: %w", err)
	}
	return questions, nil
}

// Select picks the eligible question closest to the target difficulty.
// Ties at the same difficulty distance go to the least recently used
// question (NULL last_used_at first) to spread item exposure.
func (q *QuestionPostgreSQL) Select(ctx context.Context, tx *gorm.DB, sel repositories.QuestionSelection) (*models.Question, error) {
	db := q.getDB(tx)

	query := db.WithContext(ctx).
		Model(&models.Question{}).
		Where("subject_id = ?", sel.SubjectID)

	if len(sel.ExcludeIDs) > 0 {
		query = query.Where("id NOT IN ?", sel.ExcludeIDs)
	}

	if sel.Tolerance > 0 {
		query = query.Where("difficulty BETWEEN ? AND ?",
			sel.TargetDifficulty-sel.Tolerance, sel.TargetDifficulty+sel.Tolerance)
	}

	if len(sel.CompetencyTags) > 0 {
		// match any of the requested tags; jsonb_exists_any avoids the
		// ?| operator clashing with the driver placeholder
		query = query.Where("jsonb_exists_any(competency_tags, ?::text[])", toTextArray(sel.CompetencyTags))
	}

	var question models.Question
	err := query.
		Order(fmt.Sprintf("ABS(difficulty - %d) ASC", sel.TargetDifficulty)).
		Order("last_used_at ASC NULLS FIRST").
		First(&question).Error
	if err != nil {
		return nil, err
	}

	return &question, nil
}

func (q *QuestionPostgreSQL) MarkUsed(ctx context.Context, tx *gorm.DB, id uint, usedAt time.Time) error {
	db := q.getDB(tx)
	return db.WithContext(ctx).
		Model(&models.Question{}).
		Where("id = ?", id).
		Update("last_used_at", usedAt).Error
}

func (q *QuestionPostgreSQL) IsReferencedByActiveSession(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	db := q.getDB(tx)

	var count int64
	err := db.WithContext(ctx).
		Model(&models.AssessmentSession{}).
		Where("status = ?", models.SessionActive).
		Where("pending_question_id = ? OR id IN (?)",
			id,
			db.Model(&models.Observation{}).Select("session_id").Where("question_id = ?", id)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check question references: %w", err)
	}

	return count > 0, nil
}

// ===== QUERY HELPERS =====

func (q *QuestionPostgreSQL) applyFilters(query *gorm.DB, filters repositories.QuestionFilters) *gorm.DB {
	if filters.SubjectID != nil {
		query = query.Where("subject_id = ?", *filters.SubjectID)
	}
	if filters.Difficulty != nil {
		query = query.Where("difficulty = ?", *filters.Difficulty)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	if len(filters.Tags) > 0 {
		query = query.Where("jsonb_exists_any(competency_tags, ?::text[])", toTextArray(filters.Tags))
	}
	return query
}

func (q *QuestionPostgreSQL) applyPaginationAndSort(query *gorm.DB, filters repositories.QuestionFilters) *gorm.DB {
	sortBy := filters.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	sortOrder := filters.SortOrder
	if sortOrder != "asc" && sortOrder != "desc" {
		sortOrder = "desc"
	}
	query = query.Order(fmt.Sprintf("%s %s", sortBy, sortOrder))

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}
	return query
}
