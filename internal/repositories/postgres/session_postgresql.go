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

type SessionPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewSessionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.SessionRepository {
	return &SessionPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (s *SessionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *SessionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, session *models.AssessmentSession) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).Create(session).Error
}

// GetByID reads the session row directly; session state changes on
// every answer, so the cache is only consulted by read-only callers
// via GetByIDWithObservations.
func (s *SessionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentSession, error) {
	db := s.getDB(tx)
	var session models.AssessmentSession
	if err := db.WithContext(ctx).First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// GetByIDWithObservations serves the read-only session view. Outside a
// transaction the result is cached; UpdateVersioned evicts the entry on
// every state transition.
func (s *SessionPostgreSQL) GetByIDWithObservations(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentSession, error) {
	if tx != nil {
		return s.loadWithObservations(ctx, tx, id)
	}

	var session models.AssessmentSession
	cacheKey := fmt.Sprintf("details:%d", id)
	err := s.cacheManager.Session.CacheOrExecute(ctx, cacheKey, &session, cache.SessionCacheConfig.TTL, func() (interface{}, error) {
		return s.loadWithObservations(ctx, s.db, id)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionPostgreSQL) loadWithObservations(ctx context.Context, db *gorm.DB, id uint) (*models.AssessmentSession, error) {
	var session models.AssessmentSession
	if err := db.WithContext(ctx).
		Preload("Observations", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_index ASC")
		}).
		First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionPostgreSQL) GetActive(ctx context.Context, tx *gorm.DB, studentID, subjectID string) (*models.AssessmentSession, error) {
	db := s.getDB(tx)
	var session models.AssessmentSession
	err := db.WithContext(ctx).
		Where("student_id = ? AND subject_id = ? AND status = ?",
			studentID, subjectID, models.SessionActive).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.SessionFilters) ([]*models.AssessmentSession, int64, error) {
	db := s.getDB(tx)
	var sessions []*models.AssessmentSession
	var total int64

	query := db.WithContext(ctx).Model(&models.AssessmentSession{})
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.SubjectID != nil {
		query = query.Where("subject_id = ?", *filters.SubjectID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("created_at DESC")
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Find(&sessions).Error; err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}

// UpdateVersioned applies the session state iff no other writer got
// there first. The WHERE version = ? guard makes two racing submits
// serialize: the loser sees ErrVersionConflict.
func (s *SessionPostgreSQL) UpdateVersioned(ctx context.Context, tx *gorm.DB, session *models.AssessmentSession, expectedVersion int) error {
	db := s.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.AssessmentSession{}).
		Where("id = ? AND version = ?", session.ID, expectedVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(session)
	if result.Error != nil {
		return fmt.Errorf("failed to update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrVersionConflict
	}

	cache.InvalidateSessionCache(ctx, s.cacheManager, session.ID)
	return nil
}

func (s *SessionPostgreSQL) GetIdle(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]*models.AssessmentSession, error) {
	db := s.getDB(tx)
	var sessions []*models.AssessmentSession
	query := db.WithContext(ctx).
		Where("status = ? AND last_activity_at < ?", models.SessionActive, cutoff).
		Order("last_activity_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to get idle sessions: %w", err)
	}
	return sessions, nil
}

type ObservationPostgreSQL struct {
	db *gorm.DB
}

func NewObservationPostgreSQL(db *gorm.DB) repositories.ObservationRepository {
	return &ObservationPostgreSQL{db: db}
}

func (o *ObservationPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return o.db
}

func (o *ObservationPostgreSQL) Create(ctx context.Context, tx *gorm.DB, obs *models.Observation) error {
	db := o.getDB(tx)
	return db.WithContext(ctx).Create(obs).Error
}

func (o *ObservationPostgreSQL) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.Observation, error) {
	db := o.getDB(tx)
	var observations []*models.Observation
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence_index ASC").
		Find(&observations).Error; err != nil {
		return nil, fmt.Errorf("failed to get observations: %w", err)
	}
	return observations, nil
}
