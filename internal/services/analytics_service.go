package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"gorm.io/gorm"

	"github.com/edmetrics/assessment-engine/internal/cache"
	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
)

type analyticsService struct {
	repo         repositories.Repository
	db           *gorm.DB
	logger       *slog.Logger
	cacheManager *cache.CacheManager
}

func NewAnalyticsService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, cacheManager *cache.CacheManager) AnalyticsService {
	if cacheManager == nil {
		cacheManager = cache.NewCacheManager(nil)
	}
	return &analyticsService{
		repo:         repo,
		db:           db,
		logger:       logger,
		cacheManager: cacheManager,
	}
}

// ===== GROWTH =====

// GetGrowth returns the student's finalized scores in chronological
// (year, period) order with the delta between adjacent points. Pure
// projection over the assessment history; recomputable at any time.
func (s *analyticsService) GetGrowth(ctx context.Context, studentID, subjectID string, requesterID string) ([]repositories.GrowthPoint, error) {
	// Key shape must stay in sync with cache.InvalidateGrowthCache
	cacheKey := fmt.Sprintf("student:%s:subject:%s", studentID, subjectID)

	var points []repositories.GrowthPoint
	err := s.cacheManager.Growth.CacheOrExecute(ctx, cacheKey, &points, cache.GrowthCacheConfig.TTL, func() (interface{}, error) {
		return s.computeGrowth(ctx, studentID, subjectID)
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

func (s *analyticsService) computeGrowth(ctx context.Context, studentID, subjectID string) ([]repositories.GrowthPoint, error) {
	assessments, err := s.repo.Assessment().GetByStudentSubject(ctx, nil, studentID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assessments: %w", err)
	}

	points := make([]repositories.GrowthPoint, 0, len(assessments))
	for i, a := range assessments {
		point := repositories.GrowthPoint{
			Period: a.Period,
			Year:   a.Year,
			Score:  a.FinalScore,
		}
		if i > 0 {
			growth := a.FinalScore - assessments[i-1].FinalScore
			point.Growth = &growth
		}
		points = append(points, point)
	}
	return points, nil
}

// ===== ACHIEVEMENT GAPS =====

// GetAchievementGaps groups finalized assessments by school or grade
// and returns distributional statistics per group. Groups with no
// assessments simply do not appear.
func (s *analyticsService) GetAchievementGaps(ctx context.Context, req *GapReportRequest, requesterID string) ([]repositories.GroupStats, error) {
	filters := repositories.AssessmentFilters{
		SubjectID: &req.SubjectID,
		Period:    req.Period,
		Year:      req.Year,
	}
	assessments, _, err := s.repo.Assessment().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to load assessments: %w", err)
	}

	groups := make(map[string][]int)
	for _, a := range assessments {
		var key string
		switch req.GroupBy {
		case "grade":
			key = strconv.Itoa(a.GradeLevel)
		default:
			key = a.SchoolID
		}
		if key == "" || key == "0" {
			// Assessments without placement data are excluded rather
			// than lumped into a phantom group
			continue
		}
		groups[key] = append(groups[key], a.FinalScore)
	}

	stats := make([]repositories.GroupStats, 0, len(groups))
	for group, scores := range groups {
		sort.Ints(scores)

		sum := 0
		for _, score := range scores {
			sum += score
		}

		stats = append(stats, repositories.GroupStats{
			Group:        group,
			Count:        len(scores),
			MeanScore:    float64(sum) / float64(len(scores)),
			Percentile25: percentileAt(scores, 25),
			Percentile50: percentileAt(scores, 50),
			Percentile75: percentileAt(scores, 75),
		})
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Group < stats[j].Group })
	return stats, nil
}

// percentileAt returns the nearest-rank percentile of an ascending
// sorted slice.
func percentileAt(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// ===== MASTERY REPORT =====

// GetMasteryReport buckets a cohort's competency scores into mastery
// tiers. Students with no scores contribute nothing.
func (s *analyticsService) GetMasteryReport(ctx context.Context, req *MasteryReportRequest, requesterID string) ([]repositories.MasteryBucket, error) {
	filters := repositories.CompetencyScoreFilters{
		SubjectID:  &req.SubjectID,
		StudentIDs: req.StudentIDs,
	}
	scores, _, err := s.repo.CompetencyScore().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to load competency scores: %w", err)
	}

	type agg struct {
		tiers map[models.MasteryTier]int
		sum   float64
		count int
	}
	byCompetency := make(map[string]*agg)

	for _, score := range scores {
		a, ok := byCompetency[score.Competency]
		if !ok {
			a = &agg{tiers: make(map[models.MasteryTier]int)}
			byCompetency[score.Competency] = a
		}
		a.tiers[models.TierFor(score.Mastery)]++
		a.sum += score.Mastery
		a.count++
	}

	buckets := make([]repositories.MasteryBucket, 0, len(byCompetency))
	for competency, a := range byCompetency {
		buckets = append(buckets, repositories.MasteryBucket{
			Competency: competency,
			Tiers:      a.tiers,
			Mean:       a.sum / float64(a.count),
			Students:   a.count,
		})
	}

	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Competency < buckets[j].Competency })
	return buckets, nil
}

// ===== LISTING =====

func (s *analyticsService) ListAssessments(ctx context.Context, filters repositories.AssessmentFilters, requesterID string) (*AssessmentListResponse, error) {
	assessments, total, err := s.repo.Assessment().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}

	page := 1
	size := len(assessments)
	if filters.Limit > 0 {
		size = filters.Limit
		page = (filters.Offset / filters.Limit) + 1
	}

	return &AssessmentListResponse{
		Assessments: assessments,
		Total:       total,
		Page:        page,
		Size:        size,
	}, nil
}
