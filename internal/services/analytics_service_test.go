package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/edmetrics/assessment-engine/internal/cache"
	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
)

func seedAssessment(t *testing.T, repo *mockRepository, a models.Assessment) {
	t.Helper()
	if err := repo.Assessment().Create(context.Background(), nil, &a); err != nil {
		t.Fatalf("seed assessment: %v", err)
	}
}

func TestAnalyticsService_GetGrowth(t *testing.T) {
	repo := newMockRepository()
	svc := NewAnalyticsService(repo, nil, testLogger(), nil)
	ctx := context.Background()

	// Seeded out of order to exercise the chronological sort
	seedAssessment(t, repo, models.Assessment{SessionID: 2, StudentID: "student-1", SubjectID: "math", Period: models.PeriodWinter, Year: 2025, FinalScore: 205})
	seedAssessment(t, repo, models.Assessment{SessionID: 3, StudentID: "student-1", SubjectID: "math", Period: models.PeriodSpring, Year: 2025, FinalScore: 212})
	seedAssessment(t, repo, models.Assessment{SessionID: 1, StudentID: "student-1", SubjectID: "math", Period: models.PeriodFall, Year: 2025, FinalScore: 190})
	// Other subject and other student stay out of the series
	seedAssessment(t, repo, models.Assessment{SessionID: 4, StudentID: "student-1", SubjectID: "reading", Period: models.PeriodFall, Year: 2025, FinalScore: 170})
	seedAssessment(t, repo, models.Assessment{SessionID: 5, StudentID: "student-2", SubjectID: "math", Period: models.PeriodFall, Year: 2025, FinalScore: 140})

	points, err := svc.GetGrowth(ctx, "student-1", "math", "teacher-1")
	if err != nil {
		t.Fatalf("GetGrowth: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}

	if points[0].Period != models.PeriodFall || points[0].Score != 190 {
		t.Errorf("point 0 = %+v, want fall 190", points[0])
	}
	if points[0].Growth != nil {
		t.Errorf("first point growth = %v, want nil", *points[0].Growth)
	}
	if points[1].Growth == nil || *points[1].Growth != 15 {
		t.Errorf("fall to winter growth = %v, want +15", points[1].Growth)
	}
	if points[2].Growth == nil || *points[2].Growth != 7 {
		t.Errorf("winter to spring growth = %v, want +7", points[2].Growth)
	}
}

// A new finalized assessment must show up in the growth series as soon
// as the invalidation runs, not after the TTL.
func TestAnalyticsService_GetGrowth_CacheInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cm := cache.NewCacheManager(client)

	repo := newMockRepository()
	svc := NewAnalyticsService(repo, nil, testLogger(), cm)
	ctx := context.Background()

	seedAssessment(t, repo, models.Assessment{SessionID: 1, StudentID: "student-1", SubjectID: "math", Period: models.PeriodFall, Year: 2025, FinalScore: 190})

	points, err := svc.GetGrowth(ctx, "student-1", "math", "teacher-1")
	if err != nil {
		t.Fatalf("GetGrowth: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}

	// The cache write behind CacheOrExecute is asynchronous
	key := "growth:student:student-1:subject:math"
	deadline := time.Now().Add(2 * time.Second)
	for !mr.Exists(key) {
		if time.Now().After(deadline) {
			t.Fatalf("growth series never cached under %q", key)
		}
		time.Sleep(10 * time.Millisecond)
	}

	seedAssessment(t, repo, models.Assessment{SessionID: 2, StudentID: "student-1", SubjectID: "math", Period: models.PeriodWinter, Year: 2025, FinalScore: 205})
	cache.InvalidateGrowthCache(ctx, cm, "student-1", "math")

	points, err = svc.GetGrowth(ctx, "student-1", "math", "teacher-1")
	if err != nil {
		t.Fatalf("GetGrowth after invalidation: %v", err)
	}
	if len(points) != 2 {
		t.Errorf("points = %d after invalidation, want 2", len(points))
	}
}

func TestAnalyticsService_GetAchievementGaps(t *testing.T) {
	repo := newMockRepository()
	svc := NewAnalyticsService(repo, nil, testLogger(), nil)
	ctx := context.Background()

	scores := map[string][]int{
		"school-a": {210, 180, 200, 190},
		"school-b": {160, 150},
	}
	session := uint(0)
	for school, list := range scores {
		for _, score := range list {
			session++
			seedAssessment(t, repo, models.Assessment{
				SessionID:  session,
				StudentID:  "student",
				SubjectID:  "math",
				Period:     models.PeriodFall,
				Year:       2025,
				FinalScore: score,
				SchoolID:   school,
				GradeLevel: 5,
			})
		}
	}
	// No placement recorded: excluded from every group
	seedAssessment(t, repo, models.Assessment{SessionID: 99, StudentID: "student", SubjectID: "math", Period: models.PeriodFall, Year: 2025, FinalScore: 999})

	stats, err := svc.GetAchievementGaps(ctx, &GapReportRequest{SubjectID: "math", GroupBy: "school"}, "admin-1")
	if err != nil {
		t.Fatalf("GetAchievementGaps: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("groups = %d, want 2", len(stats))
	}

	a, b := stats[0], stats[1]
	if a.Group != "school-a" || b.Group != "school-b" {
		t.Fatalf("group order = %q, %q, want school-a, school-b", a.Group, b.Group)
	}
	if a.Count != 4 || !floatEq(a.MeanScore, 195) {
		t.Errorf("school-a = count %d mean %v, want 4 and 195", a.Count, a.MeanScore)
	}
	if a.Percentile25 != 180 || a.Percentile50 != 190 || a.Percentile75 != 200 {
		t.Errorf("school-a percentiles = %d/%d/%d, want 180/190/200", a.Percentile25, a.Percentile50, a.Percentile75)
	}
	if b.Count != 2 || !floatEq(b.MeanScore, 155) {
		t.Errorf("school-b = count %d mean %v, want 2 and 155", b.Count, b.MeanScore)
	}
	if b.Percentile50 != 150 || b.Percentile75 != 160 {
		t.Errorf("school-b percentiles = %d/%d, want 150/160", b.Percentile50, b.Percentile75)
	}

	// Grade grouping skips ungraded rows the same way
	byGrade, err := svc.GetAchievementGaps(ctx, &GapReportRequest{SubjectID: "math", GroupBy: "grade"}, "admin-1")
	if err != nil {
		t.Fatalf("GetAchievementGaps by grade: %v", err)
	}
	if len(byGrade) != 1 || byGrade[0].Group != "5" || byGrade[0].Count != 6 {
		t.Errorf("grade groups = %+v, want one group %q with 6 rows", byGrade, "5")
	}
}

func TestAnalyticsService_GetMasteryReport(t *testing.T) {
	repo := newMockRepository()
	svc := NewAnalyticsService(repo, nil, testLogger(), nil)
	ctx := context.Background()

	seeds := []struct {
		student string
		mastery float64
	}{
		{"s1", 0.9},
		{"s2", 0.7},
		{"s3", 0.5},
		{"s4", 0.2},
	}
	for _, seed := range seeds {
		if err := repo.CompetencyScore().Upsert(ctx, nil, &models.CompetencyScore{
			StudentID:  seed.student,
			SubjectID:  "math",
			Competency: "fractions",
			Mastery:    seed.mastery,
		}); err != nil {
			t.Fatalf("seed score: %v", err)
		}
	}

	buckets, err := svc.GetMasteryReport(ctx, &MasteryReportRequest{SubjectID: "math"}, "teacher-1")
	if err != nil {
		t.Fatalf("GetMasteryReport: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("buckets = %d, want 1", len(buckets))
	}

	bucket := buckets[0]
	if bucket.Competency != "fractions" || bucket.Students != 4 {
		t.Errorf("bucket = %+v, want fractions with 4 students", bucket)
	}
	for _, tier := range []models.MasteryTier{models.TierAdvanced, models.TierProficient, models.TierDeveloping, models.TierBeginning} {
		if bucket.Tiers[tier] != 1 {
			t.Errorf("tier %q count = %d, want 1", tier, bucket.Tiers[tier])
		}
	}
	if !floatEq(bucket.Mean, 0.575) {
		t.Errorf("mean mastery = %v, want 0.575", bucket.Mean)
	}

	// Narrowing the cohort narrows the tiers
	narrowed, err := svc.GetMasteryReport(ctx, &MasteryReportRequest{SubjectID: "math", StudentIDs: []string{"s1", "s2"}}, "teacher-1")
	if err != nil {
		t.Fatalf("GetMasteryReport narrowed: %v", err)
	}
	if narrowed[0].Students != 2 || narrowed[0].Tiers[models.TierBeginning] != 0 {
		t.Errorf("narrowed bucket = %+v, want 2 students and no beginning tier", narrowed[0])
	}
}

func TestAnalyticsService_ListAssessments(t *testing.T) {
	repo := newMockRepository()
	svc := NewAnalyticsService(repo, nil, testLogger(), nil)
	ctx := context.Background()

	for i := uint(1); i <= 5; i++ {
		seedAssessment(t, repo, models.Assessment{
			SessionID:  i,
			StudentID:  "student-1",
			SubjectID:  "math",
			Period:     models.PeriodFall,
			Year:       2025,
			FinalScore: 100 + int(i),
		})
	}

	resp, err := svc.ListAssessments(ctx, repositories.AssessmentFilters{Limit: 2, Offset: 2}, "teacher-1")
	if err != nil {
		t.Fatalf("ListAssessments: %v", err)
	}
	if resp.Total != 5 {
		t.Errorf("total = %d, want 5", resp.Total)
	}
	if resp.Page != 2 || resp.Size != 2 {
		t.Errorf("page/size = %d/%d, want 2/2", resp.Page, resp.Size)
	}
	if len(resp.Assessments) != 2 || resp.Assessments[0].FinalScore != 103 {
		t.Errorf("page rows = %+v, want scores 103 and 104", resp.Assessments)
	}
}
