package services

import (
	"context"
	"math"
	"testing"

	"github.com/edmetrics/assessment-engine/internal/models"
)

func taggedObs(t *testing.T, correct bool, tags ...string) *models.Observation {
	t.Helper()
	obs := &models.Observation{Correct: correct}
	if len(tags) > 0 {
		obs.CompetencyTags = mustJSON(t, tags)
	}
	return obs
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCompetencyService_FirstSessionUsesRatio(t *testing.T) {
	repo := newMockRepository()
	svc := NewCompetencyService(repo, nil, testLogger(), 0.4)
	ctx := context.Background()

	assessment := &models.Assessment{StudentID: "student-1", SubjectID: "math"}
	observations := []*models.Observation{
		taggedObs(t, true, "fractions"),
		taggedObs(t, true, "fractions"),
		taggedObs(t, false, "fractions"),
		taggedObs(t, false, "fractions"),
	}

	if err := svc.RecordFinalizedSession(ctx, repo, assessment, observations); err != nil {
		t.Fatalf("RecordFinalizedSession: %v", err)
	}

	score, err := repo.CompetencyScore().Get(ctx, nil, "student-1", "math", "fractions")
	if err != nil {
		t.Fatalf("load score: %v", err)
	}
	if !floatEq(score.Mastery, 0.5) {
		t.Errorf("mastery = %v, want 0.5 (no history to blend against)", score.Mastery)
	}
	if score.SessionCount != 1 {
		t.Errorf("session count = %d, want 1", score.SessionCount)
	}
}

func TestCompetencyService_BlendsRecentOverHistory(t *testing.T) {
	repo := newMockRepository()
	svc := NewCompetencyService(repo, nil, testLogger(), 0.4)
	ctx := context.Background()

	if err := repo.CompetencyScore().Upsert(ctx, nil, &models.CompetencyScore{
		StudentID:    "student-1",
		SubjectID:    "math",
		Competency:   "fractions",
		Mastery:      0.5,
		SessionCount: 3,
	}); err != nil {
		t.Fatalf("seed score: %v", err)
	}

	// A perfect session: 0.4*1.0 + 0.6*0.5 = 0.7
	assessment := &models.Assessment{StudentID: "student-1", SubjectID: "math"}
	observations := []*models.Observation{
		taggedObs(t, true, "fractions"),
		taggedObs(t, true, "fractions"),
	}
	if err := svc.RecordFinalizedSession(ctx, repo, assessment, observations); err != nil {
		t.Fatalf("RecordFinalizedSession: %v", err)
	}

	score, err := repo.CompetencyScore().Get(ctx, nil, "student-1", "math", "fractions")
	if err != nil {
		t.Fatalf("load score: %v", err)
	}
	if !floatEq(score.Mastery, 0.7) {
		t.Errorf("mastery = %v, want 0.7", score.Mastery)
	}
	if score.SessionCount != 4 {
		t.Errorf("session count = %d, want 4", score.SessionCount)
	}
}

func TestCompetencyService_TagHandling(t *testing.T) {
	repo := newMockRepository()
	svc := NewCompetencyService(repo, nil, testLogger(), 0.4)
	ctx := context.Background()

	assessment := &models.Assessment{StudentID: "student-1", SubjectID: "math"}
	observations := []*models.Observation{
		// Multi-tagged: counts toward both competencies
		taggedObs(t, true, "fractions", "decimals"),
		taggedObs(t, false, "decimals"),
		// Untagged: counts toward nothing
		taggedObs(t, true),
	}
	if err := svc.RecordFinalizedSession(ctx, repo, assessment, observations); err != nil {
		t.Fatalf("RecordFinalizedSession: %v", err)
	}

	scores, err := repo.CompetencyScore().GetByStudent(ctx, nil, "student-1", nil)
	if err != nil {
		t.Fatalf("load scores: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("competencies recorded = %d, want 2", len(scores))
	}

	byName := make(map[string]float64)
	for _, s := range scores {
		byName[s.Competency] = s.Mastery
	}
	if !floatEq(byName["fractions"], 1.0) {
		t.Errorf("fractions mastery = %v, want 1.0", byName["fractions"])
	}
	if !floatEq(byName["decimals"], 0.5) {
		t.Errorf("decimals mastery = %v, want 0.5", byName["decimals"])
	}
}

func TestCompetencyService_BlendClamped(t *testing.T) {
	ctx := context.Background()
	assessment := &models.Assessment{StudentID: "student-1", SubjectID: "math"}
	observations := []*models.Observation{taggedObs(t, true, "fractions")}

	seed := func(repo *mockRepository) {
		if err := repo.CompetencyScore().Upsert(ctx, nil, &models.CompetencyScore{
			StudentID:    "student-1",
			SubjectID:    "math",
			Competency:   "fractions",
			Mastery:      0.2,
			SessionCount: 1,
		}); err != nil {
			t.Fatalf("seed score: %v", err)
		}
	}

	tests := []struct {
		name  string
		blend float64
		want  float64
	}{
		{name: "below zero freezes on history", blend: -1.0, want: 0.2},
		{name: "above one tracks latest session", blend: 2.0, want: 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepository()
			seed(repo)
			svc := NewCompetencyService(repo, nil, testLogger(), tt.blend)
			if err := svc.RecordFinalizedSession(ctx, repo, assessment, observations); err != nil {
				t.Fatalf("RecordFinalizedSession: %v", err)
			}
			score, err := repo.CompetencyScore().Get(ctx, nil, "student-1", "math", "fractions")
			if err != nil {
				t.Fatalf("load score: %v", err)
			}
			if !floatEq(score.Mastery, tt.want) {
				t.Errorf("mastery = %v, want %v", score.Mastery, tt.want)
			}
		})
	}
}

func TestCompetencyService_GetStudentMastery(t *testing.T) {
	repo := newMockRepository()
	svc := NewCompetencyService(repo, nil, testLogger(), 0.4)
	ctx := context.Background()

	for _, s := range []*models.CompetencyScore{
		{StudentID: "student-1", SubjectID: "math", Competency: "fractions", Mastery: 0.8},
		{StudentID: "student-1", SubjectID: "reading", Competency: "inference", Mastery: 0.6},
		{StudentID: "student-2", SubjectID: "math", Competency: "fractions", Mastery: 0.3},
	} {
		if err := repo.CompetencyScore().Upsert(ctx, nil, s); err != nil {
			t.Fatalf("seed score: %v", err)
		}
	}

	all, err := svc.GetStudentMastery(ctx, "student-1", nil, "student-1")
	if err != nil {
		t.Fatalf("GetStudentMastery: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered scores = %d, want 2", len(all))
	}

	subject := "math"
	filtered, err := svc.GetStudentMastery(ctx, "student-1", &subject, "student-1")
	if err != nil {
		t.Fatalf("GetStudentMastery filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Competency != "fractions" {
		t.Errorf("filtered scores = %v, want just fractions", filtered)
	}
}
