package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/edmetrics/assessment-engine/internal/models"
)

func newExportFixture(t *testing.T) (*mockRepository, ExportService) {
	t.Helper()
	repo := newMockRepository()
	analytics := NewAnalyticsService(repo, nil, testLogger(), nil)
	return repo, NewExportService(repo, analytics, testLogger())
}

func TestExportService_GrowthReport(t *testing.T) {
	repo, svc := newExportFixture(t)
	ctx := context.Background()

	seedAssessment(t, repo, models.Assessment{SessionID: 1, StudentID: "student-1", SubjectID: "math", Period: models.PeriodFall, Year: 2025, FinalScore: 190})
	seedAssessment(t, repo, models.Assessment{SessionID: 2, StudentID: "student-1", SubjectID: "math", Period: models.PeriodWinter, Year: 2025, FinalScore: 205})

	content, filename, err := svc.ExportGrowthReport(ctx, "student-1", "math", "teacher-1")
	if err != nil {
		t.Fatalf("ExportGrowthReport: %v", err)
	}
	if filename != "growth_student-1_math.xlsx" {
		t.Errorf("filename = %q", filename)
	}

	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Growth")
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header plus 2 points", len(rows))
	}
	if rows[0][0] != "Year" || rows[0][3] != "Growth" {
		t.Errorf("header row = %v", rows[0])
	}
	if rows[1][2] != "190" {
		t.Errorf("first score cell = %q, want 190", rows[1][2])
	}
	if rows[2][3] != "15" {
		t.Errorf("growth cell = %q, want 15", rows[2][3])
	}
}

func TestExportService_GapReport(t *testing.T) {
	repo, svc := newExportFixture(t)
	ctx := context.Background()

	seedAssessment(t, repo, models.Assessment{SessionID: 1, StudentID: "s1", SubjectID: "math", Period: models.PeriodFall, Year: 2025, FinalScore: 180, SchoolID: "school-a", GradeLevel: 5})
	seedAssessment(t, repo, models.Assessment{SessionID: 2, StudentID: "s2", SubjectID: "math", Period: models.PeriodFall, Year: 2025, FinalScore: 150, SchoolID: "school-b", GradeLevel: 5})

	content, filename, err := svc.ExportGapReport(ctx, &GapReportRequest{SubjectID: "math", GroupBy: "school"}, "admin-1")
	if err != nil {
		t.Fatalf("ExportGapReport: %v", err)
	}
	if filename != "gaps_math_by_school.xlsx" {
		t.Errorf("filename = %q", filename)
	}

	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Achievement Gaps")
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header plus 2 groups", len(rows))
	}
	if rows[1][0] != "school-a" || rows[2][0] != "school-b" {
		t.Errorf("group cells = %q, %q", rows[1][0], rows[2][0])
	}
	if rows[1][2] != "180" {
		t.Errorf("mean cell = %q, want 180", rows[1][2])
	}
}
