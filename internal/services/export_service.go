package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/edmetrics/assessment-engine/internal/repositories"
)

type exportService struct {
	repo      repositories.Repository
	analytics AnalyticsService
	logger    *slog.Logger
}

func NewExportService(repo repositories.Repository, analytics AnalyticsService, logger *slog.Logger) ExportService {
	return &exportService{
		repo:      repo,
		analytics: analytics,
		logger:    logger,
	}
}

// ExportGrowthReport renders a student's growth series as an xlsx
// workbook. Returns the file content and a suggested filename.
func (s *exportService) ExportGrowthReport(ctx context.Context, studentID, subjectID string, requesterID string) ([]byte, string, error) {
	points, err := s.analytics.GetGrowth(ctx, studentID, subjectID, requesterID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Growth"
	f.SetSheetName(f.GetSheetName(0), sheet)

	headers := []string{"Year", "Period", "Score", "Growth"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for row, point := range points {
		values := []interface{}{point.Year, string(point.Period), point.Score}
		if point.Growth != nil {
			values = append(values, *point.Growth)
		} else {
			values = append(values, "")
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("failed to write workbook: %w", err)
	}

	filename := fmt.Sprintf("growth_%s_%s.xlsx", studentID, subjectID)
	s.logger.Info("Growth report exported",
		"student_id", studentID,
		"subject_id", subjectID,
		"rows", len(points))
	return buf.Bytes(), filename, nil
}

// ExportGapReport renders the achievement-gap comparison as an xlsx
// workbook with one row per group.
func (s *exportService) ExportGapReport(ctx context.Context, req *GapReportRequest, requesterID string) ([]byte, string, error) {
	stats, err := s.analytics.GetAchievementGaps(ctx, req, requesterID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Achievement Gaps"
	f.SetSheetName(f.GetSheetName(0), sheet)

	headers := []string{"Group", "Students", "Mean Score", "P25", "P50", "P75"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for row, group := range stats {
		values := []interface{}{
			group.Group,
			group.Count,
			group.MeanScore,
			group.Percentile25,
			group.Percentile50,
			group.Percentile75,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("failed to write workbook: %w", err)
	}

	filename := fmt.Sprintf("gaps_%s_by_%s.xlsx", req.SubjectID, req.GroupBy)
	s.logger.Info("Gap report exported",
		"subject_id", req.SubjectID,
		"group_by", req.GroupBy,
		"groups", len(stats))
	return buf.Bytes(), filename, nil
}
