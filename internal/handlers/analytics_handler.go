package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
	"github.com/edmetrics/assessment-engine/internal/services"
	"github.com/edmetrics/assessment-engine/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type AnalyticsHandler struct {
	BaseHandler
	analyticsService  services.AnalyticsService
	competencyService services.CompetencyService
	exportService     services.ExportService
}

func NewAnalyticsHandler(
	analyticsService services.AnalyticsService,
	competencyService services.CompetencyService,
	exportService services.ExportService,
	logger utils.Logger,
) *AnalyticsHandler {
	return &AnalyticsHandler{
		BaseHandler:       NewBaseHandler(logger),
		analyticsService:  analyticsService,
		competencyService: competencyService,
		exportService:     exportService,
	}
}

// GetGrowth returns a student's score trajectory in a subject
// @Summary Get growth series
// @Description Returns chronological finalized scores with period-over-period deltas
// @Tags analytics
// @Produce json
// @Param student_id path string true "Student ID"
// @Param subject_id path string true "Subject ID"
// @Success 200 {array} repositories.GrowthPoint
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /analytics/growth/{student_id}/{subject_id} [get]
func (h *AnalyticsHandler) GetGrowth(c *gin.Context) {
	studentID := c.Param("student_id")
	subjectID := c.Param("subject_id")
	if studentID == "" || subjectID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "student_id and subject_id are required",
		})
		return
	}

	h.LogRequest(c, "Getting growth series", "student_id", studentID, "subject_id", subjectID)

	requesterID := h.requireUserID(c)
	if requesterID == "" {
		return
	}

	points, err := h.analyticsService.GetGrowth(c.Request.Context(), studentID, subjectID, requesterID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, points)
}

// GetAchievementGaps compares score distributions across groups
// @Summary Get achievement gaps
// @Description Groups finalized assessments by school or grade and compares distributions
// @Tags analytics
// @Produce json
// @Param subject_id query string true "Subject ID"
// @Param group_by query string true "Grouping dimension (school or grade)"
// @Param period query string false "Filter by period (fall, winter, spring)"
// @Param year query int false "Filter by school year"
// @Success 200 {array} repositories.GroupStats
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /analytics/gaps [get]
func (h *AnalyticsHandler) GetAchievementGaps(c *gin.Context) {
	h.LogRequest(c, "Getting achievement gaps")

	requesterID := h.requireUserID(c)
	if requesterID == "" {
		return
	}

	req, ok := h.parseGapRequest(c)
	if !ok {
		return
	}

	stats, err := h.analyticsService.GetAchievementGaps(c.Request.Context(), req, requesterID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetMasteryReport snapshots competency mastery tiers across a cohort
// @Summary Get mastery report
// @Tags analytics
// @Produce json
// @Param subject_id query string true "Subject ID"
// @Param student_ids query string false "Comma-separated student IDs (default: all)"
// @Success 200 {array} repositories.MasteryBucket
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /analytics/mastery [get]
func (h *AnalyticsHandler) GetMasteryReport(c *gin.Context) {
	h.LogRequest(c, "Getting mastery report")

	requesterID := h.requireUserID(c)
	if requesterID == "" {
		return
	}

	subjectID := c.Query("subject_id")
	if subjectID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "subject_id query parameter is required",
		})
		return
	}

	req := &services.MasteryReportRequest{SubjectID: subjectID}
	if ids := c.Query("student_ids"); ids != "" {
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.StudentIDs = append(req.StudentIDs, id)
			}
		}
	}

	buckets, err := h.analyticsService.GetMasteryReport(c.Request.Context(), req, requesterID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, buckets)
}

// GetStudentMastery returns a student's running competency mastery
// @Summary Get student mastery
// @Tags analytics
// @Produce json
// @Param student_id path string true "Student ID"
// @Param subject_id query string false "Filter by subject"
// @Success 200 {array} models.CompetencyScore
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /students/{student_id}/mastery [get]
func (h *AnalyticsHandler) GetStudentMastery(c *gin.Context) {
	studentID := c.Param("student_id")
	if studentID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "student_id is required",
		})
		return
	}

	h.LogRequest(c, "Getting student mastery", "student_id", studentID)

	requesterID := h.requireUserID(c)
	if requesterID == "" {
		return
	}

	var subjectID *string
	if s := c.Query("subject_id"); s != "" {
		subjectID = &s
	}

	scores, err := h.competencyService.GetStudentMastery(c.Request.Context(), studentID, subjectID, requesterID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, scores)
}

// ListAssessments lists finalized assessments with filters
// @Summary List assessments
// @Tags analytics
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param subject_id query string false "Filter by subject"
// @Param period query string false "Filter by period"
// @Param year query int false "Filter by school year"
// @Param school_id query string false "Filter by school"
// @Param grade query int false "Filter by grade level"
// @Param page query int false "Page number (default: 1)"
// @Param size query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} services.AssessmentListResponse
// @Failure 401 {object} ErrorResponse
// @Router /assessments [get]
func (h *AnalyticsHandler) ListAssessments(c *gin.Context) {
	h.LogRequest(c, "Listing assessments")

	requesterID := h.requireUserID(c)
	if requesterID == "" {
		return
	}

	filters := h.parseAssessmentFilters(c)

	assessments, err := h.analyticsService.ListAssessments(c.Request.Context(), filters, requesterID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, assessments)
}

// ExportGrowthReport downloads a growth series as an xlsx workbook
// @Summary Export growth report
// @Tags analytics
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param student_id path string true "Student ID"
// @Param subject_id path string true "Subject ID"
// @Success 200 {file} binary
// @Failure 401 {object} ErrorResponse
// @Router /analytics/growth/{student_id}/{subject_id}/export [get]
func (h *AnalyticsHandler) ExportGrowthReport(c *gin.Context) {
	studentID := c.Param("student_id")
	subjectID := c.Param("subject_id")
	if studentID == "" || subjectID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "student_id and subject_id are required",
		})
		return
	}

	h.LogRequest(c, "Exporting growth report", "student_id", studentID, "subject_id", subjectID)

	requesterID := h.requireUserID(c)
	if requesterID == "" {
		return
	}

	data, filename, err := h.exportService.ExportGrowthReport(c.Request.Context(), studentID, subjectID, requesterID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// ExportGapReport downloads an achievement-gap comparison as xlsx
// @Summary Export gap report
// @Tags analytics
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param subject_id query string true "Subject ID"
// @Param group_by query string true "Grouping dimension (school or grade)"
// @Param period query string false "Filter by period"
// @Param year query int false "Filter by school year"
// @Success 200 {file} binary
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /analytics/gaps/export [get]
func (h *AnalyticsHandler) ExportGapReport(c *gin.Context) {
	h.LogRequest(c, "Exporting gap report")

	requesterID := h.requireUserID(c)
	if requesterID == "" {
		return
	}

	req, ok := h.parseGapRequest(c)
	if !ok {
		return
	}

	data, filename, err := h.exportService.ExportGapReport(c.Request.Context(), req, requesterID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// ===== HELPER METHODS =====

func (h *AnalyticsHandler) parseGapRequest(c *gin.Context) (*services.GapReportRequest, bool) {
	req := &services.GapReportRequest{
		SubjectID: c.Query("subject_id"),
		GroupBy:   c.Query("group_by"),
	}
	if req.SubjectID == "" || req.GroupBy == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "subject_id and group_by query parameters are required",
		})
		return nil, false
	}

	if periodStr := c.Query("period"); periodStr != "" {
		period := models.AssessmentPeriod(periodStr)
		req.Period = &period
	}
	if yearStr := c.Query("year"); yearStr != "" {
		if y, err := strconv.Atoi(yearStr); err == nil {
			req.Year = &y
		}
	}

	return req, true
}

func (h *AnalyticsHandler) parseAssessmentFilters(c *gin.Context) repositories.AssessmentFilters {
	page := 1
	size := 20

	if pageStr := c.Query("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if sizeStr := c.Query("size"); sizeStr != "" {
		if s, err := strconv.Atoi(sizeStr); err == nil && s > 0 && s <= 100 {
			size = s
		}
	}

	filters := repositories.AssessmentFilters{
		Limit:  size,
		Offset: (page - 1) * size,
	}

	if studentID := c.Query("student_id"); studentID != "" {
		filters.StudentID = &studentID
	}
	if subjectID := c.Query("subject_id"); subjectID != "" {
		filters.SubjectID = &subjectID
	}
	if periodStr := c.Query("period"); periodStr != "" {
		period := models.AssessmentPeriod(periodStr)
		filters.Period = &period
	}
	if yearStr := c.Query("year"); yearStr != "" {
		if y, err := strconv.Atoi(yearStr); err == nil {
			filters.Year = &y
		}
	}
	if schoolID := c.Query("school_id"); schoolID != "" {
		filters.SchoolID = &schoolID
	}
	if gradeStr := c.Query("grade"); gradeStr != "" {
		if g, err := strconv.Atoi(gradeStr); err == nil {
			filters.Grade = &g
		}
	}

	return filters
}
