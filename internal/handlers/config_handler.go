package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edmetrics/assessment-engine/internal/services"
	"github.com/edmetrics/assessment-engine/internal/utils"
)

type ConfigHandler struct {
	BaseHandler
	configService services.ConfigService
}

func NewConfigHandler(configService services.ConfigService, logger utils.Logger) *ConfigHandler {
	return &ConfigHandler{
		BaseHandler:   NewBaseHandler(logger),
		configService: configService,
	}
}

// GetConfig returns the engine parameters for a subject and grade
// @Summary Get engine configuration
// @Tags config
// @Produce json
// @Param subject_id path string true "Subject ID"
// @Param grade query int true "Grade level"
// @Success 200 {object} models.AssessmentConfig
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /config/{subject_id} [get]
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	subjectID := c.Param("subject_id")
	if subjectID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "subject_id is required",
		})
		return
	}

	grade, err := strconv.Atoi(c.Query("grade"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "grade query parameter is required",
		})
		return
	}

	h.LogRequest(c, "Getting engine config", "subject_id", subjectID, "grade", grade)

	cfg, err := h.configService.Get(c.Request.Context(), subjectID, grade)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, cfg)
}

// UpsertConfig creates or replaces engine parameters for a subject/grade
// @Summary Upsert engine configuration
// @Tags config
// @Accept json
// @Produce json
// @Param config body services.UpsertConfigRequest true "Engine parameters"
// @Success 200 {object} models.AssessmentConfig
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /config [put]
func (h *ConfigHandler) UpsertConfig(c *gin.Context) {
	h.LogRequest(c, "Upserting engine config")

	var req services.UpsertConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID := h.requireUserID(c)
	if userID == "" {
		return
	}

	cfg, err := h.configService.Upsert(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, cfg)
}
