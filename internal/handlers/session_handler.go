package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edmetrics/assessment-engine/internal/services"
	"github.com/edmetrics/assessment-engine/internal/utils"
	"github.com/edmetrics/assessment-engine/internal/validator"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
	validator      *validator.Validator
}

func NewSessionHandler(
	sessionService services.SessionService,
	validator *validator.Validator,
	logger utils.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
		validator:      validator,
	}
}

// StartSession starts a new adaptive session
// @Summary Start adaptive session
// @Description Starts an adaptive assessment session and returns the first question
// @Tags sessions
// @Accept json
// @Produce json
// @Param session body services.StartSessionRequest true "Session parameters"
// @Success 201 {object} services.StartSessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/start [post]
func (h *SessionHandler) StartSession(c *gin.Context) {
	h.LogRequest(c, "Starting adaptive session")

	var req services.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	studentID := h.requireUserID(c)
	if studentID == "" {
		return
	}

	resp, err := h.sessionService.Start(c.Request.Context(), &req, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// SubmitAnswer answers the pending question of a session
// @Summary Submit answer
// @Description Records an answer and returns the next question or the final result
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param answer body services.SubmitAnswerRequest true "Answer data"
// @Success 200 {object} services.SubmitAnswerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/answer [post]
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
	if sessionID == 0 {
		return
	}

	h.LogRequest(c, "Submitting answer", "session_id", sessionID)

	var req services.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	studentID := h.requireUserID(c)
	if studentID == "" {
		return
	}

	resp, err := h.sessionService.SubmitAnswer(c.Request.Context(), sessionID, &req, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetSession returns the current state of a session
// @Summary Get session
// @Description Returns session progress including the pending question
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.SessionResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
	if sessionID == 0 {
		return
	}

	h.LogRequest(c, "Getting session", "session_id", sessionID)

	userID := h.requireUserID(c)
	if userID == "" {
		return
	}

	resp, err := h.sessionService.GetByID(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// AbandonSession abandons an active session without a score
// @Summary Abandon session
// @Description Marks an active session abandoned; no assessment is produced
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/abandon [post]
func (h *SessionHandler) AbandonSession(c *gin.Context) {
	sessionID := h.parseIDParam(c, "id")
	if sessionID == 0 {
		return
	}

	h.LogRequest(c, "Abandoning session", "session_id", sessionID)

	userID := h.requireUserID(c)
	if userID == "" {
		return
	}

	if err := h.sessionService.Abandon(c.Request.Context(), sessionID, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Session abandoned"})
}
