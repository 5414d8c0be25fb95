package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/edmetrics/assessment-engine/internal/config"
	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
	"github.com/edmetrics/assessment-engine/internal/services"
	"github.com/edmetrics/assessment-engine/internal/utils"
	"github.com/edmetrics/assessment-engine/internal/validator"
)

type HandlerManager struct {
	sessionHandler   *SessionHandler
	questionHandler  *QuestionHandler
	analyticsHandler *AnalyticsHandler
	configHandler    *ConfigHandler
	userHandler      *UserHandler
	authMiddleware   *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		sessionHandler:  NewSessionHandler(serviceManager.Session(), validator, logger),
		questionHandler: NewQuestionHandler(serviceManager.Question(), validator, logger),
		analyticsHandler: NewAnalyticsHandler(
			serviceManager.Analytics(),
			serviceManager.Competency(),
			serviceManager.Export(),
			logger,
		),
		configHandler:  NewConfigHandler(serviceManager.Config(), logger),
		userHandler:    NewUserHandler(userRepo, logger),
		authMiddleware: authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		// Session routes - the adaptive loop, student-driven
		sessions := v1.Group("/sessions")
		{
			sessions.POST("/start", hm.sessionHandler.StartSession)
			sessions.POST("/:id/answer", hm.sessionHandler.SubmitAnswer)
			sessions.GET("/:id", hm.sessionHandler.GetSession)
			sessions.POST("/:id/abandon", hm.sessionHandler.AbandonSession)
		}

		// Question bank routes - Teachers and Admins only
		questions := v1.Group("/questions")
		questions.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin))
		{
			questions.POST("", hm.questionHandler.CreateQuestion)
			questions.GET("", hm.questionHandler.ListQuestions)
			questions.GET("/:id", hm.questionHandler.GetQuestion)
			questions.PUT("/:id", hm.questionHandler.UpdateQuestion)
			questions.DELETE("/:id", hm.questionHandler.DeleteQuestion)
		}

		// Finalized assessments - all authenticated users; the service
		// narrows students to their own rows
		v1.GET("/assessments", hm.analyticsHandler.ListAssessments)

		// Student-facing mastery and growth
		students := v1.Group("/students")
		{
			students.GET("/:student_id/mastery", hm.analyticsHandler.GetStudentMastery)
			students.GET("/:student_id/growth/:subject_id", hm.analyticsHandler.GetGrowth)
		}

		// Cohort analytics - Teachers and Admins only
		analytics := v1.Group("/analytics")
		analytics.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin))
		{
			analytics.GET("/growth/:student_id/:subject_id", hm.analyticsHandler.GetGrowth)
			analytics.GET("/growth/:student_id/:subject_id/export", hm.analyticsHandler.ExportGrowthReport)
			analytics.GET("/gaps", hm.analyticsHandler.GetAchievementGaps)
			analytics.GET("/gaps/export", hm.analyticsHandler.ExportGapReport)
			analytics.GET("/mastery", hm.analyticsHandler.GetMasteryReport)
		}

		// Engine configuration - reads for staff, writes for Admins
		configGroup := v1.Group("/config")
		{
			configGroup.GET("/:subject_id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.configHandler.GetConfig)
			configGroup.PUT("", hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin), hm.configHandler.UpsertConfig)
		}

		// User routes (identity lookups for staff)
		users := v1.Group("/users")
		users.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin))
		{
			users.GET("", hm.userHandler.ListUsers)
			users.GET("/:id", hm.userHandler.GetUser)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "assessment-engine",
		})
	})
}
