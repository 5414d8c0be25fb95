package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/edmetrics/assessment-engine/internal/cache"
	"github.com/edmetrics/assessment-engine/internal/config"
	"github.com/edmetrics/assessment-engine/internal/events"
	"github.com/edmetrics/assessment-engine/internal/repositories"
	"github.com/edmetrics/assessment-engine/internal/validator"
)

// ServiceManagerConfig holds cross-service dependencies and settings.
type ServiceManagerConfig struct {
	Engine config.EngineConfig

	// Publisher delivers engine events; nil disables publishing.
	Publisher events.EventPublisher

	// CacheManager backs read-side caching; nil runs uncached.
	CacheManager *cache.CacheManager

	// Idle-session sweep; SweepInterval <= 0 disables the sweeper.
	AbandonAfter  time.Duration
	SweepInterval time.Duration
}

// serviceManager implements ServiceManager.
type serviceManager struct {
	db        *gorm.DB
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	config    ServiceManagerConfig

	sessionService    SessionService
	questionService   QuestionService
	competencyService CompetencyService
	analyticsService  AnalyticsService
	exportService     ExportService
	configService     ConfigService

	// Sweeper lifecycle
	sweepStop chan struct{}
	sweepDone chan struct{}

	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a service manager with all dependencies.
func NewServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, cfg ServiceManagerConfig) ServiceManager {
	return &serviceManager{
		db:        db,
		repo:      repo,
		logger:    logger,
		validator: validator,
		config:    cfg,
	}
}

// NewDefaultServiceManager wires a manager from the application config,
// without events or caching. Tests and local tooling use this.
func NewDefaultServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, engineCfg config.EngineConfig) ServiceManager {
	return NewServiceManager(db, repo, logger, validator, ServiceManagerConfig{
		Engine:        engineCfg,
		AbandonAfter:  engineCfg.AbandonAfter,
		SweepInterval: 0,
	})
}

// Initialize builds all services and starts the idle-session sweeper.
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	sm.competencyService = NewCompetencyService(sm.repo, sm.db, sm.logger, sm.config.Engine.CompetencyBlend)
	sm.sessionService = NewSessionService(sm.repo, sm.db, sm.logger, sm.validator, sm.config.Engine, sm.competencyService, sm.config.Publisher)
	sm.questionService = NewQuestionService(sm.repo, sm.db, sm.logger, sm.validator)
	sm.analyticsService = NewAnalyticsService(sm.repo, sm.db, sm.logger, sm.config.CacheManager)
	sm.exportService = NewExportService(sm.repo, sm.analyticsService, sm.logger)
	sm.configService = NewConfigService(sm.repo, sm.db, sm.logger, sm.validator)

	if sm.config.SweepInterval > 0 && sm.config.AbandonAfter > 0 {
		sm.sweepStop = make(chan struct{})
		sm.sweepDone = make(chan struct{})
		go sm.runSweeper()
		sm.logger.Info("Idle session sweeper started",
			"interval", sm.config.SweepInterval,
			"abandon_after", sm.config.AbandonAfter)
	}

	sm.initialized = true
	sm.logger.Info("Service manager initialized")
	return nil
}

// runSweeper abandons long-idle sessions on a fixed interval.
func (sm *serviceManager) runSweeper() {
	defer close(sm.sweepDone)

	ticker := time.NewTicker(sm.config.SweepInterval)
	defer ticker.Stop()

	const sweepBatch = 100

	for {
		select {
		case <-sm.sweepStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			cutoff := time.Now().Add(-sm.config.AbandonAfter)
			swept, err := sm.sessionService.SweepIdle(ctx, cutoff, sweepBatch)
			cancel()
			if err != nil {
				sm.logger.Error("Idle session sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				sm.logger.Info("Idle sessions abandoned", "count", swept)
			}
		}
	}
}

// ===== SERVICE GETTERS =====

func (sm *serviceManager) Session() SessionService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.sessionService
}

func (sm *serviceManager) Question() QuestionService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.questionService
}

func (sm *serviceManager) Competency() CompetencyService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.competencyService
}

func (sm *serviceManager) Analytics() AnalyticsService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.analyticsService
}

func (sm *serviceManager) Export() ExportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.exportService
}

func (sm *serviceManager) Config() ConfigService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.configService
}

func (sm *serviceManager) mustBeInitialized() {
	if !sm.initialized {
		panic("service manager not initialized")
	}
}

// ===== HEALTH AND LIFECYCLE =====

func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}
	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.sweepStop != nil {
		close(sm.sweepStop)
		select {
		case <-sm.sweepDone:
		case <-ctx.Done():
			sm.logger.Warn("Timed out waiting for sweeper to stop")
		}
	}

	if sm.config.Publisher != nil {
		if err := sm.config.Publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down")
	return nil
}
