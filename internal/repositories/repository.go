package repositories

import "context"

// Repository aggregates all entity repositories used by the engine.
type Repository interface {
	// Question bank
	Question() QuestionRepository

	// Session domain
	Session() SessionRepository
	Observation() ObservationRepository

	// Finalized results
	Assessment() AssessmentRepository
	CompetencyScore() CompetencyScoreRepository

	// Engine configuration (external collaborator stand-in)
	AssessmentConfig() AssessmentConfigRepository

	// User domain (read-only, identity provider backed)
	User() UserRepository

	// Transaction support: fn receives a Repository bound to the
	// transaction; returning an error rolls everything back
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager manages repository lifecycle.
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
