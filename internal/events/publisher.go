package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Event types published by the engine.
const (
	EventAssessmentCompleted = "assessment.completed"
	EventSessionStarted      = "session.started"
	EventSessionAbandoned    = "session.abandoned"
)

// AssessmentEvent is the envelope for all engine events.
type AssessmentEvent struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewAssessmentEvent builds an envelope with a fresh ID and timestamp.
func NewAssessmentEvent(eventType string, data interface{}) AssessmentEvent {
	return AssessmentEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    "assessment-engine",
		Version:   "1.0",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// SessionStartedData is the payload for session.started.
type SessionStartedData struct {
	SessionID uint   `json:"session_id"`
	StudentID string `json:"student_id"`
	SubjectID string `json:"subject_id"`
	Period    string `json:"period"`
	Year      int    `json:"year"`
}

// AssessmentCompletedData is the payload for assessment.completed.
// Downstream reporting consumes this instead of polling the API.
type AssessmentCompletedData struct {
	AssessmentID   uint   `json:"assessment_id"`
	SessionID      uint   `json:"session_id"`
	StudentID      string `json:"student_id"`
	SubjectID      string `json:"subject_id"`
	Period         string `json:"period"`
	Year           int    `json:"year"`
	FinalScore     int    `json:"final_score"`
	CorrectCount   int    `json:"correct_count"`
	TotalQuestions int    `json:"total_questions"`
	Reason         string `json:"reason"`
}

// SessionAbandonedData is the payload for session.abandoned.
type SessionAbandonedData struct {
	SessionID uint   `json:"session_id"`
	StudentID string `json:"student_id"`
	SubjectID string `json:"subject_id"`
	Answered  int    `json:"answered"`
}

// EventPublisher delivers engine events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event AssessmentEvent) error
	Close() error
}

// ===== KAFKA PUBLISHER =====

// KafkaEventPublisher publishes events to a Kafka topic via watermill.
type KafkaEventPublisher struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

func NewKafkaEventPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaEventPublisher, error) {
	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return &KafkaEventPublisher{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}, nil
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, event AssessmentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", event.Type)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}

	p.logger.DebugContext(ctx, "Event published",
		"event_id", event.ID,
		"event_type", event.Type,
		"topic", p.topic)
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	return p.publisher.Close()
}

// ===== MOCK PUBLISHER =====

// MockEventPublisher records events in memory for tests and for local
// runs without a broker.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []AssessmentEvent
}

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (p *MockEventPublisher) Publish(_ context.Context, event AssessmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *MockEventPublisher) GetPublishedEvents() []AssessmentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]AssessmentEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *MockEventPublisher) ClearEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

func (p *MockEventPublisher) Close() error {
	return nil
}
