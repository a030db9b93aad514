package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shaiso/Kontora/internal/domain"
	"github.com/shaiso/Kontora/internal/mq"
)

// Sink — приёмник статусных событий instances.
type Sink interface {
	// Emit отправляет событие. Ошибки доставки Sink обрабатывает сам;
	// вызывающий никогда не блокируется на них.
	Emit(ctx context.Context, event domain.StatusChangedEvent)
}

// MQSink публикует события в exchange kontora.instances.
type MQSink struct {
	publisher *mq.Publisher
	logger    *slog.Logger
}

// NewMQSink создаёт MQ-приёмник событий.
func NewMQSink(publisher *mq.Publisher, logger *slog.Logger) *MQSink {
	return &MQSink{publisher: publisher, logger: logger}
}

// Emit публикует событие. Сбой публикации логируется и глотается:
// источник истины — стор, а не поток событий.
func (s *MQSink) Emit(ctx context.Context, event domain.StatusChangedEvent) {
	if err := s.publisher.PublishStatus(ctx, event); err != nil {
		s.logger.Warn("failed to publish status event",
			"instance_id", event.InstanceID,
			"status", event.Status,
			"error", err,
		)
	}
}

// RecordingSink накапливает события в памяти. Для тестов.
type RecordingSink struct {
	mu     sync.Mutex
	events []domain.StatusChangedEvent
}

// NewRecordingSink создаёт пустой RecordingSink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Emit запоминает событие.
func (s *RecordingSink) Emit(_ context.Context, event domain.StatusChangedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events возвращает копию накопленных событий.
func (s *RecordingSink) Events() []domain.StatusChangedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StatusChangedEvent, len(s.events))
	copy(out, s.events)
	return out
}

// NopSink отбрасывает события.
type NopSink struct{}

// Emit ничего не делает.
func (NopSink) Emit(context.Context, domain.StatusChangedEvent) {}
