package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Kontora/internal/domain"
)

// Mutation применяется к свежепрочитанному instance внутри
// CompareAndSwap. Возвращает StepEvent, описывающий переход
// (стор сам проставит ID, Seq и CreatedAt), или ошибку — тогда
// запись не выполняется.
type Mutation func(inst *domain.WorkflowInstance) (*domain.StepEvent, error)

// Store — контракт хранилища instances.
//
// Core зависит только от этого интерфейса; Postgres-реализация
// используется в бинарях, in-memory — в тестах.
type Store interface {
	// Create сохраняет новый instance и добавляет событие "created".
	Create(ctx context.Context, inst *domain.WorkflowInstance) error

	// Get возвращает instance по ID или ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error)

	// CompareAndSwap — единственный примитив мутации.
	//
	// Перечитывает instance, проверяет версию против expectedVersion,
	// применяет mutate и атомарно записывает результат с version+1,
	// добавляя ровно один StepEvent. При несовпадении версии — ErrConflict.
	// Возвращает записанный instance.
	CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutation) (*domain.WorkflowInstance, error)

	// ListEvents возвращает историю instance в порядке seq.
	ListEvents(ctx context.Context, id uuid.UUID) ([]domain.StepEvent, error)

	// ListByStatus возвращает instances в указанном статусе (старые первыми).
	ListByStatus(ctx context.Context, status domain.InstanceStatus, limit int) ([]domain.WorkflowInstance, error)

	// ListRetryDue возвращает instances с наступившим next_retry_at.
	// Используется polling fallback'ом core.
	ListRetryDue(ctx context.Context, now time.Time, limit int) ([]domain.WorkflowInstance, error)
}

// Timer — durable одноразовый таймер для instance.
type Timer struct {
	ID         uuid.UUID  `json:"id"`
	InstanceID uuid.UUID  `json:"instance_id"`
	FireAt     time.Time  `json:"fire_at"`
	Reason     string     `json:"reason,omitempty"`
	FiredAt    *time.Time `json:"fired_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TimerStore — контракт хранилища таймеров (scheduleAfter).
type TimerStore interface {
	// Schedule сохраняет таймер.
	Schedule(ctx context.Context, timer *Timer) error

	// Due возвращает несработавшие таймеры с наступившим fire_at.
	Due(ctx context.Context, now time.Time, limit int) ([]Timer, error)

	// MarkFired отмечает таймер сработавшим. Идемпотентно.
	MarkFired(ctx context.Context, id uuid.UUID) error
}
