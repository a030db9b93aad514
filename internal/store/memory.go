package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Kontora/internal/domain"
)

// MemoryStore — in-memory реализация Store и TimerStore.
//
// Семантика CAS идентична Postgres-реализации; используется в тестах
// core и dispatcher'а, где поднимать БД не нужно.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[uuid.UUID]*domain.WorkflowInstance
	events    map[uuid.UUID][]domain.StepEvent
	timers    map[uuid.UUID]*Timer
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[uuid.UUID]*domain.WorkflowInstance),
		events:    make(map[uuid.UUID][]domain.StepEvent),
		timers:    make(map[uuid.UUID]*Timer),
	}
}

// Create сохраняет новый instance и событие "created".
func (s *MemoryStore) Create(_ context.Context, inst *domain.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return ErrAlreadyExists
	}

	s.instances[inst.ID] = cloneInstance(inst)
	s.appendEvent(&domain.StepEvent{
		InstanceID: inst.ID,
		Outcome:    domain.OutcomeCreated,
		Status:     inst.Status,
	})
	return nil
}

// Get возвращает копию instance.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInstance(inst), nil
}

// CompareAndSwap выполняет атомарный переход instance.
func (s *MemoryStore) CompareAndSwap(_ context.Context, id uuid.UUID, expectedVersion int64, mutate Mutation) (*domain.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}

	if current.Version != expectedVersion {
		return nil, fmt.Errorf("%w: have %d, expected %d", ErrConflict, current.Version, expectedVersion)
	}

	// Мутируем копию: при ошибке mutate исходное состояние не тронуто.
	inst := cloneInstance(current)
	event, err := mutate(inst)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("mutation produced no event")
	}

	inst.Version++
	inst.LastUpdated = time.Now()
	s.instances[id] = inst

	event.InstanceID = id
	event.Status = inst.Status
	s.appendEvent(event)

	return cloneInstance(inst), nil
}

// ListEvents возвращает историю instance в порядке seq.
func (s *MemoryStore) ListEvents(_ context.Context, id uuid.UUID) ([]domain.StepEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]domain.StepEvent, len(s.events[id]))
	copy(events, s.events[id])
	return events, nil
}

// ListByStatus возвращает instances в указанном статусе (старые первыми).
func (s *MemoryStore) ListByStatus(_ context.Context, status domain.InstanceStatus, limit int) ([]domain.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.WorkflowInstance
	for _, inst := range s.instances {
		if inst.Status == status {
			result = append(result, *cloneInstance(inst))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListRetryDue возвращает instances с наступившим next_retry_at.
func (s *MemoryStore) ListRetryDue(_ context.Context, now time.Time, limit int) ([]domain.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.WorkflowInstance
	for _, inst := range s.instances {
		if inst.NextRetryAt == nil || inst.NextRetryAt.After(now) {
			continue
		}
		if inst.Status != domain.StatusWaitingOnAction && inst.Status != domain.StatusFailing {
			continue
		}
		result = append(result, *cloneInstance(inst))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].NextRetryAt.Before(*result[j].NextRetryAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- TimerStore ---

// Schedule сохраняет таймер.
func (s *MemoryStore) Schedule(_ context.Context, timer *Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := *timer
	s.timers[t.ID] = &t
	return nil
}

// Due возвращает несработавшие таймеры с наступившим fire_at.
func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Timer
	for _, t := range s.timers {
		if t.FiredAt == nil && !t.FireAt.After(now) {
			due = append(due, *t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkFired отмечает таймер сработавшим.
func (s *MemoryStore) MarkFired(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok && t.FiredAt == nil {
		now := time.Now()
		t.FiredAt = &now
	}
	return nil
}

// appendEvent добавляет событие с очередным seq. Вызывается под mu.
func (s *MemoryStore) appendEvent(event *domain.StepEvent) {
	events := s.events[event.InstanceID]
	event.ID = uuid.New()
	event.Seq = int64(len(events)) + 1
	event.CreatedAt = time.Now()
	s.events[event.InstanceID] = append(events, *event)
}

// cloneInstance делает глубокую копию instance.
func cloneInstance(inst *domain.WorkflowInstance) *domain.WorkflowInstance {
	clone := *inst
	if inst.Facts != nil {
		clone.Facts = make(map[string]any, len(inst.Facts))
		for k, v := range inst.Facts {
			clone.Facts[k] = v
		}
	}
	if inst.PendingHandle != nil {
		handle := *inst.PendingHandle
		clone.PendingHandle = &handle
	}
	if inst.NextRetryAt != nil {
		t := *inst.NextRetryAt
		clone.NextRetryAt = &t
	}
	return &clone
}
