package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventOutcome — исход, зафиксированный в StepEvent.
type EventOutcome string

const (
	OutcomeCreated     EventOutcome = "created"
	OutcomeStarted     EventOutcome = "started"
	OutcomeResumed     EventOutcome = "resumed"
	OutcomeSkipped     EventOutcome = "skipped"
	OutcomeSucceeded   EventOutcome = "succeeded"
	OutcomePending     EventOutcome = "pending"
	OutcomeBlocked     EventOutcome = "blocked"
	OutcomeClarify     EventOutcome = "clarification_needed"
	OutcomeRetrying    EventOutcome = "retrying"
	OutcomeCompensated EventOutcome = "compensated"
	OutcomeFailed      EventOutcome = "failed"
	OutcomeCancelled   EventOutcome = "cancelled"
)

// StepEvent — иммутабельная запись в истории instance.
//
// События append-only: никогда не редактируются и не удаляются.
// История — аудит-трейл регистрации; состояние instance можно
// полностью восстановить replay'ем событий.
//
// Стор добавляет ровно одно событие на каждую успешную запись
// compare-and-swap — ни один переход не теряется молча.
type StepEvent struct {
	// ID — уникальный идентификатор события.
	ID uuid.UUID `json:"id"`

	// InstanceID — instance, которому принадлежит событие.
	InstanceID uuid.UUID `json:"instance_id"`

	// Seq — порядковый номер в рамках instance (присваивается стором).
	Seq int64 `json:"seq"`

	// StepName — имя шага, к которому относится событие.
	StepName string `json:"step_name"`

	// Outcome — исход перехода.
	Outcome EventOutcome `json:"outcome"`

	// Status — статус instance после перехода.
	Status InstanceStatus `json:"status"`

	// Attempt — номер попытки шага на момент события.
	Attempt int `json:"attempt"`

	// Error — детали ошибки, если были.
	Error string `json:"error,omitempty"`

	// CreatedAt — время фиксации.
	CreatedAt time.Time `json:"created_at"`
}

// StatusChangedEvent — событие для Event Sink (frontend, admin console).
//
// Публикуется fire-and-forget после каждого закоммиченного перехода;
// сбой доставки никогда не откатывает запись в сторе.
type StatusChangedEvent struct {
	InstanceID   uuid.UUID      `json:"instance_id"`
	WorkflowType string         `json:"workflow_type"`
	StepName     string         `json:"step_name"`
	StepIndex    int            `json:"step_index"`
	Status       InstanceStatus `json:"status"`
	Outcome      EventOutcome   `json:"outcome"`
	Error        string         `json:"error,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}
