package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Kontora/internal/domain"
)

// Workflow DTOs

// WorkflowResponse — ответ с описанием workflow definition.
type WorkflowResponse struct {
	Type        string         `json:"type"`
	Version     int            `json:"version"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Steps       []StepResponse `json:"steps"`
}

// StepResponse — описание шага definition.
type StepResponse struct {
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	RequiredFacts  []string `json:"required_facts,omitempty"`
	ProducesFacts  []string `json:"produces_facts,omitempty"`
	SkipWhen       string   `json:"skip_when,omitempty"`
	CompensateWith string   `json:"compensate_with,omitempty"`
}

// WorkflowFromDomain конвертирует domain.WorkflowDefinition в WorkflowResponse.
func WorkflowFromDomain(d *domain.WorkflowDefinition) WorkflowResponse {
	steps := make([]StepResponse, len(d.Steps))
	for i, s := range d.Steps {
		steps[i] = StepResponse{
			Name:           s.Name,
			Kind:           string(s.Kind),
			RequiredFacts:  s.RequiredFacts,
			ProducesFacts:  s.ProducesFacts,
			SkipWhen:       s.SkipWhen,
			CompensateWith: s.CompensateWith,
		}
	}
	return WorkflowResponse{
		Type:        d.Type,
		Version:     d.Version,
		Name:        d.Name,
		Description: d.Description,
		Steps:       steps,
	}
}

// Instance DTOs

// StartInstanceRequest — запрос на запуск регистрации.
type StartInstanceRequest struct {
	Facts map[string]any `json:"facts,omitempty"`
}

// UserInputRequest — ответ пользователя ожидающему instance.
type UserInputRequest struct {
	Facts map[string]any `json:"facts,omitempty"`
}

// CancelInstanceRequest — запрос на отмену.
type CancelInstanceRequest struct {
	Reason string `json:"reason,omitempty"`
}

// InstanceResponse — ответ с instance.
type InstanceResponse struct {
	ID                uuid.UUID      `json:"id"`
	WorkflowType      string         `json:"workflow_type"`
	DefinitionVersion int            `json:"definition_version"`
	CurrentStepIndex  int            `json:"current_step_index"`
	CurrentStep       string         `json:"current_step,omitempty"`
	Status            string         `json:"status"`
	Facts             map[string]any `json:"facts,omitempty"`
	Attempt           int            `json:"attempt"`
	NextRetryAt       *time.Time     `json:"next_retry_at,omitempty"`
	Error             string         `json:"error,omitempty"`
	Version           int64          `json:"version"`
	LastUpdated       time.Time      `json:"last_updated"`
	CreatedAt         time.Time      `json:"created_at"`
}

// InstanceFromDomain конвертирует instance в InstanceResponse.
// currentStep — имя текущего шага (пустое для завершённых).
func InstanceFromDomain(inst *domain.WorkflowInstance, currentStep string) InstanceResponse {
	return InstanceResponse{
		ID:                inst.ID,
		WorkflowType:      inst.WorkflowType,
		DefinitionVersion: inst.DefinitionVersion,
		CurrentStepIndex:  inst.CurrentStepIndex,
		CurrentStep:       currentStep,
		Status:            string(inst.Status),
		Facts:             inst.Facts,
		Attempt:           inst.Attempt,
		NextRetryAt:       inst.NextRetryAt,
		Error:             inst.Error,
		Version:           inst.Version,
		LastUpdated:       inst.LastUpdated,
		CreatedAt:         inst.CreatedAt,
	}
}

// StepEvent DTOs

// StepEventResponse — запись истории instance.
type StepEventResponse struct {
	Seq       int64     `json:"seq"`
	StepName  string    `json:"step_name,omitempty"`
	Outcome   string    `json:"outcome"`
	Status    string    `json:"status"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StepEventFromDomain конвертирует domain.StepEvent в StepEventResponse.
func StepEventFromDomain(ev domain.StepEvent) StepEventResponse {
	return StepEventResponse{
		Seq:       ev.Seq,
		StepName:  ev.StepName,
		Outcome:   string(ev.Outcome),
		Status:    string(ev.Status),
		Attempt:   ev.Attempt,
		Error:     ev.Error,
		CreatedAt: ev.CreatedAt,
	}
}

// Callback DTOs

// CallbackRequest — результат внешнего действия от коллаборатора.
type CallbackRequest struct {
	Handle  domain.TaskHandle    `json:"handle"`
	Outcome domain.ActionOutcome `json:"outcome"`
}
