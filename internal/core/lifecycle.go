package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Kontora/internal/domain"
	"github.com/shaiso/Kontora/internal/mq"
	"github.com/shaiso/Kontora/internal/telemetry"
)

// StartWorkflow создаёт новый instance для типа процесса.
//
// Instance привязывается к последней версии definition и начинает
// жизнь в PENDING. Повторный запуск после ABANDONED — это всегда
// новый instance с чистой историей; брошенные instances не
// реанимируются.
func (c *Core) StartWorkflow(ctx context.Context, workflowType string, initialFacts map[string]any) (*domain.WorkflowInstance, error) {
	def, err := c.registry.Lookup(workflowType)
	if err != nil {
		return nil, err
	}

	now := c.now()
	inst := &domain.WorkflowInstance{
		ID:                uuid.New(),
		WorkflowType:      def.Type,
		DefinitionVersion: def.Version,
		Status:            domain.StatusPending,
		Facts:             initialFacts,
		LastUpdated:       now,
		CreatedAt:         now,
	}

	if err := c.store.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	telemetry.InstancesStartedTotal.WithLabelValues(def.Type).Inc()
	c.emit(ctx, inst, "", domain.OutcomeCreated, "")
	c.trigger(ctx, inst.ID, mq.TriggerReasonCreated)

	return inst, nil
}

// SubmitUserInput подаёт ответ пользователя ожидающему instance.
//
// Разрешён только в WAITING_ON_USER; для любого другого статуса —
// ErrInvalidTransition (в том числе для отменённых instances).
//
// Если текущий шаг — USER_INPUT, ответ завершает его и продвигает
// instance дальше. Если instance ждал уточнения (clarification),
// шаг перезапустится с обогащённым контекстом.
func (c *Core) SubmitUserInput(ctx context.Context, id uuid.UUID, facts map[string]any) (*domain.WorkflowInstance, error) {
	var (
		stepName  string
		evOutcome domain.EventOutcome
	)

	updated, err := c.write(ctx, id, func(fresh *domain.WorkflowInstance) (*domain.StepEvent, error) {
		if fresh.Status != domain.StatusWaitingOnUser {
			return nil, fmt.Errorf("%w: instance is %s, not %s",
				ErrInvalidTransition, fresh.Status, domain.StatusWaitingOnUser)
		}

		def, err := c.registry.Get(fresh.WorkflowType, fresh.DefinitionVersion)
		if err != nil {
			return nil, err
		}

		fresh.MergeFacts(facts)
		delete(fresh.Facts, clarificationFact)

		idx := fresh.CurrentStepIndex
		stepName = stepNameAt(def, idx)

		ev := &domain.StepEvent{
			StepName: stepName,
			Attempt:  fresh.Attempt,
		}

		if idx < len(def.Steps) && def.Steps[idx].Kind == domain.ActionUserInput {
			// Ответ и есть результат шага — шаг завершён
			next := idx + 1
			fresh.ResetStep(next)
			ev.Outcome = domain.OutcomeSucceeded
			if next >= len(def.Steps) {
				fresh.MarkCompleted()
			} else {
				fresh.Status = domain.StatusPending
			}
		} else {
			// Уточнение получено — текущий шаг перезапустится
			fresh.Status = domain.StatusPending
			fresh.NextRetryAt = nil
			ev.Outcome = domain.OutcomeResumed
		}

		ev.Status = fresh.Status
		evOutcome = ev.Outcome
		return ev, nil
	})
	if err != nil {
		return nil, err
	}

	c.emit(ctx, updated, stepName, evOutcome, "")
	c.trigger(ctx, id, mq.TriggerReasonUserInput)

	return updated, nil
}

// CancelWorkflow отменяет instance по запросу пользователя.
//
// Отмена — обычный compare-and-swap переход в ABANDONED: отменить
// можно любой нетерминальный instance, повторная отмена —
// ErrInvalidTransition.
func (c *Core) CancelWorkflow(ctx context.Context, id uuid.UUID, reason string) (*domain.WorkflowInstance, error) {
	if reason == "" {
		reason = "cancelled by user"
	}

	var stepName string

	updated, err := c.write(ctx, id, func(fresh *domain.WorkflowInstance) (*domain.StepEvent, error) {
		if fresh.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: instance already %s", ErrInvalidTransition, fresh.Status)
		}

		def, err := c.registry.Get(fresh.WorkflowType, fresh.DefinitionVersion)
		if err == nil {
			stepName = stepNameAt(def, fresh.CurrentStepIndex)
		}

		attempt := fresh.Attempt
		fresh.MarkAbandoned(reason)

		return &domain.StepEvent{
			StepName: stepName,
			Outcome:  domain.OutcomeCancelled,
			Status:   domain.StatusAbandoned,
			Attempt:  attempt,
			Error:    reason,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	c.emit(ctx, updated, stepName, domain.OutcomeCancelled, reason)

	return updated, nil
}

// GetInstance возвращает консистентный снимок instance.
func (c *Core) GetInstance(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	return c.store.Get(ctx, id)
}

// ListInstanceEvents возвращает историю instance в порядке переходов.
func (c *Core) ListInstanceEvents(ctx context.Context, id uuid.UUID) ([]domain.StepEvent, error) {
	if _, err := c.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return c.store.ListEvents(ctx, id)
}

// ListInstancesByStatus возвращает instances в указанном статусе.
func (c *Core) ListInstancesByStatus(ctx context.Context, status domain.InstanceStatus, limit int) ([]domain.WorkflowInstance, error) {
	return c.store.ListByStatus(ctx, status, limit)
}

// trigger публикует триггер продвижения. Сбой публикации не фатален:
// instance подхватит polling fallback.
func (c *Core) trigger(ctx context.Context, id uuid.UUID, reason string) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishTrigger(ctx, id, reason); err != nil {
		c.logger.Warn("failed to publish trigger",
			"instance_id", id,
			"reason", reason,
			"error", err,
		)
	}
}

