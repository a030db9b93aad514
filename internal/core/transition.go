package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Kontora/internal/domain"
	"github.com/shaiso/Kontora/internal/mq"
	"github.com/shaiso/Kontora/internal/registry"
	"github.com/shaiso/Kontora/internal/store"
	"github.com/shaiso/Kontora/internal/telemetry"
)

// clarificationFact — служебный факт с вопросом пользователю.
// Frontend показывает его; SubmitUserInput очищает.
const clarificationFact = "_clarification"

const (
	// defaultPollDelay — задержка до следующего опроса, если внешняя
	// система не дала подсказку и у шага нет poll_cron.
	defaultPollDelay = 15 * time.Minute

	// stuckRunningAfter — возраст RUNNING instance, после которого
	// fallback считает переход оборванным (crash между claim и commit)
	// и переигрывает шаг. Claim инкрементирует attempt_seq, поэтому
	// callback оборванной попытки будет отброшен как устаревший.
	stuckRunningAfter = 2 * time.Minute
)

// cronParser — тот же формат poll_cron, что и при валидации definition.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Advance продвигает instance настолько далеко, насколько возможно
// без внешних событий: пропускает шаги с накопленными фактами,
// выполняет синхронные шаги цепочкой, останавливается на первом
// ожидании (callback, пользователь, retry).
//
// Для терминального instance возвращает ErrInvalidTransition.
func (c *Core) Advance(ctx context.Context, id uuid.UUID) error {
	for {
		inst, err := c.store.Get(ctx, id)
		if err != nil {
			return err
		}

		if inst.Status.IsTerminal() {
			return ErrInvalidTransition
		}

		def, err := c.registry.Get(inst.WorkflowType, inst.DefinitionVersion)
		if err != nil {
			return err
		}

		switch inst.Status {
		case domain.StatusWaitingOnUser:
			// Таймаут ожидания применяется только если настроен на шаге
			if inst.NextRetryAt != nil && !c.now().Before(*inst.NextRetryAt) {
				return c.abandonUserTimeout(ctx, id, stepNameAt(def, inst.CurrentStepIndex))
			}
			return nil

		case domain.StatusWaitingOnAction, domain.StatusFailing:
			// Разбудит callback, таймер или fallback — но не раньше срока
			if inst.NextRetryAt == nil || c.now().Before(*inst.NextRetryAt) {
				return nil
			}

		case domain.StatusRunning:
			// Переход в полёте у другого потока. Если instance завис
			// в RUNNING надолго — переход оборвался, переигрываем.
			if c.now().Sub(inst.LastUpdated) < stuckRunningAfter {
				return nil
			}
			c.logger.Warn("re-running stuck instance",
				"instance_id", inst.ID,
				"step_index", inst.CurrentStepIndex,
			)
		}

		cont, err := c.runStep(ctx, inst, def)
		if err != nil || !cont {
			return err
		}
	}
}

// runStep выполняет один шаг instance.
// Возвращает true, если продвижение можно продолжать немедленно.
func (c *Core) runStep(ctx context.Context, inst *domain.WorkflowInstance, def *domain.WorkflowDefinition) (bool, error) {
	idx := inst.CurrentStepIndex

	// Все шаги пройдены (восстановление после обрыва между
	// продвижением индекса и финализацией)
	if idx >= len(def.Steps) {
		return false, c.complete(ctx, inst.ID, def)
	}

	step := &def.Steps[idx]

	// Шаг пропускается, если его результат уже накоплен
	if step.SkipWhen != "" {
		if _, held := inst.Facts[step.SkipWhen]; held {
			return c.skipStep(ctx, inst.ID, def, idx, step)
		}
	}

	// Недостающие required facts (кроме AI_QUERY — его работа их добыть)
	if step.Kind != domain.ActionAIQuery {
		if missing := step.MissingFacts(inst.Facts); len(missing) > 0 {
			return false, c.blockOnMissingFacts(ctx, inst.ID, idx, step, missing)
		}
	}

	// Claim: фиксируем попытку до обращения к коллаборатору, чтобы
	// attempt_seq в handle был закоммичен раньше любого callback'а
	claimed, err := c.write(ctx, inst.ID, func(fresh *domain.WorkflowInstance) (*domain.StepEvent, error) {
		if fresh.Status.IsTerminal() {
			return nil, ErrInvalidTransition
		}
		if fresh.CurrentStepIndex != idx {
			// Кто-то успел продвинуть instance
			return nil, ErrInvalidTransition
		}

		fresh.AttemptSeq++
		// Повторный опрос не расходует бюджет попыток
		if fresh.Status != domain.StatusWaitingOnAction {
			fresh.Attempt++
		}
		fresh.Status = domain.StatusRunning
		fresh.NextRetryAt = nil

		return &domain.StepEvent{
			StepName: step.Name,
			Outcome:  domain.OutcomeStarted,
			Status:   domain.StatusRunning,
			Attempt:  fresh.Attempt,
		}, nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// Конкурент уже продвинул — не ошибка
			return false, nil
		}
		return false, err
	}
	c.emit(ctx, claimed, step.Name, domain.OutcomeStarted, "")

	handle := domain.TaskHandle{
		InstanceID: claimed.ID,
		StepName:   step.Name,
		StepIndex:  idx,
		AttemptSeq: claimed.AttemptSeq,
	}
	// Повторный опрос продолжает работать с тем же внешним ресурсом
	if claimed.PendingHandle != nil && claimed.PendingHandle.StepIndex == idx {
		handle.ExternalRef = claimed.PendingHandle.ExternalRef
	}

	started := c.now()
	outcome := c.disp.Dispatch(ctx, step, handle, claimed.Facts)
	telemetry.DispatchDuration.WithLabelValues(string(step.Kind)).Observe(time.Since(started).Seconds())

	cont, err := c.applyOutcome(ctx, claimed.ID, def, idx, step, handle, outcome, true)
	if errors.Is(err, errStaleCallback) {
		// Попытку разрешил callback или вытеснил конкурент,
		// пока мы ходили к коллаборатору
		c.logger.Warn("attempt resolved elsewhere during dispatch",
			"instance_id", claimed.ID,
			"step", step.Name,
		)
		return false, nil
	}
	return cont, err
}

// applyOutcome применяет результат dispatch'а или callback'а к instance.
//
// Мутация защищена проверкой attempt_seq: если попытка вытеснена,
// запись не выполняется и возвращается errStaleCallback.
//
// requireRunning задаёт путь возврата из dispatch'а: его результат
// применим только пока instance в RUNNING, закоммиченном claim'ом.
// Callback той же попытки мог разрешить её раньше (attempt_seq при
// этом не меняется) — тогда поздний результат dispatch'а отбрасывается,
// а не затирает уже записанный исход.
func (c *Core) applyOutcome(ctx context.Context, id uuid.UUID, def *domain.WorkflowDefinition, idx int, step *domain.StepDefinition, handle domain.TaskHandle, outcome domain.ActionOutcome, requireRunning bool) (bool, error) {
	var (
		eventOutcome domain.EventOutcome
		wakeAt       *time.Time
	)

	updated, err := c.write(ctx, id, func(fresh *domain.WorkflowInstance) (*domain.StepEvent, error) {
		if fresh.Status.IsTerminal() {
			return nil, errStaleCallback
		}
		if fresh.AttemptSeq != handle.AttemptSeq || fresh.CurrentStepIndex != idx {
			return nil, errStaleCallback
		}
		if requireRunning && fresh.Status != domain.StatusRunning {
			return nil, errStaleCallback
		}

		ev := &domain.StepEvent{
			StepName: step.Name,
			Attempt:  fresh.Attempt,
		}
		wakeAt = nil

		switch outcome.Kind {
		case domain.OutcomeKindSuccess:
			fresh.MergeFacts(outcome.Facts)
			delete(fresh.Facts, clarificationFact)
			next := idx + 1
			fresh.ResetStep(next)
			ev.Outcome = domain.OutcomeSucceeded
			if next >= len(def.Steps) {
				fresh.MarkCompleted()
			} else {
				fresh.Status = domain.StatusPending
			}

		case domain.OutcomeKindPending:
			fresh.Status = domain.StatusWaitingOnAction
			if outcome.Handle != nil {
				fresh.PendingHandle = outcome.Handle
			} else {
				fresh.PendingHandle = &handle
			}
			if step.Kind == domain.ActionExternalPoll {
				t := c.nextPollTime(step, outcome.RetryAfter)
				wakeAt = &t
			} else if outcome.RetryAfter > 0 {
				t := c.now().Add(outcome.RetryAfter)
				wakeAt = &t
			}
			fresh.NextRetryAt = wakeAt
			ev.Outcome = domain.OutcomePending

		case domain.OutcomeKindBlocked:
			fresh.Status = domain.StatusWaitingOnUser
			fresh.PendingHandle = nil
			if step.TimeoutSec > 0 {
				t := c.now().Add(time.Duration(step.TimeoutSec) * time.Second)
				wakeAt = &t
			}
			fresh.NextRetryAt = wakeAt
			ev.Outcome = domain.OutcomeBlocked

		case domain.OutcomeKindClarification:
			fresh.Status = domain.StatusWaitingOnUser
			fresh.PendingHandle = nil
			fresh.NextRetryAt = nil
			fresh.MergeFacts(map[string]any{clarificationFact: outcome.Prompt})
			ev.Outcome = domain.OutcomeClarify

		case domain.OutcomeKindRetryable:
			if fresh.Attempt >= maxAttempts(step.Retry) {
				*ev = c.compensateOrAbandon(fresh, def, step, outcome.Reason)
			} else {
				delay := retryDelay(fresh.Attempt, step.Retry)
				t := c.now().Add(delay)
				wakeAt = &t
				fresh.Status = domain.StatusFailing
				fresh.PendingHandle = nil
				fresh.NextRetryAt = wakeAt
				ev.Outcome = domain.OutcomeRetrying
				ev.Error = outcome.Reason
			}

		case domain.OutcomeKindPermanent:
			*ev = c.compensateOrAbandon(fresh, def, step, outcome.Reason)

		default:
			*ev = c.compensateOrAbandon(fresh, def, step,
				fmt.Sprintf("unknown outcome kind %q", outcome.Kind))
		}

		ev.Status = fresh.Status
		ev.StepName = step.Name
		eventOutcome = ev.Outcome
		return ev, nil
	})
	if err != nil {
		return false, err
	}

	c.emit(ctx, updated, step.Name, eventOutcome, updated.Error)

	if wakeAt != nil {
		c.scheduleWake(ctx, id, *wakeAt)
	}

	// Цепочка продолжается, если instance готов к следующему шагу
	return updated.Status == domain.StatusPending, nil
}

// compensateOrAbandon — обработка исчерпанных retry и перманентных ошибок.
//
// Если у шага есть compensate_with, instance перематывается на
// компенсирующий шаг и продолжает выполнение оттуда. Иначе — ABANDONED.
func (c *Core) compensateOrAbandon(fresh *domain.WorkflowInstance, def *domain.WorkflowDefinition, step *domain.StepDefinition, reason string) domain.StepEvent {
	attempt := fresh.Attempt

	if step.CompensateWith != "" {
		compIdx := def.StepIndex(step.CompensateWith)
		if compIdx >= 0 {
			fresh.ResetStep(compIdx)
			fresh.Status = domain.StatusPending
			return domain.StepEvent{
				StepName: step.Name,
				Outcome:  domain.OutcomeCompensated,
				Status:   domain.StatusPending,
				Attempt:  attempt,
				Error:    reason,
			}
		}
	}

	fresh.MarkAbandoned(reason)
	return domain.StepEvent{
		StepName: step.Name,
		Outcome:  domain.OutcomeFailed,
		Status:   domain.StatusAbandoned,
		Attempt:  attempt,
		Error:    reason,
	}
}

// skipStep пропускает шаг, результат которого уже накоплен.
func (c *Core) skipStep(ctx context.Context, id uuid.UUID, def *domain.WorkflowDefinition, idx int, step *domain.StepDefinition) (bool, error) {
	updated, err := c.write(ctx, id, func(fresh *domain.WorkflowInstance) (*domain.StepEvent, error) {
		if fresh.Status.IsTerminal() || fresh.CurrentStepIndex != idx {
			return nil, ErrInvalidTransition
		}

		next := idx + 1
		fresh.ResetStep(next)
		status := domain.StatusPending
		if next >= len(def.Steps) {
			fresh.MarkCompleted()
			status = domain.StatusCompleted
		} else {
			fresh.Status = status
		}

		return &domain.StepEvent{
			StepName: step.Name,
			Outcome:  domain.OutcomeSkipped,
			Status:   status,
		}, nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}

	c.emit(ctx, updated, step.Name, domain.OutcomeSkipped, "")
	return !updated.IsFinished(), nil
}

// complete финализирует instance, у которого пройдены все шаги.
func (c *Core) complete(ctx context.Context, id uuid.UUID, def *domain.WorkflowDefinition) error {
	last := stepNameAt(def, len(def.Steps)-1)

	updated, err := c.write(ctx, id, func(fresh *domain.WorkflowInstance) (*domain.StepEvent, error) {
		if fresh.Status.IsTerminal() {
			return nil, ErrInvalidTransition
		}
		fresh.MarkCompleted()
		return &domain.StepEvent{
			StepName: last,
			Outcome:  domain.OutcomeSucceeded,
			Status:   domain.StatusCompleted,
			Attempt:  fresh.Attempt,
		}, nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}

	c.emit(ctx, updated, last, domain.OutcomeSucceeded, "")
	return nil
}

// blockOnMissingFacts останавливает instance, которому для шага
// не хватает фактов: пользователь должен их предоставить.
func (c *Core) blockOnMissingFacts(ctx context.Context, id uuid.UUID, idx int, step *domain.StepDefinition, missing []string) error {
	prompt := fmt.Sprintf("missing required facts for %s: %s", step.Name, strings.Join(missing, ", "))

	updated, err := c.write(ctx, id, func(fresh *domain.WorkflowInstance) (*domain.StepEvent, error) {
		if fresh.Status.IsTerminal() || fresh.CurrentStepIndex != idx {
			return nil, ErrInvalidTransition
		}

		fresh.Status = domain.StatusWaitingOnUser
		fresh.PendingHandle = nil
		fresh.NextRetryAt = nil
		fresh.MergeFacts(map[string]any{clarificationFact: prompt})

		return &domain.StepEvent{
			StepName: step.Name,
			Outcome:  domain.OutcomeClarify,
			Status:   domain.StatusWaitingOnUser,
			Attempt:  fresh.Attempt,
		}, nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}

	c.emit(ctx, updated, step.Name, domain.OutcomeClarify, "")
	return nil
}

// abandonUserTimeout — истёк настроенный таймаут ожидания пользователя.
func (c *Core) abandonUserTimeout(ctx context.Context, id uuid.UUID, stepName string) error {
	const reason = "user input timed out"

	updated, err := c.write(ctx, id, func(fresh *domain.WorkflowInstance) (*domain.StepEvent, error) {
		if fresh.Status != domain.StatusWaitingOnUser {
			return nil, ErrInvalidTransition
		}
		if fresh.NextRetryAt == nil || c.now().Before(*fresh.NextRetryAt) {
			return nil, ErrInvalidTransition
		}

		fresh.MarkAbandoned(reason)
		return &domain.StepEvent{
			StepName: stepName,
			Outcome:  domain.OutcomeFailed,
			Status:   domain.StatusAbandoned,
			Attempt:  fresh.Attempt,
			Error:    reason,
		}, nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}

	c.emit(ctx, updated, stepName, domain.OutcomeFailed, reason)
	return nil
}

// write — compare-and-swap с ограниченным числом переигрываний.
//
// Мутация применяется к свежепрочитанному instance, поэтому все
// предусловия проверяются внутри неё. После casMaxRetries проигранных
// записей возвращается ErrBusy.
func (c *Core) write(ctx context.Context, id uuid.UUID, mutate store.Mutation) (*domain.WorkflowInstance, error) {
	for i := 0; i < casMaxRetries; i++ {
		inst, err := c.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		updated, err := c.store.CompareAndSwap(ctx, id, inst.Version, mutate)
		if errors.Is(err, store.ErrConflict) {
			telemetry.CASConflictsTotal.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, ErrBusy
}

// nextPollTime вычисляет время следующего опроса EXTERNAL_POLL шага.
//
// База — подсказка внешней системы (retry_after) или дефолтная
// задержка; poll_cron сдвигает её на ближайшее окно опроса
// (госорганы отвечают в рабочие часы).
func (c *Core) nextPollTime(step *domain.StepDefinition, retryAfter time.Duration) time.Time {
	if retryAfter <= 0 {
		retryAfter = defaultPollDelay
	}
	base := c.now().Add(retryAfter)

	if step.PollCron == "" {
		return base
	}

	sched, err := cronParser.Parse(step.PollCron)
	if err != nil {
		// Валидируется при регистрации definition; сюда не попадаем
		return base
	}

	loc := time.UTC
	if step.Timezone != "" {
		if l, err := time.LoadLocation(step.Timezone); err == nil {
			loc = l
		}
	}

	next := sched.Next(base.In(loc))
	if next.IsZero() {
		return base
	}
	return next
}

// scheduleWake ставит durable таймер на пробуждение instance.
// Сбой планирования не фатален: polling fallback доберётся сам.
func (c *Core) scheduleWake(ctx context.Context, id uuid.UUID, fireAt time.Time) {
	if c.timers == nil {
		return
	}

	timer := &store.Timer{
		ID:         uuid.New(),
		InstanceID: id,
		FireAt:     fireAt,
		Reason:     mq.TriggerReasonTimer,
		CreatedAt:  c.now(),
	}
	if err := c.timers.Schedule(ctx, timer); err != nil {
		c.logger.Warn("failed to schedule wake timer",
			"instance_id", id,
			"fire_at", fireAt,
			"error", err,
		)
	}
}

// emit публикует статусное событие и обновляет метрики.
func (c *Core) emit(ctx context.Context, inst *domain.WorkflowInstance, stepName string, outcome domain.EventOutcome, errMsg string) {
	telemetry.TransitionsTotal.WithLabelValues(inst.WorkflowType, string(outcome)).Inc()

	c.sink.Emit(ctx, domain.StatusChangedEvent{
		InstanceID:   inst.ID,
		WorkflowType: inst.WorkflowType,
		StepName:     stepName,
		StepIndex:    inst.CurrentStepIndex,
		Status:       inst.Status,
		Outcome:      outcome,
		Error:        errMsg,
		Timestamp:    c.now(),
	})
}

// stepNameAt возвращает имя шага по индексу, если он существует.
func stepNameAt(def *domain.WorkflowDefinition, idx int) string {
	if idx < 0 || idx >= len(def.Steps) {
		return ""
	}
	return def.Steps[idx].Name
}

// HandleActionCallback применяет результат внешнего действия.
//
// Callback для вытесненной попытки (несовпадение attempt_seq) или
// терминального instance отбрасывается без записи в историю —
// идемпотентность поздних доставок.
func (c *Core) HandleActionCallback(ctx context.Context, handle domain.TaskHandle, outcome domain.ActionOutcome) error {
	inst, err := c.store.Get(ctx, handle.InstanceID)
	if err != nil {
		return err
	}

	if inst.Status.IsTerminal() || inst.AttemptSeq != handle.AttemptSeq {
		c.discardStale(inst, handle)
		return nil
	}

	def, err := c.registry.Get(inst.WorkflowType, inst.DefinitionVersion)
	if err != nil {
		return err
	}

	step, err := registry.StepAt(def, handle.StepIndex)
	if err != nil {
		return err
	}

	cont, err := c.applyOutcome(ctx, inst.ID, def, handle.StepIndex, step, handle, outcome, false)
	if errors.Is(err, errStaleCallback) {
		c.discardStale(inst, handle)
		return nil
	}
	if err != nil {
		return err
	}

	if cont {
		if err := c.Advance(ctx, handle.InstanceID); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return err
		}
	}
	return nil
}

// discardStale фиксирует отброшенный callback в логе и метрике.
func (c *Core) discardStale(inst *domain.WorkflowInstance, handle domain.TaskHandle) {
	telemetry.StaleCallbacksTotal.Inc()
	c.logger.Info("stale callback discarded",
		"instance_id", handle.InstanceID,
		"step", handle.StepName,
		"callback_attempt_seq", handle.AttemptSeq,
		"current_attempt_seq", inst.AttemptSeq,
		"status", inst.Status,
	)
}
