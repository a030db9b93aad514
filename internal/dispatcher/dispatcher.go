package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Kontora/internal/domain"
)

// ExtractResult — ответ NLU-коллаборатора.
type ExtractResult struct {
	// Facts — извлечённые факты (частичный набор по схеме).
	Facts map[string]any

	// Clarification — вопрос пользователю, если фактов недостаточно.
	// Непустое значение означает ClarificationNeeded, не ошибку.
	Clarification string
}

// NLU — контракт NLU-коллаборатора.
type NLU interface {
	// Extract извлекает факты по схеме шага из накопленного контекста.
	Extract(ctx context.Context, facts map[string]any, schema []string) (*ExtractResult, error)
}

// TaskRequest — задача для automation-коллаборатора.
type TaskRequest struct {
	Handle domain.TaskHandle `json:"handle"`
	Config map[string]any    `json:"config,omitempty"`
	Facts  map[string]any    `json:"facts,omitempty"`
}

// Automation — контракт automation-коллаборатора (RPA).
//
// SubmitTask возвращается немедленно; выполнение занимает минуты-часы,
// результат приходит callback'ом с тем же handle.
type Automation interface {
	SubmitTask(ctx context.Context, req TaskRequest) (externalRef string, err error)
}

// PollResult — ответ внешней системы на опрос статуса.
type PollResult struct {
	// Done — обработка завершена, Facts содержит результат.
	Done bool

	// Facts — факты при Done.
	Facts map[string]any

	// RetryAfter — подсказка, когда опросить снова (при !Done).
	RetryAfter time.Duration

	// Failed/Permanent/Reason — обработка отклонена.
	Failed    bool
	Permanent bool
	Reason    string
}

// External — контракт опроса статуса внешней системы.
type External interface {
	PollStatus(ctx context.Context, ref string, config map[string]any) (*PollResult, error)
}

// Dispatcher направляет шаги коллабораторам и нормализует их ответы
// в ActionOutcome.
type Dispatcher struct {
	nlu        NLU
	automation Automation
	external   External
	logger     *slog.Logger
}

// Config — конфигурация Dispatcher.
type Config struct {
	NLU        NLU
	Automation Automation
	External   External
	Logger     *slog.Logger
}

// New создаёт Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		nlu:        cfg.NLU,
		automation: cfg.Automation,
		external:   cfg.External,
		logger:     logger,
	}
}

// Dispatch выполняет действие шага и возвращает нормализованный исход.
//
// handle подготовлен core (instance, шаг, attempt_seq); для automation
// dispatcher дополняет его external ref коллаборатора.
//
// Инфраструктурные ошибки транспорта превращаются в RetryableFailure —
// решение о retry принимает core по политике шага.
func (d *Dispatcher) Dispatch(ctx context.Context, step *domain.StepDefinition, handle domain.TaskHandle, facts map[string]any) domain.ActionOutcome {
	if step.TimeoutSec > 0 && step.Kind != domain.ActionUserInput {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSec)*time.Second)
		defer cancel()
	}

	switch step.Kind {
	case domain.ActionAIQuery:
		return d.dispatchAIQuery(ctx, step, facts)

	case domain.ActionAutomationTask:
		return d.dispatchAutomation(ctx, step, handle, facts)

	case domain.ActionExternalPoll:
		return d.dispatchPoll(ctx, step, handle, facts)

	case domain.ActionUserInput:
		// Внешнего вызова нет: шаг заблокирован до события от человека.
		return domain.Blocked()

	default:
		return domain.PermanentFailure(fmt.Sprintf("%v: %s", ErrUnknownActionKind, step.Kind))
	}
}

// dispatchAIQuery — AI_QUERY: извлечение фактов через NLU.
func (d *Dispatcher) dispatchAIQuery(ctx context.Context, step *domain.StepDefinition, facts map[string]any) domain.ActionOutcome {
	result, err := d.nlu.Extract(ctx, facts, extractSchema(step))
	if err != nil {
		d.logger.Warn("nlu extract failed", "step", step.Name, "error", err)
		return domain.RetryableFailure(fmt.Sprintf("nlu extract: %v", err))
	}

	if result.Clarification != "" {
		return domain.Clarification(result.Clarification)
	}

	return domain.Success(result.Facts)
}

// dispatchAutomation — AUTOMATION_TASK: неблокирующий submit.
func (d *Dispatcher) dispatchAutomation(ctx context.Context, step *domain.StepDefinition, handle domain.TaskHandle, facts map[string]any) domain.ActionOutcome {
	ref, err := d.automation.SubmitTask(ctx, TaskRequest{
		Handle: handle,
		Config: step.Config,
		Facts:  facts,
	})
	if err != nil {
		d.logger.Warn("automation submit failed", "step", step.Name, "error", err)
		return domain.RetryableFailure(fmt.Sprintf("submit task: %v", err))
	}

	handle.ExternalRef = ref
	return domain.Pending(&handle, 0)
}

// dispatchPoll — EXTERNAL_POLL: один опрос статуса.
func (d *Dispatcher) dispatchPoll(ctx context.Context, step *domain.StepDefinition, handle domain.TaskHandle, facts map[string]any) domain.ActionOutcome {
	// Ссылка на внешний ресурс накоплена предыдущими шагами
	// (например, filing_reference) или лежит в конфиге шага.
	ref := handle.ExternalRef
	if ref == "" {
		if v, ok := facts[refFact(step)]; ok {
			ref, _ = v.(string)
		}
	}

	result, err := d.external.PollStatus(ctx, ref, step.Config)
	if err != nil {
		d.logger.Warn("external poll failed", "step", step.Name, "error", err)
		return domain.RetryableFailure(fmt.Sprintf("poll status: %v", err))
	}

	switch {
	case result.Done:
		return domain.Success(result.Facts)

	case result.Failed && result.Permanent:
		return domain.PermanentFailure(result.Reason)

	case result.Failed:
		return domain.RetryableFailure(result.Reason)

	default:
		// Ещё обрабатывается — НЕ ошибка.
		handle.ExternalRef = ref
		return domain.Pending(&handle, result.RetryAfter)
	}
}

// extractSchema возвращает схему извлечения для AI_QUERY: override из
// конфига шага или produces_facts по умолчанию. Конфиг из YAML приходит
// как []any, из Go-каталога — как []string; принимаются оба вида.
func extractSchema(step *domain.StepDefinition) []string {
	raw, ok := step.Config["schema"]
	if !ok {
		return step.ProducesFacts
	}

	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		schema := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				schema = append(schema, s)
			}
		}
		if len(schema) > 0 {
			return schema
		}
	}
	return step.ProducesFacts
}

// refFact возвращает имя факта со ссылкой на внешний ресурс.
func refFact(step *domain.StepDefinition) string {
	if v, ok := step.Config["ref_fact"].(string); ok {
		return v
	}
	// По соглашению первый required fact — ссылка
	// (filing_status требует filing_reference).
	if len(step.RequiredFacts) > 0 {
		return step.RequiredFacts[0]
	}
	return ""
}
