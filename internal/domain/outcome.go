package domain

import "time"

// OutcomeKind — вариант результата dispatch'а.
type OutcomeKind string

const (
	// OutcomeKindSuccess — шаг выполнен, факты получены.
	OutcomeKindSuccess OutcomeKind = "SUCCESS"

	// OutcomeKindPending — действие запущено асинхронно или внешняя
	// система ещё обрабатывает; НЕ ошибка. Core ждёт callback/re-poll.
	OutcomeKindPending OutcomeKind = "PENDING"

	// OutcomeKindBlocked — шаг ждёт ввода пользователя.
	OutcomeKindBlocked OutcomeKind = "BLOCKED"

	// OutcomeKindClarification — NLU требуется уточнение от пользователя;
	// НЕ ошибка, шаг перезапустится после ответа.
	OutcomeKindClarification OutcomeKind = "CLARIFICATION_NEEDED"

	// OutcomeKindRetryable — временная ошибка, retry по backoff.
	OutcomeKindRetryable OutcomeKind = "RETRYABLE_FAILURE"

	// OutcomeKindPermanent — перманентная ошибка: компенсация или Abandoned.
	OutcomeKindPermanent OutcomeKind = "PERMANENT_FAILURE"
)

// ActionOutcome — результат обращения dispatcher'а к коллаборатору.
type ActionOutcome struct {
	// Kind — вариант результата.
	Kind OutcomeKind `json:"kind"`

	// Facts — извлечённые/полученные факты (для SUCCESS).
	Facts map[string]any `json:"facts,omitempty"`

	// Handle — handle асинхронного действия (для PENDING от automation).
	Handle *TaskHandle `json:"handle,omitempty"`

	// RetryAfter — подсказка внешней системы, когда опросить снова.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Prompt — вопрос пользователю (для CLARIFICATION_NEEDED).
	Prompt string `json:"prompt,omitempty"`

	// Reason — причина ошибки (для RETRYABLE/PERMANENT).
	Reason string `json:"reason,omitempty"`
}

// Success создаёт успешный результат с фактами.
func Success(facts map[string]any) ActionOutcome {
	return ActionOutcome{Kind: OutcomeKindSuccess, Facts: facts}
}

// Pending создаёт результат с незавершённым внешним действием.
func Pending(handle *TaskHandle, retryAfter time.Duration) ActionOutcome {
	return ActionOutcome{Kind: OutcomeKindPending, Handle: handle, RetryAfter: retryAfter}
}

// Blocked создаёт результат "ждём пользователя".
func Blocked() ActionOutcome {
	return ActionOutcome{Kind: OutcomeKindBlocked}
}

// Clarification создаёт результат "нужно уточнение".
func Clarification(prompt string) ActionOutcome {
	return ActionOutcome{Kind: OutcomeKindClarification, Prompt: prompt}
}

// RetryableFailure создаёт временную ошибку.
func RetryableFailure(reason string) ActionOutcome {
	return ActionOutcome{Kind: OutcomeKindRetryable, Reason: reason}
}

// PermanentFailure создаёт перманентную ошибку.
func PermanentFailure(reason string) ActionOutcome {
	return ActionOutcome{Kind: OutcomeKindPermanent, Reason: reason}
}
