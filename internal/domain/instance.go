package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowInstance — одна регистрация одного пользователя.
//
// Instance — единственный источник истины о том, "где сейчас находится
// эта регистрация". Всё остальное (прогресс для frontend, аудит)
// производно от instance и его истории StepEvent'ов.
//
// Instance мутируется исключительно Orchestration Core через
// compare-and-swap стора; instances никогда не удаляются —
// терминальные хранятся для аудита.
type WorkflowInstance struct {
	// ID — уникальный идентификатор instance.
	ID uuid.UUID `json:"id"`

	// WorkflowType — тип процесса (ссылка на WorkflowDefinition.Type).
	WorkflowType string `json:"workflow_type"`

	// DefinitionVersion — версия definition, действовавшая при создании.
	// Instance навсегда привязан к этой версии.
	DefinitionVersion int `json:"definition_version"`

	// CurrentStepIndex — индекс текущего шага.
	// Только растёт, кроме явной перемотки на компенсирующий шаг.
	// Никогда не превышает len(steps); равенство означает завершение.
	CurrentStepIndex int `json:"current_step_index"`

	// Status — текущий статус.
	Status InstanceStatus `json:"status"`

	// Facts — накопленные факты (business_name, jurisdiction, ein, ...).
	// Merge по принципу last-writer-wins: шаг перезапускается
	// только намеренно.
	Facts map[string]any `json:"facts,omitempty"`

	// Attempt — номер попытки текущего шага (начиная с 1).
	Attempt int `json:"attempt"`

	// AttemptSeq — монотонный счётчик попыток за всю жизнь instance.
	// Штампуется в TaskHandle; по нему core отбрасывает поздние
	// callbacks для уже вытесненных попыток.
	AttemptSeq int64 `json:"attempt_seq"`

	// PendingHandle — handle незавершённого внешнего действия.
	PendingHandle *TaskHandle `json:"pending_handle,omitempty"`

	// NextRetryAt — время запланированного retry или повторного опроса.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// Error — причина терминальной ошибки (для ABANDONED).
	Error string `json:"error,omitempty"`

	// Version — счётчик оптимистичной блокировки.
	// Инкрементируется стором при каждой успешной записи.
	Version int64 `json:"version"`

	// LastUpdated — время последней успешной записи.
	LastUpdated time.Time `json:"last_updated"`

	// CreatedAt — время создания instance.
	CreatedAt time.Time `json:"created_at"`
}

// TaskHandle — непрозрачная ссылка, связывающая асинхронно запущенное
// действие с его будущим callback'ом.
type TaskHandle struct {
	// InstanceID — instance, которому принадлежит действие.
	InstanceID uuid.UUID `json:"instance_id"`

	// StepName — имя шага.
	StepName string `json:"step_name"`

	// StepIndex — индекс шага на момент запуска.
	StepIndex int `json:"step_index"`

	// AttemptSeq — значение AttemptSeq instance на момент запуска.
	// Несовпадение с текущим значением означает, что callback устарел.
	AttemptSeq int64 `json:"attempt_seq"`

	// ExternalRef — ссылка коллаборатора (ID задачи automation,
	// номер заявления в госоргане).
	ExternalRef string `json:"external_ref,omitempty"`
}

// IsFinished возвращает true, если instance в терминальном статусе.
func (w *WorkflowInstance) IsFinished() bool {
	return w.Status.IsTerminal()
}

// MergeFacts вливает новые факты в instance (last-writer-wins).
func (w *WorkflowInstance) MergeFacts(facts map[string]any) {
	if len(facts) == 0 {
		return
	}
	if w.Facts == nil {
		w.Facts = make(map[string]any, len(facts))
	}
	for k, v := range facts {
		w.Facts[k] = v
	}
}

// NextAttempt инкрементирует счётчики попыток.
// AttemptSeq растёт всегда, Attempt — в рамках текущего шага.
func (w *WorkflowInstance) NextAttempt() {
	w.Attempt++
	w.AttemptSeq++
}

// ResetStep сбрасывает состояние попыток при переходе на новый шаг.
func (w *WorkflowInstance) ResetStep(index int) {
	w.CurrentStepIndex = index
	w.Attempt = 0
	w.PendingHandle = nil
	w.NextRetryAt = nil
}

// MarkAbandoned переводит instance в ABANDONED с терминальной причиной.
func (w *WorkflowInstance) MarkAbandoned(reason string) {
	w.Status = StatusAbandoned
	w.Error = reason
	w.PendingHandle = nil
	w.NextRetryAt = nil
}

// MarkCompleted переводит instance в COMPLETED.
func (w *WorkflowInstance) MarkCompleted() {
	w.Status = StatusCompleted
	w.PendingHandle = nil
	w.NextRetryAt = nil
}
