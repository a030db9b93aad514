package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Kontora/internal/domain"
	"github.com/shaiso/Kontora/internal/events"
	"github.com/shaiso/Kontora/internal/registry"
	"github.com/shaiso/Kontora/internal/store"
)

// scriptDispatcher отдаёт заранее заданные исходы по имени шага.
// Если очередь исхода пуста — Success без фактов.
type scriptDispatcher struct {
	mu       sync.Mutex
	outcomes map[string][]domain.ActionOutcome

	// handles — последний handle каждого шага (для имитации callbacks).
	handles map[string]domain.TaskHandle

	// calls — количество dispatch'ей по шагу.
	calls map[string]int
}

func newScriptDispatcher() *scriptDispatcher {
	return &scriptDispatcher{
		outcomes: make(map[string][]domain.ActionOutcome),
		handles:  make(map[string]domain.TaskHandle),
		calls:    make(map[string]int),
	}
}

func (d *scriptDispatcher) push(step string, outcome domain.ActionOutcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes[step] = append(d.outcomes[step], outcome)
}

func (d *scriptDispatcher) Dispatch(_ context.Context, step *domain.StepDefinition, handle domain.TaskHandle, _ map[string]any) domain.ActionOutcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handles[step.Name] = handle
	d.calls[step.Name]++

	q := d.outcomes[step.Name]
	if len(q) == 0 {
		if step.Kind == domain.ActionUserInput {
			return domain.Blocked()
		}
		return domain.Success(nil)
	}
	out := q[0]
	d.outcomes[step.Name] = q[1:]
	return out
}

func (d *scriptDispatcher) handleOf(t *testing.T, step string) domain.TaskHandle {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.handles[step]
	if !ok {
		t.Fatalf("step %s was never dispatched", step)
	}
	return h
}

func (d *scriptDispatcher) callCount(step string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[step]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestCore собирает Core на in-memory сторе без MQ.
func newTestCore(t *testing.T, def *domain.WorkflowDefinition, disp Dispatcher) (*Core, *store.MemoryStore, *events.RecordingSink) {
	t.Helper()

	reg := registry.New()
	if err := reg.Register(def); err != nil {
		t.Fatalf("register definition: %v", err)
	}

	st := store.NewMemoryStore()
	sink := events.NewRecordingSink()

	c := New(Config{
		Store:      st,
		Timers:     st,
		Registry:   reg,
		Dispatcher: disp,
		Sink:       sink,
		Logger:     quietLogger(),
	})

	return c, st, sink
}

func llcDefinition() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		Type: "TEST_LLC",
		Steps: []domain.StepDefinition{
			{
				Name:          "collect_details",
				Kind:          domain.ActionAIQuery,
				ProducesFacts: []string{"business_name"},
			},
			{
				Name: "confirm_details",
				Kind: domain.ActionUserInput,
			},
			{
				Name:           "state_filing",
				Kind:           domain.ActionAutomationTask,
				RequiredFacts:  []string{"business_name"},
				Retry:          domain.RetryPolicy{MaxAttempts: 2, InitialDelayMs: 100, MaxDelayMs: 1000},
				CompensateWith: "collect_details",
			},
			{
				Name:     "ein_application",
				Kind:     domain.ActionAutomationTask,
				SkipWhen: "ein",
			},
		},
	}
}

// --- Happy path ---

func TestStartWorkflow_CreatesPendingInstance(t *testing.T) {
	c, st, sink := newTestCore(t, llcDefinition(), newScriptDispatcher())
	ctx := context.Background()

	inst, err := c.StartWorkflow(ctx, "TEST_LLC", map[string]any{"owner": "Ivanov"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inst.Status != domain.StatusPending {
		t.Errorf("expected PENDING, got %s", inst.Status)
	}
	if inst.DefinitionVersion != 1 {
		t.Errorf("expected version pin 1, got %d", inst.DefinitionVersion)
	}

	stored, err := st.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("instance not stored: %v", err)
	}
	if stored.Facts["owner"] != "Ivanov" {
		t.Errorf("initial facts lost: %v", stored.Facts)
	}

	evs, _ := st.ListEvents(ctx, inst.ID)
	if len(evs) != 1 || evs[0].Outcome != domain.OutcomeCreated {
		t.Errorf("expected single created event, got %v", evs)
	}

	if len(sink.Events()) != 1 {
		t.Errorf("expected one status event, got %d", len(sink.Events()))
	}
}

func TestStartWorkflow_UnknownType(t *testing.T) {
	c, _, _ := newTestCore(t, llcDefinition(), newScriptDispatcher())

	if _, err := c.StartWorkflow(context.Background(), "MARS_LLC", nil); err == nil {
		t.Fatal("expected error for unknown workflow type")
	}
}

func TestAdvance_FullRegistration(t *testing.T) {
	disp := newScriptDispatcher()
	c, st, _ := newTestCore(t, llcDefinition(), disp)
	ctx := context.Background()

	disp.push("collect_details", domain.Success(map[string]any{"business_name": "Acme LLC"}))

	inst, err := c.StartWorkflow(ctx, "TEST_LLC", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Первый шаг синхронный, второй блокируется на пользователе
	if err := c.Advance(ctx, inst.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got, _ := st.Get(ctx, inst.ID)
	if got.Status != domain.StatusWaitingOnUser {
		t.Fatalf("expected WAITING_ON_USER, got %s", got.Status)
	}
	if got.CurrentStepIndex != 1 {
		t.Errorf("expected step index 1, got %d", got.CurrentStepIndex)
	}
	if got.Facts["business_name"] != "Acme LLC" {
		t.Errorf("extracted facts lost: %v", got.Facts)
	}

	// Пользователь подтверждает — state_filing запускается асинхронно
	disp.push("state_filing", domain.Pending(nil, 0))
	if _, err := c.SubmitUserInput(ctx, inst.ID, map[string]any{"confirmed": true}); err != nil {
		t.Fatalf("submit input: %v", err)
	}
	if err := c.Advance(ctx, inst.ID); err != nil {
		t.Fatalf("advance after input: %v", err)
	}

	got, _ = st.Get(ctx, inst.ID)
	if got.Status != domain.StatusWaitingOnAction {
		t.Fatalf("expected WAITING_ON_ACTION, got %s", got.Status)
	}
	if got.PendingHandle == nil {
		t.Fatal("pending handle should be set")
	}

	// Automation присылает callback — filing готов, ein выполняется следом
	handle := disp.handleOf(t, "state_filing")
	err = c.HandleActionCallback(ctx, handle, domain.Success(map[string]any{"filing_reference": "TX-1"}))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}

	got, _ = st.Get(ctx, inst.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
	if got.Facts["filing_reference"] != "TX-1" {
		t.Errorf("callback facts lost: %v", got.Facts)
	}

	// Терминальный instance не принимает переходов
	if err := c.Advance(ctx, inst.ID); err != ErrInvalidTransition {
		t.Errorf("expected ErrInvalidTransition for completed instance, got %v", err)
	}
}

func TestAdvance_SkipWhenFactHeld(t *testing.T) {
	disp := newScriptDispatcher()
	c, st, _ := newTestCore(t, llcDefinition(), disp)
	ctx := context.Background()

	disp.push("collect_details", domain.Success(nil))
	disp.push("state_filing", domain.Success(nil))

	// EIN уже есть — ein_application должен быть пропущен
	inst, _ := c.StartWorkflow(ctx, "TEST_LLC", map[string]any{
		"business_name": "Acme LLC",
		"ein":           "12-3456789",
	})

	c.Advance(ctx, inst.ID)
	c.SubmitUserInput(ctx, inst.ID, nil)
	c.Advance(ctx, inst.ID)

	got, _ := st.Get(ctx, inst.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}

	if disp.callCount("ein_application") != 0 {
		t.Error("skipped step must not be dispatched")
	}

	evs, _ := st.ListEvents(ctx, inst.ID)
	var skipped bool
	for _, ev := range evs {
		if ev.StepName == "ein_application" && ev.Outcome == domain.OutcomeSkipped {
			skipped = true
		}
	}
	if !skipped {
		t.Error("expected skipped event for ein_application")
	}
}

// --- Retry и компенсация ---

func TestAdvance_RetryThenCompensation(t *testing.T) {
	disp := newScriptDispatcher()
	c, st, _ := newTestCore(t, llcDefinition(), disp)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	disp.push("collect_details", domain.Success(map[string]any{"business_name": "Acme LLC"}))
	disp.push("state_filing", domain.RetryableFailure("portal down"))
	disp.push("state_filing", domain.RetryableFailure("portal still down"))

	inst, _ := c.StartWorkflow(ctx, "TEST_LLC", nil)
	c.Advance(ctx, inst.ID)
	c.SubmitUserInput(ctx, inst.ID, nil)
	c.Advance(ctx, inst.ID)

	// Первая неудача — retry запланирован
	got, _ := st.Get(ctx, inst.ID)
	if got.Status != domain.StatusFailing {
		t.Fatalf("expected FAILING after first failure, got %s", got.Status)
	}
	if got.NextRetryAt == nil {
		t.Fatal("retry must be scheduled")
	}
	if !got.NextRetryAt.After(now) {
		t.Error("retry must be in the future")
	}

	// До срока retry ничего не происходит
	if err := c.Advance(ctx, inst.ID); err != nil {
		t.Fatalf("advance before due: %v", err)
	}
	if disp.callCount("state_filing") != 1 {
		t.Fatal("must not retry before next_retry_at")
	}

	// Время пришло — вторая попытка, бюджет (2) исчерпан,
	// state_filing компенсируется перемоткой на collect_details
	now = got.NextRetryAt.Add(time.Second)
	disp.push("collect_details", domain.Success(map[string]any{"business_name": "Acme Corp LLC"}))
	disp.push("state_filing", domain.Success(nil))

	if err := c.Advance(ctx, inst.ID); err != nil {
		t.Fatalf("advance after due: %v", err)
	}

	got, _ = st.Get(ctx, inst.ID)
	if got.Status != domain.StatusWaitingOnUser {
		t.Fatalf("expected rewind to collect_details then wait on confirm, got %s at step %d",
			got.Status, got.CurrentStepIndex)
	}
	if got.Facts["business_name"] != "Acme Corp LLC" {
		t.Errorf("rewound step should rerun, facts: %v", got.Facts)
	}

	evs, _ := st.ListEvents(ctx, inst.ID)
	var compensated bool
	for _, ev := range evs {
		if ev.Outcome == domain.OutcomeCompensated && ev.StepName == "state_filing" {
			compensated = true
		}
	}
	if !compensated {
		t.Error("expected compensated event for state_filing")
	}
}

func TestAdvance_RetryExhausted_NoCompensation_Abandoned(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Type: "ONE_STEP",
		Steps: []domain.StepDefinition{
			{
				Name:  "flaky",
				Kind:  domain.ActionAIQuery,
				Retry: domain.RetryPolicy{MaxAttempts: 2, InitialDelayMs: 10, MaxDelayMs: 10},
			},
		},
	}

	disp := newScriptDispatcher()
	c, st, _ := newTestCore(t, def, disp)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	disp.push("flaky", domain.RetryableFailure("boom"))
	disp.push("flaky", domain.RetryableFailure("boom again"))

	inst, _ := c.StartWorkflow(ctx, "ONE_STEP", nil)
	c.Advance(ctx, inst.ID)

	got, _ := st.Get(ctx, inst.ID)
	now = got.NextRetryAt.Add(time.Second)
	c.Advance(ctx, inst.ID)

	got, _ = st.Get(ctx, inst.ID)
	if got.Status != domain.StatusAbandoned {
		t.Fatalf("expected ABANDONED after exhausted retries, got %s", got.Status)
	}
	if got.Error == "" {
		t.Error("terminal error must be recorded")
	}
}

func TestAdvance_PermanentFailure_AbandonsImmediately(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Type: "ONE_STEP",
		Steps: []domain.StepDefinition{
			{
				Name:  "strict",
				Kind:  domain.ActionAIQuery,
				Retry: domain.RetryPolicy{MaxAttempts: 5, InitialDelayMs: 10},
			},
		},
	}

	disp := newScriptDispatcher()
	c, st, _ := newTestCore(t, def, disp)
	ctx := context.Background()

	disp.push("strict", domain.PermanentFailure("rejected"))

	inst, _ := c.StartWorkflow(ctx, "ONE_STEP", nil)
	c.Advance(ctx, inst.ID)

	got, _ := st.Get(ctx, inst.ID)
	if got.Status != domain.StatusAbandoned {
		t.Fatalf("expected ABANDONED, got %s", got.Status)
	}
	if disp.callCount("strict") != 1 {
		t.Error("permanent failure must not be retried")
	}
}

// --- Поздние callbacks ---

func TestHandleActionCallback_StaleDiscarded(t *testing.T) {
	disp := newScriptDispatcher()
	c, st, _ := newTestCore(t, llcDefinition(), disp)
	ctx := context.Background()

	disp.push("collect_details", domain.Success(map[string]any{"business_name": "Acme LLC"}))
	disp.push("state_filing", domain.Pending(nil, 0))

	inst, _ := c.StartWorkflow(ctx, "TEST_LLC", nil)
	c.Advance(ctx, inst.ID)
	c.SubmitUserInput(ctx, inst.ID, nil)
	c.Advance(ctx, inst.ID)

	staleHandle := disp.handleOf(t, "state_filing")

	// Пользователь отменяет, пока automation работает
	if _, err := c.CancelWorkflow(ctx, inst.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	before, _ := st.ListEvents(ctx, inst.ID)

	// Запоздавший callback обязан быть отброшен без следа в истории
	if err := c.HandleActionCallback(ctx, staleHandle, domain.Success(map[string]any{"filing_reference": "TX-9"})); err != nil {
		t.Fatalf("stale callback must be a no-op, got %v", err)
	}

	after, _ := st.ListEvents(ctx, inst.ID)
	if len(after) != len(before) {
		t.Errorf("stale callback must not append events: %d -> %d", len(before), len(after))
	}

	got, _ := st.Get(ctx, inst.ID)
	if got.Status != domain.StatusAbandoned {
		t.Errorf("status must stay ABANDONED, got %s", got.Status)
	}
	if _, ok := got.Facts["filing_reference"]; ok {
		t.Error("stale callback facts must not be merged")
	}
}

func TestHandleActionCallback_SupersededAttemptSeq(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Type: "ONE_STEP",
		Steps: []domain.StepDefinition{
			{
				Name:  "task",
				Kind:  domain.ActionAutomationTask,
				Retry: domain.RetryPolicy{MaxAttempts: 3, InitialDelayMs: 10},
			},
		},
	}

	disp := newScriptDispatcher()
	c, st, _ := newTestCore(t, def, disp)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	disp.push("task", domain.Pending(nil, 0))

	inst, _ := c.StartWorkflow(ctx, "ONE_STEP", nil)
	c.Advance(ctx, inst.ID)

	firstHandle := disp.handleOf(t, "task")

	// Automation сообщает о временной ошибке — попытка вытесняется
	if err := c.HandleActionCallback(ctx, firstHandle, domain.RetryableFailure("glitch")); err != nil {
		t.Fatalf("callback: %v", err)
	}

	got, _ := st.Get(ctx, inst.ID)
	now = got.NextRetryAt.Add(time.Second)
	disp.push("task", domain.Pending(nil, 0))
	c.Advance(ctx, inst.ID)

	secondHandle := disp.handleOf(t, "task")
	if secondHandle.AttemptSeq <= firstHandle.AttemptSeq {
		t.Fatalf("attempt_seq must grow: %d -> %d", firstHandle.AttemptSeq, secondHandle.AttemptSeq)
	}

	// Поздний callback первой попытки — отброшен
	before, _ := st.ListEvents(ctx, inst.ID)
	if err := c.HandleActionCallback(ctx, firstHandle, domain.Success(nil)); err != nil {
		t.Fatalf("late callback must be a no-op, got %v", err)
	}
	after, _ := st.ListEvents(ctx, inst.ID)
	if len(after) != len(before) {
		t.Error("late callback must not append events")
	}

	// Callback актуальной попытки работает
	if err := c.HandleActionCallback(ctx, secondHandle, domain.Success(nil)); err != nil {
		t.Fatalf("current callback: %v", err)
	}
	got, _ = st.Get(ctx, inst.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
}

// racingDispatcher разрешает первую попытку callback'ом ещё до того,
// как вернёт core результат dispatch'а. Так ведёт себя быстрый
// automation-коллаборатор: его callback обгоняет возврат из submit.
type racingDispatcher struct {
	c           *Core
	callback    domain.ActionOutcome // исход, доставленный callback'ом
	lateReturn  domain.ActionOutcome // что после этого вернёт dispatch
	raced       bool
	calls       int
	callbackErr error
}

func (d *racingDispatcher) Dispatch(ctx context.Context, _ *domain.StepDefinition, handle domain.TaskHandle, _ map[string]any) domain.ActionOutcome {
	d.calls++
	if !d.raced {
		d.raced = true
		d.callbackErr = d.c.HandleActionCallback(ctx, handle, d.callback)
		return d.lateReturn
	}
	return domain.Success(nil)
}

func TestCallbackResolvesAttemptBeforeDispatchReturns(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Type: "ONE_STEP",
		Steps: []domain.StepDefinition{
			{
				Name:  "task",
				Kind:  domain.ActionAutomationTask,
				Retry: domain.RetryPolicy{MaxAttempts: 3, InitialDelayMs: 100, MaxDelayMs: 1000},
			},
		},
	}

	disp := &racingDispatcher{
		callback:   domain.RetryableFailure("automation crashed"),
		lateReturn: domain.Pending(nil, 0),
	}
	c, st, _ := newTestCore(t, def, disp)
	disp.c = c
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	inst, _ := c.StartWorkflow(ctx, "ONE_STEP", nil)
	if err := c.Advance(ctx, inst.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if disp.callbackErr != nil {
		t.Fatalf("callback during dispatch: %v", disp.callbackErr)
	}

	// Retry, записанный callback'ом, не должен быть затёрт
	// поздним Pending из возврата dispatch'а
	got, _ := st.Get(ctx, inst.ID)
	if got.Status != domain.StatusFailing {
		t.Fatalf("expected FAILING from callback, got %s", got.Status)
	}
	if got.NextRetryAt == nil {
		t.Fatal("retry schedule lost: next_retry_at is nil")
	}

	// Instance не застрял: по наступлении retry шаг переигрывается
	now = got.NextRetryAt.Add(time.Second)
	if err := c.Advance(ctx, inst.ID); err != nil {
		t.Fatalf("advance after retry due: %v", err)
	}

	got, _ = st.Get(ctx, inst.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED after retry, got %s", got.Status)
	}
	if disp.calls != 2 {
		t.Errorf("expected 2 dispatches, got %d", disp.calls)
	}
}

// --- Отмена и ввод пользователя ---

func TestCancelWorkflow_Lifecycle(t *testing.T) {
	c, st, _ := newTestCore(t, llcDefinition(), newScriptDispatcher())
	ctx := context.Background()

	inst, _ := c.StartWorkflow(ctx, "TEST_LLC", nil)

	cancelled, err := c.CancelWorkflow(ctx, inst.ID, "changed my mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusAbandoned {
		t.Fatalf("expected ABANDONED, got %s", cancelled.Status)
	}
	if cancelled.Error != "changed my mind" {
		t.Errorf("cancel reason lost: %q", cancelled.Error)
	}

	// Повторная отмена и ввод после отмены — отклоняются
	if _, err := c.CancelWorkflow(ctx, inst.ID, ""); err == nil {
		t.Error("expected error for double cancel")
	}
	if _, err := c.SubmitUserInput(ctx, inst.ID, map[string]any{"x": 1}); err == nil {
		t.Error("expected error for input after cancel")
	}

	evs, _ := st.ListEvents(ctx, inst.ID)
	last := evs[len(evs)-1]
	if last.Outcome != domain.OutcomeCancelled {
		t.Errorf("expected cancelled event last, got %s", last.Outcome)
	}
}

func TestCancelWorkflow_WhileWaitingOnUser(t *testing.T) {
	disp := newScriptDispatcher()
	c, st, _ := newTestCore(t, llcDefinition(), disp)
	ctx := context.Background()

	disp.push("collect_details", domain.Success(map[string]any{"business_name": "Acme LLC"}))

	inst, _ := c.StartWorkflow(ctx, "TEST_LLC", nil)
	c.Advance(ctx, inst.ID)

	got, _ := st.Get(ctx, inst.ID)
	if got.Status != domain.StatusWaitingOnUser {
		t.Fatalf("expected WAITING_ON_USER, got %s", got.Status)
	}

	// Пользователь передумал прямо на шаге подтверждения
	cancelled, err := c.CancelWorkflow(ctx, inst.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusAbandoned {
		t.Fatalf("expected ABANDONED, got %s", cancelled.Status)
	}

	// Ввод после отмены отклоняется
	if _, err := c.SubmitUserInput(ctx, inst.ID, map[string]any{"filing_confirmed": true}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSubmitUserInput_RequiresWaitingOnUser(t *testing.T) {
	c, _, _ := newTestCore(t, llcDefinition(), newScriptDispatcher())
	ctx := context.Background()

	inst, _ := c.StartWorkflow(ctx, "TEST_LLC", nil)

	// Instance в PENDING — ввод не ожидается
	if _, err := c.SubmitUserInput(ctx, inst.ID, map[string]any{"x": 1}); err == nil {
		t.Fatal("expected ErrInvalidTransition for input to pending instance")
	}
}

func TestClarificationLoop(t *testing.T) {
	disp := newScriptDispatcher()
	c, st, _ := newTestCore(t, llcDefinition(), disp)
	ctx := context.Background()

	disp.push("collect_details", domain.Clarification("Укажите штат регистрации"))
	disp.push("collect_details", domain.Success(map[string]any{"business_name": "Acme LLC"}))

	inst, _ := c.StartWorkflow(ctx, "TEST_LLC", nil)
	c.Advance(ctx, inst.ID)

	got, _ := st.Get(ctx, inst.ID)
	if got.Status != domain.StatusWaitingOnUser {
		t.Fatalf("expected WAITING_ON_USER for clarification, got %s", got.Status)
	}
	if got.Facts[clarificationFact] != "Укажите штат регистрации" {
		t.Errorf("clarification prompt missing: %v", got.Facts)
	}
	// Индекс не двигается: шаг перезапустится после ответа
	if got.CurrentStepIndex != 0 {
		t.Errorf("clarification must not advance index, got %d", got.CurrentStepIndex)
	}

	if _, err := c.SubmitUserInput(ctx, inst.ID, map[string]any{"jurisdiction": "TX"}); err != nil {
		t.Fatalf("submit answer: %v", err)
	}
	c.Advance(ctx, inst.ID)

	got, _ = st.Get(ctx, inst.ID)
	if _, ok := got.Facts[clarificationFact]; ok {
		t.Error("clarification fact must be cleared after answer")
	}
	if got.CurrentStepIndex != 1 {
		t.Errorf("step must complete after clarification answered, index %d", got.CurrentStepIndex)
	}
}

func TestBlockOnMissingFacts(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Type: "STRICT",
		Steps: []domain.StepDefinition{
			{
				Name:          "filing",
				Kind:          domain.ActionAutomationTask,
				RequiredFacts: []string{"business_name", "jurisdiction"},
			},
		},
	}

	disp := newScriptDispatcher()
	c, st, _ := newTestCore(t, def, disp)
	ctx := context.Background()

	inst, _ := c.StartWorkflow(ctx, "STRICT", map[string]any{"business_name": "Acme LLC"})
	c.Advance(ctx, inst.ID)

	got, _ := st.Get(ctx, inst.ID)
	if got.Status != domain.StatusWaitingOnUser {
		t.Fatalf("expected WAITING_ON_USER on missing facts, got %s", got.Status)
	}
	if disp.callCount("filing") != 0 {
		t.Error("step must not be dispatched without required facts")
	}
	prompt, _ := got.Facts[clarificationFact].(string)
	if prompt == "" {
		t.Fatal("clarification prompt expected")
	}
}

// --- Polling и таймеры ---

func TestPendingPollDoesNotConsumeAttempts(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Type: "POLLING",
		Steps: []domain.StepDefinition{
			{
				Name:  "status_check",
				Kind:  domain.ActionExternalPoll,
				Retry: domain.RetryPolicy{MaxAttempts: 2, InitialDelayMs: 10},
			},
		},
	}

	disp := newScriptDispatcher()
	c, st, _ := newTestCore(t, def, disp)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	// Внешняя система трижды отвечает "ещё обрабатывается"
	disp.push("status_check", domain.Pending(nil, time.Minute))
	disp.push("status_check", domain.Pending(nil, time.Minute))
	disp.push("status_check", domain.Pending(nil, time.Minute))
	disp.push("status_check", domain.Success(map[string]any{"approved": true}))

	inst, _ := c.StartWorkflow(ctx, "POLLING", nil)
	c.Advance(ctx, inst.ID)

	for i := 0; i < 3; i++ {
		got, _ := st.Get(ctx, inst.ID)
		if got.Status != domain.StatusWaitingOnAction {
			t.Fatalf("poll %d: expected WAITING_ON_ACTION, got %s", i, got.Status)
		}
		// "Ещё обрабатывается" — не ошибка и не расходует бюджет попыток
		if got.Attempt != 1 {
			t.Fatalf("poll %d: attempt must stay 1, got %d", i, got.Attempt)
		}
		now = got.NextRetryAt.Add(time.Second)
		c.Advance(ctx, inst.ID)
	}

	got, _ := st.Get(ctx, inst.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
}

func TestPendingSchedulesWakeTimer(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Type: "POLLING",
		Steps: []domain.StepDefinition{
			{Name: "status_check", Kind: domain.ActionExternalPoll},
		},
	}

	disp := newScriptDispatcher()
	c, st, _ := newTestCore(t, def, disp)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	disp.push("status_check", domain.Pending(nil, time.Hour))

	inst, _ := c.StartWorkflow(ctx, "POLLING", nil)
	c.Advance(ctx, inst.ID)

	timers, err := st.Due(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(timers) != 1 {
		t.Fatalf("expected one scheduled timer, got %d", len(timers))
	}
	if timers[0].InstanceID != inst.ID {
		t.Errorf("timer for wrong instance: %s", timers[0].InstanceID)
	}
	if got := timers[0].FireAt.Sub(now); got != time.Hour {
		t.Errorf("expected wake in 1h, got %v", got)
	}
}

func TestUserInputTimeout_Abandons(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Type: "CONFIRM",
		Steps: []domain.StepDefinition{
			{Name: "confirm", Kind: domain.ActionUserInput, TimeoutSec: 60},
		},
	}

	disp := newScriptDispatcher()
	disp.push("confirm", domain.Blocked())

	c, st, _ := newTestCore(t, def, disp)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	inst, _ := c.StartWorkflow(ctx, "CONFIRM", nil)
	c.Advance(ctx, inst.ID)

	got, _ := st.Get(ctx, inst.ID)
	if got.Status != domain.StatusWaitingOnUser {
		t.Fatalf("expected WAITING_ON_USER, got %s", got.Status)
	}
	if got.NextRetryAt == nil {
		t.Fatal("configured timeout must set a deadline")
	}

	// Срок не истёк — ничего не меняется
	c.Advance(ctx, inst.ID)
	got, _ = st.Get(ctx, inst.ID)
	if got.Status != domain.StatusWaitingOnUser {
		t.Fatalf("must still wait, got %s", got.Status)
	}

	// Истёк — instance бросается
	now = got.NextRetryAt.Add(time.Second)
	c.Advance(ctx, inst.ID)
	got, _ = st.Get(ctx, inst.ID)
	if got.Status != domain.StatusAbandoned {
		t.Fatalf("expected ABANDONED after input timeout, got %s", got.Status)
	}
}

func TestNextPollTime_CronWindow(t *testing.T) {
	c, _, _ := newTestCore(t, llcDefinition(), newScriptDispatcher())

	// Суббота, 2026-08-22 10:00 UTC
	saturday := time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return saturday }

	step := &domain.StepDefinition{
		Name:     "filing_status",
		Kind:     domain.ActionExternalPoll,
		PollCron: "0 9-17 * * 1-5",
	}

	// База попадает в выходные — опрос сдвигается на понедельник 09:00
	got := c.nextPollTime(step, time.Hour)
	want := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	// Без poll_cron — просто подсказка внешней системы
	plain := &domain.StepDefinition{Name: "x", Kind: domain.ActionExternalPoll}
	got = c.nextPollTime(plain, 30*time.Minute)
	if !got.Equal(saturday.Add(30 * time.Minute)) {
		t.Errorf("expected base+30m, got %v", got)
	}
}

// --- Свойства истории ---

func TestEveryWriteAppendsExactlyOneEvent(t *testing.T) {
	disp := newScriptDispatcher()
	c, st, sink := newTestCore(t, llcDefinition(), disp)
	ctx := context.Background()

	disp.push("collect_details", domain.Success(map[string]any{"business_name": "Acme LLC"}))
	disp.push("state_filing", domain.Success(nil))
	disp.push("ein_application", domain.Success(map[string]any{"ein": "12-3456789"}))

	inst, _ := c.StartWorkflow(ctx, "TEST_LLC", nil)
	c.Advance(ctx, inst.ID)
	c.SubmitUserInput(ctx, inst.ID, nil)
	c.Advance(ctx, inst.ID)

	got, _ := st.Get(ctx, inst.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}

	evs, _ := st.ListEvents(ctx, inst.ID)

	// seq строго монотонный, без дыр
	for i, ev := range evs {
		if ev.Seq != int64(i)+1 {
			t.Errorf("event %d has seq %d", i, ev.Seq)
		}
	}

	// Версия instance равна числу записей; событий ровно столько же
	if int64(len(evs)) != got.Version+1 {
		t.Errorf("expected %d events for version %d (plus create), got %d",
			got.Version+1, got.Version, len(evs))
	}

	// Каждый закоммиченный переход виден в event sink
	if len(sink.Events()) != len(evs) {
		t.Errorf("sink saw %d events, store has %d", len(sink.Events()), len(evs))
	}
}

func TestGetInstance_NotFound(t *testing.T) {
	c, _, _ := newTestCore(t, llcDefinition(), newScriptDispatcher())

	_, err := c.GetInstance(context.Background(), [16]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected not found error")
	}
}
