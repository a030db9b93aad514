package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Kontora/internal/domain"
)

// PostgresStore — Postgres-реализация Store и TimerStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create сохраняет новый instance и событие "created" в одной транзакции.
func (s *PostgresStore) Create(ctx context.Context, inst *domain.WorkflowInstance) error {
	factsJSON, handleJSON, err := marshalInstanceJSON(inst)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO instances (id, workflow_type, definition_version, current_step_index,
		                       status, facts, attempt, attempt_seq, pending_handle,
		                       next_retry_at, error, version, last_updated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = tx.Exec(ctx, query,
		inst.ID,
		inst.WorkflowType,
		inst.DefinitionVersion,
		inst.CurrentStepIndex,
		inst.Status,
		factsJSON,
		inst.Attempt,
		inst.AttemptSeq,
		handleJSON,
		inst.NextRetryAt,
		nullString(inst.Error),
		inst.Version,
		inst.LastUpdated,
		inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}

	event := &domain.StepEvent{
		InstanceID: inst.ID,
		StepName:   "",
		Outcome:    domain.OutcomeCreated,
		Status:     inst.Status,
		Attempt:    0,
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Get возвращает instance по ID.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	query := instanceSelect + ` WHERE id = $1`
	return scanInstance(s.pool.QueryRow(ctx, query, id))
}

// CompareAndSwap выполняет атомарный переход instance.
//
// Instance перечитывается внутри транзакции; несовпадение версии —
// ErrConflict без записи. Успешная запись инкрементирует version
// и добавляет ровно один StepEvent.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutation) (*domain.WorkflowInstance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inst, err := scanInstance(tx.QueryRow(ctx, instanceSelect+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	if inst.Version != expectedVersion {
		return nil, fmt.Errorf("%w: have %d, expected %d", ErrConflict, inst.Version, expectedVersion)
	}

	event, err := mutate(inst)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("mutation produced no event")
	}

	inst.Version++
	inst.LastUpdated = time.Now()

	factsJSON, handleJSON, err := marshalInstanceJSON(inst)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE instances
		SET current_step_index = $2, status = $3, facts = $4, attempt = $5,
		    attempt_seq = $6, pending_handle = $7, next_retry_at = $8,
		    error = $9, version = $10, last_updated = $11
		WHERE id = $1 AND version = $12
	`
	result, err := tx.Exec(ctx, query,
		inst.ID,
		inst.CurrentStepIndex,
		inst.Status,
		factsJSON,
		inst.Attempt,
		inst.AttemptSeq,
		handleJSON,
		inst.NextRetryAt,
		nullString(inst.Error),
		inst.Version,
		inst.LastUpdated,
		expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		// FOR UPDATE уже сериализует конкурентов, но страхуемся
		// на случай записи мимо CAS.
		return nil, ErrConflict
	}

	event.InstanceID = inst.ID
	event.Status = inst.Status
	if err := insertEvent(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inst, nil
}

// ListEvents возвращает историю instance в порядке seq.
func (s *PostgresStore) ListEvents(ctx context.Context, id uuid.UUID) ([]domain.StepEvent, error) {
	query := `
		SELECT id, instance_id, seq, step_name, outcome, status, attempt, error, created_at
		FROM instance_events
		WHERE instance_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.StepEvent
	for rows.Next() {
		var ev domain.StepEvent
		var evError *string
		err := rows.Scan(&ev.ID, &ev.InstanceID, &ev.Seq, &ev.StepName,
			&ev.Outcome, &ev.Status, &ev.Attempt, &evError, &ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if evError != nil {
			ev.Error = *evError
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListByStatus возвращает instances в указанном статусе (старые первыми).
func (s *PostgresStore) ListByStatus(ctx context.Context, status domain.InstanceStatus, limit int) ([]domain.WorkflowInstance, error) {
	query := instanceSelect + `
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	return s.queryInstances(ctx, query, status, limitArg(limit))
}

// ListRetryDue возвращает instances с наступившим next_retry_at.
func (s *PostgresStore) ListRetryDue(ctx context.Context, now time.Time, limit int) ([]domain.WorkflowInstance, error) {
	query := instanceSelect + `
		WHERE next_retry_at IS NOT NULL AND next_retry_at <= $1
		  AND status IN ('WAITING_ON_ACTION', 'FAILING')
		ORDER BY next_retry_at ASC
		LIMIT $2
	`
	return s.queryInstances(ctx, query, now, limitArg(limit))
}

// limitArg переводит limit в параметр для LIMIT: неположительное значение
// означает «без ограничения», а LIMIT NULL в Postgres и есть LIMIT ALL.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

// --- TimerStore ---

// Schedule сохраняет таймер.
func (s *PostgresStore) Schedule(ctx context.Context, timer *Timer) error {
	query := `
		INSERT INTO timers (id, instance_id, fire_at, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, query,
		timer.ID, timer.InstanceID, timer.FireAt, nullString(timer.Reason), timer.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert timer: %w", err)
	}
	return nil
}

// Due возвращает несработавшие таймеры с наступившим fire_at.
func (s *PostgresStore) Due(ctx context.Context, now time.Time, limit int) ([]Timer, error) {
	query := `
		SELECT id, instance_id, fire_at, reason, fired_at, created_at
		FROM timers
		WHERE fired_at IS NULL AND fire_at <= $1
		ORDER BY fire_at ASC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, now, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list due timers: %w", err)
	}
	defer rows.Close()

	var timers []Timer
	for rows.Next() {
		var t Timer
		var reason *string
		if err := rows.Scan(&t.ID, &t.InstanceID, &t.FireAt, &reason, &t.FiredAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		if reason != nil {
			t.Reason = *reason
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}

// MarkFired отмечает таймер сработавшим. Идемпотентно.
func (s *PostgresStore) MarkFired(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE timers SET fired_at = now() WHERE id = $1 AND fired_at IS NULL`
	_, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark timer fired: %w", err)
	}
	return nil
}

// --- Helpers ---

const instanceSelect = `
	SELECT id, workflow_type, definition_version, current_step_index, status,
	       facts, attempt, attempt_seq, pending_handle, next_retry_at,
	       error, version, last_updated, created_at
	FROM instances`

func (s *PostgresStore) queryInstances(ctx context.Context, query string, args ...any) ([]domain.WorkflowInstance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// scanInstance сканирует одну строку в WorkflowInstance.
func scanInstance(row pgx.Row) (*domain.WorkflowInstance, error) {
	var inst domain.WorkflowInstance
	var factsJSON, handleJSON []byte
	var instError *string

	err := row.Scan(
		&inst.ID,
		&inst.WorkflowType,
		&inst.DefinitionVersion,
		&inst.CurrentStepIndex,
		&inst.Status,
		&factsJSON,
		&inst.Attempt,
		&inst.AttemptSeq,
		&handleJSON,
		&inst.NextRetryAt,
		&instError,
		&inst.Version,
		&inst.LastUpdated,
		&inst.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	if factsJSON != nil {
		if err := json.Unmarshal(factsJSON, &inst.Facts); err != nil {
			return nil, fmt.Errorf("unmarshal facts: %w", err)
		}
	}
	if handleJSON != nil {
		var handle domain.TaskHandle
		if err := json.Unmarshal(handleJSON, &handle); err != nil {
			return nil, fmt.Errorf("unmarshal pending handle: %w", err)
		}
		inst.PendingHandle = &handle
	}
	if instError != nil {
		inst.Error = *instError
	}

	return &inst, nil
}

// insertEvent добавляет StepEvent с очередным seq в рамках транзакции.
func insertEvent(ctx context.Context, tx pgx.Tx, event *domain.StepEvent) error {
	event.ID = uuid.New()
	event.CreatedAt = time.Now()

	query := `
		INSERT INTO instance_events (id, instance_id, seq, step_name, outcome, status, attempt, error, created_at)
		VALUES ($1, $2,
		        (SELECT COALESCE(MAX(seq), 0) + 1 FROM instance_events WHERE instance_id = $2),
		        $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		event.ID,
		event.InstanceID,
		event.StepName,
		event.Outcome,
		event.Status,
		event.Attempt,
		nullString(event.Error),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// marshalInstanceJSON сериализует JSONB-поля instance.
func marshalInstanceJSON(inst *domain.WorkflowInstance) (facts, handle []byte, err error) {
	facts, err = json.Marshal(inst.Facts)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal facts: %w", err)
	}
	if inst.PendingHandle != nil {
		handle, err = json.Marshal(inst.PendingHandle)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal pending handle: %w", err)
		}
	}
	return facts, handle, nil
}
