package timer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Kontora/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	s := New(Config{
		Timers: st,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return s, st
}

func TestTick_FiresDueTimers(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	due := &store.Timer{
		ID:         uuid.New(),
		InstanceID: uuid.New(),
		FireAt:     now.Add(-time.Minute),
		CreatedAt:  now.Add(-time.Hour),
	}
	future := &store.Timer{
		ID:         uuid.New(),
		InstanceID: uuid.New(),
		FireAt:     now.Add(time.Hour),
		CreatedAt:  now,
	}
	st.Schedule(ctx, due)
	st.Schedule(ctx, future)

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// Сработавший таймер больше не due
	remaining, _ := st.Due(ctx, now, 10)
	if len(remaining) != 0 {
		t.Errorf("fired timer must not be due again, got %d", len(remaining))
	}

	// Будущий таймер не тронут
	later, _ := st.Due(ctx, now.Add(2*time.Hour), 10)
	if len(later) != 1 || later[0].ID != future.ID {
		t.Errorf("future timer must survive, got %v", later)
	}
}

func TestTick_EmptyIsNoop(t *testing.T) {
	s, _ := newTestService(t)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick on empty store: %v", err)
	}
}

func TestTick_Idempotent(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	st.Schedule(ctx, &store.Timer{
		ID:         uuid.New(),
		InstanceID: uuid.New(),
		FireAt:     now.Add(-time.Second),
		CreatedAt:  now.Add(-time.Minute),
	})

	// Повторный тик не находит уже сработавший таймер
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	remaining, _ := st.Due(ctx, now, 10)
	if len(remaining) != 0 {
		t.Errorf("expected no due timers after ticks, got %d", len(remaining))
	}
}
