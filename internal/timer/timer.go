package timer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Kontora/internal/mq"
	"github.com/shaiso/Kontora/internal/store"
	"github.com/shaiso/Kontora/internal/telemetry"
)

// Service — сервис durable таймеров.
type Service struct {
	timers    store.TimerStore
	publisher *mq.Publisher
	logger    *slog.Logger
	batchSize int

	now func() time.Time
}

// Config — конфигурация Service.
type Config struct {
	Timers    store.TimerStore
	Publisher *mq.Publisher
	Logger    *slog.Logger
	BatchSize int // таймеров за один тик (default: 100)
}

// New создаёт Service.
func New(cfg Config) *Service {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		timers:    cfg.Timers,
		publisher: cfg.Publisher,
		logger:    logger,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Tick выполняет один тик сервиса.
//
// 1. Находит таймеры с истекшим fire_at
// 2. Отмечает каждый сработавшим (идемпотентно)
// 3. Публикует instances.trigger с причиной "timer"
//
// Ошибка одного таймера не блокирует обработку остальных.
func (s *Service) Tick(ctx context.Context) error {
	now := s.now()

	due, err := s.timers.Due(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due timers: %w", err)
	}

	if len(due) == 0 {
		return nil
	}

	s.logger.Debug("found due timers", "count", len(due))

	var fired int
	for i := range due {
		t := &due[i]

		// Отмечаем до публикации: повторная доставка триггера
		// безвредна, повторная публикация при рестарте — тоже
		if err := s.timers.MarkFired(ctx, t.ID); err != nil {
			s.logger.Error("failed to mark timer fired",
				"timer_id", t.ID,
				"instance_id", t.InstanceID,
				"error", err,
			)
			continue
		}

		telemetry.TimersFiredTotal.Inc()
		fired++

		if s.publisher == nil {
			continue
		}

		reason := t.Reason
		if reason == "" {
			reason = mq.TriggerReasonTimer
		}

		if err := s.publisher.PublishTrigger(ctx, t.InstanceID, reason); err != nil {
			// Не фатально: polling fallback core найдёт instance
			// по наступившему next_retry_at
			s.logger.Warn("failed to publish timer trigger",
				"timer_id", t.ID,
				"instance_id", t.InstanceID,
				"error", err,
			)
		}
	}

	s.logger.Info("timer tick completed", "due", len(due), "fired", fired)

	return nil
}

// Run крутит Tick с заданным интервалом до отмены контекста.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("timer tick failed", "error", err)
			}
		}
	}
}
