package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Kontora/internal/domain"
	"github.com/shaiso/Kontora/internal/events"
	"github.com/shaiso/Kontora/internal/mq"
	"github.com/shaiso/Kontora/internal/registry"
	"github.com/shaiso/Kontora/internal/store"
)

// Дефолтные значения конфигурации.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100

	// casMaxRetries — сколько раз переиграть проигранный
	// compare-and-swap, прежде чем вернуть ErrBusy.
	casMaxRetries = 3
)

// Dispatcher — контракт вызова коллабораторов для шага.
type Dispatcher interface {
	Dispatch(ctx context.Context, step *domain.StepDefinition, handle domain.TaskHandle, facts map[string]any) domain.ActionOutcome
}

// Core продвигает workflow instances по их definitions.
//
// Core:
//   - Получает триггеры продвижения из очереди instances.trigger
//   - Получает результаты automation-задач из очереди actions.callback
//   - Периодически обходит PENDING instances и наступившие retry
//     (polling fallback)
//   - Выполняет переходы машины состояний через compare-and-swap
//   - Публикует статусные события после каждого перехода
type Core struct {
	store    store.Store
	timers   store.TimerStore
	registry *registry.Registry
	disp     Dispatcher
	sink     events.Sink

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Consumers
	triggerConsumer  *mq.Consumer
	callbackConsumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex

	now func() time.Time
}

// Config — конфигурация Core.
type Config struct {
	Store    store.Store
	Timers   store.TimerStore
	Registry *registry.Registry

	// Dispatcher обязателен для выполнения шагов. Процессы, которые
	// только создают instances и подают ввод (API), могут его не задавать.
	Dispatcher Dispatcher

	// Sink — приёмник статусных событий. Default: events.NopSink.
	Sink events.Sink

	// MQ. Без соединения Core работает в polling-only режиме.
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал fallback-обхода (default: 10s)
	BatchSize    int           // instances за один обход (default: 100)

	Logger *slog.Logger
}

// New создаёт Core.
func New(cfg Config) *Core {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sink := cfg.Sink
	if sink == nil {
		sink = events.NopSink{}
	}

	return &Core{
		store:        cfg.Store,
		timers:       cfg.Timers,
		registry:     cfg.Registry,
		disp:         cfg.Dispatcher,
		sink:         sink,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
		now:          time.Now,
	}
}

// Start запускает Core.
//
// Запускает:
//   - Consumer для instances.trigger
//   - Consumer для actions.callback
//   - Polling горутину для fallback
func (c *Core) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	c.logger.Info("starting core",
		"poll_interval", c.pollInterval,
		"batch_size", c.batchSize,
	)

	if c.conn != nil {
		c.triggerConsumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueInstanceTriggers),
			Handler:  c.handleTrigger,
			Prefetch: 10,
		})

		c.callbackConsumer = mq.NewConsumer(c.conn, c.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueActionCallbacks),
			Handler:  c.handleCallback,
			Prefetch: 10,
		})

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.triggerConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("trigger consumer error", "error", err)
			}
		}()

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.callbackConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("callback consumer error", "error", err)
			}
		}()
	} else {
		c.logger.Warn("no MQ connection, running in polling-only mode")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pollLoop(ctx)
	}()

	c.logger.Info("core started")
	return nil
}

// Stop останавливает Core.
func (c *Core) Stop() {
	c.stoppedMu.Lock()
	c.stopped = true
	c.stoppedMu.Unlock()

	c.logger.Info("stopping core...")

	if c.cancelFunc != nil {
		c.cancelFunc()
	}

	if c.triggerConsumer != nil {
		c.triggerConsumer.Stop()
	}
	if c.callbackConsumer != nil {
		c.callbackConsumer.Stop()
	}

	c.wg.Wait()

	c.logger.Info("core stopped")
}

// IsStopped проверяет, остановлен ли Core.
func (c *Core) IsStopped() bool {
	c.stoppedMu.RLock()
	defer c.stoppedMu.RUnlock()
	return c.stopped
}

// handleTrigger обрабатывает сообщение instances.trigger.
func (c *Core) handleTrigger(ctx context.Context, msg *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TriggerPayload](&msg.Message)
	if err != nil {
		c.logger.Error("invalid trigger payload", "error", err)
		// Некорректный payload бесполезно переигрывать
		return nil
	}

	logger := c.logger.With("instance_id", payload.InstanceID, "reason", payload.Reason)
	logger.Debug("trigger received")

	if err := c.Advance(ctx, payload.InstanceID); err != nil {
		switch {
		case errors.Is(err, ErrInvalidTransition):
			// Терминальный instance — триггер отброшен
			logger.Debug("trigger for finished instance ignored")
			return nil
		case errors.Is(err, store.ErrNotFound):
			logger.Warn("trigger for unknown instance ignored")
			return nil
		default:
			return err
		}
	}

	return nil
}

// handleCallback обрабатывает сообщение actions.callback.
func (c *Core) handleCallback(ctx context.Context, msg *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.CallbackPayload](&msg.Message)
	if err != nil {
		c.logger.Error("invalid callback payload", "error", err)
		return nil
	}

	if err := c.HandleActionCallback(ctx, payload.Handle, payload.Outcome); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("callback for unknown instance ignored",
				"instance_id", payload.Handle.InstanceID)
			return nil
		}
		return err
	}

	return nil
}

// pollLoop — цикл polling fallback.
func (c *Core) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	// Первый обход сразу при старте: подхватываем instances,
	// созданные или назревшие пока core был выключен
	c.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// poll выполняет один цикл fallback-обхода.
func (c *Core) poll(ctx context.Context) {
	pending, err := c.store.ListByStatus(ctx, domain.StatusPending, c.batchSize)
	if err != nil {
		c.logger.Error("failed to list pending instances", "error", err)
		return
	}

	due, err := c.store.ListRetryDue(ctx, c.now(), c.batchSize)
	if err != nil {
		c.logger.Error("failed to list due instances", "error", err)
		return
	}

	if len(pending)+len(due) == 0 {
		return
	}

	c.logger.Debug("poll found instances", "pending", len(pending), "due", len(due))

	seen := make(map[uuid.UUID]bool, len(pending)+len(due))
	for _, batch := range [][]domain.WorkflowInstance{pending, due} {
		for i := range batch {
			id := batch[i].ID
			if seen[id] {
				continue
			}
			seen[id] = true

			if err := c.Advance(ctx, id); err != nil &&
				!errors.Is(err, ErrInvalidTransition) &&
				!errors.Is(err, ErrBusy) {
				c.logger.Error("failed to advance instance from poll",
					"instance_id", id,
					"error", err,
				)
			}
		}
	}
}
