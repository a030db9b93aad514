package api

import (
	"log/slog"

	"github.com/shaiso/Kontora/internal/core"
	"github.com/shaiso/Kontora/internal/mq"
	"github.com/shaiso/Kontora/internal/registry"
)

// Handler — главный обработчик API с зависимостями.
//
// Все мутации instances идут через core; callbacks коллабораторов
// публикуются в очередь и обрабатываются core-процессом.
type Handler struct {
	core      *core.Core
	registry  *registry.Registry
	publisher *mq.Publisher
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Core      *core.Core
	Registry  *registry.Registry
	Publisher *mq.Publisher
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		core:      cfg.Core,
		registry:  cfg.Registry,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
}
