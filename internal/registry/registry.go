package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Kontora/internal/domain"
)

// cronParser — парсер cron-выражений для poll_cron.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Registry — каталог workflow definitions.
//
// Потокобезопасен для чтения; Register вызывается только при старте.
type Registry struct {
	mu sync.RWMutex

	// definitions — type → версии по возрастанию.
	definitions map[string][]*domain.WorkflowDefinition
}

// New создаёт пустой Registry.
func New() *Registry {
	return &Registry{
		definitions: make(map[string][]*domain.WorkflowDefinition),
	}
}

// Register добавляет definition в каталог.
//
// Версия присваивается автоматически (последняя + 1), если не задана.
// Definition валидируется; невалидный definition — ошибка старта процесса.
func (r *Registry) Register(def *domain.WorkflowDefinition) error {
	if err := Validate(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.definitions[def.Type]

	if def.Version == 0 {
		if len(versions) == 0 {
			def.Version = 1
		} else {
			def.Version = versions[len(versions)-1].Version + 1
		}
	}

	for _, existing := range versions {
		if existing.Version == def.Version {
			return fmt.Errorf("%w: %s v%d already registered", ErrInvalidDefinition, def.Type, def.Version)
		}
	}

	versions = append(versions, def)
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	r.definitions[def.Type] = versions

	return nil
}

// Lookup возвращает последнюю версию definition для типа процесса.
func (r *Registry) Lookup(workflowType string) (*domain.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.definitions[workflowType]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflowType, workflowType)
	}
	return versions[len(versions)-1], nil
}

// Get возвращает конкретную версию definition.
// Используется для instances, привязанных к старым версиям.
func (r *Registry) Get(workflowType string, version int) (*domain.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.definitions[workflowType]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflowType, workflowType)
	}
	for _, def := range versions {
		if def.Version == version {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%w: %s v%d", ErrUnknownVersion, workflowType, version)
}

// StepAt возвращает шаг definition по индексу.
func StepAt(def *domain.WorkflowDefinition, index int) (*domain.StepDefinition, error) {
	if index < 0 || index >= len(def.Steps) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(def.Steps))
	}
	return &def.Steps[index], nil
}

// Types возвращает отсортированный список зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.definitions))
	for t := range r.definitions {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate выполняет полную валидацию definition.
//
// Проверяет:
//   - непустой type и непустой список шагов
//   - уникальность имён шагов
//   - корректность ActionKind
//   - разрешимость compensate_with ссылок
//   - валидность poll_cron выражений
func Validate(def *domain.WorkflowDefinition) error {
	if def.Type == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidDefinition)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidDefinition, def.Type)
	}

	names := make(map[string]bool, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]

		if step.Name == "" {
			return fmt.Errorf("%w: %s step %d has empty name", ErrInvalidDefinition, def.Type, i)
		}
		if names[step.Name] {
			return fmt.Errorf("%w: %s has duplicate step %q", ErrInvalidDefinition, def.Type, step.Name)
		}
		names[step.Name] = true

		if !step.Kind.Valid() {
			return fmt.Errorf("%w: step %q has unknown kind %q", ErrInvalidDefinition, step.Name, step.Kind)
		}

		if step.PollCron != "" {
			if step.Kind != domain.ActionExternalPoll {
				return fmt.Errorf("%w: step %q sets poll_cron but is not EXTERNAL_POLL", ErrInvalidDefinition, step.Name)
			}
			if _, err := cronParser.Parse(step.PollCron); err != nil {
				return fmt.Errorf("%w: step %q poll_cron: %v", ErrInvalidDefinition, step.Name, err)
			}
		}

		if step.Retry.MaxAttempts < 0 || step.Retry.InitialDelayMs < 0 || step.Retry.MaxDelayMs < 0 {
			return fmt.Errorf("%w: step %q has negative retry values", ErrInvalidDefinition, step.Name)
		}
	}

	// Ссылки компенсации проверяем вторым проходом: компенсирующий шаг
	// может быть объявлен позже по списку.
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.CompensateWith == "" {
			continue
		}
		if !names[step.CompensateWith] {
			return fmt.Errorf("%w: step %q compensates with unknown step %q",
				ErrInvalidDefinition, step.Name, step.CompensateWith)
		}
		if step.CompensateWith == step.Name {
			return fmt.Errorf("%w: step %q compensates with itself", ErrInvalidDefinition, step.Name)
		}
	}

	return nil
}
