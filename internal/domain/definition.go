package domain

// ActionKind — тип действия, которое выполняет шаг.
type ActionKind string

const (
	// ActionAIQuery — запрос к NLU-коллаборатору: извлечение фактов
	// из накопленного контекста по схеме шага.
	ActionAIQuery ActionKind = "AI_QUERY"

	// ActionAutomationTask — асинхронная задача для automation-коллаборатора
	// (заполнение форм на сайте штата, подача заявления на EIN).
	// Dispatcher возвращает Pending с handle, результат приходит callback'ом.
	ActionAutomationTask ActionKind = "AUTOMATION_TASK"

	// ActionExternalPoll — опрос статуса во внешней системе
	// (обработка заявления государственным органом занимает дни).
	ActionExternalPoll ActionKind = "EXTERNAL_POLL"

	// ActionUserInput — шаг заблокирован до ввода пользователя.
	ActionUserInput ActionKind = "USER_INPUT"
)

// Valid проверяет, что ActionKind — один из известных.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionAIQuery, ActionAutomationTask, ActionExternalPoll, ActionUserInput:
		return true
	default:
		return false
	}
}

// WorkflowDefinition — определение процесса регистрации.
//
// Definition — это "рецепт": упорядоченный список шагов для конкретного
// типа регистрации (например, "TX_LLC" — оформление LLC в Техасе).
// Definitions иммутабельны и версионированы: instance привязывается
// к версии, действовавшей на момент его создания, поэтому обновление
// реестра никогда не меняет семантику уже запущенных instances.
type WorkflowDefinition struct {
	// Type — уникальный тип процесса (например, "TX_LLC", "CA_LLC").
	Type string `json:"type" yaml:"type"`

	// Version — номер версии определения (1, 2, 3, ...).
	Version int `json:"version" yaml:"version"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description — описание назначения процесса.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Steps — упорядоченный список шагов.
	Steps []StepDefinition `json:"steps" yaml:"steps"`
}

// StepDefinition — определение одного шага процесса.
type StepDefinition struct {
	// Name — уникальное имя шага в рамках definition
	// (например, "name_check", "ein_application").
	Name string `json:"name" yaml:"name"`

	// Kind — тип действия.
	Kind ActionKind `json:"kind" yaml:"kind"`

	// RequiredFacts — факты, которые должны быть накоплены до запуска шага.
	RequiredFacts []string `json:"required_facts,omitempty" yaml:"required_facts,omitempty"`

	// ProducesFacts — факты, которые шаг добавляет при успехе.
	ProducesFacts []string `json:"produces_facts,omitempty" yaml:"produces_facts,omitempty"`

	// SkipWhen — имя факта: если факт уже накоплен, шаг пропускается.
	// Например, ein_application пропускается, если "ein" уже есть.
	SkipWhen string `json:"skip_when,omitempty" yaml:"skip_when,omitempty"`

	// Retry — политика повторных попыток.
	Retry RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`

	// TimeoutSec — таймаут выполнения в секундах.
	// Для USER_INPUT таймаут не применяется, если не задан явно.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`

	// CompensateWith — имя шага-компенсации: при исчерпании retry или
	// PermanentFailure instance перематывается на этот шаг вместо Abandoned.
	CompensateWith string `json:"compensate_with,omitempty" yaml:"compensate_with,omitempty"`

	// PollCron — cron-выражение для EXTERNAL_POLL шагов: окно повторного
	// опроса (госорганы обрабатывают заявления в рабочие часы).
	// Если не задано, используется retryAfter из ответа коллаборатора.
	PollCron string `json:"poll_cron,omitempty" yaml:"poll_cron,omitempty"`

	// Timezone — часовой пояс для PollCron. По умолчанию UTC.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// Config — конфигурация для коллаборатора (код штата, URL формы,
	// схема извлечения). Передаётся в dispatcher как есть.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// RetryPolicy — политика повторных попыток шага.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// InitialDelayMs — начальная задержка перед retry в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка (кап экспоненциального backoff).
	MaxDelayMs int `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
}

// StepIndex возвращает индекс шага с данным именем, или -1.
func (d *WorkflowDefinition) StepIndex(name string) int {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return i
		}
	}
	return -1
}

// MissingFacts возвращает required facts шага, отсутствующие в fact map.
func (s *StepDefinition) MissingFacts(facts map[string]any) []string {
	var missing []string
	for _, name := range s.RequiredFacts {
		if _, ok := facts[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
