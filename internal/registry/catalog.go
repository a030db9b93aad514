package registry

import "github.com/shaiso/Kontora/internal/domain"

// Builtin возвращает встроенные каталоги регистраций.
//
// Конфигурация шагов (URL форм, selectors) живёт на стороне
// automation-коллаборатора; definition передаёт ему только код штата
// и тип формы. Здесь — порядок шагов, retry и компенсации.
func Builtin() []*domain.WorkflowDefinition {
	return []*domain.WorkflowDefinition{
		llcFormation("TX_LLC", "Texas LLC formation", "TX"),
		llcFormation("CA_LLC", "California LLC formation", "CA"),
		llcFormation("DE_LLC", "Delaware LLC formation", "DE"),
	}
}

// llcFormation строит типовой процесс оформления LLC для штата.
//
// Последовательность одинакова для всех штатов; различия (формы, сроки
// обработки) инкапсулированы в automation/poll коллабораторах через
// config.state.
func llcFormation(wfType, name, state string) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		Type:        wfType,
		Version:     1,
		Name:        name,
		Description: "State filing, EIN application and confirmation for a new LLC",
		Steps: []domain.StepDefinition{
			{
				Name:          "collect_business_details",
				Kind:          domain.ActionAIQuery,
				ProducesFacts: []string{"business_name", "registered_agent_name", "registered_agent_address", "purpose"},
				Retry:         domain.RetryPolicy{MaxAttempts: 3, InitialDelayMs: 1000, MaxDelayMs: 10000},
				Config: map[string]any{
					"schema": []string{"business_name", "registered_agent_name", "registered_agent_address", "purpose"},
				},
			},
			{
				Name:          "name_check",
				Kind:          domain.ActionAutomationTask,
				RequiredFacts: []string{"business_name"},
				ProducesFacts: []string{"name_available"},
				Retry:         domain.RetryPolicy{MaxAttempts: 3, InitialDelayMs: 5000, MaxDelayMs: 60000},
				TimeoutSec:    600,
				Config:        map[string]any{"state": state, "task": "name_availability"},
			},
			{
				Name:          "confirm_filing_details",
				Kind:          domain.ActionUserInput,
				RequiredFacts: []string{"business_name", "name_available"},
				ProducesFacts: []string{"filing_confirmed"},
			},
			{
				Name:          "state_filing",
				Kind:          domain.ActionAutomationTask,
				RequiredFacts: []string{"business_name", "registered_agent_name", "registered_agent_address", "filing_confirmed"},
				ProducesFacts: []string{"filing_reference"},
				Retry:         domain.RetryPolicy{MaxAttempts: 5, InitialDelayMs: 10000, MaxDelayMs: 300000},
				TimeoutSec:    3600,
				// Отклонённое заявление чаще всего означает проблему
				// с именем — возвращаемся к проверке имени.
				CompensateWith: "name_check",
				Config:         map[string]any{"state": state, "task": "llc_formation_filing"},
			},
			{
				Name:          "filing_status",
				Kind:          domain.ActionExternalPoll,
				RequiredFacts: []string{"filing_reference"},
				ProducesFacts: []string{"filing_approved"},
				Retry:         domain.RetryPolicy{MaxAttempts: 10, InitialDelayMs: 60000, MaxDelayMs: 3600000},
				// Госорган обрабатывает заявления в рабочие часы.
				PollCron: "0 9-17 * * 1-5",
				Timezone: "America/Chicago",
				Config:   map[string]any{"state": state, "endpoint": "filing_status"},
			},
			{
				Name:          "ein_application",
				Kind:          domain.ActionAutomationTask,
				RequiredFacts: []string{"filing_approved", "business_name"},
				ProducesFacts: []string{"ein"},
				SkipWhen:      "ein",
				Retry:         domain.RetryPolicy{MaxAttempts: 3, InitialDelayMs: 30000, MaxDelayMs: 600000},
				TimeoutSec:    3600,
				Config:        map[string]any{"task": "ein_application"},
			},
			{
				Name:          "ein_confirmation",
				Kind:          domain.ActionExternalPoll,
				RequiredFacts: []string{"ein"},
				ProducesFacts: []string{"ein_confirmed"},
				SkipWhen:      "ein_confirmed",
				Retry:         domain.RetryPolicy{MaxAttempts: 10, InitialDelayMs: 300000, MaxDelayMs: 3600000},
				Config:        map[string]any{"endpoint": "ein_status"},
			},
		},
	}
}
