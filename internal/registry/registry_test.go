package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/Kontora/internal/domain"
)

// validDefinition — минимальный валидный definition для тестов.
func validDefinition(wfType string) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		Type: wfType,
		Steps: []domain.StepDefinition{
			{Name: "collect", Kind: domain.ActionAIQuery},
			{Name: "file", Kind: domain.ActionAutomationTask, CompensateWith: "collect"},
		},
	}
}

func TestRegister_AssignsVersions(t *testing.T) {
	r := New()

	// Версия не задана — присваивается автоматически
	first := validDefinition("TEST_LLC")
	first.Version = 0
	if err := r.Register(first); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if first.Version != 1 {
		t.Errorf("first version = %d, want 1", first.Version)
	}

	second := validDefinition("TEST_LLC")
	second.Version = 0
	if err := r.Register(second); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if second.Version != 2 {
		t.Errorf("second version = %d, want 2", second.Version)
	}

	// Lookup отдаёт последнюю версию
	def, err := r.Lookup("TEST_LLC")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if def.Version != 2 {
		t.Errorf("Lookup version = %d, want 2", def.Version)
	}

	// Get отдаёт конкретную версию
	def, err = r.Get("TEST_LLC", 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if def.Version != 1 {
		t.Errorf("Get version = %d, want 1", def.Version)
	}
}

func TestRegister_DuplicateVersion(t *testing.T) {
	r := New()

	def := validDefinition("TEST_LLC")
	def.Version = 3
	if err := r.Register(def); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	dup := validDefinition("TEST_LLC")
	dup.Version = 3
	if err := r.Register(dup); !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("Register() error = %v, want ErrInvalidDefinition", err)
	}
}

func TestLookup_UnknownType(t *testing.T) {
	r := New()

	if _, err := r.Lookup("NOPE"); !errors.Is(err, ErrUnknownWorkflowType) {
		t.Errorf("Lookup() error = %v, want ErrUnknownWorkflowType", err)
	}
	if _, err := r.Get("NOPE", 1); !errors.Is(err, ErrUnknownWorkflowType) {
		t.Errorf("Get() error = %v, want ErrUnknownWorkflowType", err)
	}
}

func TestGet_UnknownVersion(t *testing.T) {
	r := New()
	if err := r.Register(validDefinition("TEST_LLC")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := r.Get("TEST_LLC", 99); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("Get() error = %v, want ErrUnknownVersion", err)
	}
}

func TestTypes_Sorted(t *testing.T) {
	r := New()
	for _, typ := range []string{"ZZ_LLC", "AA_LLC", "MM_LLC"} {
		if err := r.Register(validDefinition(typ)); err != nil {
			t.Fatalf("Register(%s) error = %v", typ, err)
		}
	}

	types := r.Types()
	want := []string{"AA_LLC", "MM_LLC", "ZZ_LLC"}
	if len(types) != len(want) {
		t.Fatalf("Types() len = %d, want %d", len(types), len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Types()[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestStepAt(t *testing.T) {
	def := validDefinition("TEST_LLC")

	step, err := StepAt(def, 1)
	if err != nil {
		t.Fatalf("StepAt() error = %v", err)
	}
	if step.Name != "file" {
		t.Errorf("step name = %s, want file", step.Name)
	}

	if _, err := StepAt(def, 2); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("StepAt(2) error = %v, want ErrIndexOutOfRange", err)
	}
	if _, err := StepAt(def, -1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("StepAt(-1) error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.WorkflowDefinition)
	}{
		{"empty type", func(d *domain.WorkflowDefinition) { d.Type = "" }},
		{"no steps", func(d *domain.WorkflowDefinition) { d.Steps = nil }},
		{"empty step name", func(d *domain.WorkflowDefinition) { d.Steps[0].Name = "" }},
		{"duplicate step name", func(d *domain.WorkflowDefinition) { d.Steps[1].Name = "collect"; d.Steps[1].CompensateWith = "" }},
		{"unknown kind", func(d *domain.WorkflowDefinition) { d.Steps[0].Kind = "TELEPATHY" }},
		{"unknown compensation target", func(d *domain.WorkflowDefinition) { d.Steps[1].CompensateWith = "nonexistent" }},
		{"self compensation", func(d *domain.WorkflowDefinition) { d.Steps[1].CompensateWith = "file" }},
		{"poll_cron on non-poll step", func(d *domain.WorkflowDefinition) { d.Steps[0].PollCron = "0 9 * * *" }},
		{"negative retry", func(d *domain.WorkflowDefinition) { d.Steps[0].Retry.MaxAttempts = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition("TEST_LLC")
			tt.mutate(def)

			if err := Validate(def); !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("Validate() error = %v, want ErrInvalidDefinition", err)
			}
		})
	}
}

func TestValidate_BadCronExpression(t *testing.T) {
	def := validDefinition("TEST_LLC")
	def.Steps = append(def.Steps, domain.StepDefinition{
		Name:     "poll",
		Kind:     domain.ActionExternalPoll,
		PollCron: "not a cron",
	})

	if err := Validate(def); !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("Validate() error = %v, want ErrInvalidDefinition", err)
	}
}

func TestBuiltin_AllValid(t *testing.T) {
	r := New()
	for _, def := range Builtin() {
		if err := r.Register(def); err != nil {
			t.Errorf("Register(%s) error = %v", def.Type, err)
		}
	}

	// Встроенный каталог покрывает как минимум TX_LLC
	def, err := r.Lookup("TX_LLC")
	if err != nil {
		t.Fatalf("Lookup(TX_LLC) error = %v", err)
	}
	if def.StepIndex("state_filing") < 0 {
		t.Error("TX_LLC has no state_filing step")
	}
	if def.StepIndex("ein_application") < 0 {
		t.Error("TX_LLC has no ein_application step")
	}
}

func TestLoadDir_YAML(t *testing.T) {
	dir := t.TempDir()

	yaml := `
type: NV_LLC
name: Nevada LLC formation
steps:
  - name: collect
    kind: AI_QUERY
    produces_facts: [business_name]
  - name: file
    kind: AUTOMATION_TASK
    required_facts: [business_name]
    retry:
      max_attempts: 5
      initial_delay_ms: 1000
      max_delay_ms: 60000
    compensate_with: collect
`
	if err := os.WriteFile(filepath.Join(dir, "nv_llc.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	// Не-YAML файлы игнорируются
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New()
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}

	def, err := r.Lookup("NV_LLC")
	if err != nil {
		t.Fatalf("Lookup(NV_LLC) error = %v", err)
	}
	if def.Version != 1 {
		t.Errorf("version = %d, want 1", def.Version)
	}
	if len(def.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(def.Steps))
	}
	if def.Steps[1].Retry.MaxAttempts != 5 {
		t.Errorf("retry max_attempts = %d, want 5", def.Steps[1].Retry.MaxAttempts)
	}
	if def.Steps[1].CompensateWith != "collect" {
		t.Errorf("compensate_with = %s, want collect", def.Steps[1].CompensateWith)
	}
}

func TestLoadDir_InvalidDefinitionFails(t *testing.T) {
	dir := t.TempDir()

	// Definition с неизвестным kind не должен молча регистрироваться
	yaml := `
type: BAD_LLC
steps:
  - name: step
    kind: TELEPATHY
`
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New()
	if err := r.LoadDir(dir); err == nil {
		t.Error("LoadDir() expected error for invalid definition")
	}
}
