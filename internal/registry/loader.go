package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Kontora/internal/domain"
)

// LoadDir загружает definitions из YAML-файлов каталога.
//
// Каждый файл содержит один WorkflowDefinition. Файлы с другими
// расширениями игнорируются. Ошибка в любом файле — ошибка загрузки:
// невалидный каталог не должен молча пропускаться при старте.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read definitions dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}

		if err := r.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}

	return nil
}

// LoadFile читает один definition из YAML-файла.
func LoadFile(path string) (*domain.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var def domain.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	return &def, nil
}

// Default создаёт registry со встроенными каталогами и, если задан
// KONTORA_DEFINITIONS_DIR, дополняет его definitions из файлов.
func Default() (*Registry, error) {
	r := New()

	for _, def := range Builtin() {
		if err := r.Register(def); err != nil {
			return nil, fmt.Errorf("register builtin %s: %w", def.Type, err)
		}
	}

	if dir := os.Getenv("KONTORA_DEFINITIONS_DIR"); dir != "" {
		if err := r.LoadDir(dir); err != nil {
			return nil, err
		}
	}

	return r, nil
}
