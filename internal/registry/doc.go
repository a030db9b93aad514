// Package registry реализует статический каталог workflow definitions.
//
// Registry загружается один раз при старте процесса:
//   - встроенные каталоги штатов (TX_LLC, CA_LLC, DE_LLC)
//   - YAML-файлы из каталога KONTORA_DEFINITIONS_DIR (опционально)
//
// В рантайме registry read-only. Definitions версионированы:
// instance навсегда привязывается к версии, действовавшей при его
// создании, поэтому обновления registry не меняют семантику
// уже запущенных instances.
package registry
