// Package cli реализует инструмент командной строки Kontora.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Kontora API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для просмотра каталога workflows и управления
// instances регистраций.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Kontora API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	workflows, err := client.ListWorkflows()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: kontora instance list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - workflow: list, show
//   - instance: start, list, show, events, input, cancel
//
// Каждая группа создаётся через фабричную функцию (NewWorkflowCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
