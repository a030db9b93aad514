// Package api реализует HTTP API поверх core.
//
// Структура:
//   - handler.go          — Handler с зависимостями
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — Recovery, Logging
//   - response.go         — унифицированные JSON ответы и ошибки
//   - dto.go              — request/response структуры
//   - workflow_handler.go — каталог workflow definitions
//   - instance_handler.go — жизненный цикл instances
//   - callback_handler.go — HTTP-ingress для callbacks коллабораторов
//
// Формат ответов:
//
//	Успех:  {"data": {...}}
//	Список: {"data": [...], "total": N}
//	Ошибка: {"error": {"code": "NOT_FOUND", "message": "..."}}
package api
