// Package dispatcher вызывает внешних коллабораторов для шагов workflow.
//
// Dispatcher — единственная точка контакта core с внешним миром:
//   - AI_QUERY        → NLU-коллаборатор (extract)
//   - AUTOMATION_TASK → automation-коллаборатор (submit, результат callback'ом)
//   - EXTERNAL_POLL   → опрос статуса внешней системы
//   - USER_INPUT      → без внешнего вызова, сигнал "ждём пользователя"
//
// Dispatcher никогда не блокируется на длительность реального действия:
// automation-задачи возвращают Pending(handle) немедленно, результат
// приходит позже через очередь actions.callback или HTTP webhook.
//
// Идемпотентность поздних callbacks — ответственность core,
// не dispatcher'а.
package dispatcher
