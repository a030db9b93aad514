// Package store реализует durable хранилище workflow instances.
//
// Структура:
//   - db.go        — пул соединений Postgres
//   - store.go     — контракт стора (используется core)
//   - postgres.go  — Postgres-реализация (instances, instance_events, timers)
//   - memory.go    — in-memory реализация с теми же CAS-семантиками (тесты)
//
// Единственный примитив мутации — CompareAndSwap с оптимистичным
// счётчиком версий: из двух конкурентных попыток продвижения одного
// instance побеждает ровно одна, проигравшая получает ErrConflict
// и перечитывает свежее состояние. Каждая успешная запись добавляет
// ровно один StepEvent в append-only историю.
package store
