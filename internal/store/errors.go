package store

import "errors"

// Общие ошибки стора.
var (
	// ErrNotFound — instance не найден.
	ErrNotFound = errors.New("not found")

	// ErrConflict — версия не совпала: конкурентная запись победила.
	// Восстановимо — перечитать и повторить переход.
	ErrConflict = errors.New("version conflict")

	// ErrAlreadyExists — instance с таким ID уже существует.
	ErrAlreadyExists = errors.New("already exists")
)
