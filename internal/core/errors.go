package core

import "errors"

// Ошибки core.
var (
	// ErrInvalidTransition — операция над instance в несовместимом
	// статусе: триггер для терминального instance, ввод пользователя
	// для instance, который его не ждёт.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrBusy — запись проиграла конкурентные compare-and-swap
	// несколько раз подряд. Операцию следует повторить позже.
	ErrBusy = errors.New("instance busy, try again")

	// errStaleCallback — callback относится к вытесненной попытке.
	// Внутренний сигнал: callback молча отбрасывается.
	errStaleCallback = errors.New("stale callback")
)
