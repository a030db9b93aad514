package domain

// InstanceStatus — статус выполнения workflow instance.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → (WAITING_ON_ACTION | WAITING_ON_USER) → RUNNING → … → COMPLETED
//	FAILING — транзитный статус при RetryableFailure (retry по backoff или Abandoned)
//	ABANDONED — достижим из любого нетерминального статуса
//	            (отмена пользователем или исчерпанная обработка ошибок)
type InstanceStatus string

const (
	// StatusPending — instance создан, но ещё не начал выполняться.
	StatusPending InstanceStatus = "PENDING"

	// StatusRunning — core выполняет переход для текущего шага.
	StatusRunning InstanceStatus = "RUNNING"

	// StatusWaitingOnAction — instance ждёт внешнего результата:
	// callback от automation, повторный опрос или запланированный retry.
	StatusWaitingOnAction InstanceStatus = "WAITING_ON_ACTION"

	// StatusWaitingOnUser — instance заблокирован до ввода пользователя.
	StatusWaitingOnUser InstanceStatus = "WAITING_ON_USER"

	// StatusFailing — транзитный статус после RetryableFailure,
	// до планирования retry или перехода в ABANDONED.
	StatusFailing InstanceStatus = "FAILING"

	// StatusCompleted — все шаги успешно пройдены.
	StatusCompleted InstanceStatus = "COMPLETED"

	// StatusAbandoned — процесс прекращён: отмена пользователем,
	// исчерпанные retry без компенсации или permanent failure.
	StatusAbandoned InstanceStatus = "ABANDONED"
)

// IsTerminal возвращает true, если статус финальный.
// Терминальный instance не принимает никаких переходов.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusAbandoned:
		return true
	default:
		return false
	}
}

// IsWaiting возвращает true, если instance ждёт внешнего триггера.
func (s InstanceStatus) IsWaiting() bool {
	switch s {
	case StatusWaitingOnAction, StatusWaitingOnUser:
		return true
	default:
		return false
	}
}
