package registry

import "errors"

// Ошибки registry.
var (
	// ErrUnknownWorkflowType — тип процесса не найден в каталоге.
	ErrUnknownWorkflowType = errors.New("unknown workflow type")

	// ErrUnknownVersion — версия definition не найдена.
	ErrUnknownVersion = errors.New("unknown definition version")

	// ErrIndexOutOfRange — индекс шага за пределами definition.
	ErrIndexOutOfRange = errors.New("step index out of range")

	// ErrInvalidDefinition — definition не прошёл валидацию.
	ErrInvalidDefinition = errors.New("invalid workflow definition")
)
