package dispatcher

import "errors"

// Ошибки dispatcher'а.
var (
	// ErrUnknownActionKind — шаг с неизвестным типом действия.
	ErrUnknownActionKind = errors.New("unknown action kind")

	// ErrCollaborator — инфраструктурная ошибка обращения к коллаборатору.
	ErrCollaborator = errors.New("collaborator request failed")
)
