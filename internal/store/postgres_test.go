package store

import "testing"

func TestLimitArg(t *testing.T) {
	// Неположительный limit должен превращаться в LIMIT NULL (без ограничения),
	// а не в LIMIT 0, который вернул бы пустую выборку.
	if got := limitArg(0); got != nil {
		t.Errorf("limitArg(0) = %v, want nil", *got)
	}
	if got := limitArg(-5); got != nil {
		t.Errorf("limitArg(-5) = %v, want nil", *got)
	}

	got := limitArg(25)
	if got == nil || *got != 25 {
		t.Errorf("limitArg(25) = %v, want 25", got)
	}
}
