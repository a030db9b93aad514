package core

import (
	"time"

	"github.com/shaiso/Kontora/internal/domain"
)

// Дефолты retry-политики для шагов без явных значений.
const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 5 * time.Minute
)

// retryDelay вычисляет задержку перед retry по номеру попытки.
//
// Экспоненциальный backoff с фактором 2: initial, 2*initial,
// 4*initial, ... с капом на max. Задержка никогда не убывает
// с ростом номера попытки.
func retryDelay(attempt int, policy domain.RetryPolicy) time.Duration {
	initial := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initial <= 0 {
		initial = defaultInitialDelay
	}

	max := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if max <= 0 {
		max = defaultMaxDelay
	}
	if max < initial {
		max = initial
	}

	if attempt < 1 {
		attempt = 1
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}

	if delay > max {
		return max
	}
	return delay
}

// maxAttempts возвращает бюджет попыток шага (минимум одна).
func maxAttempts(policy domain.RetryPolicy) int {
	if policy.MaxAttempts < 1 {
		return 1
	}
	return policy.MaxAttempts
}
