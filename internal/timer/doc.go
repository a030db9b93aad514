// Package timer реализует сервис durable таймеров.
//
// Core ставит таймер, когда instance нужно разбудить в будущем:
// запланированный retry, повторный опрос внешней системы, таймаут
// ожидания пользователя. Сервис периодически находит таймеры
// с истекшим fire_at, отмечает их сработавшими и публикует
// instances.trigger с причиной "timer".
//
// Таймеры переживают рестарт: они лежат в той же БД, что и instances.
// Потеря сообщения или простой сервиса не фатальны — polling fallback
// core сам находит instances с наступившим next_retry_at.
//
// Leader Election:
//
// Timer не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
// Метод Tick() вызывается только лидером.
package timer
