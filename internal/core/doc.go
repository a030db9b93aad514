// Package core — машина состояний workflow instances.
//
// Core — единственный компонент, который мутирует instances. Каждый
// переход — это атомарный compare-and-swap в сторе: прочитать instance,
// вычислить новое состояние, записать с проверкой версии. Проигравший
// конкурентную запись перечитывает и повторяет; после нескольких
// неудач операция возвращает ErrBusy, и вызывающий (очередь, HTTP)
// повторяет доставку позже.
//
// Core получает работу из двух источников:
//   - Очереди RabbitMQ: instances.trigger (created / user_input / timer)
//     и actions.callback (результаты automation-задач)
//   - Polling fallback: периодический обход PENDING instances и
//     instances с наступившим next_retry_at — подстраховка на случай
//     потери сообщений или простоя таймер-сервиса
//
// Поздние callbacks вытесненных попыток отбрасываются по несовпадению
// attempt_seq в handle — без записи в историю, только лог и метрика.
package core
