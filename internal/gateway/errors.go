package gateway

import "fmt"

// Error ошибка вызова Account Service, классифицированная по HTTP-статусу.
// StatusCode == 0 означает сетевую ошибку (запрос не дошел до сервиса).
type Error struct {
	Op         string // Операция гейтвея, в которой произошла ошибка
	StatusCode int    // HTTP-статус ответа Account Service (0 — сетевая ошибка)
	Reason     string // Причина из тела ответа, если удалось разобрать
	Err        error  // Исходная ошибка (для сетевых сбоев)
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("account gateway: %s: %v", e.Op, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("account gateway: %s: status %d: %s", e.Op, e.StatusCode, e.Reason)
	default:
		return fmt.Sprintf("account gateway: %s: status %d", e.Op, e.StatusCode)
	}
}

// Unwrap возвращает исходную ошибку.
func (e *Error) Unwrap() error { return e.Err }

// Transient сообщает, стоит ли повторять вызов.
// Сетевые сбои и 5xx — временные; 4xx (неизвестный токен, уже
// завершенная регистрация) — постоянные, ретрай их не исправит.
func (e *Error) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}
