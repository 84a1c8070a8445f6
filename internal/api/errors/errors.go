// Пакет errors — конструкторы ответов с ошибками в формате Depot.
// Единый формат: {"error": "...", "code": "..."}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, как и в остальных модулях

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeAttestationFailed = "ATTESTATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeDeliveryFailed    = "DELIVERY_FAILED"
	CodeInternalError     = "INTERNAL_ERROR"
)

// errorBody — тело ответа ошибки. Поле error совместимо с клиентами,
// которые читают только текст ошибки.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError записывает ответ ошибки.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: message,
		Code:  code,
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// AttestationFailed — 400 молекула не прошла проверку.
func AttestationFailed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeAttestationFailed, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 неверный токен безопасности.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// DeliveryFailed — 500 уведомление не отправлено.
func DeliveryFailed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeDeliveryFailed, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
