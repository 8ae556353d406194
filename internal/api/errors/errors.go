// Пакет errors - конструкторы стандартных ошибок API.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Исключение - POST /upload: он отвечает {"success": false, "message": "..."}.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeGone                = "GONE"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeReconcileInProgress = "RECONCILE_IN_PROGRESS"
	CodeInternalError       = "INTERNAL_ERROR"
)

// errorBody - структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail - детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode - HTTP статус-код, code - машиночитаемый код, message - описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError - 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound - 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Gone - 410 срок жизни ресурса истёк, ресурс удалён.
func Gone(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeGone, message)
}

// Unauthorized - 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden - 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// FileTooLarge - 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// ReconcileInProgress - 409 сверка уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReconcileInProgress, message)
}

// InternalError - 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// uploadFailureBody - тело неуспешного ответа POST /upload.
type uploadFailureBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UploadFailure записывает ответ POST /upload в формате
// {"success": false, "message": "..."}.
func UploadFailure(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(uploadFailureBody{Message: message})
}
