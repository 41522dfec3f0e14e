package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// As re-exports the standard library helper so callers of this package do
// not need a second errors import to unwrap an AppError.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryClient   ErrorCategory = "client"
	CategoryServer   ErrorCategory = "server"
	CategoryExternal ErrorCategory = "external"
)

// Common error codes
const (
	// Client errors (4xx), never retried by the task scheduler
	CodeValidationError   = "VALIDATION_ERROR"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeFileNotFound      = "FILE_NOT_FOUND"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeEmptyInput        = "EMPTY_INPUT"
	CodeItemNotFound      = "ITEM_NOT_FOUND"
	CodeTaskNotFound      = "TASK_NOT_FOUND"

	// Server errors (5xx)
	CodeInternalError = "INTERNAL_ERROR"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeChunkingError = "CHUNKING_ERROR"

	// External service errors, transient by default
	CodeRateLimited        = "RATE_LIMITED"
	CodeStorageError       = "STORAGE_ERROR"
	CodeTranscriptionError = "TRANSCRIPTION_ERROR"
	CodeEmbeddingError     = "EMBEDDING_ERROR"
	CodeSummaryError       = "SUMMARY_ERROR"
	CodeExternalTimeout    = "EXTERNAL_TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"-"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// ErrorResponse is the JSON structure returned to clients
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the error details
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// New creates a new AppError
func New(code string, message string, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Client error constructors

func BadRequest(message string) *AppError {
	return New(CodeInvalidRequest, message, CategoryClient, http.StatusBadRequest)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message, CategoryClient, http.StatusBadRequest)
}

func FileNotFound(path string) *AppError {
	return New(CodeFileNotFound, fmt.Sprintf("file not found: %s", path), CategoryClient, http.StatusBadRequest)
}

func UnsupportedFormat(ext string) *AppError {
	return New(CodeUnsupportedFormat, fmt.Sprintf("unsupported media format: %s", ext), CategoryClient, http.StatusBadRequest)
}

func EmptyInput(field string) *AppError {
	return New(CodeEmptyInput, fmt.Sprintf("empty %s provided", field), CategoryClient, http.StatusBadRequest)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), CategoryClient, http.StatusNotFound)
}

func ItemNotFound(itemID string) *AppError {
	return New(CodeItemNotFound, fmt.Sprintf("media item not found: %s", itemID), CategoryClient, http.StatusNotFound)
}

func TaskNotFound(taskID string) *AppError {
	return New(CodeTaskNotFound, fmt.Sprintf("task not found: %s", taskID), CategoryClient, http.StatusNotFound)
}

func InvalidTransition(from, to string) *AppError {
	return New(CodeInvalidRequest, fmt.Sprintf("invalid status transition: %s -> %s", from, to), CategoryClient, http.StatusConflict)
}

// Server error constructors

func InternalError(message string) *AppError {
	return New(CodeInternalError, message, CategoryServer, http.StatusInternalServerError)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message, CategoryServer, http.StatusInternalServerError)
}

// ChunkingError covers ffprobe/ffmpeg failures while splitting oversized
// media. Categorized as a retryable server error: the tool may have been
// transiently unavailable, so the attempt counts against the retry budget.
func ChunkingError(message string) *AppError {
	return New(CodeChunkingError, message, CategoryServer, http.StatusInternalServerError)
}

// External service error constructors

func RateLimited(service string) *AppError {
	return New(CodeRateLimited, fmt.Sprintf("%s rate limit exceeded", service), CategoryExternal, http.StatusTooManyRequests)
}

func StorageError(message string) *AppError {
	return New(CodeStorageError, message, CategoryExternal, http.StatusBadGateway)
}

func TranscriptionError(message string) *AppError {
	return New(CodeTranscriptionError, message, CategoryExternal, http.StatusBadGateway)
}

func EmbeddingError(message string) *AppError {
	return New(CodeEmbeddingError, message, CategoryExternal, http.StatusBadGateway)
}

func SummaryError(message string) *AppError {
	return New(CodeSummaryError, message, CategoryExternal, http.StatusBadGateway)
}

func ExternalTimeout(service string) *AppError {
	return New(CodeExternalTimeout, fmt.Sprintf("%s request timed out", service), CategoryExternal, http.StatusGatewayTimeout)
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, requestID string, err error) {
	var appErr *AppError

	switch e := err.(type) {
	case *AppError:
		appErr = e
	default:
		// Wrap unknown errors as internal errors
		appErr = InternalError("an unexpected error occurred").WithCause(err)
	}

	resp := ErrorResponse{
		Error: ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: requestID,
			Details:   appErr.Details,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a JSON response with the request ID header
func WriteJSON(w http.ResponseWriter, requestID string, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// IsRetryable returns true if the error is worth another attempt
func IsRetryable(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}

	// External service errors are typically retryable
	if appErr.Category == CategoryExternal {
		return true
	}

	// Server errors may be retryable (except database errors)
	if appErr.Category == CategoryServer {
		return appErr.Code != CodeDatabaseError
	}

	return false
}

// IsValidation returns true if the error is a client/validation error that
// must fail the owning stage immediately without consuming further retries
func IsValidation(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Category == CategoryClient
}

// IsExternalError returns true if the error is an external service error
func IsExternalError(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Category == CategoryExternal
}
