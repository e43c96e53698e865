// Package errors provides standardized error handling for the answer pipeline.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeClassifierUnusable ErrorCode = "CLASSIFIER_UNUSABLE"
	ErrCodeGeneratorUnusable  ErrorCode = "PLAN_GENERATOR_UNUSABLE"
	ErrCodePlanRejected       ErrorCode = "PLAN_REJECTED"
	ErrCodeToolNotWhitelisted ErrorCode = "TOOL_NOT_WHITELISTED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeEmptyData                ErrorCode = "EMPTY_DATA"

	ErrCodeSessionReadFailed  ErrorCode = "SESSION_READ_FAILED"
	ErrCodeSessionWriteFailed ErrorCode = "SESSION_WRITE_FAILED"

	ErrCodeGenAITimeout ErrorCode = "GENAI_TIMEOUT"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewClassifierUnusableError marks an external classification that cannot be
// trusted. Non-retryable: the caller degrades to rules instead.
func NewClassifierUnusableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeClassifierUnusable,
		Message:   "External classifier output unusable",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGeneratorUnusableError marks an external plan proposal that cannot be
// trusted. Non-retryable: rule synthesis takes over.
func NewGeneratorUnusableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGeneratorUnusable,
		Message:   "External plan generator output unusable",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPlanRejectedError records a plan that failed validation.
func NewPlanRejectedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodePlanRejected,
		Message:   "Plan rejected by validator",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolNotWhitelistedError records a call to a tool outside the registry.
func NewToolNotWhitelistedError(tool string) *StandardError {
	return &StandardError{
		Code:      ErrCodeToolNotWhitelisted,
		Message:   "Tool is not whitelisted",
		Details:   fmt.Sprintf("tool: %s", tool),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(tool string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Query execution error",
		Details:   fmt.Sprintf("tool: %s, error: %s", tool, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryTimeoutError creates a timeout error with the guard duration noted.
func NewQueryTimeoutError(tool string, timeout time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTimeout,
		Message:   fmt.Sprintf("Query exceeded the %s guard, narrow the time range", timeout),
		Details:   fmt.Sprintf("tool: %s", tool),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewEmptyDataError marks a query that ran fine but matched nothing. The data
// is fixed, so retrying cannot help.
func NewEmptyDataError(tool string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEmptyData,
		Message:   "empty data",
		Details:   fmt.Sprintf("tool: %s", tool),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionReadFailedError creates a retryable session store error.
func NewSessionReadFailedError(sessionID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionReadFailed,
		Message:   "Session read error",
		Details:   fmt.Sprintf("sessionId: %s, error: %s", sessionID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionWriteFailedError creates a retryable session store error.
func NewSessionWriteFailedError(sessionID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionWriteFailed,
		Message:   "Session write error",
		Details:   fmt.Sprintf("sessionId: %s, error: %s", sessionID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGenAITimeoutError creates a sidecar timeout error.
func NewGenAITimeoutError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGenAITimeout,
		Message:   "GenAI sidecar timeout",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeSessionReadFailed,
		ErrCodeSessionWriteFailed:
		return 3

	case ErrCodeQueryTimeout:
		return 2

	case ErrCodeGenAITimeout:
		return 1

	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "CLASSIFIER") || strings.Contains(codeStr, "GENERATOR") ||
		strings.Contains(codeStr, "GENAI"):
		return "AI"
	case strings.Contains(codeStr, "PLAN") || strings.Contains(codeStr, "TOOL"):
		return "PLANNING"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") ||
		strings.Contains(codeStr, "DATA"):
		return "DATABASE"
	case strings.Contains(codeStr, "SESSION"):
		return "SESSION"
	default:
		return "OTHER"
	}
}
