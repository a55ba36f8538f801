// Package errors provides the structured error system for dscache with
// error codes, tier context, and wrapping support.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies a cache failure.
type ErrorCode string

const (
	// ErrCodeCacheFull: the memory tier cannot admit an item even after
	// eviction. Not fatal; a write degrades to disk-only.
	ErrCodeCacheFull ErrorCode = "CACHE_FULL"

	// ErrCodeStorageRead / ErrCodeStorageWrite: durable tier I/O failure.
	// Not fatal; a write degrades to memory-only, a read reports not-found.
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"

	// ErrCodeEncode / ErrCodeDecode: a value cannot be serialized or a
	// record cannot be deserialized. Surfaced on write, miss on read.
	ErrCodeEncode ErrorCode = "ENCODE_FAILED"
	ErrCodeDecode ErrorCode = "DECODE_FAILED"

	// ErrCodeInvalidConfig: construction-time configuration failure.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// ErrCodeBothTiersFailed: both tiers rejected the same operation.
	// This is the only storage failure the orchestrator returns upward.
	ErrCodeBothTiersFailed ErrorCode = "BOTH_TIERS_FAILED"
)

// CacheError is a structured error with a code and operational context.
type CacheError struct {
	Code      ErrorCode
	Component string
	Operation string
	SessionID string
	Key       string
	Message   string
	Cause     error
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" && e.Operation != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
	}
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *CacheError) Unwrap() error { return e.Cause }

// Is matches on error code so sentinel comparison works across instances.
func (e *CacheError) Is(target error) bool {
	var ce *CacheError
	if errors.As(target, &ce) {
		return e.Code == ce.Code
	}
	return false
}

// New creates a CacheError with the given code and message.
func New(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableByDefault(code),
	}
}

// Newf creates a CacheError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return New(code, fmt.Sprintf(format, args...))
}

// WithComponent sets the originating component.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the failed operation.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithSession attaches the (session, key) pair the operation touched.
func (e *CacheError) WithSession(sessionID, key string) *CacheError {
	e.SessionID = sessionID
	e.Key = key
	return e
}

// WithCause sets the underlying cause.
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

func retryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeStorageRead, ErrCodeStorageWrite:
		return true
	default:
		return false
	}
}

// IsCapacity reports whether err is a memory-tier admission failure.
func IsCapacity(err error) bool { return hasCode(err, ErrCodeCacheFull) }

// IsIO reports whether err is a durable-tier I/O failure.
func IsIO(err error) bool {
	return hasCode(err, ErrCodeStorageRead) || hasCode(err, ErrCodeStorageWrite)
}

// IsSerialization reports whether err is an encode or decode failure.
func IsSerialization(err error) bool {
	return hasCode(err, ErrCodeEncode) || hasCode(err, ErrCodeDecode)
}

func hasCode(err error, code ErrorCode) bool {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// Combine builds the both-tiers-failed error returned when neither tier
// could serve a store. Either argument may carry the other as context.
func Combine(op string, memErr, diskErr error) *CacheError {
	return &CacheError{
		Code:      ErrCodeBothTiersFailed,
		Operation: op,
		Message:   fmt.Sprintf("memory: %v; disk: %v", memErr, diskErr),
		Cause:     diskErr,
		Timestamp: time.Now(),
	}
}
