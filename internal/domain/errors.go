package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the hub. Resolution and dispatch sentinels are
// surfaced to the transport layer inside RoutingOutcome; configuration
// sentinels distinguish fatal-for-key from retryable build failures.
var (
	// Resolution errors.
	ErrNoMapping        = fmt.Errorf("no tenant/domain mapping")
	ErrFallbackDisabled = fmt.Errorf("fallback routing disabled")

	// Configuration / build errors.
	ErrUnknownCrewSet    = fmt.Errorf("crew set not declared for domain")
	ErrMalformedConfig   = fmt.Errorf("malformed domain configuration")
	ErrConfigUnavailable = fmt.Errorf("config store unavailable")
	ErrDomainNotFound    = fmt.Errorf("domain configuration not found")

	// Dispatch errors.
	ErrDispatchFailed  = fmt.Errorf("crew dispatch failed")
	ErrDispatchTimeout = fmt.Errorf("crew dispatch timed out")
	ErrRateLimited     = fmt.Errorf("tenant rate limit exceeded")

	// Infrastructure errors — absorbed, never fatal to processMessage.
	ErrCacheUnavailable = fmt.Errorf("cache tier unavailable")

	// Context errors.
	ErrContextNotFound = fmt.Errorf("conversation context not found")

	// Input errors.
	ErrInvalidMessage = fmt.Errorf("invalid inbound message")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "CrewFactory.GetOrBuild")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is transient: retrying the same
// message may succeed without a configuration fix. Unknown crew sets and
// malformed config are deliberately excluded — retrying those cannot help.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrConfigUnavailable) ||
		errors.Is(err, ErrDispatchFailed) ||
		errors.Is(err, ErrDispatchTimeout) ||
		errors.Is(err, ErrCacheUnavailable) ||
		errors.Is(err, ErrRateLimited)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNoMapping         ErrorCode = "NO_MAPPING"
	CodeFallbackDisabled  ErrorCode = "FALLBACK_DISABLED"
	CodeUnknownCrewSet    ErrorCode = "UNKNOWN_CREW_SET"
	CodeMalformedConfig   ErrorCode = "MALFORMED_CONFIG"
	CodeConfigUnavailable ErrorCode = "CONFIG_UNAVAILABLE"
	CodeDomainNotFound    ErrorCode = "DOMAIN_NOT_FOUND"
	CodeDispatchFailed    ErrorCode = "DISPATCH_FAILED"
	CodeDispatchTimeout   ErrorCode = "DISPATCH_TIMEOUT"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
	CodeCacheUnavailable  ErrorCode = "CACHE_UNAVAILABLE"
	CodeContextNotFound   ErrorCode = "CONTEXT_NOT_FOUND"
	CodeInvalidMessage    ErrorCode = "INVALID_MESSAGE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNoMapping:         CodeNoMapping,
	ErrFallbackDisabled:  CodeFallbackDisabled,
	ErrUnknownCrewSet:    CodeUnknownCrewSet,
	ErrMalformedConfig:   CodeMalformedConfig,
	ErrConfigUnavailable: CodeConfigUnavailable,
	ErrDomainNotFound:    CodeDomainNotFound,
	ErrDispatchFailed:    CodeDispatchFailed,
	ErrDispatchTimeout:   CodeDispatchTimeout,
	ErrRateLimited:       CodeRateLimited,
	ErrCacheUnavailable:  CodeCacheUnavailable,
	ErrContextNotFound:   CodeContextNotFound,
	ErrInvalidMessage:    CodeInvalidMessage,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
