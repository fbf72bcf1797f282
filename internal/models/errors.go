package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Control-plane errors, surfaced directly to callers of the control
// operations. Everything else is recovered inside the pipeline.
var (
	ErrNotFound       = errors.New("run not found")
	ErrAlreadyRunning = errors.New("run already has an active executor")
)

// Query-layer errors.
var (
	// ErrRateLimited means the token wait exceeded the configured bound.
	ErrRateLimited = errors.New("rate limit token wait exceeded")
	// ErrProviderUnavailable means the provider's circuit breaker is open.
	ErrProviderUnavailable = errors.New("provider circuit open")
	// ErrDeferred marks a dispatch batch postponed for a later cycle.
	ErrDeferred = errors.New("dispatch batch deferred")
)

// ValidationError rejects a malformed start request before any entity
// is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrorClass splits unit-level failures into retryable and not.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassPermanent
)

func (c ErrorClass) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

// ProviderError wraps a failure from an external provider with enough
// context for the retry and degradation policy to act on it.
type ProviderError struct {
	Provider string
	Class    ErrorClass
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable provider failure.
func NewTransient(provider string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Class: ClassTransient, Status: status, Err: err}
}

// NewPermanent wraps err as a non-retryable provider failure.
func NewPermanent(provider string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Class: ClassPermanent, Status: status, Err: err}
}

// ClassifyStatus maps an HTTP status to an error class. 429 and 5xx are
// retryable; auth and quota rejections are not.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	case status == 401 || status == 402 || status == 403:
		return ClassPermanent
	default:
		return ClassPermanent
	}
}

// Classify maps an arbitrary error to a class. Unknown errors are treated
// as transient so a blip never silently kills a unit that a retry would
// have saved.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRateLimited) {
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTransient
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "quota") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "forbidden") {
		return ClassPermanent
	}
	return ClassTransient
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return Classify(err) == ClassTransient }

// IsPermanent reports whether err is beyond retrying.
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == ClassPermanent
}
