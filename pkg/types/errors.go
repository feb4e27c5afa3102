// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"strings"
)

// Service names used in ServiceError and for rate limiting.
const (
	ServiceEmbedding  = "embedding"
	ServiceCitation   = "citation"
	ServiceCompletion = "completion"
	ServiceConversion = "conversion"
)

// ParseError reports an unreadable or unsupported input document.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ServiceError reports a failed call to an external service. Transient
// errors (network failures, 429, 5xx, attempt timeouts) may be retried.
type ServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s service", e.Service)
	if e.Op != "" {
		fmt.Fprintf(&b, " %s", e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error { return e.Err }

// EmbeddingServiceError wraps a failure of the embedding service.
func EmbeddingServiceError(op string, err error, transient bool) *ServiceError {
	return &ServiceError{Service: ServiceEmbedding, Op: op, Err: err, Transient: transient}
}

// CitationServiceError wraps a failure of the completion service while
// selecting citations.
func CitationServiceError(op string, err error) *ServiceError {
	se := &ServiceError{Service: ServiceCitation, Op: op, Err: err}
	var inner *ServiceError
	if errors.As(err, &inner) {
		se.StatusCode = inner.StatusCode
		se.Transient = inner.Transient
	}
	return se
}

// CompletionServiceError wraps a failure of a generative completion service.
func CompletionServiceError(op string, err error, transient bool) *ServiceError {
	return &ServiceError{Service: ServiceCompletion, Op: op, Err: err, Transient: transient}
}

// ConversionServiceError wraps a failure of a document conversion service.
func ConversionServiceError(op string, err error, transient bool) *ServiceError {
	return &ServiceError{Service: ServiceConversion, Op: op, Err: err, Transient: transient}
}

// IsService reports whether err is a ServiceError for the named service.
func IsService(err error, service string) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Service == service
}

// IsTransient reports whether err is a retryable ServiceError.
func IsTransient(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Transient
}

// IsTransientStatus reports whether an HTTP status warrants a retry.
func IsTransientStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// MalformedResponseError reports a service response that could not be
// parsed into the expected structure.
type MalformedResponseError struct {
	Service string
	Raw     string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %v", e.Service, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ValidationError reports a value outside its allowed set, such as a
// selected proposition id that was not among the candidates.
type ValidationError struct {
	Field   string
	Value   string
	Allowed []string
}

func (e *ValidationError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s %q: allowed %s", e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

// StageError records the stage at which a document halted.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
