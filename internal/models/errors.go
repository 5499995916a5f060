package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError reports bad caller input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ProviderError wraps a failure from an external provider call and
// records whether the class of failure is worth retrying.
type ProviderError struct {
	Provider  string // "ollama", "openai", ...
	Op        string // "embed", "generate", "search", ...
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DimensionMismatchError is a configuration fault: the provider or the
// caller produced a vector whose dimension differs from the collection's.
// Never retried.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// IngestionError reports an unrecoverable ingestion failure along with
// how far the run got. Chunk ids are deterministic, so re-running the
// same ingest after the cause clears converges on the full document.
type IngestionError struct {
	SourceID  string
	Reason    string
	Stored    int
	Requested int
	Err       error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %s (%d/%d chunks stored)", e.SourceID, e.Reason, e.Stored, e.Requested)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// IsRetryable classifies an error as transient (timeouts, unreachable
// services, rate limits, 5xx) or permanent (validation, dimension
// mismatch, content policy, cancellation). Only transient failures are
// retried or trigger generation fallback.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var de *DimensionMismatchError
	if errors.As(err, &de) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	// Provider SDKs surface HTTP failures as opaque strings; match the
	// usual transient markers.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"timeout",
		"rate limit",
		"too many requests",
		"status code: 429",
		"status code: 500",
		"status code: 502",
		"status code: 503",
		"status code: 504",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
