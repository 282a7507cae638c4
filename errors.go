package transfersaga

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// BusinessError represents a business-rule failure that must not be retried
// because retrying cannot change the outcome (e.g. insufficient funds).
type BusinessError struct {
	error
}

// BusinessFailure wraps an error as a non-retryable business failure.
func BusinessFailure(err error) error {
	return &BusinessError{fmt.Errorf("business rule failed: %w", err)}
}

// Businessf creates a non-retryable business failure from a format string.
func Businessf(format string, args ...any) error {
	return &BusinessError{fmt.Errorf(format, args...)}
}

func (e *BusinessError) Unwrap() error { return e.error }

// CancelledError marks the cooperative-cancellation outcome of a run. It is
// not a business failure and must never be persisted as one.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("transfer cancelled: %s", e.Reason)
}

// IsCancelled reports whether err is a cancellation outcome.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// transientSignatures are message fragments that identify infrastructure
// failures worth retrying.
var transientSignatures = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"network",
	"unavailable",
	"temporarily",
}

// businessSignatures are message fragments that identify business failures
// which retrying cannot fix.
var businessSignatures = []string{
	"insufficient funds",
	"invalid account",
	"account not found",
	"invalid amount",
	"validation failed",
}

// IsRetryable classifies an error for the activity gateway. Explicit business
// failures and cancellations are never retried; known transient signatures
// are; everything else defaults to retryable so an intermittent fault is not
// mistaken for a permanent one.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var be *BusinessError
	if errors.As(err, &be) || IsCancelled(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range businessSignatures {
		if strings.Contains(msg, sig) {
			return false
		}
	}
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return true
}

// maxReasonLen bounds failure reasons persisted to external storage so they
// fit the collaborator's status column.
const maxReasonLen = 255

const truncationMarker = "..."

// TruncateReason bounds an error message for persistence. Truncated messages
// carry a marker so operators know the message was cut. The cut lands on a
// rune boundary so the persisted reason stays valid UTF-8.
func TruncateReason(reason string) string {
	if len(reason) <= maxReasonLen {
		return reason
	}
	cut := maxReasonLen - len(truncationMarker)
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut] + truncationMarker
}
