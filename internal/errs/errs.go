// Package errs defines the error kinds shared by the coordination core.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrIntakeClosed      = errors.New("requests are not being accepted right now")
	ErrQuotaExhausted    = errors.New("weekly cap reached")
	ErrAlreadyClaimed    = errors.New("someone else already claimed this")
	ErrNotEligible       = errors.New("not eligible for this request")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrLotteryInProgress = errors.New("lottery already running for this week")
	ErrConflict          = errors.New("request changed concurrently")
)

// ValidationError carries field-by-field messages for user input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a message for field, keeping the first one.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// TransitionError reports a refused state-machine move.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IntakeClosedError tells the submitter when intake reopens.
type IntakeClosedError struct {
	Category string
	Paused   bool
	OpensAt  time.Time
}

func (e *IntakeClosedError) Error() string {
	if e.Paused {
		return fmt.Sprintf("%s requests are paused", e.Category)
	}
	return fmt.Sprintf("%s requests are closed until %s", e.Category, e.OpensAt.Format("Monday, January 2 at 3:04 PM"))
}

func (e *IntakeClosedError) Unwrap() error { return ErrIntakeClosed }

// Kind names the taxonomy entry for err, used in API responses and logs.
func Kind(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation_failure"
	case errors.Is(err, ErrIntakeClosed):
		return "intake_closed"
	case errors.Is(err, ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrConflict):
		return "already_claimed"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrLotteryInProgress):
		return "lottery_in_progress"
	}
	return "internal"
}
