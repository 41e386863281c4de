package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrProviderUnavailable    = errors.New("provider unavailable")
	ErrProviderRejected       = errors.New("provider rejected")
	ErrReconciliationConflict = errors.New("reconciliation conflict")
	ErrTraceMismatch          = errors.New("trace id does not belong to session")
	ErrNoInventory            = errors.New("no inventory")
	ErrOfferNotFound          = errors.New("offer not found")
	ErrSessionBusy            = errors.New("session is busy")
	ErrSessionConsumed        = errors.New("session already booked")
	ErrBookingNotFound        = errors.New("booking not found")
	ErrInventoryNotFound      = errors.New("inventory record not found")
	ErrInventoryExists        = errors.New("inventory already registered")
	ErrPoolNotFound           = errors.New("budget pool not found")
	ErrSpendRequestNotFound   = errors.New("spend request not found")
	ErrSpendRequestResolved   = errors.New("spend request already resolved")
)

// Invalid wraps ErrValidation with a field-level message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ProviderError carries the provider's own code and message verbatim.
type ProviderError struct {
	Kind    error
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%v: %s: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Kind }

// StepError attaches the session trace id to a failure in one pipeline step.
type StepError struct {
	ProductLine ProductLine
	Step        PipelineState
	TraceID     string
	Err         error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s (trace %s): %v", e.ProductLine, e.Step, e.TraceID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Retryable reports whether err may be retried for a step without risking a
// duplicate reservation.
func Retryable(step PipelineState, err error) bool {
	if !errors.Is(err, ErrProviderUnavailable) {
		return false
	}
	return step == StateSearching || step == StateQuoted
}
