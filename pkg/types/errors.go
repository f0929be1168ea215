package types

import "fmt"

// ErrorKind classifies engine failures so callers can match on the class of
// error without parsing messages.
type ErrorKind string

const (
	KindInvalidSnapshot    ErrorKind = "invalid_snapshot"
	KindInvalidConfig      ErrorKind = "invalid_config"
	KindAllocationMismatch ErrorKind = "allocation_mismatch"
	KindNoPositionData     ErrorKind = "no_position_data"
	KindInsufficientFunds  ErrorKind = "insufficient_funds"
	KindInsufficientShares ErrorKind = "insufficient_shares"
)

// DomainError is the engine's error type. Field names the offending input
// field for validation failures; it is empty for runtime failures.
type DomainError struct {
	Kind    ErrorKind `json:"kind"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any DomainError of the same kind, so errors.Is(err,
// ErrInvalidConfig) works regardless of field or message.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Kind == e.Kind
}

// Sentinel errors for errors.Is matching on kind.
var (
	ErrInvalidSnapshot    = &DomainError{Kind: KindInvalidSnapshot, Message: "invalid snapshot"}
	ErrInvalidConfig      = &DomainError{Kind: KindInvalidConfig, Message: "invalid config"}
	ErrAllocationMismatch = &DomainError{Kind: KindAllocationMismatch, Message: "allocation mismatch"}
	ErrNoPositionData     = &DomainError{Kind: KindNoPositionData, Message: "no position data"}
	ErrInsufficientFunds  = &DomainError{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrInsufficientShares = &DomainError{Kind: KindInsufficientShares, Message: "insufficient shares"}
)

// NewInvalidSnapshot reports a malformed portfolio snapshot.
func NewInvalidSnapshot(field, message string) *DomainError {
	return &DomainError{Kind: KindInvalidSnapshot, Field: field, Message: message}
}

// NewInvalidConfig reports a malformed request or configuration.
func NewInvalidConfig(field, message string) *DomainError {
	return &DomainError{Kind: KindInvalidConfig, Field: field, Message: message}
}

// NewAllocationMismatch reports target percentages not summing to 100.
func NewAllocationMismatch(field, message string) *DomainError {
	return &DomainError{Kind: KindAllocationMismatch, Field: field, Message: message}
}

// NewNoPositionData reports a symbol with no resolvable price or
// calibration.
func NewNoPositionData(field, message string) *DomainError {
	return &DomainError{Kind: KindNoPositionData, Field: field, Message: message}
}

// NewInsufficientFunds reports a simulated buy exceeding available cash.
func NewInsufficientFunds(message string) *DomainError {
	return &DomainError{Kind: KindInsufficientFunds, Message: message}
}

// NewInsufficientShares reports a simulated sell exceeding held quantity.
func NewInsufficientShares(message string) *DomainError {
	return &DomainError{Kind: KindInsufficientShares, Message: message}
}
