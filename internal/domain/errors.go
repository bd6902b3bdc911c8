package domain

import (
	"errors"
	"fmt"
)

// Error is the typed error carried through the engine, the executor and the
// dispatcher.
//
// Recoverable codes (NotFound, MalformedSelection, ValidationFailed,
// ConcurrentModification) are turned into re-prompts by the flow engine.
// PersistenceUnavailable and InvariantViolation propagate to the dispatcher.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Identity is the conversation the error belongs to, when known.
	Identity string

	// Line is the 1-based order line an order commit failed on (0 if none).
	Line int

	// ProductID identifies the product involved, when known.
	ProductID string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeAmbiguousInput marks a query with several candidates. It is a
	// branch of the flow rather than a failure.
	CodeAmbiguousInput ErrorCode = "AMBIGUOUS_INPUT"

	// CodeNotFound marks a query or reference with no matching entity.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeMalformedSelection marks a selection token that failed to decode
	// or does not belong to the current state.
	CodeMalformedSelection ErrorCode = "MALFORMED_SELECTION"

	// CodeValidationFailed marks a collected field that failed its rule.
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// CodeConcurrentModification marks a stock row that changed between
	// read and write.
	CodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"

	// CodePersistenceUnavailable marks an unreachable session or inventory
	// store.
	CodePersistenceUnavailable ErrorCode = "PERSISTENCE_UNAVAILABLE"

	// CodeInvariantViolation marks a session whose state breaks the flow
	// invariants.
	CodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Line > 0 {
		msg = fmt.Sprintf("%s (line=%d, product=%s)", msg, e.Line, e.ProductID)
	} else if e.Identity != "" {
		msg = fmt.Sprintf("%s (identity=%s)", msg, e.Identity)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if
// there is none.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRecoverable reports whether err should be turned into a re-prompt rather
// than failing the turn.
func IsRecoverable(err error) bool {
	switch CodeOf(err) {
	case CodeAmbiguousInput, CodeNotFound, CodeMalformedSelection,
		CodeValidationFailed, CodeConcurrentModification:
		return true
	}
	return false
}

// NewNotFoundError creates an Error for a missing entity.
func NewNotFoundError(productID, message string) *Error {
	return &Error{Code: CodeNotFound, Message: message, ProductID: productID}
}

// NewLineItemError creates an Error identifying the order line whose
// product no longer exists.
func NewLineItemError(line int, item OrderItem) *Error {
	return &Error{
		Code:      CodeNotFound,
		Message:   fmt.Sprintf("order line %d (%s) no longer exists", line, item.ProductName),
		Line:      line,
		ProductID: item.ProductID,
	}
}

// NewMalformedSelectionError wraps a selection decode or matching failure.
func NewMalformedSelectionError(err error) *Error {
	return &Error{Code: CodeMalformedSelection, Message: "selection not understood", Err: err}
}

// NewValidationError creates an Error for a field that failed its rule.
func NewValidationError(field, message string) *Error {
	return &Error{Code: CodeValidationFailed, Message: fmt.Sprintf("%s: %s", field, message)}
}

// NewConcurrentModificationError creates an Error for a lost optimistic
// concurrency race on a product row.
func NewConcurrentModificationError(productID string) *Error {
	return &Error{
		Code:      CodeConcurrentModification,
		Message:   "stock changed while committing",
		ProductID: productID,
	}
}

// NewPersistenceError wraps a store failure.
func NewPersistenceError(op string, err error) *Error {
	return &Error{Code: CodePersistenceUnavailable, Message: op, Err: err}
}

// NewInvariantError creates an Error for a corrupt session.
func NewInvariantError(identity, message string) *Error {
	return &Error{Code: CodeInvariantViolation, Message: message, Identity: identity}
}
