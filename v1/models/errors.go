package models

import (
	"fmt"
	"strings"
)

// NotFoundError indicates the member or transition does not exist (or is
// soft-deleted) within the given club scope.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NewNotFoundError builds a NotFoundError for a resource/id pair
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// InvalidTransitionError indicates the requested or chain-implied move is not
// in the transition graph. It carries the rejected pair and the legal next
// states so the UI can render actionable guidance.
type InvalidTransitionError struct {
	From    MemberStatus
	To      MemberStatus
	Allowed []MemberStatus
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("transition %s -> %s is not allowed; legal next states: %s",
		e.From, e.To, strings.Join(allowed, ", "))
}

// ConflictError indicates a same-day transition collision that is not a
// replaceable self-transition, a stale projection version, or an attempt to
// delete a LEFT transition backed by a formal cancellation.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// NewConflictError builds a ConflictError with a reason-qualified message
func NewConflictError(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ValidationError indicates a malformed or incomplete request, such as a
// missing left category on a LEFT transition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for a field
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
