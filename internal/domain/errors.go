package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lead or actor does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed payload. It never reaches the gateway.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// PermissionError reports an operation the caller may not perform in the current state.
type PermissionError struct {
	Op         string
	Role       Role
	State      string
	Permission string
}

func (e *PermissionError) Error() string {
	switch {
	case e.Permission != "":
		return fmt.Sprintf("permission %s required for %s", e.Permission, e.Op)
	case e.State != "":
		return fmt.Sprintf("%s not allowed for role %q in state %s", e.Op, e.Role, e.State)
	default:
		return fmt.Sprintf("%s not allowed for role %q", e.Op, e.Role)
	}
}

// GatewayError reports a failed gateway call. The store rolls back on it.
type GatewayError struct {
	Op      string
	LeadID  string
	Code    string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s failed (%s): %s", e.Op, e.LeadID, e.Code, msg)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Op, e.LeadID, msg)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ConflictError records that a reconciliation event replaced a lead with a pending optimistic change.
type ConflictError struct {
	LeadID string
	Op     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("lead %s: remote update superseded pending %s", e.LeadID, e.Op)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

func IsGateway(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}
