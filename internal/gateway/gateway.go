// Package gateway defines the only path lead mutations take to persistent
// storage. Calls never return Go errors; failures travel inside Result.
package gateway

//go:generate mockgen -destination=mocks/gateway_mock.go -package=mocks leadflow/internal/gateway Gateway

import (
	"context"
	"errors"

	"leadflow/internal/domain"
	"leadflow/internal/workflow"
)

// Error codes shared by the HTTP envelope and Result.Code.
const (
	CodeValidation        = "validation_failed"
	CodeForbidden         = "forbidden"
	CodeInvalidTransition = "invalid_transition"
	CodeNotFound          = "not_found"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

// Result is the typed outcome of one gateway call.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func OK[T any](v T) Result[T] {
	return Result[T]{Success: true, Data: v}
}

// Fail converts err into a failed result with its code.
func Fail[T any](err error) Result[T] {
	return Result[T]{Error: err.Error(), Code: Code(err)}
}

// From wraps a value/error pair as returned by the engine.
func From[T any](v T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return OK(v)
}

// Err returns the failure as a *domain.GatewayError, or nil on success.
func (r Result[T]) Err(op, leadID string) error {
	if r.Success {
		return nil
	}
	return &domain.GatewayError{Op: op, LeadID: leadID, Code: r.Code, Message: r.Error}
}

// Code maps a typed error to its wire code. Permission errors carrying a
// workflow state are transition conflicts rather than missing capabilities.
func Code(err error) string {
	var perr *domain.PermissionError
	switch {
	case err == nil:
		return ""
	case domain.IsValidation(err):
		return CodeValidation
	case errors.As(err, &perr):
		if perr.State != "" {
			return CodeInvalidTransition
		}
		return CodeForbidden
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeUnavailable
	}
	var gerr *domain.GatewayError
	if errors.As(err, &gerr) && gerr.Code != "" {
		return gerr.Code
	}
	return CodeInternal
}

// CreateLeadInput is the intake payload.
type CreateLeadInput = domain.LeadIntake

// Gateway is implemented by the HTTP SDK client and by Local.
type Gateway interface {
	CreateLead(ctx context.Context, in CreateLeadInput) Result[domain.Lead]
	UpdateStatus(ctx context.Context, id string, status domain.Status) Result[domain.Lead]
	Assign(ctx context.Context, id string, slot domain.Slot, name string) Result[domain.Lead]
	SaveQuoteDraft(ctx context.Context, id string, sub workflow.Submission) Result[domain.Lead]
	SubmitQuote(ctx context.Context, id string, sub workflow.Submission) Result[domain.Lead]
	ApproveQuote(ctx context.Context, id string, in workflow.ApproveInput) Result[domain.Lead]
	RejectQuote(ctx context.Context, id string, in workflow.RejectInput) Result[domain.Lead]
	SendQuote(ctx context.Context, id string) Result[domain.Lead]
	ConfirmOrder(ctx context.Context, id string) Result[domain.Lead]
	DeleteLead(ctx context.Context, id string) Result[domain.Lead]
	ListLeads(ctx context.Context) Result[[]domain.Lead]
}
