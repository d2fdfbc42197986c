package engine

import (
	"context"

	"leadflow/internal/domain"
	"leadflow/internal/events"
	"leadflow/internal/workflow"
)

// SaveQuoteDraft stores line items and details without a state change.
func (e Engine) SaveQuoteDraft(ctx context.Context, who domain.Identity, id string, sub workflow.Submission) (domain.Lead, error) {
	if err := workflow.ValidateLineItems(sub.LineItems); err != nil {
		return domain.Lead{}, err
	}
	return e.mutate(ctx, who, string(workflow.OpEditQuote), domain.PermQuoteEdit, events.LeadQuoteSaved, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return e.Machine.ApplyDraft(cur, sub, st)
		})
}

// SubmitQuote submits or resubmits a quote for approval.
func (e Engine) SubmitQuote(ctx context.Context, who domain.Identity, id string, sub workflow.Submission) (domain.Lead, error) {
	if err := workflow.ValidateSubmission(sub); err != nil {
		return domain.Lead{}, err
	}
	return e.mutate(ctx, who, string(workflow.OpSubmit), domain.PermQuoteSubmit, events.LeadQuoteSubmit, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return e.Machine.ApplySubmit(cur, sub, st)
		})
}

func (e Engine) ApproveQuote(ctx context.Context, who domain.Identity, id string, in workflow.ApproveInput) (domain.Lead, error) {
	if in.AdjustedValue.Valid && in.AdjustedValue.Decimal.IsNegative() {
		return domain.Lead{}, &domain.ValidationError{Field: "adjusted_value", Reason: "must not be negative"}
	}
	return e.mutate(ctx, who, string(workflow.OpApprove), domain.PermQuoteApprove, events.LeadQuoteApproved, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return e.Machine.ApplyApprove(cur, in, st)
		})
}

// RejectQuote rejects a pending quote; the feedback message is mandatory.
func (e Engine) RejectQuote(ctx context.Context, who domain.Identity, id string, in workflow.RejectInput) (domain.Lead, error) {
	return e.mutate(ctx, who, string(workflow.OpReject), domain.PermQuoteReject, events.LeadQuoteRejected, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return e.Machine.ApplyReject(cur, in, st)
		})
}

func (e Engine) SendQuote(ctx context.Context, who domain.Identity, id string) (domain.Lead, error) {
	return e.mutate(ctx, who, string(workflow.OpSend), domain.PermQuoteSend, events.LeadQuoteSent, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return e.Machine.ApplySend(cur, st)
		})
}

func (e Engine) ConfirmOrder(ctx context.Context, who domain.Identity, id string) (domain.Lead, error) {
	return e.mutate(ctx, who, string(workflow.OpConfirmOrder), domain.PermOrderConfirm, events.LeadOrderConfirm, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return e.Machine.ApplyConfirmOrder(cur, st)
		})
}
