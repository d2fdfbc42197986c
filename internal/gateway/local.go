package gateway

import (
	"context"

	"leadflow/internal/domain"
	"leadflow/internal/engine"
	"leadflow/internal/repo"
	"leadflow/internal/workflow"
)

// Local runs gateway calls in-process against an engine on behalf of one
// identity. The CLI uses it when no server URL is configured.
type Local struct {
	Engine   engine.Engine
	Identity domain.Identity
}

var _ Gateway = Local{}

func (g Local) CreateLead(ctx context.Context, in CreateLeadInput) Result[domain.Lead] {
	return From[domain.Lead](g.Engine.CreateLead(ctx, g.Identity, in))
}

func (g Local) UpdateStatus(ctx context.Context, id string, status domain.Status) Result[domain.Lead] {
	return From[domain.Lead](g.Engine.UpdateStatus(ctx, g.Identity, id, status))
}

func (g Local) Assign(ctx context.Context, id string, slot domain.Slot, name string) Result[domain.Lead] {
	return From[domain.Lead](g.Engine.Assign(ctx, g.Identity, id, slot, name))
}

func (g Local) SaveQuoteDraft(ctx context.Context, id string, sub workflow.Submission) Result[domain.Lead] {
	return From[domain.Lead](g.Engine.SaveQuoteDraft(ctx, g.Identity, id, sub))
}

func (g Local) SubmitQuote(ctx context.Context, id string, sub workflow.Submission) Result[domain.Lead] {
	return From[domain.Lead](g.Engine.SubmitQuote(ctx, g.Identity, id, sub))
}

func (g Local) ApproveQuote(ctx context.Context, id string, in workflow.ApproveInput) Result[domain.Lead] {
	return From[domain.Lead](g.Engine.ApproveQuote(ctx, g.Identity, id, in))
}

func (g Local) RejectQuote(ctx context.Context, id string, in workflow.RejectInput) Result[domain.Lead] {
	return From[domain.Lead](g.Engine.RejectQuote(ctx, g.Identity, id, in))
}

func (g Local) SendQuote(ctx context.Context, id string) Result[domain.Lead] {
	return From[domain.Lead](g.Engine.SendQuote(ctx, g.Identity, id))
}

func (g Local) ConfirmOrder(ctx context.Context, id string) Result[domain.Lead] {
	return From[domain.Lead](g.Engine.ConfirmOrder(ctx, g.Identity, id))
}

func (g Local) DeleteLead(ctx context.Context, id string) Result[domain.Lead] {
	return From[domain.Lead](g.Engine.DeleteLead(ctx, g.Identity, id))
}

func (g Local) ListLeads(ctx context.Context) Result[[]domain.Lead] {
	return From[[]domain.Lead](g.Engine.ListLeads(ctx, g.Identity, repo.LeadFilters{}))
}
