package server

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"leadflow/internal/domain"
	"leadflow/internal/repo"
	"leadflow/internal/workflow"
)

// Amounts travel as decimal strings so no client rounds them through floats.

type LineItemDTO struct {
	Description string `json:"description"`
	Amount      string `json:"amount" example:"500.00"`
}

// Request payloads

type UpdateStatusRequest struct {
	Status string `json:"status" enum:"Nieuw,Triage,Calculatie,Offerte Verzonden,Opdracht,Archief"`
}

type AssignRequest struct {
	Slot string `json:"slot" enum:"assignee,projectleider,rekenaar,tekenaar"`
	Name string `json:"name" doc:"Empty clears the slot"`
}

type QuoteRequest struct {
	LineItems []LineItemDTO        `json:"line_items"`
	Details   *domain.QuoteDetails `json:"details,omitempty"`
	// Description accepts the legacy encoded text when details is absent.
	Description *string `json:"description,omitempty"`
}

type ApproveRequest struct {
	Message       string  `json:"message,omitempty"`
	AdjustedValue *string `json:"adjusted_value,omitempty" example:"620.00"`
	FeedbackID    string  `json:"feedback_id,omitempty"`
}

type RejectRequest struct {
	Message    string `json:"message"`
	FeedbackID string `json:"feedback_id,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"admin,projectleider,engineer"`
}

type DevLoginRequest struct {
	ActorID      string `json:"actor_id"`
	Name         string `json:"name"`
	Role         string `json:"role" enum:"admin,projectleider,engineer"`
	EngineerType string `json:"engineer_type,omitempty" enum:"rekenaar,tekenaar"`
}

// Response payloads

type LeadResponse struct {
	ID          string `json:"id"`
	ProjectType string `json:"project_type"`
	City        string `json:"city,omitempty"`
	Address     string `json:"address,omitempty"`
	ClientName  string `json:"client_name,omitempty"`
	ClientEmail string `json:"client_email,omitempty"`
	ClientPhone string `json:"client_phone,omitempty"`

	Status           string               `json:"status"`
	QuoteApproval    string               `json:"quote_approval"`
	QuoteValue       *string              `json:"quote_value,omitempty"`
	QuoteLineItems   []LineItemDTO        `json:"quote_line_items"`
	QuoteDetails     *domain.QuoteDetails `json:"quote_details,omitempty"`
	QuoteFeedback    []domain.Feedback    `json:"quote_feedback"`
	QuoteSubmittedBy string               `json:"quote_submitted_by,omitempty"`

	Assignee              *string `json:"assignee,omitempty"`
	AssignedProjectleider *string `json:"assigned_projectleider,omitempty"`
	AssignedRekenaar      *string `json:"assigned_rekenaar,omitempty"`
	AssignedTekenaar      *string `json:"assigned_tekenaar,omitempty"`

	Deleted   bool   `json:"deleted,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type MeResponse struct {
	ActorID      string   `json:"actor_id"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	EngineerType string   `json:"engineer_type,omitempty"`
	Tier         string   `json:"tier" enum:"authoritative,fallback"`
	Permissions  []string `json:"permissions"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type StatsResponse struct {
	Leads map[string]int `json:"leads"`
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, &domain.ValidationError{Field: field, Reason: "must be a decimal number"}
	}
	return d, nil
}

func (q QuoteRequest) submission() (workflow.Submission, error) {
	items := make([]domain.LineItem, 0, len(q.LineItems))
	for _, it := range q.LineItems {
		amount, err := parseAmount("line_items.amount", it.Amount)
		if err != nil {
			return workflow.Submission{}, err
		}
		items = append(items, domain.LineItem{Description: it.Description, Amount: amount})
	}
	sub := workflow.Submission{LineItems: items, Details: q.Details}
	if sub.Details == nil && q.Description != nil {
		details := domain.ParseQuoteDescription(*q.Description)
		sub.Details = &details
	}
	return sub, nil
}

func (a ApproveRequest) input() (workflow.ApproveInput, error) {
	in := workflow.ApproveInput{Message: a.Message, FeedbackID: a.FeedbackID}
	if a.AdjustedValue != nil {
		v, err := parseAmount("adjusted_value", *a.AdjustedValue)
		if err != nil {
			return in, err
		}
		in.AdjustedValue = decimal.NewNullDecimal(v)
	}
	return in, nil
}

func workflowReject(r RejectRequest) workflow.RejectInput {
	return workflow.RejectInput{Message: r.Message, FeedbackID: r.FeedbackID}
}

func leadFilters(status string) repo.LeadFilters {
	return repo.LeadFilters{Status: status}
}

func eventFilters(typ, kind, entityID string, before int64, limit int) repo.EventFilters {
	return repo.EventFilters{Type: typ, EntityKind: kind, EntityID: entityID, Before: before, Limit: limit}
}

func leadResponse(l domain.Lead) LeadResponse {
	resp := LeadResponse{
		ID:                    l.ID,
		ProjectType:           l.ProjectType,
		City:                  l.City,
		Address:               l.Address,
		ClientName:            l.ClientName,
		ClientEmail:           l.ClientEmail,
		ClientPhone:           l.ClientPhone,
		Status:                string(l.Status),
		QuoteApproval:         string(l.QuoteApproval),
		QuoteLineItems:        make([]LineItemDTO, 0, len(l.QuoteLineItems)),
		QuoteDetails:          l.QuoteDetails,
		QuoteFeedback:         nonNilSlice(l.QuoteFeedback),
		QuoteSubmittedBy:      l.QuoteSubmittedBy,
		Assignee:              l.Assignee,
		AssignedProjectleider: l.AssignedProjectleider,
		AssignedRekenaar:      l.AssignedRekenaar,
		AssignedTekenaar:      l.AssignedTekenaar,
		Deleted:               l.Deleted,
		CreatedAt:             l.CreatedAt,
		UpdatedAt:             l.UpdatedAt,
	}
	if l.QuoteValue.Valid {
		v := l.QuoteValue.Decimal.StringFixed(2)
		resp.QuoteValue = &v
	}
	for _, it := range l.QuoteLineItems {
		resp.QuoteLineItems = append(resp.QuoteLineItems, LineItemDTO{Description: it.Description, Amount: it.Amount.StringFixed(2)})
	}
	return resp
}

func mapLeads(items []domain.Lead) []LeadResponse {
	res := make([]LeadResponse, 0, len(items))
	for _, l := range items {
		res = append(res, leadResponse(l))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	var payload any = map[string]any{}
	if e.Payload != "" {
		var decoded any
		if err := json.Unmarshal([]byte(e.Payload), &decoded); err == nil {
			payload = decoded
		} else {
			payload = e.Payload
		}
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
