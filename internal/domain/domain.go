package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the coarse pipeline stage of a lead.
type Status string

const (
	StatusNieuw            Status = "Nieuw"
	StatusTriage           Status = "Triage"
	StatusCalculatie       Status = "Calculatie"
	StatusOfferteVerzonden Status = "Offerte Verzonden"
	StatusOpdracht         Status = "Opdracht"
	StatusArchief          Status = "Archief"
)

var statusRank = map[Status]int{
	StatusNieuw:            0,
	StatusTriage:           1,
	StatusCalculatie:       2,
	StatusOfferteVerzonden: 3,
	StatusOpdracht:         4,
	StatusArchief:          5,
}

// Statuses lists every pipeline stage in order.
func Statuses() []Status {
	return []Status{StatusNieuw, StatusTriage, StatusCalculatie, StatusOfferteVerzonden, StatusOpdracht, StatusArchief}
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Reached reports whether s is at or beyond stage other.
func (s Status) Reached(other Status) bool {
	return statusRank[s] >= statusRank[other]
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", raw)}
	}
	return s, nil
}

// QuoteApproval is the stored approval field of a quote.
type QuoteApproval string

const (
	ApprovalNone     QuoteApproval = "none"
	ApprovalPending  QuoteApproval = "pending"
	ApprovalApproved QuoteApproval = "approved"
	ApprovalRejected QuoteApproval = "rejected"
)

func (a QuoteApproval) Valid() bool {
	switch a {
	case ApprovalNone, ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

type FeedbackType string

const (
	FeedbackApproval  FeedbackType = "approval"
	FeedbackRejection FeedbackType = "rejection"
)

// LineItem is one priced row of a quote.
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Feedback is an append-only reviewer note on a quote.
type Feedback struct {
	ID         string       `json:"id"`
	AuthorID   string       `json:"author_id"`
	AuthorName string       `json:"author_name"`
	Message    string       `json:"message"`
	CreatedAt  string       `json:"created_at" format:"date-time"`
	Type       FeedbackType `json:"type" enum:"approval,rejection"`
}

// QuoteDetails carries the free text and inclusion flags of a quote.
type QuoteDetails struct {
	Description      string   `json:"description,omitempty"`
	AttentionNotes   []string `json:"attention_notes,omitempty"`
	IncludeVAT       bool     `json:"include_vat"`
	IncludeDrawings  bool     `json:"include_drawings"`
	IncludeSiteVisit bool     `json:"include_site_visit"`
}

// Clone returns a copy of d; nil stays nil.
func (d *QuoteDetails) Clone() *QuoteDetails {
	if d == nil {
		return nil
	}
	out := *d
	out.AttentionNotes = cloneSlice(d.AttentionNotes)
	return &out
}

func CloneLineItems(in []LineItem) []LineItem {
	return cloneSlice(in)
}

// Slot names an assignment field on a lead.
type Slot string

const (
	SlotAssignee      Slot = "assignee"
	SlotProjectleider Slot = "projectleider"
	SlotRekenaar      Slot = "rekenaar"
	SlotTekenaar      Slot = "tekenaar"
)

func ParseSlot(raw string) (Slot, error) {
	switch s := Slot(raw); s {
	case SlotAssignee, SlotProjectleider, SlotRekenaar, SlotTekenaar:
		return s, nil
	}
	return "", &ValidationError{Field: "slot", Reason: fmt.Sprintf("unknown assignment slot %q", raw)}
}

// Lead is the central aggregate tracked through the sales pipeline.
type Lead struct {
	ID          string `json:"id"`
	ProjectType string `json:"project_type"`
	City        string `json:"city,omitempty"`
	Address     string `json:"address,omitempty"`
	ClientName  string `json:"client_name,omitempty"`
	ClientEmail string `json:"client_email,omitempty"`
	ClientPhone string `json:"client_phone,omitempty"`

	Status           Status              `json:"status" enum:"Nieuw,Triage,Calculatie,Offerte Verzonden,Opdracht,Archief"`
	QuoteApproval    QuoteApproval       `json:"quote_approval" enum:"none,pending,approved,rejected"`
	QuoteValue       decimal.NullDecimal `json:"quote_value"`
	QuoteLineItems   []LineItem          `json:"quote_line_items,omitempty"`
	QuoteDetails     *QuoteDetails       `json:"quote_details,omitempty"`
	QuoteFeedback    []Feedback          `json:"quote_feedback,omitempty"`
	QuoteSubmittedBy string              `json:"quote_submitted_by,omitempty"`

	Assignee              *string `json:"assignee,omitempty"`
	AssignedProjectleider *string `json:"assigned_projectleider,omitempty"`
	AssignedRekenaar      *string `json:"assigned_rekenaar,omitempty"`
	AssignedTekenaar      *string `json:"assigned_tekenaar,omitempty"`

	Deleted   bool   `json:"deleted,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// EffectiveApproval ignores the stored approval before the lead reached Calculatie.
func (l Lead) EffectiveApproval() QuoteApproval {
	if !l.Status.Reached(StatusCalculatie) || l.QuoteApproval == "" {
		return ApprovalNone
	}
	return l.QuoteApproval
}

// SlotValue returns the assignment stored in slot, or "".
func (l Lead) SlotValue(slot Slot) string {
	switch slot {
	case SlotAssignee:
		return StringValue(l.Assignee)
	case SlotProjectleider:
		return StringValue(l.AssignedProjectleider)
	case SlotRekenaar:
		return StringValue(l.AssignedRekenaar)
	case SlotTekenaar:
		return StringValue(l.AssignedTekenaar)
	}
	return ""
}

// SetSlot assigns name to slot; an empty name clears it.
func (l *Lead) SetSlot(slot Slot, name string) {
	v := OptionalString(name)
	switch slot {
	case SlotAssignee:
		l.Assignee = v
	case SlotProjectleider:
		l.AssignedProjectleider = v
	case SlotRekenaar:
		l.AssignedRekenaar = v
	case SlotTekenaar:
		l.AssignedTekenaar = v
	}
}

// LatestFeedback returns the newest feedback entry, if any.
func (l Lead) LatestFeedback() (Feedback, bool) {
	if len(l.QuoteFeedback) == 0 {
		return Feedback{}, false
	}
	return l.QuoteFeedback[len(l.QuoteFeedback)-1], true
}

// Clone returns a deep copy that shares no mutable state with l.
func (l Lead) Clone() Lead {
	out := l
	out.QuoteLineItems = CloneLineItems(l.QuoteLineItems)
	out.QuoteFeedback = cloneSlice(l.QuoteFeedback)
	out.QuoteDetails = l.QuoteDetails.Clone()
	out.Assignee = clonePtr(l.Assignee)
	out.AssignedProjectleider = clonePtr(l.AssignedProjectleider)
	out.AssignedRekenaar = clonePtr(l.AssignedRekenaar)
	out.AssignedTekenaar = clonePtr(l.AssignedTekenaar)
	return out
}

// CloneLeads deep-copies a lead collection preserving order and nil-ness.
func CloneLeads(in []Lead) []Lead {
	if in == nil {
		return nil
	}
	out := make([]Lead, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Actor is a known user of the system.
type Actor struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Role         Role         `json:"role"`
	EngineerType EngineerType `json:"engineer_type,omitempty"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// LeadIntake is the payload of the intake action. ID is generated by the
// caller so optimistic inserts and stored rows share it.
type LeadIntake struct {
	ID                    string `json:"id,omitempty"`
	ProjectType           string `json:"project_type"`
	City                  string `json:"city,omitempty"`
	Address               string `json:"address,omitempty"`
	ClientName            string `json:"client_name,omitempty"`
	ClientEmail           string `json:"client_email,omitempty"`
	ClientPhone           string `json:"client_phone,omitempty"`
	Assignee              string `json:"assignee,omitempty"`
	AssignedProjectleider string `json:"assigned_projectleider,omitempty"`
	AssignedRekenaar      string `json:"assigned_rekenaar,omitempty"`
	AssignedTekenaar      string `json:"assigned_tekenaar,omitempty"`
}

func (in LeadIntake) Validate() error {
	if strings.TrimSpace(in.ProjectType) == "" {
		return &ValidationError{Field: "project_type", Reason: "required"}
	}
	if in.ID != "" {
		if _, err := uuid.Parse(in.ID); err != nil {
			return &ValidationError{Field: "id", Reason: "must be a uuid"}
		}
	}
	if in.ClientEmail != "" && !strings.Contains(in.ClientEmail, "@") {
		return &ValidationError{Field: "client_email", Reason: "must be an email address"}
	}
	return nil
}

// NewLead builds the intake row: status Nieuw and no quote.
func NewLead(in LeadIntake, at string) Lead {
	l := Lead{
		ID:            in.ID,
		ProjectType:   strings.TrimSpace(in.ProjectType),
		City:          in.City,
		Address:       in.Address,
		ClientName:    in.ClientName,
		ClientEmail:   in.ClientEmail,
		ClientPhone:   in.ClientPhone,
		Status:        StatusNieuw,
		QuoteApproval: ApprovalNone,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	l.SetSlot(SlotAssignee, in.Assignee)
	l.SetSlot(SlotProjectleider, in.AssignedProjectleider)
	l.SetSlot(SlotRekenaar, in.AssignedRekenaar)
	l.SetSlot(SlotTekenaar, in.AssignedTekenaar)
	return l
}
