package workflow

import (
	"strings"

	"github.com/shopspring/decimal"

	"leadflow/internal/domain"
)

// Submission is the quote payload of a draft save or a submit.
type Submission struct {
	LineItems []domain.LineItem    `json:"line_items"`
	Details   *domain.QuoteDetails `json:"details,omitempty"`
}

// ApproveInput carries the optional approval note and adjusted total.
type ApproveInput struct {
	Message       string              `json:"message,omitempty"`
	AdjustedValue decimal.NullDecimal `json:"adjusted_value"`
	FeedbackID    string              `json:"feedback_id,omitempty"`
}

// RejectInput carries the required rejection note.
type RejectInput struct {
	Message    string `json:"message"`
	FeedbackID string `json:"feedback_id,omitempty"`
}

// Stamp identifies who performs a transition and when (RFC3339).
type Stamp struct {
	By domain.Identity
	At string
	// NewID generates ids for feedback entries when the input carries none.
	NewID func() string
}

func (s Stamp) feedbackID(given string) string {
	if given != "" {
		return given
	}
	if s.NewID != nil {
		return s.NewID()
	}
	return ""
}

// ValidateLineItems enforces non-negative amounts and non-empty descriptions
// on priced rows.
func ValidateLineItems(items []domain.LineItem) error {
	for _, it := range items {
		if it.Amount.IsNegative() {
			return &domain.ValidationError{Field: "line_items.amount", Reason: "must not be negative"}
		}
		if it.Amount.IsPositive() && strings.TrimSpace(it.Description) == "" {
			return &domain.ValidationError{Field: "line_items.description", Reason: "required on priced rows"}
		}
	}
	return nil
}

// ValidateSubmission checks a quote is complete enough to be reviewed.
func ValidateSubmission(sub Submission) error {
	if err := ValidateLineItems(sub.LineItems); err != nil {
		return err
	}
	priced := false
	for _, it := range sub.LineItems {
		if strings.TrimSpace(it.Description) != "" && it.Amount.IsPositive() {
			priced = true
			break
		}
	}
	if !priced {
		return &domain.ValidationError{Field: "line_items", Reason: "at least one line item with a description and a positive amount is required"}
	}
	if !domain.QuoteTotal(sub.LineItems).IsPositive() {
		return &domain.ValidationError{Field: "line_items", Reason: "quote total must be positive"}
	}
	return nil
}

func setQuote(l *domain.Lead, sub Submission) {
	l.QuoteLineItems = domain.CloneLineItems(sub.LineItems)
	if len(l.QuoteLineItems) > 0 {
		l.QuoteValue = decimal.NewNullDecimal(domain.QuoteTotal(l.QuoteLineItems))
	} else {
		l.QuoteValue = decimal.NullDecimal{}
	}
	if sub.Details != nil {
		l.QuoteDetails = sub.Details.Clone()
	}
}

// ApplyDraft saves quote edits without changing the workflow state.
func (m Machine) ApplyDraft(l domain.Lead, sub Submission, st Stamp) (domain.Lead, error) {
	if err := ValidateLineItems(sub.LineItems); err != nil {
		return l, err
	}
	if err := m.Check(l, OpEditQuote, st.By); err != nil {
		return l, err
	}
	out := l.Clone()
	setQuote(&out, sub)
	out.UpdatedAt = st.At
	return out, nil
}

// ApplySubmit sends the quote for approval. Leads that have not reached
// Calculatie are moved there so the approval becomes effective.
func (m Machine) ApplySubmit(l domain.Lead, sub Submission, st Stamp) (domain.Lead, error) {
	if err := ValidateSubmission(sub); err != nil {
		return l, err
	}
	op := OpSubmit
	if Derive(l) == StateRejected {
		op = OpResubmit
	}
	if err := m.Check(l, op, st.By); err != nil {
		return l, err
	}
	out := l.Clone()
	setQuote(&out, sub)
	if !out.Status.Reached(domain.StatusCalculatie) {
		out.Status = domain.StatusCalculatie
	}
	out.QuoteApproval = domain.ApprovalPending
	out.QuoteSubmittedBy = st.By.Name
	out.UpdatedAt = st.At
	return out, nil
}

// ApplyApprove approves a pending quote, optionally adjusting its total.
func (m Machine) ApplyApprove(l domain.Lead, in ApproveInput, st Stamp) (domain.Lead, error) {
	if err := m.Check(l, OpApprove, st.By); err != nil {
		return l, err
	}
	out := l.Clone()
	if in.AdjustedValue.Valid {
		adjusted, err := domain.AdjustLineItems(out.QuoteLineItems, in.AdjustedValue.Decimal)
		if err != nil {
			return l, err
		}
		out.QuoteLineItems = adjusted
		out.QuoteValue = decimal.NewNullDecimal(in.AdjustedValue.Decimal)
	}
	out.QuoteApproval = domain.ApprovalApproved
	if msg := strings.TrimSpace(in.Message); msg != "" {
		out.QuoteFeedback = append(out.QuoteFeedback, domain.Feedback{
			ID:         st.feedbackID(in.FeedbackID),
			AuthorID:   st.By.ID,
			AuthorName: st.By.Name,
			Message:    msg,
			CreatedAt:  st.At,
			Type:       domain.FeedbackApproval,
		})
	}
	if m.AdvanceOnApprove {
		out.Status = domain.StatusOfferteVerzonden
	}
	out.UpdatedAt = st.At
	return out, nil
}

// ApplyReject rejects a pending quote. A feedback message is mandatory.
func (m Machine) ApplyReject(l domain.Lead, in RejectInput, st Stamp) (domain.Lead, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return l, &domain.ValidationError{Field: "message", Reason: "rejection feedback is required"}
	}
	if err := m.Check(l, OpReject, st.By); err != nil {
		return l, err
	}
	out := l.Clone()
	out.QuoteApproval = domain.ApprovalRejected
	out.QuoteFeedback = append(out.QuoteFeedback, domain.Feedback{
		ID:         st.feedbackID(in.FeedbackID),
		AuthorID:   st.By.ID,
		AuthorName: st.By.Name,
		Message:    msg,
		CreatedAt:  st.At,
		Type:       domain.FeedbackRejection,
	})
	out.UpdatedAt = st.At
	return out, nil
}

// ApplySend marks an approved quote as sent to the client.
func (m Machine) ApplySend(l domain.Lead, st Stamp) (domain.Lead, error) {
	if err := m.Check(l, OpSend, st.By); err != nil {
		return l, err
	}
	out := l.Clone()
	out.Status = domain.StatusOfferteVerzonden
	out.UpdatedAt = st.At
	return out, nil
}

// ApplyConfirmOrder records the client's acceptance of a sent quote.
func (m Machine) ApplyConfirmOrder(l domain.Lead, st Stamp) (domain.Lead, error) {
	if err := m.Check(l, OpConfirmOrder, st.By); err != nil {
		return l, err
	}
	out := l.Clone()
	out.Status = domain.StatusOpdracht
	out.UpdatedAt = st.At
	return out, nil
}

// ApplyStatus moves l to status. Offerte Verzonden and Opdracht are reached
// only through the send and confirm-order steps, so a plain status change
// cannot skip approval.
func (m Machine) ApplyStatus(l domain.Lead, status domain.Status, st Stamp) (domain.Lead, error) {
	if status != l.Status {
		switch status {
		case domain.StatusOfferteVerzonden:
			return m.ApplySend(l, st)
		case domain.StatusOpdracht:
			return m.ApplyConfirmOrder(l, st)
		}
	}
	out := l.Clone()
	out.Status = status
	out.UpdatedAt = st.At
	return out, nil
}
