package realtime

import (
	charmLog "github.com/charmbracelet/log"

	"leadflow/internal/domain"
)

type ApprovalKind string

const (
	ApprovalApproved ApprovalKind = "approved"
	ApprovalRejected ApprovalKind = "rejected"
)

// ApprovalEvent is a quote decision observed on the change feed.
type ApprovalEvent struct {
	LeadID  string       `json:"lead_id"`
	Kind    ApprovalKind `json:"kind"`
	Message string       `json:"message,omitempty"`
	At      string       `json:"at"`
}

// ApprovalFromChange reports a decision only when quote_approval differs
// between the old and new image and the new value is approved or rejected.
// Message is the newest feedback entry of the matching type.
func ApprovalFromChange(c Change) (ApprovalEvent, bool) {
	if c.Table != TableLeads || c.EventType != EventUpdate || c.New == nil {
		return ApprovalEvent{}, false
	}
	prev := domain.ApprovalNone
	if c.Old != nil {
		prev = c.Old.QuoteApproval
	}
	next := c.New.QuoteApproval
	if prev == next {
		return ApprovalEvent{}, false
	}
	var kind ApprovalKind
	var fbType domain.FeedbackType
	switch next {
	case domain.ApprovalApproved:
		kind, fbType = ApprovalApproved, domain.FeedbackApproval
	case domain.ApprovalRejected:
		kind, fbType = ApprovalRejected, domain.FeedbackRejection
	default:
		return ApprovalEvent{}, false
	}
	ev := ApprovalEvent{LeadID: c.New.ID, Kind: kind, At: c.New.UpdatedAt}
	if fb, ok := c.New.LatestFeedback(); ok && fb.Type == fbType {
		ev.Message = fb.Message
	}
	return ev, true
}

// ApprovalFeed turns observed changes into approval events. Events are
// dropped when the consumer does not keep up.
type ApprovalFeed struct {
	ch     chan ApprovalEvent
	logger *charmLog.Logger
}

func NewApprovalFeed(buffer int, logger *charmLog.Logger) *ApprovalFeed {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	return &ApprovalFeed{ch: make(chan ApprovalEvent, buffer), logger: logger}
}

// Observe has the signature expected by Subscriber.Observe.
func (f *ApprovalFeed) Observe(c Change) {
	ev, ok := ApprovalFromChange(c)
	if !ok {
		return
	}
	select {
	case f.ch <- ev:
	default:
		f.logger.Warn("realtime: approval event dropped", "lead_id", ev.LeadID, "kind", ev.Kind)
	}
}

func (f *ApprovalFeed) C() <-chan ApprovalEvent { return f.ch }
