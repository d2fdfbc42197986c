package realtime_test

import (
	"testing"

	"leadflow/internal/domain"
	"leadflow/internal/logging"
	"leadflow/internal/realtime"
)

func TestApprovalFromChange(t *testing.T) {
	pending := lead("l-1", domain.StatusCalculatie, domain.ApprovalPending)
	rejected := pending.Clone()
	rejected.QuoteApproval = domain.ApprovalRejected
	rejected.UpdatedAt = "2024-05-01T12:00:00Z"
	rejected.QuoteFeedback = []domain.Feedback{{ID: "f-1", Message: "bedrag te laag", Type: domain.FeedbackRejection}}
	approved := pending.Clone()
	approved.QuoteApproval = domain.ApprovalApproved
	retitled := pending.Clone()
	retitled.City = "Zeist"

	tests := []struct {
		name string
		old  *domain.Lead
		new  domain.Lead
		want *realtime.ApprovalEvent
	}{
		{"rejected", &pending, rejected, &realtime.ApprovalEvent{LeadID: "l-1", Kind: realtime.ApprovalRejected, Message: "bedrag te laag", At: "2024-05-01T12:00:00Z"}},
		{"approved without note", &pending, approved, &realtime.ApprovalEvent{LeadID: "l-1", Kind: realtime.ApprovalApproved, At: approved.UpdatedAt}},
		{"approval unchanged", &pending, retitled, nil},
		{"back to pending", &rejected, pending, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next := tc.new
			got, ok := realtime.ApprovalFromChange(realtime.Change{EventType: realtime.EventUpdate, Table: realtime.TableLeads, Old: tc.old, New: &next})
			if tc.want == nil {
				if ok {
					t.Fatalf("unexpected event %+v", got)
				}
				return
			}
			if !ok || got != *tc.want {
				t.Fatalf("got %+v (%v), want %+v", got, ok, *tc.want)
			}
		})
	}
}

func TestApprovalFeedDropsWhenFull(t *testing.T) {
	feed := realtime.NewApprovalFeed(1, logging.Discard())
	pending := lead("l-1", domain.StatusCalculatie, domain.ApprovalPending)
	approved := pending.Clone()
	approved.QuoteApproval = domain.ApprovalApproved
	c := realtime.Change{EventType: realtime.EventUpdate, Table: realtime.TableLeads, Old: &pending, New: &approved}
	feed.Observe(c)
	feed.Observe(c)
	if ev := <-feed.C(); ev.Kind != realtime.ApprovalApproved {
		t.Fatalf("unexpected event %+v", ev)
	}
	select {
	case ev := <-feed.C():
		t.Fatalf("second event should have been dropped, got %+v", ev)
	default:
	}
}
