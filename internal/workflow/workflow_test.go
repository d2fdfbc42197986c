package workflow

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"leadflow/internal/domain"
)

var (
	admin    = domain.Identity{ID: "u-admin", Name: "Anna", Role: domain.RoleAdmin}
	engineer = domain.Identity{ID: "u-eng", Name: "Erik", Role: domain.RoleEngineer, EngineerType: domain.EngineerRekenaar}
	pl       = domain.Identity{ID: "u-pl", Name: "Petra", Role: domain.RoleProjectleider}
	nobody   = domain.Identity{ID: "u-x", Name: "X", Role: "guest"}
)

func leadIn(state State) domain.Lead {
	l := domain.Lead{ID: "lead-1", Status: domain.StatusCalculatie, QuoteApproval: domain.ApprovalNone}
	switch state {
	case StatePending:
		l.QuoteApproval = domain.ApprovalPending
	case StateApproved:
		l.QuoteApproval = domain.ApprovalApproved
	case StateRejected:
		l.QuoteApproval = domain.ApprovalRejected
	case StateSent:
		l.Status = domain.StatusOfferteVerzonden
		l.QuoteApproval = domain.ApprovalApproved
	case StateAccepted:
		l.Status = domain.StatusOpdracht
		l.QuoteApproval = domain.ApprovalApproved
	}
	return l
}

func TestDerive(t *testing.T) {
	cases := []struct {
		status   domain.Status
		approval domain.QuoteApproval
		want     State
	}{
		{domain.StatusNieuw, domain.ApprovalNone, StateBuilding},
		{domain.StatusNieuw, domain.ApprovalPending, StateBuilding},
		{domain.StatusCalculatie, domain.ApprovalPending, StatePending},
		{domain.StatusCalculatie, domain.ApprovalApproved, StateApproved},
		{domain.StatusCalculatie, domain.ApprovalRejected, StateRejected},
		{domain.StatusOfferteVerzonden, domain.ApprovalApproved, StateSent},
		{domain.StatusOpdracht, domain.ApprovalApproved, StateAccepted},
		{domain.StatusOpdracht, domain.ApprovalNone, StateAccepted},
		{domain.StatusArchief, domain.ApprovalRejected, StateRejected},
	}
	for _, tc := range cases {
		got := Derive(domain.Lead{Status: tc.status, QuoteApproval: tc.approval})
		if got != tc.want {
			t.Fatalf("Derive(%s,%s)=%s want %s", tc.status, tc.approval, got, tc.want)
		}
	}
}

// legal mirrors the transition table; every other triple must be denied.
var legal = map[State]map[Op][]domain.Role{
	StateBuilding: {
		OpSubmit:    {domain.RoleEngineer, domain.RoleAdmin},
		OpEditQuote: {domain.RoleEngineer, domain.RoleAdmin},
	},
	StateRejected: {
		OpSubmit:    {domain.RoleEngineer, domain.RoleAdmin},
		OpResubmit:  {domain.RoleEngineer, domain.RoleAdmin},
		OpEditQuote: {domain.RoleEngineer, domain.RoleAdmin},
	},
	StatePending: {
		OpApprove:   {domain.RoleAdmin},
		OpReject:    {domain.RoleAdmin},
		OpEditQuote: {domain.RoleAdmin},
	},
	StateApproved: {
		OpSend:      {domain.RoleEngineer, domain.RoleAdmin},
		OpEditQuote: {domain.RoleAdmin},
	},
	StateSent: {
		OpConfirmOrder: {domain.RoleAdmin},
		OpEditQuote:    {domain.RoleAdmin},
	},
	StateAccepted: {
		OpEditQuote: {domain.RoleAdmin},
	},
}

func TestTransitionLegalityGrid(t *testing.T) {
	m := Default()
	states := []State{StateBuilding, StatePending, StateApproved, StateRejected, StateSent, StateAccepted}
	for _, st := range states {
		for _, op := range allOps {
			for _, who := range []domain.Identity{admin, engineer, pl, nobody} {
				want := false
				for _, r := range legal[st][op] {
					if r == who.Role {
						want = true
					}
				}
				err := m.Check(leadIn(st), op, who)
				if want && err != nil {
					t.Errorf("%s/%s/%s: expected allowed, got %v", st, op, who.Role, err)
				}
				if !want && !domain.IsPermission(err) {
					t.Errorf("%s/%s/%s: expected permission error, got %v", st, op, who.Role, err)
				}
			}
		}
	}
}

func TestIllegalApplyLeavesLeadUntouched(t *testing.T) {
	m := Default()
	st := Stamp{By: engineer, At: "2024-01-01T00:00:00Z"}
	l := leadIn(StatePending)
	before := l.Clone()
	got, err := m.ApplyApprove(l, ApproveInput{}, st)
	if !domain.IsPermission(err) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if !reflect.DeepEqual(got, before) || !reflect.DeepEqual(l, before) {
		t.Fatalf("lead mutated on illegal approve")
	}
}

func TestSubmitValidation(t *testing.T) {
	cases := []struct {
		name  string
		items []domain.LineItem
	}{
		{"empty", nil},
		{"zero amount", []domain.LineItem{{Description: "Berekening", Amount: decimal.Zero}}},
		{"no description", []domain.LineItem{{Description: " ", Amount: decimal.NewFromInt(10)}}},
		{"negative", []domain.LineItem{{Description: "a", Amount: decimal.NewFromInt(100)}, {Description: "b", Amount: decimal.NewFromInt(-1)}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateSubmission(Submission{LineItems: tc.items}); !domain.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSubmitFromNieuwMovesToCalculatie(t *testing.T) {
	m := Default()
	l := domain.Lead{ID: "lead-1", Status: domain.StatusNieuw, QuoteApproval: domain.ApprovalNone}
	sub := Submission{LineItems: []domain.LineItem{{Description: "Berekening", Amount: decimal.NewFromInt(500)}}}
	got, err := m.ApplySubmit(l, sub, Stamp{By: engineer, At: "2024-01-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.QuoteApproval != domain.ApprovalPending || Derive(got) != StatePending {
		t.Fatalf("expected pending, got %s/%s", got.QuoteApproval, Derive(got))
	}
	if got.Status != domain.StatusCalculatie {
		t.Fatalf("expected Calculatie, got %s", got.Status)
	}
	if !got.QuoteValue.Valid || !got.QuoteValue.Decimal.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected quote value 500, got %v", got.QuoteValue)
	}
	if got.QuoteSubmittedBy != engineer.Name {
		t.Fatalf("expected submitter %s, got %s", engineer.Name, got.QuoteSubmittedBy)
	}
}

func TestApproveAdvanceIsConfigurable(t *testing.T) {
	st := Stamp{By: admin, At: "2024-01-01T00:00:00Z"}
	eager, err := Default().ApplyApprove(leadIn(StatePending), ApproveInput{}, st)
	if err != nil {
		t.Fatal(err)
	}
	if eager.Status != domain.StatusOfferteVerzonden || Derive(eager) != StateSent {
		t.Fatalf("expected sent after eager approve, got %s", Derive(eager))
	}
	lazy, err := Machine{}.ApplyApprove(leadIn(StatePending), ApproveInput{}, st)
	if err != nil {
		t.Fatal(err)
	}
	if Derive(lazy) != StateApproved {
		t.Fatalf("expected approved, got %s", Derive(lazy))
	}
	sent, err := Machine{}.ApplySend(lazy, Stamp{By: engineer, At: st.At})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if Derive(sent) != StateSent {
		t.Fatalf("expected sent, got %s", Derive(sent))
	}
	accepted, err := Machine{}.ApplyConfirmOrder(sent, st)
	if err != nil || Derive(accepted) != StateAccepted {
		t.Fatalf("confirm order: %v %s", err, Derive(accepted))
	}
}

func TestApproveWithAdjustedValueKeepsSum(t *testing.T) {
	l := leadIn(StatePending)
	l.QuoteLineItems = []domain.LineItem{{Description: "Berekening", Amount: decimal.NewFromInt(500)}}
	l.QuoteValue = decimal.NewNullDecimal(decimal.NewFromInt(500))
	got, err := Default().ApplyApprove(l, ApproveInput{
		Message:       "prima",
		AdjustedValue: decimal.NewNullDecimal(decimal.NewFromInt(450)),
		FeedbackID:    "fb-1",
	}, Stamp{By: admin, At: "2024-01-01T00:00:00Z"})
	if err != nil {
		t.Fatal(err)
	}
	if !got.QuoteValue.Decimal.Equal(domain.QuoteTotal(got.QuoteLineItems)) {
		t.Fatalf("quote value %s != line total %s", got.QuoteValue.Decimal, domain.QuoteTotal(got.QuoteLineItems))
	}
	fb, ok := got.LatestFeedback()
	if !ok || fb.Type != domain.FeedbackApproval || fb.ID != "fb-1" || fb.AuthorName != admin.Name {
		t.Fatalf("unexpected feedback %+v", fb)
	}
}

func TestRejectRequiresMessage(t *testing.T) {
	l := leadIn(StatePending)
	got, err := Default().ApplyReject(l, RejectInput{Message: "  "}, Stamp{By: admin})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got.QuoteApproval != domain.ApprovalPending {
		t.Fatalf("approval changed to %s", got.QuoteApproval)
	}
}

func TestRejectThenResubmit(t *testing.T) {
	m := Default()
	n := 0
	st := Stamp{By: admin, At: "2024-01-01T00:00:00Z", NewID: func() string { n++; return "fb" }}
	rejected, err := m.ApplyReject(leadIn(StatePending), RejectInput{Message: "bedrag te laag"}, st)
	if err != nil {
		t.Fatal(err)
	}
	if len(rejected.QuoteFeedback) != 1 || rejected.QuoteFeedback[0].Type != domain.FeedbackRejection || n != 1 {
		t.Fatalf("unexpected feedback %+v", rejected.QuoteFeedback)
	}
	ops := m.Allowed(rejected, engineer)
	if !reflect.DeepEqual(ops, []Op{OpEditQuote, OpSubmit, OpResubmit}) {
		t.Fatalf("unexpected engineer ops %v", ops)
	}
	sub := Submission{LineItems: []domain.LineItem{{Description: "Berekening", Amount: decimal.NewFromInt(650)}}}
	again, err := m.ApplySubmit(rejected, sub, Stamp{By: engineer, At: st.At})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if Derive(again) != StatePending || len(again.QuoteFeedback) != 1 {
		t.Fatalf("expected pending with feedback kept, got %s", Derive(again))
	}
}

func TestEditQuoteAdminOverride(t *testing.T) {
	m := Default()
	l := leadIn(StateSent)
	sub := Submission{LineItems: []domain.LineItem{{Description: "Extra", Amount: decimal.NewFromInt(20)}}}
	if _, err := m.ApplyDraft(l, sub, Stamp{By: engineer}); !domain.IsPermission(err) {
		t.Fatalf("expected permission error for engineer, got %v", err)
	}
	got, err := m.ApplyDraft(l, sub, Stamp{By: admin})
	if err != nil {
		t.Fatalf("admin draft: %v", err)
	}
	if !got.QuoteValue.Decimal.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected value %s", got.QuoteValue.Decimal)
	}
}

func TestStatusChangeCannotSkipQuoteSteps(t *testing.T) {
	m := Default()
	st := Stamp{By: pl, At: "2024-05-01T12:00:00Z"}
	for _, target := range []domain.Status{domain.StatusOfferteVerzonden, domain.StatusOpdracht} {
		l := leadIn(StatePending)
		got, err := m.ApplyStatus(l, target, st)
		if !domain.IsPermission(err) {
			t.Fatalf("%s from pending: expected permission error, got %v", target, err)
		}
		if !reflect.DeepEqual(got, l) {
			t.Fatalf("%s from pending mutated the lead: %+v", target, got)
		}
	}
	if _, err := m.ApplyStatus(leadIn(StateApproved), domain.StatusOpdracht, Stamp{By: admin}); !domain.IsPermission(err) {
		t.Fatalf("confirm requires a sent quote, got %v", err)
	}
	got, err := m.ApplyStatus(leadIn(StateSent), domain.StatusOpdracht, Stamp{By: admin, At: "2024-05-02T09:00:00Z"})
	if err != nil || got.Status != domain.StatusOpdracht || got.UpdatedAt != "2024-05-02T09:00:00Z" {
		t.Fatalf("admin confirm via status: %+v %v", got, err)
	}
	got, err = m.ApplyStatus(leadIn(StatePending), domain.StatusArchief, st)
	if err != nil || got.Status != domain.StatusArchief || got.QuoteApproval != domain.ApprovalPending {
		t.Fatalf("plain status change: %+v %v", got, err)
	}
}
