package domain

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
)

func items(pairs ...any) []LineItem {
	var out []LineItem
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, LineItem{Description: pairs[i].(string), Amount: decimal.NewFromInt(int64(pairs[i+1].(int)))})
	}
	return out
}

func TestAdjustLineItemsKeepsTotalInvariant(t *testing.T) {
	cases := []struct {
		name   string
		items  []LineItem
		target int64
		lines  int
	}{
		{"unchanged", items("Berekening", 500), 500, 1},
		{"raise appends correction", items("Berekening", 500), 650, 2},
		{"lower absorbs from last", items("Berekening", 500, "Tekening", 100), 450, 2},
		{"lower to zero", items("Berekening", 500, "Tekening", 100), 0, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AdjustLineItems(tc.items, decimal.NewFromInt(tc.target))
			if err != nil {
				t.Fatalf("adjust: %v", err)
			}
			if len(got) != tc.lines {
				t.Fatalf("expected %d lines, got %d", tc.lines, len(got))
			}
			if !QuoteTotal(got).Equal(decimal.NewFromInt(tc.target)) {
				t.Fatalf("total %s != %d", QuoteTotal(got), tc.target)
			}
			for _, it := range got {
				if it.Amount.IsNegative() {
					t.Fatalf("negative amount on %q", it.Description)
				}
			}
		})
	}
}

func TestAdjustLineItemsLeavesInputUntouched(t *testing.T) {
	in := items("Berekening", 500, "Tekening", 100)
	before := CloneLineItems(in)
	if _, err := AdjustLineItems(in, decimal.NewFromInt(50)); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, before) {
		t.Fatalf("input mutated: %+v", in)
	}
}

func TestAdjustLineItemsRejectsNegativeTarget(t *testing.T) {
	if _, err := AdjustLineItems(items("x", 1), decimal.NewFromInt(-1)); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEffectiveApprovalIgnoredBeforeCalculatie(t *testing.T) {
	l := Lead{Status: StatusTriage, QuoteApproval: ApprovalPending}
	if got := l.EffectiveApproval(); got != ApprovalNone {
		t.Fatalf("expected none before Calculatie, got %s", got)
	}
	l.Status = StatusCalculatie
	if got := l.EffectiveApproval(); got != ApprovalPending {
		t.Fatalf("expected pending, got %s", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	name := "Piet"
	l := Lead{
		ID:               "l1",
		QuoteLineItems:   items("Berekening", 500),
		QuoteDetails:     &QuoteDetails{AttentionNotes: []string{"fundering"}},
		QuoteFeedback:    []Feedback{{ID: "f1", Message: "ok"}},
		AssignedRekenaar: &name,
	}
	c := l.Clone()
	c.QuoteLineItems[0].Description = "changed"
	c.QuoteDetails.AttentionNotes[0] = "changed"
	c.QuoteFeedback[0].Message = "changed"
	*c.AssignedRekenaar = "changed"
	if l.QuoteLineItems[0].Description != "Berekening" || l.QuoteDetails.AttentionNotes[0] != "fundering" ||
		l.QuoteFeedback[0].Message != "ok" || *l.AssignedRekenaar != "Piet" {
		t.Fatalf("clone shares state with original: %+v", l)
	}
}

func TestParseQuoteDescription(t *testing.T) {
	d := ParseQuoteDescription(`{"description":"Dakkapel","attention_notes":["asbest"],"include_vat":true}`)
	if d.Description != "Dakkapel" || !d.IncludeVAT || len(d.AttentionNotes) != 1 {
		t.Fatalf("unexpected details %+v", d)
	}
	plain := ParseQuoteDescription("Uitbouw achterzijde")
	if plain.Description != "Uitbouw achterzijde" || plain.IncludeVAT {
		t.Fatalf("unexpected plain details %+v", plain)
	}
}
