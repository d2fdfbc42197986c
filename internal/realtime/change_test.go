package realtime_test

import (
	"encoding/json"
	"testing"

	"leadflow/internal/domain"
	"leadflow/internal/events"
	"leadflow/internal/realtime"
)

var (
	admin    = domain.Identity{ID: "u-admin", Name: "Anna", Role: domain.RoleAdmin}
	engineer = domain.Identity{ID: "u-erik", Name: "Erik", Role: domain.RoleEngineer, EngineerType: domain.EngineerRekenaar}
)

func lead(id string, status domain.Status, approval domain.QuoteApproval) domain.Lead {
	rekenaar := "Erik"
	return domain.Lead{
		ID:               id,
		ProjectType:      "Uitbouw",
		Status:           status,
		QuoteApproval:    approval,
		AssignedRekenaar: &rekenaar,
		CreatedAt:        "2024-04-01T08:00:00Z",
		UpdatedAt:        "2024-04-01T08:00:00Z",
	}
}

func leadEvent(t *testing.T, id int64, typ string, old *domain.Lead, next domain.Lead) domain.Event {
	t.Helper()
	payload := map[string]any{"new": next}
	if old != nil {
		payload["old"] = *old
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return domain.Event{ID: id, TS: "2024-05-01T12:00:00Z", Type: typ, EntityKind: "lead", EntityID: next.ID, ActorID: "u-admin", Payload: string(data)}
}

func TestFromEvent(t *testing.T) {
	before := lead("l-1", domain.StatusCalculatie, domain.ApprovalPending)
	after := lead("l-1", domain.StatusOfferteVerzonden, domain.ApprovalApproved)
	tests := []struct {
		name string
		evt  domain.Event
		want realtime.EventType
		ok   bool
	}{
		{"created", leadEvent(t, 1, events.LeadCreated, nil, before), realtime.EventInsert, true},
		{"approved", leadEvent(t, 2, events.LeadQuoteApproved, &before, after), realtime.EventUpdate, true},
		{"deleted", leadEvent(t, 3, events.LeadDeleted, &before, after), realtime.EventDelete, true},
		{"rbac", domain.Event{ID: 4, Type: events.RBACChanged, EntityKind: "actor", Payload: "{}"}, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, ok, err := realtime.FromEvent(tc.evt)
			if err != nil {
				t.Fatalf("from event: %v", err)
			}
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if c.EventType != tc.want || c.Seq != tc.evt.ID || c.Table != realtime.TableLeads {
				t.Fatalf("unexpected change %+v", c)
			}
			if c.LeadID() != "l-1" {
				t.Fatalf("lead id %q", c.LeadID())
			}
		})
	}
}

func TestFromEventRejectsBrokenPayload(t *testing.T) {
	_, _, err := realtime.FromEvent(domain.Event{ID: 7, Type: events.LeadAssigned, EntityKind: "lead", Payload: "{"})
	if err == nil {
		t.Fatalf("expected payload error")
	}
}

func TestForIdentity(t *testing.T) {
	building := lead("l-1", domain.StatusCalculatie, domain.ApprovalNone)
	ordered := lead("l-1", domain.StatusOpdracht, domain.ApprovalApproved)
	archived := lead("l-1", domain.StatusArchief, domain.ApprovalApproved)

	insert := realtime.Change{EventType: realtime.EventInsert, Table: realtime.TableLeads, New: &building}
	if _, ok := realtime.ForIdentity(insert, engineer, false); ok {
		t.Fatalf("engineer must not see a lead before Opdracht")
	}
	if _, ok := realtime.ForIdentity(insert, admin, false); !ok {
		t.Fatalf("admin sees every lead")
	}
	if _, ok := realtime.ForIdentity(insert, engineer, true); !ok {
		t.Fatalf("read-all bypasses the filter")
	}

	intoView := realtime.Change{EventType: realtime.EventUpdate, Table: realtime.TableLeads, Old: &building, New: &ordered}
	c, ok := realtime.ForIdentity(intoView, engineer, false)
	if !ok || c.EventType != realtime.EventUpdate {
		t.Fatalf("lead moving into view should arrive as update, got %v %v", c.EventType, ok)
	}

	outOfView := realtime.Change{EventType: realtime.EventUpdate, Table: realtime.TableLeads, Old: &ordered, New: &archived}
	c, ok = realtime.ForIdentity(outOfView, engineer, false)
	if !ok || c.EventType != realtime.EventDelete || c.New != nil || c.LeadID() != "l-1" {
		t.Fatalf("lead leaving view should arrive as delete without new image, got %+v", c)
	}
}

type recordingSink struct {
	ch chan string
}

func newRecordingSink() *recordingSink { return &recordingSink{ch: make(chan string, 32)} }

func (r *recordingSink) OnInsert(l domain.Lead) { r.ch <- "insert:" + l.ID }
func (r *recordingSink) OnUpdate(l domain.Lead) { r.ch <- "update:" + l.ID + ":" + string(l.QuoteApproval) }
func (r *recordingSink) OnDelete(id string)     { r.ch <- "delete:" + id }

func TestApply(t *testing.T) {
	sink := newRecordingSink()
	l := lead("l-1", domain.StatusNieuw, domain.ApprovalNone)
	realtime.Apply(sink, realtime.Change{EventType: realtime.EventInsert, Table: realtime.TableLeads, New: &l})
	realtime.Apply(sink, realtime.Change{EventType: realtime.EventUpdate, Table: realtime.TableLeads, New: &l})
	realtime.Apply(sink, realtime.Change{EventType: realtime.EventDelete, Table: realtime.TableLeads, Old: &l})
	realtime.Apply(sink, realtime.Change{EventType: realtime.EventInsert, Table: "actors", New: &l})
	close(sink.ch)
	var got []string
	for s := range sink.ch {
		got = append(got, s)
	}
	want := []string{"insert:l-1", "update:l-1:none", "delete:l-1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
