package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"leadflow/internal/config"
	"leadflow/internal/db"
	"leadflow/internal/domain"
	"leadflow/internal/engine"
	"leadflow/internal/engine/auth"
	"leadflow/internal/events"
	"leadflow/internal/logging"
	"leadflow/internal/migrate"
	"leadflow/internal/repo"
	"leadflow/internal/workflow"
)

var (
	admin    = domain.Identity{ID: "u-admin", Name: "Anna", Role: domain.RoleAdmin}
	engineer = domain.Identity{ID: "u-erik", Name: "Erik", Role: domain.RoleEngineer, EngineerType: domain.EngineerRekenaar}
	lead     = domain.Identity{ID: "u-piet", Name: "Piet", Role: domain.RoleProjectleider}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, seed bool) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("org-1")
	eng := engine.New(conn, cfg, logging.Discard())
	eng.Perms.Logger = logging.Discard()
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if seed {
		if err := eng.EnsureRBAC(ctx); err != nil {
			t.Fatalf("seed rbac: %v", err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) createLead(t *testing.T) domain.Lead {
	t.Helper()
	l, err := env.Engine.CreateLead(env.Ctx, admin, domain.LeadIntake{
		ProjectType:           "Uitbouw",
		City:                  "Utrecht",
		AssignedProjectleider: "Piet",
		AssignedRekenaar:      "Erik",
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	return l
}

func berekening(amount int64) workflow.Submission {
	return workflow.Submission{LineItems: []domain.LineItem{{Description: "Berekening", Amount: decimal.NewFromInt(amount)}}}
}

func TestCreateLeadDefaults(t *testing.T) {
	env := newTestEnv(t, true)
	l := env.createLead(t)
	if l.Status != domain.StatusNieuw || l.QuoteApproval != domain.ApprovalNone {
		t.Fatalf("unexpected intake state %s/%s", l.Status, l.QuoteApproval)
	}
	if l.CreatedAt != "2024-01-01T00:00:00Z" || l.UpdatedAt != l.CreatedAt {
		t.Fatalf("unexpected timestamps %s %s", l.CreatedAt, l.UpdatedAt)
	}
	stored, err := env.Engine.GetLead(env.Ctx, admin, l.ID)
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if domain.StringValue(stored.AssignedRekenaar) != "Erik" {
		t.Fatalf("assignment not stored: %+v", stored)
	}
	_, err = env.Engine.CreateLead(env.Ctx, admin, domain.LeadIntake{ID: l.ID, ProjectType: "Uitbouw"})
	if !domain.IsValidation(err) {
		t.Fatalf("expected duplicate id validation error, got %v", err)
	}
	_, err = env.Engine.CreateLead(env.Ctx, engineer, domain.LeadIntake{ProjectType: "Dakkapel"})
	if !domain.IsPermission(err) {
		t.Fatalf("engineer should not create leads, got %v", err)
	}
}

func TestQuoteApprovalFlow(t *testing.T) {
	env := newTestEnv(t, true)
	l := env.createLead(t)

	submitted, err := env.Engine.SubmitQuote(env.Ctx, engineer, l.ID, berekening(500))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.QuoteApproval != domain.ApprovalPending || submitted.Status != domain.StatusCalculatie {
		t.Fatalf("unexpected state after submit %s/%s", submitted.Status, submitted.QuoteApproval)
	}
	if !submitted.QuoteValue.Valid || !submitted.QuoteValue.Decimal.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected quote value 500, got %v", submitted.QuoteValue)
	}

	approved, err := env.Engine.ApproveQuote(env.Ctx, admin, l.ID, workflow.ApproveInput{Message: "akkoord"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.QuoteApproval != domain.ApprovalApproved || approved.Status != domain.StatusOfferteVerzonden {
		t.Fatalf("unexpected state after approve %s/%s", approved.Status, approved.QuoteApproval)
	}
	stored, err := env.Engine.GetLead(env.Ctx, admin, l.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(stored.QuoteFeedback) != 1 || stored.QuoteFeedback[0].Type != domain.FeedbackApproval {
		t.Fatalf("expected approval feedback, got %+v", stored.QuoteFeedback)
	}
	visible, err := env.Engine.ListLeads(env.Ctx, engineer, repo.LeadFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("engineer should not see a lead before Opdracht, got %d", len(visible))
	}

	confirmed, err := env.Engine.ConfirmOrder(env.Ctx, admin, l.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.StatusOpdracht {
		t.Fatalf("expected Opdracht, got %s", confirmed.Status)
	}
	visible, err = env.Engine.ListLeads(env.Ctx, engineer, repo.LeadFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != l.ID {
		t.Fatalf("engineer should see the accepted lead, got %+v", visible)
	}
}

func TestRejectAndResubmit(t *testing.T) {
	env := newTestEnv(t, true)
	l := env.createLead(t)
	if _, err := env.Engine.SubmitQuote(env.Ctx, engineer, l.ID, berekening(500)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := env.Engine.RejectQuote(env.Ctx, admin, l.ID, workflow.RejectInput{Message: "  "})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error for empty feedback, got %v", err)
	}
	rejected, err := env.Engine.RejectQuote(env.Ctx, admin, l.ID, workflow.RejectInput{Message: "bedrag te laag"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.QuoteApproval != domain.ApprovalRejected {
		t.Fatalf("expected rejected, got %s", rejected.QuoteApproval)
	}
	stored, err := env.Engine.GetLead(env.Ctx, admin, l.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	fb, ok := stored.LatestFeedback()
	if !ok || fb.Type != domain.FeedbackRejection || fb.Message != "bedrag te laag" || fb.AuthorName != "Anna" {
		t.Fatalf("unexpected feedback %+v", stored.QuoteFeedback)
	}
	resubmitted, err := env.Engine.SubmitQuote(env.Ctx, engineer, l.ID, berekening(650))
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if resubmitted.QuoteApproval != domain.ApprovalPending || len(resubmitted.QuoteFeedback) != 1 {
		t.Fatalf("unexpected resubmit result %+v", resubmitted)
	}
}

func TestServerRevalidatesTransitions(t *testing.T) {
	env := newTestEnv(t, true)
	l := env.createLead(t)

	// not pending yet
	_, err := env.Engine.ApproveQuote(env.Ctx, admin, l.ID, workflow.ApproveInput{})
	var perr *domain.PermissionError
	if !errors.As(err, &perr) || perr.State != string(workflow.StateBuilding) {
		t.Fatalf("expected state permission error, got %v", err)
	}
	if _, err := env.Engine.SubmitQuote(env.Ctx, engineer, l.ID, berekening(500)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = env.Engine.ApproveQuote(env.Ctx, engineer, l.ID, workflow.ApproveInput{})
	if !errors.As(err, &perr) || perr.Permission != domain.PermQuoteApprove {
		t.Fatalf("expected missing permission error, got %v", err)
	}
	_, err = env.Engine.SaveQuoteDraft(env.Ctx, engineer, l.ID, berekening(10))
	if !domain.IsPermission(err) {
		t.Fatalf("engineer may not edit a pending quote, got %v", err)
	}
	stored, err := env.Engine.GetLead(env.Ctx, admin, l.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.QuoteApproval != domain.ApprovalPending || !stored.QuoteValue.Decimal.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("rejected calls must not mutate, got %+v", stored)
	}
	if _, err := env.Engine.SendQuote(env.Ctx, engineer, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdjustedApprovalKeepsTotal(t *testing.T) {
	env := newTestEnv(t, true)
	sub := workflow.Submission{LineItems: []domain.LineItem{
		{Description: "Berekening", Amount: decimal.NewFromInt(400)},
		{Description: "Tekening", Amount: decimal.NewFromInt(200)},
	}}
	for _, target := range []int64{750, 450, 600} {
		l := env.createLead(t)
		if _, err := env.Engine.SubmitQuote(env.Ctx, engineer, l.ID, sub); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if _, err := env.Engine.ApproveQuote(env.Ctx, admin, l.ID, workflow.ApproveInput{AdjustedValue: decimal.NewNullDecimal(decimal.NewFromInt(target))}); err != nil {
			t.Fatalf("approve %d: %v", target, err)
		}
		stored, err := env.Engine.GetLead(env.Ctx, admin, l.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if !stored.QuoteValue.Decimal.Equal(decimal.NewFromInt(target)) {
			t.Fatalf("expected value %d, got %s", target, stored.QuoteValue.Decimal)
		}
		if !domain.QuoteTotal(stored.QuoteLineItems).Equal(stored.QuoteValue.Decimal) {
			t.Fatalf("line items %v do not sum to %s", stored.QuoteLineItems, stored.QuoteValue.Decimal)
		}
	}
	l := env.createLead(t)
	if _, err := env.Engine.SubmitQuote(env.Ctx, engineer, l.ID, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := env.Engine.ApproveQuote(env.Ctx, admin, l.ID, workflow.ApproveInput{AdjustedValue: decimal.NewNullDecimal(decimal.NewFromInt(-1))})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error for negative value, got %v", err)
	}
}

func TestEventsCarryRowImages(t *testing.T) {
	env := newTestEnv(t, true)
	l := env.createLead(t)
	if _, err := env.Engine.Assign(env.Ctx, lead, l.ID, domain.SlotTekenaar, "Tom"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	evts, err := env.Engine.Events(env.Ctx, admin, repo.EventFilters{EntityKind: "lead", EntityID: l.ID})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 2 || evts[0].Type != events.LeadAssigned || evts[1].Type != events.LeadCreated {
		t.Fatalf("unexpected events %+v", evts)
	}
	var payload struct {
		Old *domain.Lead `json:"old"`
		New domain.Lead  `json:"new"`
	}
	if err := json.Unmarshal([]byte(evts[0].Payload), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Old == nil || payload.Old.AssignedTekenaar != nil || domain.StringValue(payload.New.AssignedTekenaar) != "Tom" {
		t.Fatalf("unexpected images %+v", payload)
	}
	if _, err := env.Engine.Events(env.Ctx, engineer, repo.EventFilters{}); !domain.IsPermission(err) {
		t.Fatalf("engineer lacks events.read, got %v", err)
	}
}

func TestDeleteLeadIsSoft(t *testing.T) {
	env := newTestEnv(t, true)
	l := env.createLead(t)
	if _, err := env.Engine.DeleteLead(env.Ctx, lead, l.ID); !domain.IsPermission(err) {
		t.Fatalf("projectleider lacks lead.delete, got %v", err)
	}
	deleted, err := env.Engine.DeleteLead(env.Ctx, admin, l.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted.Deleted {
		t.Fatalf("expected deleted flag")
	}
	if _, err := env.Engine.GetLead(env.Ctx, admin, l.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	leads, err := env.Engine.ListLeads(env.Ctx, admin, repo.LeadFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(leads) != 0 {
		t.Fatalf("deleted lead still listed")
	}
	raw, err := env.Engine.Repo.GetLead(env.Ctx, nil, l.ID)
	if err != nil || !raw.Deleted {
		t.Fatalf("row should be kept with deleted flag: %v", err)
	}
}

func TestProjectleiderSeesAssignedLeads(t *testing.T) {
	env := newTestEnv(t, true)
	mine := env.createLead(t)
	other, err := env.Engine.CreateLead(env.Ctx, admin, domain.LeadIntake{ProjectType: "Dakkapel", AssignedProjectleider: "Sanne"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	leads, err := env.Engine.ListLeads(env.Ctx, lead, repo.LeadFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(leads) != 1 || leads[0].ID != mine.ID {
		t.Fatalf("unexpected visible set %+v", leads)
	}
	if _, err := env.Engine.GetLead(env.Ctx, lead, other.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("hidden lead must look missing, got %v", err)
	}
}

func TestPermissionTiers(t *testing.T) {
	env := newTestEnv(t, false)
	set, err := env.Engine.WhoAmI(env.Ctx, engineer)
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if set.Tier != auth.TierFallback || !set.Has(domain.PermQuoteSubmit) {
		t.Fatalf("expected fallback defaults, got %+v", set)
	}
	if err := env.Engine.EnsureRBAC(env.Ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	set, err = env.Engine.WhoAmI(env.Ctx, engineer)
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if set.Tier != auth.TierAuthoritative || set.Has(domain.PermEventsRead) {
		t.Fatalf("unexpected authoritative set %+v", set)
	}
	if err := env.Engine.RegisterActor(env.Ctx, engineer); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := env.Engine.GrantRole(env.Ctx, engineer, engineer.ID, domain.RoleProjectleider); !domain.IsPermission(err) {
		t.Fatalf("engineer lacks rbac.manage, got %v", err)
	}
	if err := env.Engine.GrantRole(env.Ctx, admin, engineer.ID, domain.RoleProjectleider); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := env.Engine.Events(env.Ctx, engineer, repo.EventFilters{}); err != nil {
		t.Fatalf("granted role should allow events.read: %v", err)
	}
	if err := env.Engine.RevokeRole(env.Ctx, admin, engineer.ID, domain.RoleProjectleider); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.Engine.Events(env.Ctx, engineer, repo.EventFilters{}); !domain.IsPermission(err) {
		t.Fatalf("revoked role should drop events.read, got %v", err)
	}
}

func TestStatusChangeCannotSkipQuoteSteps(t *testing.T) {
	env := newTestEnv(t, true)
	l := env.createLead(t)
	if _, err := env.Engine.SubmitQuote(env.Ctx, engineer, l.ID, berekening(500)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for _, target := range []domain.Status{domain.StatusOpdracht, domain.StatusOfferteVerzonden} {
		if _, err := env.Engine.UpdateStatus(env.Ctx, lead, l.ID, target); !domain.IsPermission(err) {
			t.Fatalf("projectleider moved pending lead to %s: %v", target, err)
		}
	}
	if _, err := env.Engine.UpdateStatus(env.Ctx, admin, l.ID, domain.StatusOpdracht); !domain.IsPermission(err) {
		t.Fatalf("admin must not confirm an unsent quote via status, got %v", err)
	}
	stored, err := env.Engine.GetLead(env.Ctx, admin, l.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != domain.StatusCalculatie || stored.QuoteApproval != domain.ApprovalPending {
		t.Fatalf("rejected status changes must not mutate, got %s/%s", stored.Status, stored.QuoteApproval)
	}

	if _, err := env.Engine.ApproveQuote(env.Ctx, admin, l.ID, workflow.ApproveInput{}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	confirmed, err := env.Engine.UpdateStatus(env.Ctx, admin, l.ID, domain.StatusOpdracht)
	if err != nil || confirmed.Status != domain.StatusOpdracht {
		t.Fatalf("admin status change on a sent quote: %+v %v", confirmed, err)
	}
}
