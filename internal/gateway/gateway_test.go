package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"leadflow/internal/config"
	"leadflow/internal/db"
	"leadflow/internal/domain"
	"leadflow/internal/engine"
	"leadflow/internal/gateway"
	"leadflow/internal/logging"
	"leadflow/internal/migrate"
	"leadflow/internal/workflow"
)

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&domain.ValidationError{Field: "x", Reason: "y"}, gateway.CodeValidation},
		{fmt.Errorf("wrapped: %w", &domain.PermissionError{Op: "approve", Permission: domain.PermQuoteApprove}), gateway.CodeForbidden},
		{&domain.PermissionError{Op: "approve", Role: domain.RoleAdmin, State: "building"}, gateway.CodeInvalidTransition},
		{domain.ErrNotFound, gateway.CodeNotFound},
		{context.DeadlineExceeded, gateway.CodeUnavailable},
		{&domain.GatewayError{Code: "custom"}, "custom"},
		{errors.New("boom"), gateway.CodeInternal},
	}
	for _, tc := range cases {
		if got := gateway.Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v)=%q want %q", tc.err, got, tc.want)
		}
	}
}

func TestResultErr(t *testing.T) {
	ok := gateway.OK(1)
	if ok.Err("op", "id") != nil {
		t.Fatalf("success must not produce an error")
	}
	failed := gateway.Fail[int](&domain.ValidationError{Field: "message", Reason: "required"})
	err := failed.Err("reject_quote", "lead-1")
	var gerr *domain.GatewayError
	if !errors.As(err, &gerr) || gerr.Code != gateway.CodeValidation || gerr.LeadID != "lead-1" {
		t.Fatalf("unexpected gateway error %#v", err)
	}
}

func TestLocalGateway(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("org-1"), logging.Discard())
	eng.Now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.EnsureRBAC(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	adminGW := gateway.Local{Engine: eng, Identity: domain.Identity{ID: "a", Name: "Anna", Role: domain.RoleAdmin}}
	engGW := gateway.Local{Engine: eng, Identity: domain.Identity{ID: "e", Name: "Erik", Role: domain.RoleEngineer, EngineerType: domain.EngineerRekenaar}}

	created := adminGW.CreateLead(ctx, gateway.CreateLeadInput{ID: "0b8e4a8e-7f0c-4d51-9a55-3c1b8f0f7e11", ProjectType: "Uitbouw"})
	if !created.Success || created.Data.ID != "0b8e4a8e-7f0c-4d51-9a55-3c1b8f0f7e11" {
		t.Fatalf("create failed: %+v", created)
	}
	res := engGW.ApproveQuote(ctx, created.Data.ID, workflow.ApproveInput{})
	if res.Success || res.Code != gateway.CodeForbidden {
		t.Fatalf("expected forbidden, got %+v", res)
	}
	sub := workflow.Submission{LineItems: []domain.LineItem{{Description: "Berekening", Amount: decimal.NewFromInt(500)}}}
	submitted := engGW.SubmitQuote(ctx, created.Data.ID, sub)
	if !submitted.Success || submitted.Data.QuoteApproval != domain.ApprovalPending {
		t.Fatalf("submit failed: %+v", submitted)
	}
	missing := adminGW.SendQuote(ctx, "nope")
	if missing.Success || missing.Code != gateway.CodeNotFound {
		t.Fatalf("expected not_found, got %+v", missing)
	}
	list := adminGW.ListLeads(ctx)
	if !list.Success || len(list.Data) != 1 {
		t.Fatalf("unexpected list %+v", list)
	}
}
