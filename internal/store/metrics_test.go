package store

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"leadflow/internal/domain"
	"leadflow/internal/gateway"
	"leadflow/internal/logging"
)

type failingGateway struct {
	gateway.Gateway
	release chan struct{}
}

func (g failingGateway) UpdateStatus(ctx context.Context, id string, status domain.Status) gateway.Result[domain.Lead] {
	<-g.release
	return gateway.Result[domain.Lead]{Error: "boom", Code: gateway.CodeInternal}
}

func TestMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	gw := failingGateway{release: make(chan struct{})}
	s := New(gw, WithIdentity(domain.Identity{ID: "u-admin", Name: "Anna", Role: domain.RoleAdmin}),
		WithMetrics(m), WithLogger(logging.Discard()))
	s.Load([]domain.Lead{{ID: "l-1", ProjectType: "Uitbouw", Status: domain.StatusNieuw, QuoteApproval: domain.ApprovalNone}})

	p, err := s.UpdateStatus(context.Background(), "l-1", domain.StatusTriage)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	s.OnUpdate(domain.Lead{ID: "l-1", ProjectType: "Uitbouw", Status: domain.StatusCalculatie, QuoteApproval: domain.ApprovalNone})
	close(gw.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Wait(ctx); !domain.IsGateway(err) {
		t.Fatalf("expected gateway error, got %v", err)
	}

	if got := testutil.ToFloat64(m.mutations.WithLabelValues("update_status", outcomeApplied)); got != 1 {
		t.Fatalf("applied = %v", got)
	}
	if got := testutil.ToFloat64(m.mutations.WithLabelValues("update_status", outcomeSuperseded)); got != 1 {
		t.Fatalf("superseded = %v", got)
	}
	if got := testutil.ToFloat64(m.conflicts); got != 1 {
		t.Fatalf("conflicts = %v", got)
	}
	if got := testutil.ToFloat64(m.reconciled.WithLabelValues("update")); got != 1 {
		t.Fatalf("reconciled = %v", got)
	}
	if l, _ := s.Get("l-1"); l.Status != domain.StatusCalculatie {
		t.Fatalf("reconciled image should stay, got %s", l.Status)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.mutation("op", outcomeApplied)
	m.reconcile("insert")
	m.conflict()
}
