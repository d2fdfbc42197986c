package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"leadflow/internal/config"
	"leadflow/internal/domain"
	"leadflow/internal/engine/auth"
	"leadflow/internal/events"
	"leadflow/internal/repo"
	"leadflow/internal/visibility"
	"leadflow/internal/workflow"
)

// Engine is the authoritative side of every lead action. Each action runs in
// one transaction that re-checks permissions and workflow state against the
// stored row.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Log     events.Writer
	Config  *config.Config
	Machine workflow.Machine
	Perms   auth.Resolver
	Logger  *charmLog.Logger
	Now     func() time.Time
	NewID   func() string
}

func New(db *sql.DB, cfg *config.Config, logger *charmLog.Logger) Engine {
	r := repo.Repo{DB: db}
	if cfg == nil {
		cfg = config.Default("leadflow")
	}
	if logger == nil {
		logger = charmLog.Default()
	}
	return Engine{
		DB:      db,
		Repo:    r,
		Log:     events.Writer{DB: db},
		Config:  cfg,
		Machine: workflow.Machine{AdvanceOnApprove: cfg.ApproveAdvances()},
		Perms: auth.Resolver{
			Source:   auth.SQLSource{Repo: r},
			Defaults: auth.StaticDefaults(cfg.DefaultPermissions()),
			Logger:   logger,
		},
		Logger: logger,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) stamp(who domain.Identity) workflow.Stamp {
	return workflow.Stamp{By: who, At: e.timestamp(), NewID: e.newID}
}

// EnsureRBAC seeds the RBAC tables from config when they are empty.
func (e Engine) EnsureRBAC(ctx context.Context) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	n, err := e.Repo.RoleCount(ctx, nil)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	descriptions := map[domain.Role]string{}
	for roleID, role := range e.Config.RBAC.Roles {
		descriptions[domain.Role(roleID)] = role.Description
	}
	if err := auth.Seed(ctx, tx, e.Repo, e.Config.DefaultPermissions(), descriptions); err != nil {
		return err
	}
	if _, err := e.Log.Append(ctx, tx, events.RBACChanged, "rbac", "", "system", events.EventPayload{"seeded": true}); err != nil {
		return err
	}
	return tx.Commit()
}

// WhoAmI resolves the caller's permissions.
func (e Engine) WhoAmI(ctx context.Context, who domain.Identity) (auth.PermissionSet, error) {
	return e.Perms.Resolve(ctx, who)
}

func (e Engine) require(ctx context.Context, who domain.Identity, op, perm string) (auth.PermissionSet, error) {
	perms, err := e.Perms.Resolve(ctx, who)
	if err != nil {
		return perms, fmt.Errorf("resolve permissions: %w", err)
	}
	if perm == "" {
		return perms, nil
	}
	return perms, perms.Require(op, perm)
}

func (e Engine) CreateLead(ctx context.Context, who domain.Identity, opts domain.LeadIntake) (domain.Lead, error) {
	if err := opts.Validate(); err != nil {
		return domain.Lead{}, err
	}
	if _, err := e.require(ctx, who, "create_lead", domain.PermLeadCreate); err != nil {
		return domain.Lead{}, err
	}
	if opts.ID == "" {
		opts.ID = e.newID()
	}
	l := domain.NewLead(opts, e.timestamp())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetLead(ctx, tx, l.ID); err == nil {
		return domain.Lead{}, &domain.ValidationError{Field: "id", Reason: "lead already exists"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Lead{}, err
	}
	if err := e.ensureActor(ctx, tx, who); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Repo.InsertLead(ctx, tx, l); err != nil {
		return domain.Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	if _, err := e.Log.AppendLeadChange(ctx, tx, events.LeadCreated, who.ID, nil, l); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

func (e Engine) ensureActor(ctx context.Context, tx *sql.Tx, who domain.Identity) error {
	if who.ID == "" {
		return errors.New("actor id required")
	}
	return e.Repo.UpsertActor(ctx, tx, domain.Actor{
		ID:           who.ID,
		Name:         who.Name,
		Role:         who.Role,
		EngineerType: who.EngineerType,
		CreatedAt:    e.timestamp(),
	})
}

type transform func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error)

// mutate loads the current row inside a transaction, applies fn, persists the
// result and records an event with both images.
func (e Engine) mutate(ctx context.Context, who domain.Identity, op, perm, evtType, id string, fn transform) (domain.Lead, error) {
	if _, err := e.require(ctx, who, op, perm); err != nil {
		return domain.Lead{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()
	cur, err := e.Repo.GetLead(ctx, tx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if cur.Deleted {
		return domain.Lead{}, repo.ErrNotFound
	}
	next, err := fn(cur, e.stamp(who))
	if err != nil {
		return domain.Lead{}, err
	}
	if err := e.ensureActor(ctx, tx, who); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Repo.UpdateLead(ctx, tx, next); err != nil {
		return domain.Lead{}, fmt.Errorf("update lead: %w", err)
	}
	if len(next.QuoteFeedback) > len(cur.QuoteFeedback) {
		for _, fb := range next.QuoteFeedback[len(cur.QuoteFeedback):] {
			if err := e.Repo.AppendFeedback(ctx, tx, next.ID, fb); err != nil {
				return domain.Lead{}, fmt.Errorf("append feedback: %w", err)
			}
		}
	}
	if _, err := e.Log.AppendLeadChange(ctx, tx, evtType, who.ID, &cur, next); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return next, nil
}

func (e Engine) UpdateStatus(ctx context.Context, who domain.Identity, id string, status domain.Status) (domain.Lead, error) {
	if _, err := domain.ParseStatus(string(status)); err != nil {
		return domain.Lead{}, err
	}
	return e.mutate(ctx, who, "update_status", domain.PermLeadStatusChange, events.LeadStatusChanged, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return e.Machine.ApplyStatus(cur, status, st)
		})
}

func (e Engine) Assign(ctx context.Context, who domain.Identity, id string, slot domain.Slot, name string) (domain.Lead, error) {
	if _, err := domain.ParseSlot(string(slot)); err != nil {
		return domain.Lead{}, err
	}
	name = strings.TrimSpace(name)
	return e.mutate(ctx, who, "assign", domain.PermLeadAssign, events.LeadAssigned, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			next := cur.Clone()
			next.SetSlot(slot, name)
			next.UpdatedAt = st.At
			return next, nil
		})
}

// DeleteLead soft-deletes a lead. The row and its history are kept.
func (e Engine) DeleteLead(ctx context.Context, who domain.Identity, id string) (domain.Lead, error) {
	if _, err := e.require(ctx, who, "delete_lead", domain.PermLeadDelete); err != nil {
		return domain.Lead{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()
	cur, err := e.Repo.GetLead(ctx, tx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if cur.Deleted {
		return domain.Lead{}, repo.ErrNotFound
	}
	at := e.timestamp()
	if err := e.Repo.SoftDeleteLead(ctx, tx, id, at); err != nil {
		return domain.Lead{}, err
	}
	next := cur.Clone()
	next.Deleted = true
	next.UpdatedAt = at
	if _, err := e.Log.AppendLeadChange(ctx, tx, events.LeadDeleted, who.ID, &cur, next); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return next, nil
}

// ListLeads returns the leads visible to who, in creation order. Holders of
// lead.read.all bypass the role filter.
func (e Engine) ListLeads(ctx context.Context, who domain.Identity, f repo.LeadFilters) ([]domain.Lead, error) {
	perms, err := e.require(ctx, who, "list_leads", "")
	if err != nil {
		return nil, err
	}
	f.IncludeDeleted = false
	leads, err := e.Repo.ListLeads(ctx, f)
	if err != nil {
		return nil, err
	}
	if perms.Has(domain.PermLeadReadAll) {
		return leads, nil
	}
	return visibility.Visible(leads, who), nil
}

// GetLead returns a lead when it is visible to who; hidden leads are reported
// as not found.
func (e Engine) GetLead(ctx context.Context, who domain.Identity, id string) (domain.Lead, error) {
	perms, err := e.require(ctx, who, "get_lead", "")
	if err != nil {
		return domain.Lead{}, err
	}
	l, err := e.Repo.GetLead(ctx, nil, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if l.Deleted {
		return domain.Lead{}, repo.ErrNotFound
	}
	if !perms.Has(domain.PermLeadReadAll) && !visibility.CanSee(l, who) {
		return domain.Lead{}, repo.ErrNotFound
	}
	return l, nil
}

// Events returns the audit log newest first.
func (e Engine) Events(ctx context.Context, who domain.Identity, f repo.EventFilters) ([]domain.Event, error) {
	if _, err := e.require(ctx, who, "list_events", domain.PermEventsRead); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, f)
}

// Stats counts live leads per status.
func (e Engine) Stats(ctx context.Context) (map[string]int, error) {
	return e.Repo.CountLeadsByStatus(ctx)
}
