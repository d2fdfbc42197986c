package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"leadflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

// ErrNotFound aliases the domain sentinel so callers can match either.
var ErrNotFound = domain.ErrNotFound

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q runs on tx when given, on the pool otherwise.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func ptrFromNull(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

const leadColumns = `id,project_type,city,address,client_name,client_email,client_phone,status,quote_approval,quote_value,
quote_line_items_json,quote_details_json,quote_submitted_by,assignee,assigned_projectleider,assigned_rekenaar,assigned_tekenaar,
deleted_at,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (domain.Lead, error) {
	var l domain.Lead
	var city, address, clientName, clientEmail, clientPhone, items, details, submittedBy sql.NullString
	var assignee, pl, rekenaar, tekenaar, deletedAt sql.NullString
	var status, approval string
	err := row.Scan(&l.ID, &l.ProjectType, &city, &address, &clientName, &clientEmail, &clientPhone, &status, &approval, &l.QuoteValue,
		&items, &details, &submittedBy, &assignee, &pl, &rekenaar, &tekenaar, &deletedAt, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.City, l.Address = city.String, address.String
	l.ClientName, l.ClientEmail, l.ClientPhone = clientName.String, clientEmail.String, clientPhone.String
	l.Status = domain.Status(status)
	l.QuoteApproval = domain.QuoteApproval(approval)
	l.QuoteSubmittedBy = submittedBy.String
	l.Assignee = ptrFromNull(assignee)
	l.AssignedProjectleider = ptrFromNull(pl)
	l.AssignedRekenaar = ptrFromNull(rekenaar)
	l.AssignedTekenaar = ptrFromNull(tekenaar)
	l.Deleted = deletedAt.Valid
	if items.Valid && items.String != "" {
		if err := json.Unmarshal([]byte(items.String), &l.QuoteLineItems); err != nil {
			return l, fmt.Errorf("lead %s line items: %w", l.ID, err)
		}
	}
	if details.Valid && details.String != "" {
		d := domain.ParseQuoteDescription(details.String)
		l.QuoteDetails = &d
	}
	return l, nil
}

func leadArgs(l domain.Lead) ([]any, error) {
	var items, details any
	if len(l.QuoteLineItems) > 0 {
		b, err := json.Marshal(l.QuoteLineItems)
		if err != nil {
			return nil, err
		}
		items = string(b)
	}
	if l.QuoteDetails != nil {
		b, err := json.Marshal(l.QuoteDetails)
		if err != nil {
			return nil, err
		}
		details = string(b)
	}
	return []any{
		l.ProjectType, nullable(l.City), nullable(l.Address), nullable(l.ClientName), nullable(l.ClientEmail), nullable(l.ClientPhone),
		string(l.Status), string(l.QuoteApproval), l.QuoteValue, items, details, nullable(l.QuoteSubmittedBy),
		nullableStringPtr(l.Assignee), nullableStringPtr(l.AssignedProjectleider), nullableStringPtr(l.AssignedRekenaar), nullableStringPtr(l.AssignedTekenaar),
	}, nil
}

func (r Repo) InsertLead(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	args, err := leadArgs(l)
	if err != nil {
		return err
	}
	args = append([]any{l.ID}, args...)
	args = append(args, l.CreatedAt, l.UpdatedAt)
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO leads(id,project_type,city,address,client_name,client_email,client_phone,status,quote_approval,quote_value,
quote_line_items_json,quote_details_json,quote_submitted_by,assignee,assigned_projectleider,assigned_rekenaar,assigned_tekenaar,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	if err != nil {
		return err
	}
	for _, fb := range l.QuoteFeedback {
		if err := r.AppendFeedback(ctx, tx, l.ID, fb); err != nil {
			return err
		}
	}
	return nil
}

// UpdateLead rewrites the mutable columns. Feedback is append-only and is
// written through AppendFeedback.
func (r Repo) UpdateLead(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	args, err := leadArgs(l)
	if err != nil {
		return err
	}
	args = append(args, l.UpdatedAt, l.ID)
	res, err := r.q(tx).ExecContext(ctx, `UPDATE leads SET project_type=?, city=?, address=?, client_name=?, client_email=?, client_phone=?,
status=?, quote_approval=?, quote_value=?, quote_line_items_json=?, quote_details_json=?, quote_submitted_by=?,
assignee=?, assigned_projectleider=?, assigned_rekenaar=?, assigned_tekenaar=?, updated_at=? WHERE id=?`, args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteLead flags a lead as deleted; rows are never removed.
func (r Repo) SoftDeleteLead(ctx context.Context, tx *sql.Tx, id, at string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE leads SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, at, at, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) AppendFeedback(ctx context.Context, tx *sql.Tx, leadID string, fb domain.Feedback) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO quote_feedback(id,lead_id,author_id,author_name,message,type,created_at) VALUES (?,?,?,?,?,?,?)`,
		fb.ID, leadID, fb.AuthorID, fb.AuthorName, fb.Message, string(fb.Type), fb.CreatedAt)
	return err
}

// GetLead returns a lead with its feedback, including soft-deleted rows.
func (r Repo) GetLead(ctx context.Context, tx *sql.Tx, id string) (domain.Lead, error) {
	l, err := scanLead(r.q(tx).QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=?`, id))
	if err != nil {
		return l, err
	}
	fbs, err := r.feedbackFor(ctx, tx, []string{l.ID})
	if err != nil {
		return l, err
	}
	l.QuoteFeedback = fbs[l.ID]
	return l, nil
}

type LeadFilters struct {
	Status          string
	IncludeDeleted  bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListLeads returns leads in creation order.
func (r Repo) ListLeads(ctx context.Context, f LeadFilters) ([]domain.Lead, error) {
	var clauses []string
	var args []any
	if !f.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" {
		clauses = append(clauses, "(created_at > ? OR (created_at = ? AND id > ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var leads []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(leads))
	for _, l := range leads {
		ids = append(ids, l.ID)
	}
	fbs, err := r.feedbackFor(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	for i := range leads {
		leads[i].QuoteFeedback = fbs[leads[i].ID]
	}
	return leads, nil
}

func (r Repo) feedbackFor(ctx context.Context, tx *sql.Tx, leadIDs []string) (map[string][]domain.Feedback, error) {
	out := map[string][]domain.Feedback{}
	if len(leadIDs) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(leadIDs)), ",")
	args := make([]any, 0, len(leadIDs))
	for _, id := range leadIDs {
		args = append(args, id)
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT lead_id,id,author_id,author_name,message,type,created_at FROM quote_feedback
WHERE lead_id IN (`+placeholders+`) ORDER BY seq ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var leadID, typ string
		var fb domain.Feedback
		if err := rows.Scan(&leadID, &fb.ID, &fb.AuthorID, &fb.AuthorName, &fb.Message, &typ, &fb.CreatedAt); err != nil {
			return nil, err
		}
		fb.Type = domain.FeedbackType(typ)
		out[leadID] = append(out[leadID], fb)
	}
	return out, rows.Err()
}

// CountLeadsByStatus returns live lead counts per status.
func (r Repo) CountLeadsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM leads WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (r Repo) UpsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	if a.CreatedAt == "" {
		a.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO actors(id,name,role,engineer_type,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role, engineer_type=excluded.engineer_type`,
		a.ID, a.Name, string(a.Role), nullable(string(a.EngineerType)), a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, tx *sql.Tx, id string) (domain.Actor, error) {
	var a domain.Actor
	var role string
	var engineerType sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,role,engineer_type,created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &role, &engineerType, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Role = domain.Role(role)
	a.EngineerType = domain.EngineerType(engineerType.String)
	return a, nil
}

func (r Repo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,role,COALESCE(engineer_type,''),created_at FROM actors ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Actor
	for rows.Next() {
		var a domain.Actor
		var role, engineerType string
		if err := rows.Scan(&a.ID, &a.Name, &role, &engineerType, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Role = domain.Role(role)
		a.EngineerType = domain.EngineerType(engineerType)
		out = append(out, a)
	}
	return out, rows.Err()
}

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	// Before pages backwards from an event id.
	Before int64
	Limit  int
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
