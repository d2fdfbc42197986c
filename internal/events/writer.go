package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"leadflow/internal/domain"
)

// Lead event types. Every lead mutation appends one with old/new row images.
const (
	LeadCreated       = "lead.created"
	LeadStatusChanged = "lead.status.changed"
	LeadAssigned      = "lead.assigned"
	LeadQuoteSaved    = "lead.quote.saved"
	LeadQuoteSubmit   = "lead.quote.submitted"
	LeadQuoteApproved = "lead.quote.approved"
	LeadQuoteRejected = "lead.quote.rejected"
	LeadQuoteSent     = "lead.quote.sent"
	LeadOrderConfirm  = "lead.order.confirmed"
	LeadDeleted       = "lead.deleted"
	RBACChanged       = "rbac.changed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append inserts an event row inside tx and returns its id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AppendLeadChange records a lead mutation with both row images. old is nil
// for inserts.
func (w Writer) AppendLeadChange(ctx context.Context, tx *sql.Tx, evtType, actorID string, old *domain.Lead, next domain.Lead) (int64, error) {
	payload := EventPayload{"new": next}
	if old != nil {
		payload["old"] = *old
	}
	return w.Append(ctx, tx, evtType, "lead", next.ID, actorID, payload)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
