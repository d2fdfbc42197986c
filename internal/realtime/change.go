// Package realtime carries lead changes from the events table to connected
// sessions and merges them into their stores.
package realtime

import (
	"encoding/json"
	"fmt"

	"leadflow/internal/domain"
	"leadflow/internal/events"
	"leadflow/internal/visibility"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

const TableLeads = "leads"

// Change is one row-level change with both row images.
type Change struct {
	Seq       int64        `json:"seq"`
	EventType EventType    `json:"event_type"`
	Table     string       `json:"table"`
	Old       *domain.Lead `json:"old,omitempty"`
	New       *domain.Lead `json:"new,omitempty"`
	ActorID   string       `json:"actor_id,omitempty"`
	TS        string       `json:"ts,omitempty"`
}

// LeadID returns the id of the changed lead.
func (c Change) LeadID() string {
	if c.New != nil {
		return c.New.ID
	}
	if c.Old != nil {
		return c.Old.ID
	}
	return ""
}

// Sink receives reconciled changes. The optimistic store implements it.
type Sink interface {
	OnInsert(l domain.Lead)
	OnUpdate(l domain.Lead)
	OnDelete(id string)
}

// Apply dispatches c to sink. Changes for other tables are ignored.
func Apply(sink Sink, c Change) {
	if c.Table != TableLeads {
		return
	}
	switch c.EventType {
	case EventInsert:
		if c.New != nil {
			sink.OnInsert(*c.New)
		}
	case EventUpdate:
		if c.New != nil {
			sink.OnUpdate(*c.New)
		}
	case EventDelete:
		if id := c.LeadID(); id != "" {
			sink.OnDelete(id)
		}
	}
}

// FromEvent converts an events row into a Change. ok is false for events
// that do not describe a lead row.
func FromEvent(e domain.Event) (c Change, ok bool, err error) {
	if e.EntityKind != "lead" {
		return Change{}, false, nil
	}
	var payload struct {
		Old *domain.Lead `json:"old"`
		New *domain.Lead `json:"new"`
	}
	if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
		return Change{}, false, fmt.Errorf("event %d payload: %w", e.ID, err)
	}
	c = Change{Seq: e.ID, Table: TableLeads, Old: payload.Old, New: payload.New, ActorID: e.ActorID, TS: e.TS}
	switch e.Type {
	case events.LeadCreated:
		c.EventType = EventInsert
	case events.LeadDeleted:
		c.EventType = EventDelete
	default:
		c.EventType = EventUpdate
	}
	return c, true, nil
}

// ForIdentity narrows c to what who may observe. An update that moves a lead
// out of view becomes a delete without its new image. One that moves it into
// view stays an update, which sinks treat as an upsert.
func ForIdentity(c Change, who domain.Identity, readAll bool) (Change, bool) {
	canSee := func(l *domain.Lead) bool {
		if l == nil || l.Deleted {
			return false
		}
		return readAll || visibility.CanSee(*l, who)
	}
	oldVisible, newVisible := canSee(c.Old), canSee(c.New)
	switch c.EventType {
	case EventInsert:
		return c, newVisible
	case EventUpdate:
		if newVisible {
			return c, true
		}
		if oldVisible {
			c.EventType = EventDelete
			c.New = nil
			return c, true
		}
	case EventDelete:
		return c, oldVisible
	}
	return c, false
}
