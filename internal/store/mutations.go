package store

import (
	"context"
	"strings"

	"leadflow/internal/domain"
	"leadflow/internal/gateway"
	"leadflow/internal/workflow"
)

// CodeAborted marks a mutation that was dropped because an earlier mutation
// on the same lead failed and was rolled back.
const CodeAborted = "aborted"

type call func(ctx context.Context) gateway.Result[domain.Lead]

// mutation is one optimistic change awaiting its gateway result.
type mutation struct {
	pending *Pending
	op      string
	id      string
	// before is the pre-mutation image; nil for creates.
	before *domain.Lead
	index  int
	epoch  uint64
	call   call
}

func (s *Store) requireCap(op, perm string) error {
	if s.caps == nil || s.caps.Has(perm) {
		return nil
	}
	return &domain.PermissionError{Op: op, Role: s.who.Role, Permission: perm}
}

// CreateLead inserts the intake row locally and sends it. The id is
// generated here so the reconciliation insert is recognised as ours.
func (s *Store) CreateLead(ctx context.Context, in domain.LeadIntake) (*Pending, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireCap("create_lead", domain.PermLeadCreate); err != nil {
		return nil, err
	}
	if in.ID == "" {
		in.ID = s.newID()
	}
	l := domain.NewLead(in, s.stamp().At)

	s.mu.Lock()
	if s.indexOf(l.ID) >= 0 {
		s.mu.Unlock()
		return nil, &domain.ValidationError{Field: "id", Reason: "lead already exists"}
	}
	s.leads = append(s.leads, l.Clone())
	m := &mutation{
		pending: newPending("create_lead", l.ID, l.Clone()),
		op:      "create_lead",
		id:      l.ID,
		index:   len(s.leads) - 1,
		epoch:   s.epoch[l.ID],
		call:    func(ctx context.Context) gateway.Result[domain.Lead] { return s.gw.CreateLead(ctx, in) },
	}
	prev := s.enqueue(m)
	s.mu.Unlock()

	s.metrics.mutation(m.op, outcomeApplied)
	go s.run(ctx, m, prev)
	return m.pending, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.Status) (*Pending, error) {
	if _, err := domain.ParseStatus(string(status)); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "update_status", domain.PermLeadStatusChange, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return s.machine.ApplyStatus(cur, status, st)
		},
		func(ctx context.Context) gateway.Result[domain.Lead] { return s.gw.UpdateStatus(ctx, id, status) })
}

func (s *Store) Assign(ctx context.Context, id string, slot domain.Slot, name string) (*Pending, error) {
	if _, err := domain.ParseSlot(string(slot)); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	return s.mutate(ctx, "assign", domain.PermLeadAssign, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			next := cur.Clone()
			next.SetSlot(slot, name)
			next.UpdatedAt = st.At
			return next, nil
		},
		func(ctx context.Context) gateway.Result[domain.Lead] { return s.gw.Assign(ctx, id, slot, name) })
}

func (s *Store) SaveQuoteDraft(ctx context.Context, id string, sub workflow.Submission) (*Pending, error) {
	if err := workflow.ValidateLineItems(sub.LineItems); err != nil {
		return nil, err
	}
	return s.mutate(ctx, string(workflow.OpEditQuote), domain.PermQuoteEdit, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return s.machine.ApplyDraft(cur, sub, st)
		},
		func(ctx context.Context) gateway.Result[domain.Lead] { return s.gw.SaveQuoteDraft(ctx, id, sub) })
}

// SubmitQuote submits, or resubmits after a rejection.
func (s *Store) SubmitQuote(ctx context.Context, id string, sub workflow.Submission) (*Pending, error) {
	if err := workflow.ValidateSubmission(sub); err != nil {
		return nil, err
	}
	return s.mutate(ctx, string(workflow.OpSubmit), domain.PermQuoteSubmit, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return s.machine.ApplySubmit(cur, sub, st)
		},
		func(ctx context.Context) gateway.Result[domain.Lead] { return s.gw.SubmitQuote(ctx, id, sub) })
}

// ApproveQuote approves a pending quote. Feedback and adjusted value are
// optional.
func (s *Store) ApproveQuote(ctx context.Context, id string, in workflow.ApproveInput) (*Pending, error) {
	if in.AdjustedValue.Valid && in.AdjustedValue.Decimal.IsNegative() {
		return nil, &domain.ValidationError{Field: "adjusted_value", Reason: "must not be negative"}
	}
	if strings.TrimSpace(in.Message) != "" && in.FeedbackID == "" {
		in.FeedbackID = s.newID()
	}
	return s.mutate(ctx, string(workflow.OpApprove), domain.PermQuoteApprove, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return s.machine.ApplyApprove(cur, in, st)
		},
		func(ctx context.Context) gateway.Result[domain.Lead] { return s.gw.ApproveQuote(ctx, id, in) })
}

// RejectQuote rejects a pending quote. An empty message fails validation
// before anything is applied.
func (s *Store) RejectQuote(ctx context.Context, id string, in workflow.RejectInput) (*Pending, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, &domain.ValidationError{Field: "message", Reason: "rejection feedback is required"}
	}
	if in.FeedbackID == "" {
		in.FeedbackID = s.newID()
	}
	return s.mutate(ctx, string(workflow.OpReject), domain.PermQuoteReject, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return s.machine.ApplyReject(cur, in, st)
		},
		func(ctx context.Context) gateway.Result[domain.Lead] { return s.gw.RejectQuote(ctx, id, in) })
}

func (s *Store) SendQuote(ctx context.Context, id string) (*Pending, error) {
	return s.mutate(ctx, string(workflow.OpSend), domain.PermQuoteSend, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return s.machine.ApplySend(cur, st)
		},
		func(ctx context.Context) gateway.Result[domain.Lead] { return s.gw.SendQuote(ctx, id) })
}

func (s *Store) ConfirmOrder(ctx context.Context, id string) (*Pending, error) {
	return s.mutate(ctx, string(workflow.OpConfirmOrder), domain.PermOrderConfirm, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			return s.machine.ApplyConfirmOrder(cur, st)
		},
		func(ctx context.Context) gateway.Result[domain.Lead] { return s.gw.ConfirmOrder(ctx, id) })
}

// DeleteLead removes the lead locally; the server keeps it soft-deleted.
func (s *Store) DeleteLead(ctx context.Context, id string) (*Pending, error) {
	return s.mutate(ctx, "delete_lead", domain.PermLeadDelete, id,
		func(cur domain.Lead, st workflow.Stamp) (domain.Lead, error) {
			next := cur.Clone()
			next.Deleted = true
			next.UpdatedAt = st.At
			return next, nil
		},
		func(ctx context.Context) gateway.Result[domain.Lead] { return s.gw.DeleteLead(ctx, id) })
}

// mutate applies fn to the current image of id and installs the result
// before any network call. Errors from fn are returned as is and leave the
// store untouched.
func (s *Store) mutate(ctx context.Context, op, perm, id string, fn func(domain.Lead, workflow.Stamp) (domain.Lead, error), c call) (*Pending, error) {
	if err := s.requireCap(op, perm); err != nil {
		return nil, err
	}
	st := s.stamp()

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	before := s.leads[idx].Clone()
	next, err := fn(before.Clone(), st)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if next.Deleted {
		s.leads = append(s.leads[:idx:idx], s.leads[idx+1:]...)
	} else {
		s.leads[idx] = next.Clone()
	}
	m := &mutation{
		pending: newPending(op, id, next),
		op:      op,
		id:      id,
		before:  &before,
		index:   idx,
		epoch:   s.epoch[id],
		call:    c,
	}
	prev := s.enqueue(m)
	s.mu.Unlock()

	s.metrics.mutation(op, outcomeApplied)
	go s.run(ctx, m, prev)
	return m.pending, nil
}

// enqueue records m as the newest mutation for its id and returns the one
// it must wait for. Callers hold s.mu.
func (s *Store) enqueue(m *mutation) *Pending {
	prev := s.tails[m.id]
	s.tails[m.id] = m.pending
	return prev
}

// run issues the gateway call once the previous mutation on the same id
// resolved. The call is not cancelled with ctx.
func (s *Store) run(ctx context.Context, m *mutation, prev *Pending) {
	ctx = context.WithoutCancel(ctx)
	if prev != nil {
		<-prev.done
		if prev.err != nil {
			s.abort(m)
			s.metrics.mutation(m.op, outcomeAborted)
			s.logger.Warn("mutation aborted", "lead_id", m.id, "op", m.op, "after", prev.Op)
			s.finish(m, &domain.GatewayError{Op: m.op, LeadID: m.id, Code: CodeAborted, Message: "earlier change to this lead failed", Err: prev.err})
			return
		}
	}
	res := m.call(ctx)
	if err := res.Err(m.op, m.id); err != nil {
		s.rollback(m, err)
		s.finish(m, err)
		return
	}
	s.confirm(m, res.Data)
	s.metrics.mutation(m.op, outcomeConfirmed)
	s.finish(m, nil)
}

// rollback restores the pre-mutation image of one lead. It is skipped when
// reconciliation replaced the lead after the apply.
func (s *Store) rollback(m *mutation, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.restore(m) {
		s.metrics.mutation(m.op, outcomeSuperseded)
		s.logger.Warn("rollback skipped, lead replaced by reconciliation", "lead_id", m.id, "op", m.op, "err", cause)
		return
	}
	s.metrics.mutation(m.op, outcomeRolledBack)
	s.logger.Warn("mutation rolled back", "lead_id", m.id, "op", m.op, "err", cause)
}

// abort undoes a queued mutation that never reached the gateway. When the
// failed predecessor already restored its own image, that restore covered
// this mutation too and the epoch no longer matches.
func (s *Store) abort(m *mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restore(m) {
		s.logger.Debug("aborted mutation undone", "lead_id", m.id, "op", m.op)
	}
}

// restore reinstalls m.before if nothing replaced the lead since m was
// applied, and bumps the epoch so mutations applied on top of m see the
// lead as replaced. Callers hold s.mu.
func (s *Store) restore(m *mutation) bool {
	if s.epoch[m.id] != m.epoch {
		return false
	}
	idx := s.indexOf(m.id)
	switch {
	case m.before == nil:
		if idx >= 0 {
			s.leads = append(s.leads[:idx:idx], s.leads[idx+1:]...)
		}
	case idx >= 0:
		s.leads[idx] = m.before.Clone()
	default:
		at := m.index
		if at > len(s.leads) {
			at = len(s.leads)
		}
		restored := make([]domain.Lead, 0, len(s.leads)+1)
		restored = append(restored, s.leads[:at]...)
		restored = append(restored, m.before.Clone())
		restored = append(restored, s.leads[at:]...)
		s.leads = restored
	}
	s.epoch[m.id]++
	return true
}

// confirm keeps the optimistic image. Only server values that diverge from
// the guess are taken over: a different id, or a different workflow
// position when no later change is queued.
func (s *Store) confirm(m *mutation, server domain.Lead) {
	if server.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch[m.id] != m.epoch {
		return
	}
	idx := s.indexOf(m.id)
	if idx < 0 {
		return
	}
	if server.ID != m.id {
		local := m.id
		s.leads[idx].ID = server.ID
		s.epoch[server.ID] = s.epoch[m.id]
		if s.tails[local] == m.pending {
			delete(s.tails, local)
			if _, queued := s.tails[server.ID]; !queued {
				s.tails[server.ID] = m.pending
			}
			m.id = server.ID
		}
		s.logger.Debug("lead id reconciled", "lead_id", local, "server_id", server.ID)
		return
	}
	if s.tails[m.id] != m.pending || server.Deleted {
		return
	}
	cur := s.leads[idx]
	if cur.Status != server.Status || cur.QuoteApproval != server.QuoteApproval {
		s.leads[idx] = server.Clone()
		s.logger.Debug("server result diverged, adopted", "lead_id", m.id, "op", m.op, "status", server.Status, "approval", server.QuoteApproval)
	}
}

func (s *Store) finish(m *mutation, err error) {
	s.mu.Lock()
	if s.tails[m.id] == m.pending {
		delete(s.tails, m.id)
	}
	s.mu.Unlock()
	m.pending.resolve(err)
}
