package store

import "leadflow/internal/domain"

// OnInsert adds l unless a lead with its id is already present, which is the
// case for the session's own optimistic creates.
func (s *Store) OnInsert(l domain.Lead) {
	if l.Deleted {
		s.OnDelete(l.ID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(l.ID) >= 0 {
		s.metrics.reconcile("insert_ignored")
		return
	}
	s.leads = append(s.leads, l.Clone())
	s.metrics.reconcile("insert")
}

// OnUpdate replaces the lead by id with l. The channel is authoritative: a
// pending optimistic change for the same id is superseded and logged.
// Unknown ids are added, since a lead can move into view by reassignment.
func (s *Store) OnUpdate(l domain.Lead) {
	if l.Deleted {
		s.OnDelete(l.ID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch[l.ID]++
	s.noteConflict(l.ID)
	if idx := s.indexOf(l.ID); idx >= 0 {
		s.leads[idx] = l.Clone()
	} else {
		s.leads = append(s.leads, l.Clone())
	}
	s.metrics.reconcile("update")
}

// OnDelete removes the lead from the local set.
func (s *Store) OnDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch[id]++
	s.noteConflict(id)
	if idx := s.indexOf(id); idx >= 0 {
		s.leads = append(s.leads[:idx:idx], s.leads[idx+1:]...)
	}
	s.metrics.reconcile("delete")
}

// noteConflict logs when id still has an unresolved optimistic change.
// Callers hold s.mu.
func (s *Store) noteConflict(id string) {
	p, ok := s.tails[id]
	if !ok {
		return
	}
	s.metrics.conflict()
	err := &domain.ConflictError{LeadID: id, Op: p.Op}
	s.logger.Warn("reconciliation conflict", "lead_id", id, "op", p.Op, "err", err)
}
