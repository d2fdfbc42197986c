package visibility

import "leadflow/internal/domain"

// Visible returns the subset of leads the identity may see, in source order.
// The result is rebuilt on every call because assignments change underneath
// a session.
func Visible(leads []domain.Lead, who domain.Identity) []domain.Lead {
	out := make([]domain.Lead, 0, len(leads))
	for _, l := range leads {
		if CanSee(l, who) {
			out = append(out, l)
		}
	}
	return out
}

// CanSee applies the role rules to a single lead.
func CanSee(l domain.Lead, who domain.Identity) bool {
	if l.Deleted {
		return false
	}
	switch who.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleProjectleider:
		return who.Name != "" && domain.StringValue(l.AssignedProjectleider) == who.Name
	case domain.RoleEngineer:
		if l.Status != domain.StatusOpdracht || who.Name == "" {
			return false
		}
		return engineerSlotValue(l, who.EngineerType) == who.Name
	}
	return false
}

// engineerSlotValue reads the specialization slot and falls back to the legacy
// assignee when that slot was never populated.
func engineerSlotValue(l domain.Lead, t domain.EngineerType) string {
	if slot, ok := t.Slot(); ok {
		if v := l.SlotValue(slot); v != "" {
			return v
		}
	}
	return domain.StringValue(l.Assignee)
}
