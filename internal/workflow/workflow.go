package workflow

import (
	"fmt"

	"leadflow/internal/domain"
)

// State is the quote workflow state derived from status and approval.
type State string

const (
	StateBuilding State = "building"
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
	StateSent     State = "sent"
	StateAccepted State = "accepted"
)

// Derive computes the workflow state of a lead. It is never stored.
func Derive(l domain.Lead) State {
	switch l.Status {
	case domain.StatusOpdracht:
		return StateAccepted
	case domain.StatusOfferteVerzonden:
		return StateSent
	}
	switch l.EffectiveApproval() {
	case domain.ApprovalPending:
		return StatePending
	case domain.ApprovalApproved:
		return StateApproved
	case domain.ApprovalRejected:
		return StateRejected
	}
	return StateBuilding
}

// Op is a quote workflow operation.
type Op string

const (
	OpEditQuote    Op = "edit_quote"
	OpSubmit       Op = "submit"
	OpResubmit     Op = "resubmit"
	OpApprove      Op = "approve"
	OpReject       Op = "reject"
	OpSend         Op = "send"
	OpConfirmOrder Op = "confirm_order"
)

var allOps = []Op{OpEditQuote, OpSubmit, OpResubmit, OpApprove, OpReject, OpSend, OpConfirmOrder}

// Machine gates quote operations by derived state and role.
type Machine struct {
	// AdvanceOnApprove moves the lead to Offerte Verzonden as part of approval.
	// When false, sending is the only way to reach that status.
	AdvanceOnApprove bool
}

// Default returns the machine with approval advancing the status.
func Default() Machine {
	return Machine{AdvanceOnApprove: true}
}

func isAuthor(who domain.Identity) bool {
	return who.Role == domain.RoleEngineer || who.Role == domain.RoleAdmin
}

// Check returns a *domain.PermissionError when who may not perform op on l.
func (m Machine) Check(l domain.Lead, op Op, who domain.Identity) error {
	return ensureTransition(Derive(l), op, who)
}

func ensureTransition(state State, op Op, who domain.Identity) error {
	deny := &domain.PermissionError{Op: string(op), Role: who.Role, State: string(state)}
	if !who.Role.Valid() {
		return deny
	}
	switch op {
	case OpEditQuote:
		if who.IsAdmin() {
			return nil
		}
		if isAuthor(who) && (state == StateBuilding || state == StateRejected) {
			return nil
		}
	case OpSubmit:
		if isAuthor(who) && (state == StateBuilding || state == StateRejected) {
			return nil
		}
	case OpResubmit:
		if isAuthor(who) && state == StateRejected {
			return nil
		}
	case OpApprove, OpReject:
		if who.IsAdmin() && state == StatePending {
			return nil
		}
	case OpSend:
		if isAuthor(who) && state == StateApproved {
			return nil
		}
	case OpConfirmOrder:
		if who.IsAdmin() && state == StateSent {
			return nil
		}
	default:
		return fmt.Errorf("unknown workflow operation %q", op)
	}
	return deny
}

// Allowed lists the operations who may currently perform on l.
func (m Machine) Allowed(l domain.Lead, who domain.Identity) []Op {
	var ops []Op
	for _, op := range allOps {
		if m.Check(l, op, who) == nil {
			ops = append(ops, op)
		}
	}
	return ops
}

// CanEditQuote reports whether line items and details may be changed.
func (m Machine) CanEditQuote(l domain.Lead, who domain.Identity) bool {
	return m.Check(l, OpEditQuote, who) == nil
}
