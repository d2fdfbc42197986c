package domain

import "fmt"

type Role string

const (
	RoleAdmin         Role = "admin"
	RoleProjectleider Role = "projectleider"
	RoleEngineer      Role = "engineer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleProjectleider, RoleEngineer:
		return true
	}
	return false
}

func ParseRole(raw string) (Role, error) {
	r := Role(raw)
	if !r.Valid() {
		return "", &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", raw)}
	}
	return r, nil
}

// EngineerType is the specialization tag of an engineer.
type EngineerType string

const (
	EngineerRekenaar EngineerType = "rekenaar"
	EngineerTekenaar EngineerType = "tekenaar"
)

// Slot returns the assignment slot an engineer of this type is matched against.
func (t EngineerType) Slot() (Slot, bool) {
	switch t {
	case EngineerRekenaar:
		return SlotRekenaar, true
	case EngineerTekenaar:
		return SlotTekenaar, true
	}
	return "", false
}

// Identity is the already-authenticated current user.
type Identity struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Role         Role         `json:"role"`
	EngineerType EngineerType `json:"engineer_type,omitempty"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
