package domain

import (
	"strings"
	"time"
)

// Role identifies the custody stage an actor is licensed to operate.
type Role string

// Role values.
const (
	RoleCollector    Role = "collector"
	RoleTester       Role = "tester"
	RoleManufacturer Role = "manufacturer"
	RolePackager     Role = "packager"
	RoleAuditor      Role = "auditor"
)

var roleAliases = map[string]Role{
	"farmer":        RoleCollector,
	"testing":       RoleTester,
	"lab":           RoleTester,
	"manufacturing": RoleManufacturer,
	"packaging":     RolePackager,
	"admin":         RoleAuditor,
}

// ParseRole normalizes raw into a known role. Legacy dashboard role names are accepted.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if IsValidRole(role) {
		return role, nil
	}
	if alias, ok := roleAliases[string(role)]; ok {
		return alias, nil
	}
	return "", ErrInvalidRole
}

// IsValidRole reports whether role is one of the known roles.
func IsValidRole(role Role) bool {
	switch role {
	case RoleCollector, RoleTester, RoleManufacturer, RolePackager, RoleAuditor:
		return true
	default:
		return false
	}
}

// Actor is a registered party. Actors are immutable after registration.
type Actor struct {
	ID           string
	Name         string
	Role         Role
	Company      string
	License      string
	RegisteredAt time.Time
}

// NewActor validates and constructs an actor.
func NewActor(id, name string, role Role, company, license string, now time.Time) (Actor, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	company = strings.TrimSpace(company)
	license = strings.TrimSpace(license)
	if id == "" {
		return Actor{}, ErrInvalidID
	}
	if name == "" {
		return Actor{}, ErrInvalidName
	}
	if !IsValidRole(role) {
		return Actor{}, ErrInvalidRole
	}
	if company == "" {
		return Actor{}, ErrInvalidName
	}
	return Actor{
		ID:           id,
		Name:         name,
		Role:         role,
		Company:      company,
		License:      license,
		RegisteredAt: now.UTC(),
	}, nil
}

// SameIdentity reports whether a and other describe the same registration, ignoring timestamps.
func (a Actor) SameIdentity(other Actor) bool {
	return a.ID == other.ID &&
		a.Name == other.Name &&
		a.Role == other.Role &&
		a.Company == other.Company &&
		a.License == other.License
}
