package auth

import (
	"strconv"
	"strings"
	"time"

	"github.com/dpm-admin/dpm-api/internal/shared"
)

// Role is an ordered permission tier. A higher tier satisfies every lower requirement.
type Role int

// Role tiers, lowest first.
const (
	RoleSupport Role = 1
	RoleManager Role = 2
	RoleAdmin   Role = 3
)

// ErrInvalidRole is returned for values outside the defined tiers.
var ErrInvalidRole = &shared.ValidationError{Field: "role", Message: "role must be 1 (support), 2 (manager) or 3 (admin)"}

// Valid reports whether r is one of the defined tiers.
func (r Role) Valid() bool {
	return r >= RoleSupport && r <= RoleAdmin
}

// Satisfies reports whether r meets a route requiring the given tier.
func (r Role) Satisfies(required Role) bool {
	return r.Valid() && required.Valid() && r >= required
}

func (r Role) String() string {
	switch r {
	case RoleSupport:
		return "support"
	case RoleManager:
		return "manager"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole accepts a tier number or name.
func ParseRole(raw string) (Role, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(raw); err == nil {
		role := Role(n)
		if !role.Valid() {
			return 0, ErrInvalidRole
		}
		return role, nil
	}
	for _, role := range []Role{RoleSupport, RoleManager, RoleAdmin} {
		if role.String() == raw {
			return role, nil
		}
	}
	return 0, ErrInvalidRole
}

// Identity represents an account that can authenticate.
type Identity struct {
	ID           int64
	Subject      string
	DisplayName  string
	PasswordHash string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is the resolved caller attached to an admitted request.
type Principal struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
}

// SystemPrincipal acts for operator tooling. Its empty subject never matches an identity.
var SystemPrincipal = Principal{Role: RoleAdmin}

// PermissionSummary describes what a tier may do, for client display.
type PermissionSummary struct {
	CanViewData                bool   `json:"can_view_data"`
	CanCreateUsers             bool   `json:"can_create_users"`
	CanDeleteVitalRecords      bool   `json:"can_delete_vital_records"`
	CanUpdateAllRecords        bool   `json:"can_update_all_records"`
	CanUpdateParticipationLogs bool   `json:"can_update_participa_mantenciones"`
	RoleName                   string `json:"role_name"`
	RoleLevel                  int    `json:"role_level"`
}

// Permissions summarises the capabilities of r.
func (r Role) Permissions() PermissionSummary {
	return PermissionSummary{
		CanViewData:                r.Satisfies(RoleSupport),
		CanCreateUsers:             r.Satisfies(RoleAdmin),
		CanDeleteVitalRecords:      r.Satisfies(RoleAdmin),
		CanUpdateAllRecords:        r.Satisfies(RoleManager),
		CanUpdateParticipationLogs: r.Satisfies(RoleSupport),
		RoleName:                   r.String(),
		RoleLevel:                  int(r),
	}
}

// UserView is the client-facing projection of an Identity. It never carries the hash.
type UserView struct {
	ID          int64     `json:"id"`
	Subject     string    `json:"subject"`
	DisplayName string    `json:"display_name"`
	Role        int       `json:"role"`
	RoleName    string    `json:"role_name"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// View projects the identity for responses.
func (i *Identity) View() UserView {
	return UserView{
		ID:          i.ID,
		Subject:     i.Subject,
		DisplayName: i.DisplayName,
		Role:        int(i.Role),
		RoleName:    i.Role.String(),
		Active:      i.IsActive,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}
