package users

import "github.com/dpm-admin/dpm-api/internal/auth"

// Filter narrows an identity listing.
type Filter struct {
	Role    auth.Role
	Active  *bool
	Page    int
	PerPage int
}

// Stats summarises identities per tier and status.
type Stats struct {
	Total    int            `json:"total"`
	Active   int            `json:"active"`
	Inactive int            `json:"inactive"`
	ByRole   map[string]int `json:"by_role"`
}
