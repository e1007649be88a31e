package session

import (
	"strings"
	"time"
)

// Credential is the bearer token issued by the backend together with its
// expiry metadata. A nil ExpiresAt means the token never expires as far as
// refresh scheduling is concerned; the backend's own 401 is still
// authoritative.
type Credential struct {
	Token            string     `json:"token"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ExpiresInSeconds *int64     `json:"expires_in_seconds,omitempty"`
}

// Identity is the authenticated user's profile as returned by the backend.
// The backend is inconsistent about where it puts the role, so all known
// locations are kept and resolved through RoleLabel / RoleNumber.
type Identity struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	RoleID    *int64   `json:"role_id,omitempty"`
	RolUserID *int64   `json:"roluser_id,omitempty"`
	RoleName  string   `json:"role_name,omitempty"`
	Role      string   `json:"role,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// RoleLabel returns the user's role name, lower-cased, checking role_name,
// then role, then the first entry of roles. Empty string when no role is
// present.
func (i *Identity) RoleLabel() string {
	if i == nil {
		return ""
	}
	switch {
	case i.RoleName != "":
		return strings.ToLower(i.RoleName)
	case i.Role != "":
		return strings.ToLower(i.Role)
	case len(i.Roles) > 0:
		return strings.ToLower(i.Roles[0])
	}
	return ""
}

// RoleNumber returns the numeric role identifier (role_id, falling back to
// roluser_id) or nil when neither is set.
func (i *Identity) RoleNumber() *int64 {
	if i == nil {
		return nil
	}
	if i.RoleID != nil {
		return i.RoleID
	}
	return i.RolUserID
}
