package auth

import (
	"github.com/gestionactiva/go-activa-client/internal/utils"
	"github.com/gestionactiva/go-activa-client/session"
)

// Role names and numeric ids as the backend assigns them.
const (
	RoleAdmin  = "admin"
	RoleLeader = "lider"
	RoleMember = "miembro"

	roleIDAdmin  = 1
	roleIDLeader = 2
	roleIDMember = 3
)

// The capability predicates are pure functions of the identity; they carry
// no state of their own and are safe to call with nil (logged out).

func IsAdmin(identity *session.Identity) bool {
	return hasRole(identity, RoleAdmin, roleIDAdmin)
}

func IsLeader(identity *session.Identity) bool {
	return hasRole(identity, RoleLeader, roleIDLeader)
}

func IsMember(identity *session.Identity) bool {
	return hasRole(identity, RoleMember, roleIDMember)
}

func CanManageUsers(identity *session.Identity) bool {
	return IsAdmin(identity) || IsLeader(identity)
}

func CanManageEvents(identity *session.Identity) bool {
	return IsAdmin(identity) || IsLeader(identity)
}

func CanViewDashboard(identity *session.Identity) bool {
	return identity != nil
}

func hasRole(identity *session.Identity, name string, id int64) bool {
	if identity == nil {
		return false
	}
	if identity.RoleLabel() == name {
		return true
	}
	// Role ids start at 1, so a missing id (zero) never matches.
	return utils.Value(identity.RoleNumber()) == id
}
