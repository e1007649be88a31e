package auth_test

import (
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/gestionactiva/go-activa-client/auth"
	"github.com/gestionactiva/go-activa-client/broadcast"
	"github.com/gestionactiva/go-activa-client/internal/utils"
	"github.com/gestionactiva/go-activa-client/session"
)

func TestCapabilityPredicates(t *testing.T) {
	tests := []struct {
		name         string
		identity     *session.Identity
		admin        bool
		leader       bool
		member       bool
		manageUsers  bool
		manageEvents bool
		dashboard    bool
	}{
		{
			name:     "nil identity has no capabilities",
			identity: nil,
		},
		{
			name:         "admin by role name",
			identity:     &session.Identity{RoleName: "Admin"},
			admin:        true,
			manageUsers:  true,
			manageEvents: true,
			dashboard:    true,
		},
		{
			name:         "admin by numeric id only",
			identity:     &session.Identity{RoleID: utils.Ptr(int64(1))},
			admin:        true,
			manageUsers:  true,
			manageEvents: true,
			dashboard:    true,
		},
		{
			name:         "leader by role field",
			identity:     &session.Identity{Role: "Lider"},
			leader:       true,
			manageUsers:  true,
			manageEvents: true,
			dashboard:    true,
		},
		{
			name:         "leader by rol user id fallback",
			identity:     &session.Identity{RolUserID: utils.Ptr(int64(2))},
			leader:       true,
			manageUsers:  true,
			manageEvents: true,
			dashboard:    true,
		},
		{
			name:      "member by roles list",
			identity:  &session.Identity{Roles: []string{"Miembro"}},
			member:    true,
			dashboard: true,
		},
		{
			name:      "member by numeric id",
			identity:  &session.Identity{RoleID: utils.Ptr(int64(3))},
			member:    true,
			dashboard: true,
		},
		{
			name:      "unknown role can still view the dashboard",
			identity:  &session.Identity{RoleName: "invitado"},
			dashboard: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.admin, auth.IsAdmin(tt.identity))
			require.Equal(t, tt.leader, auth.IsLeader(tt.identity))
			require.Equal(t, tt.member, auth.IsMember(tt.identity))
			require.Equal(t, tt.manageUsers, auth.CanManageUsers(tt.identity))
			require.Equal(t, tt.manageEvents, auth.CanManageEvents(tt.identity))
			require.Equal(t, tt.dashboard, auth.CanViewDashboard(tt.identity))
		})
	}
}

func TestServicePredicatesFollowCurrentIdentity(t *testing.T) {
	f := setupService(t, func(r chi.Router) {})

	require.False(t, f.service.IsAdmin())
	require.False(t, f.service.CanViewDashboard())

	f.hub.PublishRefreshed(broadcast.TokenRefreshed{
		Identity: &session.Identity{ID: 1, RoleName: "Admin"},
	})

	require.True(t, f.service.IsAdmin())
	require.True(t, f.service.CanManageEvents())
	require.False(t, f.service.IsMember())
}
