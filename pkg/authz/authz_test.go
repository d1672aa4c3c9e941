package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultEnforcer(t *testing.T) {
	e, err := NewDefaultEnforcer()
	require.NoError(t, err)

	cases := []struct {
		role, path, method string
		allowed            bool
	}{
		{RoleAnonymous, "/v1/downloads/abc", "GET", true},
		{RoleAnonymous, "/v1/download-tokens", "POST", false},
		{RoleBuyer, "/v1/download-tokens", "POST", true},
		{RoleBuyer, "/v1/licenses/validate", "POST", true},
		{RoleBuyer, "/v1/licenses", "POST", false},
		{RoleService, "/v1/licenses", "POST", true},
		{RoleBuyer, "/v1/admin/licenses/PHK-1/suspend", "POST", false},
		{RoleAdmin, "/v1/admin/licenses/PHK-1/suspend", "POST", true},
		{RoleAdmin, "/v1/download-tokens/1/revoke", "POST", true},
	}
	for _, tc := range cases {
		ok, err := e.Enforce(tc.role, tc.path, tc.method)
		require.NoError(t, err)
		require.Equal(t, tc.allowed, ok, "%s %s %s", tc.role, tc.method, tc.path)
	}
}
