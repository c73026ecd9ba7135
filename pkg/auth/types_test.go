package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleStaff))
	assert.True(t, RoleStaff.AtLeast(RoleStaff))
	assert.False(t, RoleFaculty.AtLeast(RoleStaff))
	assert.False(t, Role("OWNER").Valid())
	assert.False(t, Role("OWNER").AtLeast(RoleFaculty))
	assert.Equal(t, []Role{RoleFaculty, RoleStaff, RoleAdmin}, Roles)
}
