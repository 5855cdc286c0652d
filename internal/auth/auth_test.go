package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumba2321/classsync/internal/model"
)

func TestSession_Lifecycle(t *testing.T) {
	s := NewSession()

	_, err := Require(s)
	assert.True(t, model.IsKind(err, model.KindPermissionDenied))

	require.NoError(t, s.SignIn(Identity{UserID: "u1", DisplayName: "Ada", Role: model.RoleStudent}))
	id, err := Require(s)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)

	s.SignOut()
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestSession_SignInValidates(t *testing.T) {
	s := NewSession()
	assert.True(t, model.IsKind(s.SignIn(Identity{Role: model.RoleStudent}), model.KindValidation))
	assert.True(t, model.IsKind(s.SignIn(Identity{UserID: "u1", Role: "admin"}), model.KindValidation))
}

func TestRequireInstructor(t *testing.T) {
	_, err := RequireInstructor(Static(Identity{UserID: "stu1", Role: model.RoleStudent}))
	assert.True(t, model.IsKind(err, model.KindPermissionDenied))

	id, err := RequireInstructor(Static(Identity{UserID: "t1", Role: model.RoleInstructor}))
	require.NoError(t, err)
	assert.Equal(t, "t1", id.UserID)
}
