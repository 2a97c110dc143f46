package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRoles(t *testing.T) {
	tests := []struct {
		in   string
		want []Role
	}{
		{"", nil},
		{"requester", []Role{RoleRequester}},
		{" Approver , fulfillment ", []Role{RoleApprover, RoleFulfillment}},
		{"requester,admin,requester", []Role{RoleRequester}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRoles(tt.in))
		})
	}
}

func TestActorContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ActorFromContext(ctx))
	assert.Empty(t, ActorIDFromContext(ctx))

	ctx = NewContextWithActor(ctx, &Actor{ID: "approver-1", Roles: []Role{RoleApprover}})
	assert.Equal(t, "approver-1", ActorIDFromContext(ctx))
	assert.True(t, ActorFromContext(ctx).HasRole(RoleApprover))
	assert.False(t, ActorFromContext(ctx).HasRole(RoleFulfillment))
}

func TestSystemActor(t *testing.T) {
	a := SystemActor("approval-reaper-1")
	assert.Equal(t, "approval-reaper-1", a.ID)
	assert.True(t, a.HasRole(RoleSystem))
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Equal(t, "req-1", RequestIDFromContext(NewContextWithRequestID(ctx, "req-1")))
}
