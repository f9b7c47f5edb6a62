package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantID(t *testing.T) {
	ctx := context.Background()

	_, err := TenantID(ctx)
	assert.ErrorIs(t, err, ErrNoTenantInContext)

	ctx = WithTenantID(ctx, "9f1c7e0a-0000-4000-8000-000000000001")
	id, err := TenantID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "9f1c7e0a-0000-4000-8000-000000000001", id)
}

func TestWithContext(t *testing.T) {
	ctx := WithContext(context.Background(), "tid", RoleAdmin, "kid")

	id, err := TenantID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tid", id)
	assert.Equal(t, RoleAdmin, Role(ctx))
	assert.Equal(t, "kid", APIKeyID(ctx))
	assert.True(t, IsAdmin(ctx))
}

func TestIsAdmin_DefaultFalse(t *testing.T) {
	assert.False(t, IsAdmin(context.Background()))
	assert.False(t, IsAdmin(WithContext(context.Background(), "tid", RoleUser, "kid")))
}

func TestMustTenantID_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustTenantID(context.Background())
	})
}
