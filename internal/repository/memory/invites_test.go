package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInviteStore(t *testing.T) {
	s := NewInviteStore()
	ctx := context.Background()
	user := uuid.New()

	invited, err := s.IsInvited(ctx, 1, user)
	require.NoError(t, err)
	assert.False(t, invited)

	require.NoError(t, s.Invite(ctx, 1, user))

	invited, err = s.IsInvited(ctx, 1, user)
	require.NoError(t, err)
	assert.True(t, invited)

	// invites are scoped per circle
	invited, err = s.IsInvited(ctx, 2, user)
	require.NoError(t, err)
	assert.False(t, invited)
}
