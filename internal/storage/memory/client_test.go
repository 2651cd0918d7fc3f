package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnlineSet(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.NoError(t, c.SetOnline(ctx, "carol"))
	require.NoError(t, c.SetOnline(ctx, "alice"))
	require.NoError(t, c.SetOnline(ctx, "alice"))

	ids, err := c.Online(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, ids)

	require.NoError(t, c.SetOffline(ctx, "alice"))
	require.NoError(t, c.SetOffline(ctx, "nobody"))
	ids, err = c.Online(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, ids)
}
