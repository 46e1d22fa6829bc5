package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockManager_ExcludesSecondHolder(t *testing.T) {
	mgr := NewLocalLockManager()
	ctx := context.Background()

	require.NoError(t, mgr.Acquire(ctx, 1))

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, mgr.Acquire(waitCtx, 1))

	// other lock ids are independent
	require.NoError(t, mgr.Acquire(ctx, 2))

	require.NoError(t, mgr.Release(ctx, 1))
	require.NoError(t, mgr.Acquire(ctx, 1))
}

func TestLocalLockManager_ReleaseNotHeld(t *testing.T) {
	mgr := NewLocalLockManager()
	assert.Error(t, mgr.Release(context.Background(), 9))
}

var (
	_ DistributedLockManager = (*LocalLockManager)(nil)
	_ DistributedLockManager = (*PostgresDistributedLockManager)(nil)
)
