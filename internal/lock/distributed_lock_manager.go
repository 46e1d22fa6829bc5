package lock

import "context"

// DistributedLockManager serializes critical sections such as schema migration. Acquire
// blocks until the lock is held or ctx is done.
type DistributedLockManager interface {
	Acquire(ctx context.Context, lockID int) error
	Release(ctx context.Context, lockID int) error
}
