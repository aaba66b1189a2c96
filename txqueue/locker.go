package txqueue

import (
	"context"
	"errors"

	"github.com/chaoschain/gateway/internal/keylock"
)

// ErrLockLost is the cancellation cause of a held context whose lock
// expired or was taken by another holder.
var ErrLockLost = errors.New("txqueue: signer lock lost")

// Locker provides mutual exclusion by key.
type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned context is
	// derived from ctx and is cancelled with ErrLockLost if the hold ends
	// before release. The returned function releases the lock and is safe
	// to call more than once.
	Lock(ctx context.Context, key string) (context.Context, func(), error)

	IsLocked(ctx context.Context, key string) (bool, error)

	// ForceUnlock releases key regardless of holder.
	ForceUnlock(ctx context.Context, key string) error
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	m *keylock.Map
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker returns an in-process Locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{m: keylock.New()}
}

// Lock implements Locker.
func (l *LocalLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	unlock, err := l.m.Lock(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return ctx, unlock, nil
}

// IsLocked implements Locker.
func (l *LocalLocker) IsLocked(_ context.Context, key string) (bool, error) {
	return l.m.IsLocked(key), nil
}

// ForceUnlock implements Locker.
func (l *LocalLocker) ForceUnlock(_ context.Context, key string) error {
	l.m.ForceUnlock(key)
	return nil
}
