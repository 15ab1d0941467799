//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package leader

import (
	"context"
	"errors"
	"time"
)

// FileLocker is unavailable on this platform; use the store or NATS locker.
type FileLocker struct{}

func NewFileLocker(string) *FileLocker { return &FileLocker{} }

func (*FileLocker) TTL() time.Duration { return 0 }

func (*FileLocker) TryLock(context.Context) (Lease, error) {
	return nil, errors.New("file lock not supported on this platform")
}
