//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package leader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// FileLocker holds an advisory flock on a file. The kernel drops the lock
// when the holder dies, so it suits single-host deployments.
type FileLocker struct {
	path string
}

// NewFileLocker creates a file locker on path.
func NewFileLocker(path string) *FileLocker {
	return &FileLocker{path: path}
}

func (l *FileLocker) TTL() time.Duration { return 0 }

func (l *FileLocker) TryLock(context.Context) (Lease, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrNotAcquired
		}
		return nil, fmt.Errorf("flock: %w", err)
	}

	// Write PID for operators; failures here do not matter for exclusion.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0)
	}
	return &fileLease{f: f}, nil
}

type fileLease struct {
	f *os.File
}

func (*fileLease) Renew(context.Context) error { return nil }

func (l *fileLease) Release(context.Context) error {
	if l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
