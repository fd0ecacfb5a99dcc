package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

const lockFileName = ".writer.lock"

// FileLock implements domain.WriterLock with an exclusive flock, so the CLI
// and the daemon never mutate the rule store at the same time.
type FileLock struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileLock creates a lock at <dataDir>/.writer.lock.
func NewFileLock(dataDir string) *FileLock {
	return &FileLock{path: filepath.Join(dataDir, lockFileName)}
}

// NewFileLockWithPath creates a lock at a specific path (for testing).
func NewFileLockWithPath(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock blocks until the exclusive lock is held and records the holder PID.
func (l *FileLock) Lock() error {
	l.mu.Lock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		l.mu.Unlock()
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	// Holder PID is informational only.
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	l.file = f
	return nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return fmt.Errorf("lock %s is not held", l.path)
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return closeErr
}

// WithLock runs fn while holding lock.
func WithLock(lock domain.WriterLock, fn func() error) error {
	if err := lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

// Ensure FileLock implements domain.WriterLock.
var _ domain.WriterLock = (*FileLock)(nil)
