package webrsync

import (
	"os"
	"syscall"
)

// Flock wraps an open file with BSD advisory locking. The lock is tied to
// the open file description and disappears when the file is closed.
type Flock struct {
	*os.File
}

// Lock acquires an exclusive lock without blocking. It returns
// syscall.EWOULDBLOCK when another process holds the lock.
func (l Flock) Lock() error {
	return syscall.Flock(int(l.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

// Unlock releases the lock.
func (l Flock) Unlock() error {
	return syscall.Flock(int(l.Fd()), syscall.LOCK_UN)
}
