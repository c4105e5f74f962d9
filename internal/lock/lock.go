// Package lock provides the session's single-instance file lock and the
// per-request in-flight key set.
package lock

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"syscall"
)

// KeySet marks keys as busy without blocking. A second TryAcquire for a busy
// key fails instead of queueing.
type KeySet struct {
	mu   sync.Mutex
	keys map[int64]struct{}
}

func NewKeySet() *KeySet {
	return &KeySet{keys: make(map[int64]struct{})}
}

func (s *KeySet) TryAcquire(key int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.keys[key]; busy {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *KeySet) Release(key int64) {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

func (s *KeySet) Held(key int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.keys[key]
	return busy
}

// Keys returns the busy keys in ascending order.
func (s *KeySet) Keys() []int64 {
	s.mu.Lock()
	out := make([]int64, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FileLock is an exclusive flock on a pid file.
type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

func (fl *FileLock) TryLock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock (another lampdesk session may be running): %w", err)
	}

	if err := writePID(f); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return err
	}

	fl.file = f
	return nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		fl.file.Close()
		return fmt.Errorf("release lock: %w", err)
	}

	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	os.Remove(fl.path)
	fl.file = nil
	return nil
}
