package lock

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError reports that another relayd owns the instance directory.
type HeldError struct {
	PID     int
	Started time.Time
	Path    string
}

func (e *HeldError) Error() string {
	if e.Started.IsZero() {
		return fmt.Sprintf("instance lock held by PID %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("instance lock held by PID %d since %s (%s)",
		e.PID, e.Started.Format(time.RFC3339), e.Path)
}

// Lock is an flock(2)-backed exclusive lock on a single file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock at path without blocking. The parent directory is
// created if needed. A *HeldError is returned when the lock is owned elsewhere.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		held := &HeldError{Path: path}
		if owner, rerr := ReadOwner(path); rerr == nil {
			held.PID, held.Started = owner.PID, owner.Started
		}
		return nil, held
	}

	if err := writeOwner(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock owner: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the file. Safe on a nil or released lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Owner is the content relayd writes into a held lock file.
type Owner struct {
	PID     int
	Started time.Time
}

// ReadOwner parses the pid/time lines of a lock file.
func ReadOwner(path string) (Owner, error) {
	f, err := os.Open(path)
	if err != nil {
		return Owner{}, err
	}
	defer f.Close()

	var o Owner
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(val)
		case "time":
			o.Started, _ = time.Parse(time.RFC3339, val)
		}
	}
	return o, sc.Err()
}

func writeOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}
