package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/kebairia/mariabak/internal/errs"
)

// Handle is an advisory exclusive lock bound to one well-known path.
// It is held for exactly one run's lifetime; the kernel drops it with
// the process, so a crashed run never leaves the lock held.
type Handle struct {
	file *os.File
	path string
}

// Acquire takes the global run lock, non-blocking. A second concurrent
// attempt fails immediately with errs.ErrAlreadyRunning; there is no
// queuing, because interleaved mutation of the checkpoint and chain
// state is unsafe rather than merely slow.
func Acquire(path string) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create lock directory: %v", errs.ErrPermission, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open lock file %q: %v", errs.ErrPermission, path, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: lock %q is held", errs.ErrAlreadyRunning, path)
		}
		return nil, fmt.Errorf("%w: flock %q: %v", errs.ErrPermission, path, err)
	}

	// Record the holder's pid for operators; the flock is the lock.
	_ = file.Truncate(0)
	_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	return &Handle{file: file, path: path}, nil
}

// Release drops the lock. Safe to call once per handle in every exit
// path; the lock file itself is left in place.
func (h *Handle) Release() error {
	if h == nil || h.file == nil {
		return nil
	}
	if err := syscall.Flock(int(h.file.Fd()), syscall.LOCK_UN); err != nil {
		h.file.Close()
		return fmt.Errorf("unlock %q: %w", h.path, err)
	}
	err := h.file.Close()
	h.file = nil
	return err
}
