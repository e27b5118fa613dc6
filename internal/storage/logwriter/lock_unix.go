//go:build unix

package logwriter

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/xtxerr/sensorlog/internal/errors"
)

// acquireLock takes an exclusive, non-blocking flock on path. The lock is
// tied to the returned file and released when it is closed or the process
// exits.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.NewIOError("open lock", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, errors.NewIOError("lock", path, errors.ErrLocked)
		}
		return nil, errors.NewIOError("lock", path, err)
	}
	return f, nil
}

func releaseLock(f *os.File) error {
	if f == nil {
		return nil
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}
