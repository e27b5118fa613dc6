//go:build !unix

package logwriter

import (
	"os"

	"github.com/xtxerr/sensorlog/internal/errors"
)

// acquireLock only creates the lock file; flock is unavailable here.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.NewIOError("open lock", path, err)
	}
	return f, nil
}

func releaseLock(f *os.File) error {
	if f == nil {
		return nil
	}
	return f.Close()
}
