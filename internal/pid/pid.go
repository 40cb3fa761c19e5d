// Package pid guards against a second daemon instance.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"golang.org/x/sys/unix"
)

const pidFile = "laptopctl.pid"

// Path returns the PID file location under dir, or under the system temp
// directory when dir is empty.
func Path(dir string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, pidFile)
}

// Write records the current process ID. It fails with ErrAlreadyRunning
// when the file names a live process. A stale or unreadable file is
// replaced.
func Write(dir string) error {
	errFactory := errors.New()
	path := Path(dir)

	if pid, ok := Running(dir); ok {
		return errFactory.WithData(errors.ErrAlreadyRunning, pid)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Running returns the PID recorded under dir when that process is alive.
func Running(dir string) (int, bool) {
	data, err := os.ReadFile(Path(dir))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || !alive(pid) {
		return 0, false
	}
	return pid, true
}

// Remove deletes the PID file if present.
func Remove(dir string) error {
	if err := os.Remove(Path(dir)); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return nil
}

func alive(pid int) bool {
	if pid <= 0 || pid == os.Getpid() {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
