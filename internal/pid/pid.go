package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/peripheralpm/internal/errors"
)

const (
	// FileName is the default PID file name inside the temp directory.
	FileName = "peripheralpm.pid"

	filePerm = 0o600
)

// DefaultPath returns the PID file path used when none is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), FileName)
}

// Write records the current process ID at path. It fails with
// ErrAlreadyRunning when path names a live process.
func Write(path string) error {
	errFactory := errors.New()

	if pid, err := Read(path); err == nil {
		if alive(pid) {
			return errFactory.WithData(errors.ErrAlreadyRunning, pid)
		}
	} else if !errors.HasCode(err, errors.ErrNotRunning) {
		return err
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), filePerm); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Read returns the process ID stored at path. A missing file reports
// ErrNotRunning.
func Read(path string) (int, error) {
	errFactory := errors.New()

	bytes, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, errFactory.New(errors.ErrNotRunning)
	}
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrInternal, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrInternal, err)
	}

	return pid, nil
}

// Running returns the process ID at path if that process is alive.
func Running(path string) (int, error) {
	pid, err := Read(path)
	if err != nil {
		return 0, err
	}
	if !alive(pid) {
		return 0, errors.New().WithData(errors.ErrNotRunning, pid)
	}

	return pid, nil
}

// Signal sends sig to the process recorded at path.
func Signal(path string, sig syscall.Signal) (int, error) {
	pid, err := Running(path)
	if err != nil {
		return 0, err
	}

	if err := syscall.Kill(pid, sig); err != nil {
		return pid, errors.New().Wrap(errors.ErrOperationFailed, err)
	}

	return pid, nil
}

// Remove removes the PID file.
func Remove(path string) error {
	errFactory := errors.New()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
