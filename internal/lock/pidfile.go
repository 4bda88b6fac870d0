package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"
)

const (
	filePermissions = 0o644
	dirPermissions  = 0o755
	maxAttempts     = 2
)

var (
	// ErrAlreadyRunning is returned when a live process holds the marker.
	ErrAlreadyRunning = errors.New("another deployer instance is running")

	errEmptyPath = errors.New("lock path is empty")
)

// PIDFile is an acquired marker. Release removes it.
type PIDFile struct {
	path string
	pid  int
}

// Acquire creates the marker at path with the current PID.
func Acquire(path string) (*PIDFile, error) {
	if path == "" {
		return nil, errEmptyPath
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	pid := os.Getpid()

	for range maxAttempts {
		err := create(path, pid)
		if err == nil {
			return &PIDFile{path: path, pid: pid}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		owner, alive := holder(path)
		if alive && owner != pid {
			return nil, fmt.Errorf("%w: pid %d holds %s", ErrAlreadyRunning, owner, path)
		}

		// Stale marker.
		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: could not take over %s", ErrAlreadyRunning, path)
}

// Release removes the marker if it still belongs to this process.
func (p *PIDFile) Release() error {
	if p == nil {
		return nil
	}

	if owner, _ := holder(p.path); owner != p.pid {
		return nil
	}

	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}

	return nil
}

// Path returns the marker location.
func (p *PIDFile) Path() string {
	return p.path
}

func create(path string, pid int) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePermissions)
	if err != nil {
		return err
	}

	if _, err = fmt.Fprintf(f, "%d\n", pid); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return fmt.Errorf("write pid: %w", err)
	}

	if err = f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return fmt.Errorf("sync lock file: %w", err)
	}

	return f.Close()
}

// holder reads the PID in the marker and reports whether that process runs.
// An unreadable marker counts as stale.
func holder(path string) (int, bool) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	proc, err := ps.FindProcess(pid)
	if err != nil || proc == nil {
		return pid, false
	}

	return pid, true
}
