package resume

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

var (
	// ErrMissingStateFile is returned when a directory has no .state record.
	ErrMissingStateFile = errors.New("resume state file not found")
	// ErrLocked is returned when another process holds the preserved directory.
	ErrLocked = errors.New("preserved directory is in use")
)

// LockFileName is the lock held while a preserved directory is resumed.
const LockFileName = ".state.lock"

// Write stores s as <dir>/.state.
func Write(dir string, s *State) error {
	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, Marshal(s), 0600); err != nil {
		return fmt.Errorf("failed to write resume state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write resume state: %w", err)
	}
	return nil
}

// Read loads <dir>/.state.
func Read(dir string) (*State, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingStateFile, path)
		}
		return nil, fmt.Errorf("failed to read resume state: %w", err)
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return s, nil
}

// Lock takes an exclusive lock on a preserved directory so two resumes of the
// same failure cannot run at once. The returned func releases it.
func Lock(dir string) (func(), error) {
	lock := flock.New(filepath.Join(dir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}
	return func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}, nil
}
