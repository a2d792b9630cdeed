//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	ps "github.com/mitchellh/go-ps"
)

// ErrAlreadyRunning is returned when another live process with the same
// executable name is found.
var ErrAlreadyRunning = errors.New("another instance is already running")

// EnsureSingleInstance refuses to continue when another process with this
// executable's name exists. Two engine daemons sharing a session file would
// corrupt each other's snapshots.
func EnsureSingleInstance() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	return ensureSingleInstanceOf(filepath.Base(executable))
}

// ensureSingleInstanceOf scans the process table for another live process
// with the given executable name.
func ensureSingleInstanceOf(executableName string) error {
	processList, err := ps.Processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() != executableName {
			continue
		}

		return fmt.Errorf("%w: pid %d", ErrAlreadyRunning, process.Pid())
	}

	return nil
}
