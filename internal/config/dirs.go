package config

import (
	"fmt"
	"os"
)

// EnsureDir creates dir if missing and checks that files can be written in
// it. It is idempotent.
func EnsureDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: empty path", ErrUnusableDirectory)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnusableDirectory, dir, err)
	}

	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnusableDirectory, dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}
